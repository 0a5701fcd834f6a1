package lesson

import "unicode"

// EstimateTokens estimates the LLM token count of text. ASCII runs at about
// four characters per token and Cyrillic at about two, which is how BPE
// vocabularies trained mostly on English and Russian split learner
// transcripts. Any other non-ASCII character counts as a whole token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		switch {
		case r <= unicode.MaxASCII:
			weight++
		case unicode.Is(unicode.Cyrillic, r):
			weight += 2
		default:
			weight += 4
		}
	}
	return (weight + 3) / 4
}
