package analysis

import (
	"fmt"
	"strings"

	lesson "github.com/linguapulse/lesson"
)

var feedbackFocus = map[lesson.Level]string{
	lesson.LevelA1: "The student is a beginner. Focus on very basic grammar (subject-verb agreement, simple present and past tense). " +
		"Offer simple alternatives with common everyday vocabulary. Be very encouraging.",
	lesson.LevelA2: "The student is elementary. Focus on basic tenses, articles and prepositions. " +
		"Offer simple, common alternatives.",
	lesson.LevelB1: "The student is at intermediate level. Suggest improvements to grammar accuracy, vocabulary range and sentence structure. " +
		"Balance encouragement with constructive feedback.",
	lesson.LevelB2: "The student is upper-intermediate. Point out less obvious grammar slips, collocations and more precise word choices.",
	lesson.LevelC1: "The student is advanced. Focus on sophisticated language use, nuanced expressions, subtle grammar points and native-like fluency. " +
		"Your feedback can be more detailed.",
}

func focusFor(level lesson.Level) string {
	if f, ok := feedbackFocus[level]; ok {
		return f
	}
	return feedbackFocus[lesson.DefaultLevel]
}

func feedbackPrompt(utterance string, level lesson.Level) string {
	return fmt.Sprintf(`As an English teacher, give a concise language analysis of this student utterance:
%q

%s

Cover:
1. What the student did well, specifically.
2. One grammar or vocabulary improvement, if needed.
3. How a native speaker might say the same thing more naturally.

Use short bullet points, stay under 150 words and start with a specific positive comment.
Do not add generic encouragement at the end and do not mention the student's level.`, utterance, focusFor(level))
}

func assessmentPrompt(utterances []string, level lesson.Level) string {
	quoted := make([]string, len(utterances))
	for i, u := range utterances {
		quoted[i] = fmt.Sprintf("%q", u)
	}
	return fmt.Sprintf(`As a language assessment expert, evaluate this %[1]s-level student's English speaking skills from these utterances:

%[2]s

Give scores from 1 to 100 for:
1. speaking: fluency and clarity of expression
2. vocabulary: range, appropriateness and precision of word choice
3. grammar: accuracy and complexity of structures

Score relative to the %[1]s level, not against native speakers, and explain each score in one or two sentences.
Answer with JSON only:
{"speaking":{"score":75,"feedback":"..."},"vocabulary":{"score":80,"feedback":"..."},"grammar":{"score":70,"feedback":"..."}}`,
		level, strings.Join(quoted, "\n"))
}
