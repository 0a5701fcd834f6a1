package dialogue

import (
	"fmt"
	"strings"

	lesson "github.com/linguapulse/lesson"
)

var levelGuidance = map[lesson.Level]string{
	lesson.LevelA1: "The student is a beginner (A1). Use very simple vocabulary and short sentences of at most eight words. " +
		"Keep to basic everyday topics like family, food and hobbies. Use only the present and simple past tenses.",
	lesson.LevelA2: "The student is elementary (A2). Use common everyday vocabulary and short sentences. " +
		"Talk about routines, plans and recent experiences. Avoid idioms and phrasal verbs.",
	lesson.LevelB1: "The student is at intermediate level (B1). Discuss practical topics like personal experiences, " +
		"simple current events and lifestyle choices. Use natural sentences of moderate length.",
	lesson.LevelB2: "The student is upper-intermediate (B2). Discuss opinions, work and society. " +
		"Use a wide vocabulary with some idiomatic expressions and complex sentences.",
	lesson.LevelC1: "The student is advanced (C1). Discuss interesting topics like professional challenges, " +
		"cultural insights and creative pursuits. Use nuanced, native-like language.",
}

// LevelGuidance returns the vocabulary and sentence-length guidance for level.
// Unknown levels get the DefaultLevel guidance.
func LevelGuidance(level lesson.Level) string {
	if g, ok := levelGuidance[level]; ok {
		return g
	}
	return levelGuidance[lesson.DefaultLevel]
}

// SystemPrompt joins a pedagogical frame with the guidance for level.
func SystemPrompt(frame string, level lesson.Level) string {
	return strings.TrimSpace(frame) + "\n\n" + LevelGuidance(level)
}

// suggestionPrompt asks for a sample learner answer continuing tail.
func suggestionPrompt(tail lesson.History) string {
	var b strings.Builder
	b.WriteString("Based on this conversation, write a short, natural response that an English learner could use to continue it.\n\nConversation:\n")
	for _, t := range tail {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("\nThe response must be one or two sentences with simple vocabulary and grammar, " +
		"continue the conversation naturally and use common conversational phrases. " +
		"Reply with the suggested response text only.")
	return b.String()
}
