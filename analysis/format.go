package analysis

import (
	"fmt"
	"strings"
)

// Text renders the feedback as a chat message.
func (f UtteranceFeedback) Text() string {
	return fmt.Sprintf("🗣 _%s_\n\n%s", f.Utterance, f.Feedback)
}

// Text renders the assessment as a chat message under title.
func (a *SkillAssessment) Text(title string) string {
	var b strings.Builder
	b.WriteString(title)
	for _, s := range []struct {
		label string
		skill Skill
	}{
		{"🗣 Speaking", a.Speaking},
		{"📚 Vocabulary", a.Vocabulary},
		{"✏️ Grammar", a.Grammar},
	} {
		fmt.Fprintf(&b, "\n\n*%s: %d/100*\n%s", s.label, s.skill.Score, s.skill.Feedback)
	}
	return b.String()
}
