package lesson

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleLearner Role = "user"
	RoleTutor   Role = "assistant"
)

// Turn is one utterance in a lesson conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	MessageID string    `json:"message_id,omitempty"` // inbound message that produced a learner turn
	Timestamp time.Time `json:"timestamp"`
}

// History is the ordered conversation of one lesson. It is only ever appended to.
type History []Turn

// TurnCount holds per-role turn counts.
type TurnCount struct {
	Learner int
	Tutor   int
}

// AddTurn appends a turn to the history and returns the updated history.
func AddTurn(history History, role Role, content, messageID string) History {
	return append(history, Turn{
		Role:      role,
		Content:   content,
		MessageID: messageID,
		Timestamp: time.Now(),
	})
}

// CountTurns counts history entries by role.
// Entries with an unknown role are ignored.
func CountTurns(history History) TurnCount {
	var c TurnCount
	for _, t := range history {
		switch t.Role {
		case RoleLearner:
			c.Learner++
		case RoleTutor:
			c.Tutor++
		}
	}
	return c
}

// Count returns the number of turns produced by role.
func (c TurnCount) Count(role Role) int {
	switch role {
	case RoleLearner:
		return c.Learner
	case RoleTutor:
		return c.Tutor
	default:
		return 0
	}
}

// Last returns the most recent turn.
func (h History) Last() (Turn, bool) {
	if len(h) == 0 {
		return Turn{}, false
	}
	return h[len(h)-1], true
}

// AwaitingReply reports whether the last turn is a learner turn, meaning a
// tutor reply is still owed for it.
func (h History) AwaitingReply() bool {
	last, ok := h.Last()
	return ok && last.Role == RoleLearner
}

// HasMessage reports whether a learner turn for messageID is already recorded.
func (h History) HasMessage(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, t := range h {
		if t.Role == RoleLearner && t.MessageID == messageID {
			return true
		}
	}
	return false
}

// LearnerUtterances returns the content of every learner turn in order.
func (h History) LearnerUtterances() []string {
	out := make([]string, 0, len(h)/2+1)
	for _, t := range h {
		if t.Role == RoleLearner {
			out = append(out, t.Content)
		}
	}
	return out
}

// Tail returns at most the last n turns.
func (h History) Tail(n int) History {
	if n <= 0 {
		return nil
	}
	if len(h) > n {
		return h[len(h)-n:]
	}
	return h
}

// WithinTokens returns the longest suffix of h whose estimated size fits in
// budget. The last turn is always kept. A non-positive budget keeps everything.
func (h History) WithinTokens(budget int) History {
	if budget <= 0 || h.EstimatedTokens() <= budget {
		return h
	}
	used := 0
	for i := len(h) - 1; i >= 0; i-- {
		used += EstimateTokens(h[i].Content)
		if used > budget {
			if i == len(h)-1 {
				return h[i:]
			}
			return h[i+1:]
		}
	}
	return h
}

// EstimatedTokens sums EstimateTokens over every turn.
func (h History) EstimatedTokens() int {
	total := 0
	for _, t := range h {
		total += EstimateTokens(t.Content)
	}
	return total
}
