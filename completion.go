package lesson

import "fmt"

// Kind names a lesson variant. Keys, locks and thresholds are scoped per kind.
type Kind string

const (
	KindFree Kind = "free"
	KindPaid Kind = "paid"
)

// ParseKind validates a variant name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFree, KindPaid:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// CompletionPolicy ends a lesson once Role has produced Threshold turns.
// The decision is derived from persisted history only, so it is the same
// whether it is computed once or recomputed after a retry.
type CompletionPolicy struct {
	Role      Role `toml:"role"`
	Threshold int  `toml:"threshold"`
}

// Complete reports whether the lesson recorded in history is over.
func (p CompletionPolicy) Complete(history History) bool {
	if p.Threshold <= 0 {
		return false
	}
	return CountTurns(history).Count(p.Role) >= p.Threshold
}

// Remaining returns how many more turns by Role are needed before completion.
func (p CompletionPolicy) Remaining(history History) int {
	n := p.Threshold - CountTurns(history).Count(p.Role)
	if n < 0 {
		return 0
	}
	return n
}

// Validate checks that the policy counts a known role against a positive threshold.
func (p CompletionPolicy) Validate() error {
	if p.Role != RoleLearner && p.Role != RoleTutor {
		return fmt.Errorf("%w: completion role %q", ErrInvalidConfig, p.Role)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("%w: completion threshold %d", ErrInvalidConfig, p.Threshold)
	}
	return nil
}
