package profile

import (
	"time"

	lesson "github.com/linguapulse/lesson"
)

// Reason explains why a learner may not start a lesson.
// The zero value means the learner is eligible.
type Reason string

const (
	Eligible             Reason = ""
	ReasonOnboarding     Reason = "onboarding"
	ReasonFreeCompleted  Reason = "free_completed"
	ReasonPackageExpired Reason = "package_expired"
	ReasonNoLessonsLeft  Reason = "no_lessons_left"
	ReasonTooEarly       Reason = "too_early"
)

// CheckEligibility decides whether p may start a lesson of kind at now.
//
// Free: onboarding completed and the free lesson not yet completed.
// Paid: package not expired, lessons left, and the next lesson slot open.
func CheckEligibility(p *Profile, kind lesson.Kind, now time.Time) Reason {
	if p == nil {
		return ReasonOnboarding
	}

	switch kind {
	case lesson.KindFree:
		if p.OnboardingCompletedAt == nil {
			return ReasonOnboarding
		}
		if p.FreeLessonCompletedAt != nil {
			return ReasonFreeCompleted
		}
	case lesson.KindPaid:
		if p.PackageExpiresAt == nil || !p.PackageExpiresAt.After(now) {
			return ReasonPackageExpired
		}
		if p.LessonsLeft <= 0 {
			return ReasonNoLessonsLeft
		}
		if p.NextLessonAt != nil && p.NextLessonAt.After(now) {
			return ReasonTooEarly
		}
	}
	return Eligible
}
