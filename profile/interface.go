package profile

import (
	"context"
	"time"

	lesson "github.com/linguapulse/lesson"
)

// Store is the relational learner profile store. The engine only reads
// eligibility data and records lesson start and completion; every other
// profile write belongs to other services.
type Store interface {
	// GetProfile returns the profile of learnerID.
	// Returns lesson.ErrNotFound when the learner has no profile.
	GetProfile(ctx context.Context, learnerID string) (*Profile, error)

	// MarkLessonStarted records the start time of a lesson.
	MarkLessonStarted(ctx context.Context, learnerID string, at time.Time) error

	// CompleteLesson applies the counters of a finished lesson of kind.
	// Implementations read the profile, compute the Completion and write it
	// back without a transaction.
	CompleteLesson(ctx context.Context, learnerID string, kind lesson.Kind, at time.Time) error

	// Close releases any resources held by the store.
	Close() error
}

// Profile is the slice of a learner profile the lesson engine depends on.
type Profile struct {
	LearnerID string
	Level     string // CEFR tag or onboarding survey answer
	Language  string // interface language, "en" or "ru"

	OnboardingCompletedAt *time.Time
	FreeLessonCompletedAt *time.Time
	PackageExpiresAt      *time.Time
	NextLessonAt          *time.Time
	LessonStartedAt       *time.Time

	LessonsLeft   int
	LessonsTotal  int
	CurrentStreak int

	// LastLessonDate is a calendar date; only its year, month and day are used.
	LastLessonDate *time.Time
}

// LessonLevel returns the learner level normalized for prompting.
func (p *Profile) LessonLevel() lesson.Level {
	return lesson.LevelOrDefault(p.Level)
}
