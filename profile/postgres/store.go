package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/profile"
)

// PGStore implements profile.Store on the user_profiles table.
type PGStore struct {
	db  *pgxpool.Pool
	loc *time.Location
}

// New creates a store on an open pool. Calendar days for streaks are taken
// in loc, UTC when nil.
func New(db *pgxpool.Pool, loc *time.Location) *PGStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PGStore{db: db, loc: loc}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("profile: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile: ping: %w", err)
	}
	return pool, nil
}

// GetProfile implements profile.Store.
func (s *PGStore) GetProfile(ctx context.Context, learnerID string) (*profile.Profile, error) {
	id, err := telegramID(learnerID)
	if err != nil {
		return nil, err
	}

	p := &profile.Profile{LearnerID: learnerID}
	err = s.db.QueryRow(ctx,
		`SELECT current_level, interface_language,
		        quiz_completed_at, pass_lesson0_at, package_expires_at,
		        next_lesson_access_at, lesson_started_at,
		        lessons_left, total_lessons_completed, current_streak, last_lesson_date
		 FROM user_profiles WHERE telegram_id = $1`,
		id,
	).Scan(&p.Level, &p.Language,
		&p.OnboardingCompletedAt, &p.FreeLessonCompletedAt, &p.PackageExpiresAt,
		&p.NextLessonAt, &p.LessonStartedAt,
		&p.LessonsLeft, &p.LessonsTotal, &p.CurrentStreak, &p.LastLessonDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", learnerID, err)
	}
	return p, nil
}

// MarkLessonStarted implements profile.Store.
func (s *PGStore) MarkLessonStarted(ctx context.Context, learnerID string, at time.Time) error {
	id, err := telegramID(learnerID)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE user_profiles SET lesson_started_at = $2, updated_at = NOW()
		 WHERE telegram_id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("profile: mark started %s: %w", learnerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}
	return nil
}

// CompleteLesson implements profile.Store.
func (s *PGStore) CompleteLesson(ctx context.Context, learnerID string, kind lesson.Kind, at time.Time) error {
	p, err := s.GetProfile(ctx, learnerID)
	if err != nil {
		return err
	}
	id, _ := telegramID(learnerID)

	done := profile.PlanCompletion(p, kind, at, s.loc)
	_, err = s.db.Exec(ctx,
		`UPDATE user_profiles
		 SET total_lessons_completed = $2,
		     lessons_left = $3,
		     current_streak = $4,
		     last_lesson_date = $5,
		     next_lesson_access_at = $6,
		     pass_lesson0_at = COALESCE($7, pass_lesson0_at),
		     updated_at = NOW()
		 WHERE telegram_id = $1`,
		id, done.LessonsTotal, done.LessonsLeft, done.CurrentStreak,
		done.LastLessonDate, done.NextLessonAt, done.FreeLessonCompletedAt,
	)
	if err != nil {
		return fmt.Errorf("profile: complete %s: %w", learnerID, err)
	}
	return nil
}

// Close closes the pool.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

func telegramID(learnerID string) (int64, error) {
	id, err := strconv.ParseInt(learnerID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("profile: learner id %q: %w", learnerID, lesson.ErrNotFound)
	}
	return id, nil
}

var _ profile.Store = (*PGStore)(nil)
