package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	lesson "github.com/linguapulse/lesson"
)

// MemoryStore implements Store in memory for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	loc      *time.Location
}

// NewMemoryStore creates an empty store that takes calendar days in loc.
func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryStore{profiles: make(map[string]Profile), loc: loc}
}

// Put inserts or replaces a profile.
func (s *MemoryStore) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.LearnerID] = p
}

// GetProfile implements Store. The returned profile is a copy.
func (s *MemoryStore) GetProfile(ctx context.Context, learnerID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[learnerID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}
	return &p, nil
}

// MarkLessonStarted implements Store.
func (s *MemoryStore) MarkLessonStarted(ctx context.Context, learnerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[learnerID]
	if !ok {
		return fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}
	p.LessonStartedAt = &at
	s.profiles[learnerID] = p
	return nil
}

// CompleteLesson implements Store.
func (s *MemoryStore) CompleteLesson(ctx context.Context, learnerID string, kind lesson.Kind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[learnerID]
	if !ok {
		return fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}
	PlanCompletion(&p, kind, at, s.loc).Apply(&p)
	s.profiles[learnerID] = p
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
