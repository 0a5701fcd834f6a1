package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/session"
)

// record is the persisted session record. Its presence marks a live lesson.
type record struct {
	ID        string       `json:"id"`
	Level     lesson.Level `json:"level"`
	Language  string       `json:"language"`
	State     State        `json:"state"`
	StartedAt time.Time    `json:"started_at"`
}

// sessionStore is typed access to the keys of one variant.
type sessionStore struct {
	kv   session.Store
	keys session.Keys
	ttl  time.Duration
}

func (s *sessionStore) loadRecord(ctx context.Context, learnerID string) (*record, error) {
	raw, found, err := s.kv.Get(ctx, s.keys.Session(learnerID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &r, nil
}

func (s *sessionStore) saveRecord(ctx context.Context, learnerID string, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, s.keys.Session(learnerID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// loadHistory returns the persisted history. A missing key is an empty history.
func (s *sessionStore) loadHistory(ctx context.Context, learnerID string) (lesson.History, error) {
	raw, found, err := s.kv.Get(ctx, s.keys.History(learnerID))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}
	var h lesson.History
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return h, nil
}

func (s *sessionStore) saveHistory(ctx context.Context, learnerID string, h lesson.History) error {
	if h == nil {
		h = lesson.History{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, s.keys.History(learnerID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// lastActivity returns the time of the last successful turn.
// found is false when no activity was recorded.
func (s *sessionStore) lastActivity(ctx context.Context, learnerID string) (time.Time, bool, error) {
	raw, found, err := s.kv.Get(ctx, s.keys.LastActivity(learnerID))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load last activity: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode last activity %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sessionStore) touch(ctx context.Context, learnerID string, at time.Time) error {
	v := strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.kv.Set(ctx, s.keys.LastActivity(learnerID), v, s.ttl); err != nil {
		return fmt.Errorf("save last activity: %w", err)
	}
	return nil
}

// markProcessed writes the dedup marker of messageID. It reports false when
// the marker already existed.
func (s *sessionStore) markProcessed(ctx context.Context, learnerID, messageID string, ttl time.Duration) (bool, error) {
	ok, err := s.kv.SetNX(ctx, s.keys.Processed(learnerID, messageID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return ok, nil
}

func (s *sessionStore) processed(ctx context.Context, learnerID, messageID string) (bool, error) {
	_, found, err := s.kv.Get(ctx, s.keys.Processed(learnerID, messageID))
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return found, nil
}

// teardown removes every key of the learner's session including all dedup
// markers. The lock key is left to its holder.
func (s *sessionStore) teardown(ctx context.Context, learnerID string) error {
	markers, listErr := s.kv.Keys(ctx, s.keys.ProcessedPrefix(learnerID))
	keys := append(s.keys.SessionScoped(learnerID), markers...)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return errors.Join(listErr, fmt.Errorf("teardown: %w", err))
	}
	if listErr != nil {
		return fmt.Errorf("teardown: list dedup markers: %w", listErr)
	}
	return nil
}
