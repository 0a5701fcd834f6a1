package supabase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/profile"
)

const usersTable = "users"

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration  // Default: 30 seconds
	Location *time.Location // calendar for streaks, default UTC
}

// Client implements profile.Store using the Supabase users table.
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

// cache keeps recently read profiles. Entries are dropped on every write.
type cache struct {
	mu   sync.RWMutex
	byID map[string]*cacheEntry[profile.Profile]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// userRow mirrors the columns of the users table read by the engine.
type userRow struct {
	TelegramID            int64      `json:"telegram_id"`
	CurrentLevel          string     `json:"current_level"`
	InterfaceLanguage     string     `json:"interface_language"`
	QuizCompletedAt       *time.Time `json:"quiz_completed_at"`
	PassLesson0At         *time.Time `json:"pass_lesson0_at"`
	PackageExpiresAt      *time.Time `json:"package_expires_at"`
	NextLessonAccessAt    *time.Time `json:"next_lesson_access_at"`
	LessonStartedAt       *time.Time `json:"lesson_started_at"`
	LessonsLeft           int        `json:"lessons_left"`
	TotalLessonsCompleted int        `json:"total_lessons_completed"`
	CurrentStreak         int        `json:"current_streak"`
	LastLessonDate        string     `json:"last_lesson_date"`
}

// New creates a new Supabase profile store
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: supabase URL is required", lesson.ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: supabase API key is required", lesson.ErrInvalidConfig)
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		loc:      cfg.Location,
		now:      time.Now,
		cache: &cache{
			byID: make(map[string]*cacheEntry[profile.Profile]),
		},
	}, nil
}

// GetProfile implements profile.Store.
func (c *Client) GetProfile(ctx context.Context, learnerID string) (*profile.Profile, error) {
	if cached, ok := c.getFromCache(learnerID); ok {
		return &cached, nil
	}

	var rows []userRow
	_, err := c.client.From(usersTable).
		Select("*", "", false).
		Eq("telegram_id", learnerID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", learnerID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: %w", learnerID, lesson.ErrNotFound)
	}

	p, err := rows[0].toProfile()
	if err != nil {
		return nil, err
	}
	c.addToCache(learnerID, p)
	return &p, nil
}

// MarkLessonStarted implements profile.Store.
func (c *Client) MarkLessonStarted(ctx context.Context, learnerID string, at time.Time) error {
	return c.update(learnerID, map[string]any{
		"lesson_started_at": at.UTC().Format(time.RFC3339),
	})
}

// CompleteLesson implements profile.Store.
func (c *Client) CompleteLesson(ctx context.Context, learnerID string, kind lesson.Kind, at time.Time) error {
	c.invalidate(learnerID)
	p, err := c.GetProfile(ctx, learnerID)
	if err != nil {
		return err
	}

	done := profile.PlanCompletion(p, kind, at, c.loc)
	fields := map[string]any{
		"total_lessons_completed": done.LessonsTotal,
		"lessons_left":            done.LessonsLeft,
		"current_streak":          done.CurrentStreak,
		"last_lesson_date":        done.LastLessonDate.Format(time.DateOnly),
		"next_lesson_access_at":   done.NextLessonAt.UTC().Format(time.RFC3339),
	}
	if done.FreeLessonCompletedAt != nil {
		fields["pass_lesson0_at"] = done.FreeLessonCompletedAt.UTC().Format(time.RFC3339)
	}
	return c.update(learnerID, fields)
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

func (c *Client) update(learnerID string, fields map[string]any) error {
	defer c.invalidate(learnerID)

	_, _, err := c.client.From(usersTable).
		Update(fields, "minimal", "").
		Eq("telegram_id", learnerID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update profile %s: %w", learnerID, err)
	}
	return nil
}

func (r userRow) toProfile() (profile.Profile, error) {
	p := profile.Profile{
		LearnerID:             strconv.FormatInt(r.TelegramID, 10),
		Level:                 r.CurrentLevel,
		Language:              r.InterfaceLanguage,
		OnboardingCompletedAt: r.QuizCompletedAt,
		FreeLessonCompletedAt: r.PassLesson0At,
		PackageExpiresAt:      r.PackageExpiresAt,
		NextLessonAt:          r.NextLessonAccessAt,
		LessonStartedAt:       r.LessonStartedAt,
		LessonsLeft:           r.LessonsLeft,
		LessonsTotal:          r.TotalLessonsCompleted,
		CurrentStreak:         r.CurrentStreak,
	}
	if r.LastLessonDate != "" {
		day, err := time.Parse(time.DateOnly, r.LastLessonDate)
		if err != nil {
			return profile.Profile{}, fmt.Errorf("profile %d: last_lesson_date %q: %w", r.TelegramID, r.LastLessonDate, err)
		}
		p.LastLessonDate = &day
	}
	return p, nil
}

// getFromCache retrieves a profile from cache by learner ID
func (c *Client) getFromCache(key string) (profile.Profile, bool) {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.byID[key]; ok {
		if c.now().Before(e.expiresAt) {
			return e.value, true
		}
	}
	return profile.Profile{}, false
}

// addToCache adds a profile to cache
func (c *Client) addToCache(key string, value profile.Profile) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.byID[key] = &cacheEntry[profile.Profile]{
		value:     value,
		expiresAt: c.now().Add(c.cacheTTL),
	}
}

func (c *Client) invalidate(key string) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	delete(c.cache.byID, key)
}

// Compile-time check that Client implements profile.Store
var _ profile.Store = (*Client)(nil)
