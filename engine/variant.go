package engine

import (
	"fmt"
	"slices"
	"time"

	lesson "github.com/linguapulse/lesson"
)

const (
	DefaultLockTTL    = 60 * time.Second
	DefaultDedupTTL   = time.Hour
	DefaultSessionTTL = 24 * time.Hour

	// DefaultLanguage is the interface language used when a learner has none
	// and the fallback for texts missing in another language.
	DefaultLanguage = "en"
)

// VariantConfig parameterizes the engine for one lesson variant.
type VariantConfig struct {
	Kind lesson.Kind `toml:"-"`

	KeyPrefix  string                  `toml:"key_prefix"`
	Completion lesson.CompletionPolicy `toml:"completion"`

	IdleTimeout time.Duration `toml:"idle_timeout"`
	LockTTL     time.Duration `toml:"lock_ttl"`
	DedupTTL    time.Duration `toml:"dedup_ttl"`
	// SessionTTL bounds how long an abandoned session lingers in the store.
	SessionTTL time.Duration `toml:"session_ttl"`

	// TeardownBeforeFarewell deletes the session keys before the farewell is
	// spoken, so late messages find no session instead of a concluding one.
	TeardownBeforeFarewell bool `toml:"teardown_before_farewell"`

	// IdleCompletionTutorTurns switches the idle timeout text to the
	// "lesson completed" wording once the tutor has spoken this often.
	// Zero disables it.
	IdleCompletionTutorTurns int `toml:"idle_completion_tutor_turns"`

	// SuggestLevels lists the levels that get a suggested answer after each
	// tutor turn.
	SuggestLevels []lesson.Level `toml:"suggest_levels"`

	SystemPrompt  string `toml:"system_prompt"`
	OpeningPrompt string `toml:"opening_prompt"`

	StartCallback     string `toml:"start_callback"`
	SubscribeCallback string `toml:"subscribe_callback"`
	SubscribeURL      string `toml:"subscribe_url"`

	// Messages holds the learner-facing texts keyed by interface language.
	Messages map[string]Texts `toml:"messages"`
}

// Texts are the learner-facing messages of a variant in one language.
// Markdown is allowed. TooEarly may contain {time}.
type Texts struct {
	Welcome             string `toml:"welcome"`
	Starting            string `toml:"starting"`
	AlreadyActive       string `toml:"already_active"`
	NoSession           string `toml:"no_session"`
	StartButton         string `toml:"start_button"`
	SessionTimeout      string `toml:"session_timeout"`
	IdleCompleted       string `toml:"idle_completed"`
	TranscriptionFailed string `toml:"transcription_failed"`
	FallbackOpening     string `toml:"fallback_opening"`
	Suggestion          string `toml:"suggestion"`
	Farewell            string `toml:"farewell"`
	Analyzing           string `toml:"analyzing"`
	FeedbackTitle       string `toml:"feedback_title"`
	AssessmentTitle     string `toml:"assessment_title"`
	AnalysisFailed      string `toml:"analysis_failed"`
	Closing             string `toml:"closing"`
	SubscribeButton     string `toml:"subscribe_button"`
	TechnicalError      string `toml:"technical_error"`

	Onboarding     string `toml:"onboarding"`
	FreeCompleted  string `toml:"free_completed"`
	PackageExpired string `toml:"package_expired"`
	NoLessonsLeft  string `toml:"no_lessons_left"`
	TooEarly       string `toml:"too_early"`
}

// Merge returns t with every empty text taken from fallback.
func (t Texts) Merge(fallback Texts) Texts {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&t.Welcome, fallback.Welcome},
		{&t.Starting, fallback.Starting},
		{&t.AlreadyActive, fallback.AlreadyActive},
		{&t.NoSession, fallback.NoSession},
		{&t.StartButton, fallback.StartButton},
		{&t.SessionTimeout, fallback.SessionTimeout},
		{&t.IdleCompleted, fallback.IdleCompleted},
		{&t.TranscriptionFailed, fallback.TranscriptionFailed},
		{&t.FallbackOpening, fallback.FallbackOpening},
		{&t.Suggestion, fallback.Suggestion},
		{&t.Farewell, fallback.Farewell},
		{&t.Analyzing, fallback.Analyzing},
		{&t.FeedbackTitle, fallback.FeedbackTitle},
		{&t.AssessmentTitle, fallback.AssessmentTitle},
		{&t.AnalysisFailed, fallback.AnalysisFailed},
		{&t.Closing, fallback.Closing},
		{&t.SubscribeButton, fallback.SubscribeButton},
		{&t.TechnicalError, fallback.TechnicalError},
		{&t.Onboarding, fallback.Onboarding},
		{&t.FreeCompleted, fallback.FreeCompleted},
		{&t.PackageExpired, fallback.PackageExpired},
		{&t.NoLessonsLeft, fallback.NoLessonsLeft},
		{&t.TooEarly, fallback.TooEarly},
	} {
		if *f.dst == "" {
			*f.dst = f.src
		}
	}
	return t
}

// Texts returns the messages for lang, falling back to DefaultLanguage text
// by text.
func (v *VariantConfig) Texts(lang string) Texts {
	base := v.Messages[DefaultLanguage]
	if lang == "" || lang == DefaultLanguage {
		return base
	}
	return v.Messages[lang].Merge(base)
}

// Suggests reports whether learners at level get suggested answers.
func (v *VariantConfig) Suggests(level lesson.Level) bool {
	return slices.Contains(v.SuggestLevels, level)
}

// ApplyDefaults fills zero TTLs.
func (v *VariantConfig) ApplyDefaults() {
	if v.LockTTL <= 0 {
		v.LockTTL = DefaultLockTTL
	}
	if v.DedupTTL <= 0 {
		v.DedupTTL = DefaultDedupTTL
	}
	if v.SessionTTL <= 0 {
		v.SessionTTL = DefaultSessionTTL
	}
}

// Validate checks that the variant can run a lesson.
func (v *VariantConfig) Validate() error {
	if _, err := lesson.ParseKind(string(v.Kind)); err != nil {
		return err
	}
	if err := v.Completion.Validate(); err != nil {
		return fmt.Errorf("variant %s: %w", v.Kind, err)
	}
	if v.IdleTimeout <= 0 {
		return fmt.Errorf("%w: variant %s: idle_timeout must be positive", lesson.ErrInvalidConfig, v.Kind)
	}
	if v.SystemPrompt == "" {
		return fmt.Errorf("%w: variant %s: system_prompt is required", lesson.ErrInvalidConfig, v.Kind)
	}
	for _, l := range v.SuggestLevels {
		if !l.Valid() {
			return fmt.Errorf("variant %s: suggest_levels: %w: %q", v.Kind, lesson.ErrUnknownLevel, l)
		}
	}
	if _, ok := v.Messages[DefaultLanguage]; !ok {
		return fmt.Errorf("%w: variant %s: messages.%s is required", lesson.ErrInvalidConfig, v.Kind, DefaultLanguage)
	}
	return nil
}
