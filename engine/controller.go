// Package engine runs lesson sessions: it owns the session state machine and
// the lock and dedup discipline around every inbound event.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/analysis"
	"github.com/linguapulse/lesson/dialogue"
	"github.com/linguapulse/lesson/messaging"
	"github.com/linguapulse/lesson/profile"
	"github.com/linguapulse/lesson/session"
	"github.com/linguapulse/lesson/voice"
	"github.com/linguapulse/lesson/voice/stt"
)

// Outcome is the acknowledgement returned to the routing layer.
type Outcome string

const (
	OutcomeStarted             Outcome = "started"
	OutcomeNotEligible         Outcome = "not_eligible"
	OutcomeAlreadyActive       Outcome = "already_active"
	OutcomeBusy                Outcome = "busy"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeNoSession           Outcome = "no_session"
	OutcomeConcluding          Outcome = "concluding"
	OutcomeExpired             Outcome = "expired"
	OutcomeTranscriptionFailed Outcome = "transcription_failed"
	OutcomeReplied             Outcome = "replied"
	OutcomeConcluded           Outcome = "concluded"
	OutcomeFailed              Outcome = "failed"
)

// StartResult is the result of Start.
type StartResult struct {
	Outcome   Outcome
	SessionID string
	Opening   string
	Reason    profile.Reason // set for OutcomeNotEligible
}

// VoiceTurn is one inbound voice message.
type VoiceTurn struct {
	LearnerID string
	MessageID string
	AudioRef  string // messaging platform file id
}

// TurnResult is the result of HandleVoiceTurn.
type TurnResult struct {
	Outcome Outcome
	Reply   string
	// Recovered is set when the reply answered a learner turn persisted by an
	// earlier invocation instead of the inbound audio.
	Recovered bool
	Report    *analysis.Report
}

// Deps are the collaborators of a Controller. Clock, Logger, Metrics and
// Transcribe are optional.
type Deps struct {
	Store      session.Store
	Profiles   profile.Store
	Messenger  messaging.Messenger
	STT        stt.Provider
	Transcribe stt.TranscribeOptions
	Dialogue   *dialogue.Generator
	Voice      *voice.Pipeline
	Analyzer   *analysis.Analyzer
	Metrics    *Metrics
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Controller runs the lessons of one variant.
type Controller struct {
	cfg       VariantConfig
	kv        session.Store
	store     *sessionStore
	profiles  profile.Store
	messenger messaging.Messenger
	stt       stt.Provider
	sttOpts   stt.TranscribeOptions
	dialogue  *dialogue.Generator
	voice     *voice.Pipeline
	analyzer  *analysis.Analyzer
	metrics   *Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewController creates a Controller for cfg.
func NewController(cfg VariantConfig, deps Deps) (*Controller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Profiles == nil || deps.Messenger == nil || deps.STT == nil ||
		deps.Dialogue == nil || deps.Voice == nil || deps.Analyzer == nil {
		return nil, fmt.Errorf("%w: controller %s: missing dependency", lesson.ErrInvalidConfig, cfg.Kind)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics("")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	keys := session.Keys{Prefix: cfg.KeyPrefix}
	return &Controller{
		cfg:       cfg,
		kv:        deps.Store,
		store:     &sessionStore{kv: deps.Store, keys: keys, ttl: cfg.SessionTTL},
		profiles:  deps.Profiles,
		messenger: deps.Messenger,
		stt:       deps.STT,
		sttOpts:   deps.Transcribe,
		dialogue:  deps.Dialogue,
		voice:     deps.Voice,
		analyzer:  deps.Analyzer,
		metrics:   deps.Metrics,
		now:       deps.Clock,
		logger:    deps.Logger.With("variant", cfg.Kind),
	}, nil
}

// Kind returns the variant the controller runs.
func (c *Controller) Kind() lesson.Kind {
	return c.cfg.Kind
}

// Config returns the effective variant configuration.
func (c *Controller) Config() VariantConfig {
	return c.cfg
}

// Start begins a lesson for learnerID when the learner is eligible and has
// no live session.
func (c *Controller) Start(ctx context.Context, learnerID string) (res StartResult, err error) {
	logger := c.logger.With("learner", learnerID)
	defer func() {
		c.metrics.RecordStart(c.cfg.Kind, res.Outcome)
		logger.InfoContext(ctx, "start handled", "outcome", res.Outcome)
	}()

	p, err := c.profiles.GetProfile(ctx, learnerID)
	if err != nil && !errors.Is(err, lesson.ErrNotFound) {
		return StartResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, c.cfg.Texts(DefaultLanguage), fmt.Errorf("start: %w", err))
	}
	if err != nil {
		p = nil
	}

	texts := c.cfg.Texts(languageOf(p))
	now := c.now()
	if reason := profile.CheckEligibility(p, c.cfg.Kind, now); reason != profile.Eligible {
		c.sendText(ctx, learnerID, c.ineligibleText(texts, reason, p, now), c.ineligibleButtons(texts, reason)...)
		return StartResult{Outcome: OutcomeNotEligible, Reason: reason}, nil
	}

	err = session.WithLock(ctx, c.kv, c.store.keys.Lock(learnerID), c.cfg.LockTTL, func(ctx context.Context) error {
		var err error
		res, err = c.start(ctx, logger, p, texts)
		return err
	})
	switch {
	case errors.Is(err, lesson.ErrLockHeld):
		return StartResult{Outcome: OutcomeBusy}, nil
	case err != nil && res.Outcome == "":
		return StartResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, texts, fmt.Errorf("start: %w", err))
	}
	return res, err
}

func (c *Controller) start(ctx context.Context, logger *slog.Logger, p *profile.Profile, texts Texts) (StartResult, error) {
	learnerID := p.LearnerID

	rec, err := c.store.loadRecord(ctx, learnerID)
	if err != nil {
		return StartResult{}, err
	}
	if rec != nil {
		idle, err := c.idle(ctx, learnerID, rec)
		if err != nil {
			return StartResult{}, err
		}
		if !idle && rec.State == StateActive {
			c.sendText(ctx, learnerID, texts.AlreadyActive)
			return StartResult{Outcome: OutcomeAlreadyActive, SessionID: rec.ID}, nil
		}
		logger.InfoContext(ctx, "replacing stale session", "session", rec.ID, "state", rec.State)
		if err := c.store.teardown(ctx, learnerID); err != nil {
			return StartResult{}, err
		}
	}

	now := c.now()
	if err := c.profiles.MarkLessonStarted(ctx, learnerID, now); err != nil {
		logger.WarnContext(ctx, "recording lesson start failed", "error", err)
	}

	if texts.Welcome != "" {
		c.sendText(ctx, learnerID, texts.Welcome)
	}
	c.sendText(ctx, learnerID, texts.Starting)

	state, err := StateNoSession.Next(EventStart)
	if err != nil {
		return StartResult{}, err
	}
	rec = &record{
		ID:        uuid.NewString(),
		Level:     p.LessonLevel(),
		Language:  languageOf(p),
		State:     state,
		StartedAt: now,
	}
	if err := c.store.saveRecord(ctx, learnerID, rec); err != nil {
		return StartResult{}, err
	}
	if err := c.store.saveHistory(ctx, learnerID, nil); err != nil {
		return StartResult{}, err
	}
	if err := c.store.touch(ctx, learnerID, now); err != nil {
		return StartResult{}, err
	}

	opening, err := c.dialogue.Opening(ctx, c.openingFrame(), rec.Level)
	if err != nil {
		logger.WarnContext(ctx, "opening generation failed, using canned opening", "stage", "dialogue", "error", err)
		c.metrics.RecordFallback("opening")
		opening = texts.FallbackOpening
	}

	history := lesson.AddTurn(nil, lesson.RoleTutor, opening, "")
	if err := c.store.saveHistory(ctx, learnerID, history); err != nil {
		return StartResult{}, err
	}
	c.speak(ctx, logger, learnerID, opening)
	c.suggest(ctx, learnerID, rec.Level, texts, history)

	return StartResult{Outcome: OutcomeStarted, SessionID: rec.ID, Opening: opening}, nil
}

// HandleVoiceTurn processes one inbound voice message of an ongoing lesson.
func (c *Controller) HandleVoiceTurn(ctx context.Context, turn VoiceTurn) (res TurnResult, err error) {
	began := c.now()
	learnerID := turn.LearnerID
	logger := c.logger.With("learner", learnerID, "message_id", turn.MessageID)
	defer func() {
		c.metrics.RecordTurn(c.cfg.Kind, res.Outcome, c.now().Sub(began))
		logger.InfoContext(ctx, "voice turn handled", "outcome", res.Outcome, "recovered", res.Recovered)
	}()

	seen, err := c.store.processed(ctx, learnerID, turn.MessageID)
	if err != nil {
		return TurnResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, c.cfg.Texts(DefaultLanguage), err)
	}
	if seen {
		return TurnResult{Outcome: OutcomeDuplicate}, nil
	}

	rec, err := c.store.loadRecord(ctx, learnerID)
	if err != nil {
		return TurnResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, c.cfg.Texts(DefaultLanguage), err)
	}
	if rec == nil {
		texts := c.cfg.Texts(c.language(ctx, learnerID))
		c.sendText(ctx, learnerID, texts.NoSession, c.startButtons(texts)...)
		return TurnResult{Outcome: OutcomeNoSession}, nil
	}

	texts := c.cfg.Texts(rec.Language)
	if rec.State == StateConcluding {
		return TurnResult{Outcome: OutcomeConcluding}, nil
	}

	idle, err := c.idle(ctx, learnerID, rec)
	if err != nil {
		return TurnResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, texts, err)
	}
	if idle {
		return c.expire(ctx, logger, learnerID, rec, texts)
	}

	fresh, err := c.store.markProcessed(ctx, learnerID, turn.MessageID, c.cfg.DedupTTL)
	if err != nil {
		return TurnResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, texts, err)
	}
	if !fresh {
		return TurnResult{Outcome: OutcomeDuplicate}, nil
	}

	err = session.WithLock(ctx, c.kv, c.store.keys.Lock(learnerID), c.cfg.LockTTL, func(ctx context.Context) error {
		var err error
		res, err = c.turn(ctx, logger, turn, rec, texts)
		return err
	})
	switch {
	case errors.Is(err, lesson.ErrLockHeld):
		return TurnResult{Outcome: OutcomeBusy}, nil
	case err != nil && res.Outcome == "":
		return TurnResult{Outcome: OutcomeFailed}, c.fail(ctx, learnerID, texts, err)
	}
	return res, err
}

// turn runs under the processing lock. seen is the record observed before
// the lock was taken; the session may have ended since.
func (c *Controller) turn(ctx context.Context, logger *slog.Logger, in VoiceTurn, seen *record, texts Texts) (TurnResult, error) {
	learnerID := in.LearnerID

	rec, err := c.store.loadRecord(ctx, learnerID)
	if err != nil {
		return TurnResult{}, err
	}
	switch {
	case rec == nil || rec.ID != seen.ID:
		logger.InfoContext(ctx, "session ended before the lock was taken", "session", seen.ID)
		return TurnResult{Outcome: OutcomeNoSession}, nil
	case rec.State != StateActive:
		return TurnResult{Outcome: OutcomeConcluding}, nil
	}

	history, err := c.store.loadHistory(ctx, learnerID)
	if err != nil {
		return TurnResult{}, err
	}

	recovered := history.AwaitingReply()
	switch {
	case recovered:
		logger.InfoContext(ctx, "answering persisted learner turn, inbound audio dropped",
			"stage", "recovery", "dropped_message_id", in.MessageID)
	case history.HasMessage(in.MessageID):
		return TurnResult{Outcome: OutcomeDuplicate}, nil
	default:
		text, err := c.transcribe(ctx, in.AudioRef)
		if err != nil {
			logger.WarnContext(ctx, "transcription failed", "stage", "stt", "error", err)
			c.metrics.RecordFallback("transcription")
			c.sendText(ctx, learnerID, texts.TranscriptionFailed)
			return TurnResult{Outcome: OutcomeTranscriptionFailed}, nil
		}
		history = lesson.AddTurn(history, lesson.RoleLearner, text, in.MessageID)
		if err := c.store.saveHistory(ctx, learnerID, history); err != nil {
			return TurnResult{}, err
		}
	}

	if c.cfg.Completion.Complete(history) {
		report, err := c.conclude(ctx, logger, learnerID, rec, history, texts)
		return TurnResult{Outcome: OutcomeConcluded, Recovered: recovered, Report: report}, err
	}

	if _, err := rec.State.Next(EventTurn); err != nil {
		return TurnResult{}, err
	}

	reply, fellBack := c.dialogue.Reply(ctx, c.cfg.SystemPrompt, rec.Level, history)
	if fellBack {
		c.metrics.RecordFallback("reply")
	}
	history = lesson.AddTurn(history, lesson.RoleTutor, reply, "")
	if err := c.store.saveHistory(ctx, learnerID, history); err != nil {
		return TurnResult{}, err
	}
	if err := c.store.touch(ctx, learnerID, c.now()); err != nil {
		return TurnResult{}, err
	}

	c.speak(ctx, logger, learnerID, reply)
	c.suggest(ctx, learnerID, rec.Level, texts, history)

	return TurnResult{Outcome: OutcomeReplied, Reply: reply, Recovered: recovered}, nil
}

func (c *Controller) transcribe(ctx context.Context, audioRef string) (string, error) {
	audio, err := c.messenger.DownloadFile(ctx, audioRef)
	if err != nil {
		return "", fmt.Errorf("download voice: %w", err)
	}
	tr, err := c.stt.Transcribe(ctx, bytes.NewReader(audio), c.sttOpts)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

// conclude ends the lesson recorded in history. It runs under the lock.
func (c *Controller) conclude(ctx context.Context, logger *slog.Logger, learnerID string, rec *record, history lesson.History, texts Texts) (*analysis.Report, error) {
	state, err := rec.State.Next(EventThresholdReached)
	if err != nil {
		return nil, err
	}
	rec.State = state

	var errs []error
	tornDown := false
	if c.cfg.TeardownBeforeFarewell {
		if err := c.store.teardown(ctx, learnerID); err != nil {
			errs = append(errs, err)
		} else {
			tornDown = true
		}
	} else if err := c.store.saveRecord(ctx, learnerID, rec); err != nil {
		logger.WarnContext(ctx, "persisting concluding state failed", "error", err)
	}

	history = lesson.AddTurn(history, lesson.RoleTutor, texts.Farewell, "")
	c.speak(ctx, logger, learnerID, texts.Farewell)

	c.sendText(ctx, learnerID, texts.Analyzing)
	report := c.analyzer.Analyze(ctx, history.LearnerUtterances(), rec.Level)
	c.sendReport(ctx, learnerID, report, texts)

	if err := c.profiles.CompleteLesson(ctx, learnerID, c.cfg.Kind, c.now()); err != nil {
		logger.ErrorContext(ctx, "profile update failed", "stage", "profile", "error", err)
		c.metrics.RecordProfileUpdateFailure(c.cfg.Kind)
		errs = append(errs, errors.Join(lesson.ErrProfileUpdate, err))
	}

	c.sendText(ctx, learnerID, texts.Closing, c.subscribeButtons(texts)...)

	if !tornDown {
		if err := c.store.teardown(ctx, learnerID); err != nil {
			errs = append(errs, err)
		}
	}
	if rec.State, err = rec.State.Next(EventTeardown); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// expire abandons an idle session.
func (c *Controller) expire(ctx context.Context, logger *slog.Logger, learnerID string, rec *record, texts Texts) (TurnResult, error) {
	if _, err := rec.State.Next(EventIdleTimeout); err != nil {
		return TurnResult{Outcome: OutcomeFailed}, err
	}

	history, err := c.store.loadHistory(ctx, learnerID)
	if err != nil {
		logger.WarnContext(ctx, "loading idle history failed", "error", err)
	}

	if n := c.cfg.IdleCompletionTutorTurns; n > 0 && lesson.CountTurns(history).Tutor >= n {
		c.sendText(ctx, learnerID, texts.IdleCompleted)
	} else {
		c.sendText(ctx, learnerID, texts.SessionTimeout, c.startButtons(texts)...)
	}

	if err := c.store.teardown(ctx, learnerID); err != nil {
		return TurnResult{Outcome: OutcomeExpired}, err
	}
	return TurnResult{Outcome: OutcomeExpired}, nil
}

// idle reports whether the session has seen no activity for longer than the
// idle timeout.
func (c *Controller) idle(ctx context.Context, learnerID string, rec *record) (bool, error) {
	last, found, err := c.store.lastActivity(ctx, learnerID)
	if err != nil {
		return false, err
	}
	if !found {
		last = rec.StartedAt
	}
	return c.now().Sub(last) > c.cfg.IdleTimeout, nil
}

func (c *Controller) sendReport(ctx context.Context, learnerID string, report *analysis.Report, texts Texts) {
	if len(report.Feedback) == 0 && report.Assessment == nil {
		return
	}
	c.sendText(ctx, learnerID, texts.FeedbackTitle)
	for _, f := range report.Feedback {
		if f.Failed {
			c.metrics.RecordFallback("analysis")
			if texts.AnalysisFailed != "" {
				f.Feedback = texts.AnalysisFailed
			}
		}
		c.sendText(ctx, learnerID, f.Text())
	}
	if report.Assessment != nil {
		c.sendText(ctx, learnerID, report.Assessment.Text(texts.AssessmentTitle))
	}
}

func (c *Controller) speak(ctx context.Context, logger *slog.Logger, chatID, text string) {
	d := c.voice.Speak(ctx, chatID, text)
	c.metrics.RecordDelivery(d.Path)
	if !d.Delivered() {
		logger.ErrorContext(ctx, "tutor utterance not delivered", "stage", "voice", "error", d.Err())
	}
}

func (c *Controller) suggest(ctx context.Context, chatID string, level lesson.Level, texts Texts, history lesson.History) {
	if !c.cfg.Suggests(level) {
		return
	}
	s := c.dialogue.Suggest(ctx, history)
	c.sendText(ctx, chatID, fmt.Sprintf("%s\n\n_%s_", texts.Suggestion, s))
}

// sendText delivers a guidance message. Failures are logged, never returned.
func (c *Controller) sendText(ctx context.Context, chatID, text string, buttons ...messaging.Button) {
	if text == "" {
		return
	}
	if err := c.messenger.SendText(ctx, chatID, text, buttons...); err != nil {
		c.logger.WarnContext(ctx, "sending message failed", "learner", chatID, "stage", "messaging", "error", err)
	}
}

// fail tells the learner something went wrong and returns err.
func (c *Controller) fail(ctx context.Context, learnerID string, texts Texts, err error) error {
	c.logger.ErrorContext(ctx, "lesson event failed", "learner", learnerID, "error", err)
	c.sendText(ctx, learnerID, texts.TechnicalError)
	return err
}

func (c *Controller) openingFrame() string {
	if c.cfg.OpeningPrompt != "" {
		return c.cfg.OpeningPrompt
	}
	return c.cfg.SystemPrompt
}

// language looks up the interface language of a learner without a session.
func (c *Controller) language(ctx context.Context, learnerID string) string {
	p, err := c.profiles.GetProfile(ctx, learnerID)
	if err != nil {
		return DefaultLanguage
	}
	return languageOf(p)
}

func languageOf(p *profile.Profile) string {
	if p == nil || p.Language == "" {
		return DefaultLanguage
	}
	return p.Language
}

func (c *Controller) startButtons(texts Texts) []messaging.Button {
	if c.cfg.StartCallback == "" || texts.StartButton == "" {
		return nil
	}
	return []messaging.Button{{Text: texts.StartButton, CallbackData: c.cfg.StartCallback}}
}

func (c *Controller) subscribeButtons(texts Texts) []messaging.Button {
	if texts.SubscribeButton == "" || (c.cfg.SubscribeCallback == "" && c.cfg.SubscribeURL == "") {
		return nil
	}
	return []messaging.Button{{Text: texts.SubscribeButton, CallbackData: c.cfg.SubscribeCallback, URL: c.cfg.SubscribeURL}}
}

func (c *Controller) ineligibleButtons(texts Texts, reason profile.Reason) []messaging.Button {
	switch reason {
	case profile.ReasonFreeCompleted, profile.ReasonPackageExpired:
		return c.subscribeButtons(texts)
	}
	return nil
}

func (c *Controller) ineligibleText(texts Texts, reason profile.Reason, p *profile.Profile, now time.Time) string {
	switch reason {
	case profile.ReasonOnboarding:
		return texts.Onboarding
	case profile.ReasonFreeCompleted:
		return texts.FreeCompleted
	case profile.ReasonPackageExpired:
		return texts.PackageExpired
	case profile.ReasonNoLessonsLeft:
		return texts.NoLessonsLeft
	case profile.ReasonTooEarly:
		return strings.ReplaceAll(texts.TooEarly, "{time}", formatUntil(p.NextLessonAt.Sub(now)))
	}
	return ""
}

// formatUntil renders a wait as hours and minutes.
func formatUntil(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		d = time.Minute
	}
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
