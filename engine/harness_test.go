package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/analysis"
	"github.com/linguapulse/lesson/dialogue"
	"github.com/linguapulse/lesson/messaging"
	"github.com/linguapulse/lesson/profile"
	"github.com/linguapulse/lesson/session"
	"github.com/linguapulse/lesson/voice"
	"github.com/linguapulse/lesson/voice/stt"
	"github.com/linguapulse/lesson/voice/tts"
)

const learner = "42"

const assessmentJSON = `{"speaking":{"score":70,"feedback":"Clear."},"vocabulary":{"score":60,"feedback":"Basic."},"grammar":{"score":55,"feedback":"Tenses."}}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTexts() Texts {
	return Texts{
		Starting:            "Starting lesson",
		AlreadyActive:       "Already active",
		NoSession:           "No active lesson",
		StartButton:         "Start Lesson",
		SessionTimeout:      "Timed out",
		IdleCompleted:       "Lesson completed after inactivity",
		TranscriptionFailed: "Could not hear you",
		FallbackOpening:     "Hi there! How are you?",
		Suggestion:          "Try saying",
		Farewell:            "Goodbye for today",
		Analyzing:           "Analyzing",
		FeedbackTitle:       "Feedback",
		AssessmentTitle:     "Assessment",
		AnalysisFailed:      "Could not analyze",
		Closing:             "Subscribe for more",
		SubscribeButton:     "Subscribe",
		TechnicalError:      "Technical error",
		Onboarding:          "Finish onboarding",
		FreeCompleted:       "Free lesson already done",
		PackageExpired:      "Package expired",
		NoLessonsLeft:       "No lessons left",
		TooEarly:            "Next lesson in {time}",
	}
}

func freeVariant() VariantConfig {
	return VariantConfig{
		Kind:              lesson.KindFree,
		Completion:        lesson.CompletionPolicy{Role: lesson.RoleLearner, Threshold: 4},
		IdleTimeout:       5 * time.Minute,
		SuggestLevels:     []lesson.Level{lesson.LevelA1},
		SystemPrompt:      "You are a friendly tutor.",
		StartCallback:     "lesson:start",
		SubscribeCallback: "subscribe:weekly",
		Messages: map[string]Texts{
			"en": testTexts(),
			"ru": {Starting: "Начинаем урок"},
		},
	}
}

func paidVariant() VariantConfig {
	texts := testTexts()
	texts.Closing = "Next lesson tomorrow"
	return VariantConfig{
		Kind:                     lesson.KindPaid,
		KeyPrefix:                "main_",
		Completion:               lesson.CompletionPolicy{Role: lesson.RoleTutor, Threshold: 3},
		IdleTimeout:              10 * time.Minute,
		TeardownBeforeFarewell:   true,
		IdleCompletionTutorTurns: 2,
		SystemPrompt:             "You are a professional tutor.",
		StartCallback:            "lesson:start",
		Messages:                 map[string]Texts{"en": texts},
	}
}

// fakeSTT transcribes audio as its own bytes.
type fakeSTT struct {
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSTT) Name() string { return "fake" }

func (f *fakeSTT) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{Text: string(data)}, nil
}

// fakeTTS returns the text as audio so deliveries can be asserted on.
type fakeTTS struct {
	err error
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tts.Synthesis{Audio: []byte(text), Format: "opus"}, nil
}

// fakeLLM answers each kind of request the engine issues.
type fakeLLM struct {
	fail        atomic.Bool
	replies     atomic.Int32
	feedbacks   atomic.Int32
	assessments atomic.Int32
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, req dialogue.Request) (*dialogue.Result, error) {
	if f.fail.Load() {
		return nil, errors.New("model unavailable")
	}
	switch {
	case req.JSON:
		f.assessments.Add(1)
		return &dialogue.Result{Text: assessmentJSON}, nil
	case strings.HasPrefix(req.System, "As an English teacher"):
		f.feedbacks.Add(1)
		return &dialogue.Result{Text: "Nice work."}, nil
	case len(req.Messages) == 1 && req.Messages[0].Content == "Start the conversation.":
		return &dialogue.Result{Text: "Hello! What did you do today?"}, nil
	case len(req.Messages) == 1 && req.Messages[0].Content == "Suggest my next answer.":
		return &dialogue.Result{Text: "I went to the park."}, nil
	}
	f.replies.Add(1)
	return &dialogue.Result{Text: "Tell me more about that."}, nil
}

// failingProfiles fails every CompleteLesson.
type failingProfiles struct {
	*profile.MemoryStore
}

func (failingProfiles) CompleteLesson(context.Context, string, lesson.Kind, time.Time) error {
	return errors.New("connection refused")
}

type harness struct {
	t *testing.T

	mu  sync.Mutex
	now time.Time

	kv       session.Store
	profiles *profile.MemoryStore
	msgs     *messaging.Recorder
	stt      *fakeSTT
	tts      *fakeTTS
	llm      *fakeLLM
	metrics  *Metrics
	ctrl     *Controller
}

type harnessOption func(*harness, *Deps)

func newHarness(t *testing.T, cfg VariantConfig, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		profiles: profile.NewMemoryStore(time.UTC),
		msgs:     messaging.NewRecorder(),
		stt:      &fakeSTT{},
		tts:      &fakeTTS{},
		llm:      &fakeLLM{},
		metrics:  NewMetrics("test"),
	}

	kv, err := session.NewStore(session.StoreTypeMemory, session.WithClock(h.clock))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h.kv = kv

	onboarded := h.now.Add(-48 * time.Hour)
	expires := h.now.Add(30 * 24 * time.Hour)
	h.profiles.Put(profile.Profile{
		LearnerID:             learner,
		Level:                 "Beginner",
		Language:              "en",
		OnboardingCompletedAt: &onboarded,
		PackageExpiresAt:      &expires,
		LessonsLeft:           5,
	})

	logger := quietLogger()
	deps := Deps{
		Store:     kv,
		Profiles:  h.profiles,
		Messenger: h.msgs,
		STT:       h.stt,
		Dialogue:  dialogue.NewGenerator(h.llm, dialogue.Config{Logger: logger}),
		Voice:     voice.NewPipeline(h.tts, nil, h.msgs, tts.SynthesizeOptions{}, logger),
		Analyzer:  analysis.New(h.llm, analysis.Config{Logger: logger}),
		Metrics:   h.metrics,
		Clock:     h.clock,
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	ctrl, err := NewController(cfg, deps)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) start() StartResult {
	h.t.Helper()
	res, err := h.ctrl.Start(context.Background(), learner)
	if err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	return res
}

// say sends a voice message whose transcript is text.
func (h *harness) say(messageID, text string) TurnResult {
	h.t.Helper()
	h.msgs.PutFile("file-"+messageID, []byte(text))
	res, err := h.ctrl.HandleVoiceTurn(context.Background(), VoiceTurn{
		LearnerID: learner,
		MessageID: messageID,
		AudioRef:  "file-" + messageID,
	})
	if err != nil {
		h.t.Fatalf("HandleVoiceTurn(%s): %v", messageID, err)
	}
	return res
}

func (h *harness) history() lesson.History {
	h.t.Helper()
	hist, err := h.ctrl.store.loadHistory(context.Background(), learner)
	if err != nil {
		h.t.Fatalf("loadHistory: %v", err)
	}
	return hist
}

func (h *harness) keys() []string {
	h.t.Helper()
	keys, err := h.kv.Keys(context.Background(), "")
	if err != nil {
		h.t.Fatalf("Keys: %v", err)
	}
	return keys
}

func (h *harness) voices() []string {
	var out []string
	for _, m := range h.msgs.Messages() {
		if m.Kind == messaging.KindVoice {
			out = append(out, string(m.Audio))
		}
	}
	return out
}

func (h *harness) lastText() messaging.Message {
	h.t.Helper()
	msgs := h.msgs.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == messaging.KindText {
			return msgs[i]
		}
	}
	h.t.Fatalf("no text message sent")
	return messaging.Message{}
}
