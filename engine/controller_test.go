package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/profile"
	"github.com/linguapulse/lesson/session"
)

func TestStart_CreatesSession(t *testing.T) {
	h := newHarness(t, freeVariant())

	res := h.start()
	if res.Outcome != OutcomeStarted || res.SessionID == "" {
		t.Fatalf("result = %+v", res)
	}
	if res.Opening != "Hello! What did you do today?" {
		t.Fatalf("opening = %q", res.Opening)
	}

	hist := h.history()
	if len(hist) != 1 || hist[0].Role != lesson.RoleTutor || hist[0].Content != res.Opening {
		t.Fatalf("history = %+v", hist)
	}
	rec, err := h.ctrl.store.loadRecord(context.Background(), learner)
	if err != nil || rec == nil {
		t.Fatalf("record = %v, %v", rec, err)
	}
	if rec.State != StateActive || rec.Level != lesson.LevelA1 || rec.Language != "en" {
		t.Fatalf("record = %+v", rec)
	}

	texts := h.msgs.Texts()
	if len(texts) != 2 || texts[0] != "Starting lesson" || !strings.HasPrefix(texts[1], "Try saying") {
		t.Fatalf("texts = %q", texts)
	}
	if v := h.voices(); len(v) != 1 || v[0] != res.Opening {
		t.Fatalf("voices = %q", v)
	}

	p, _ := h.profiles.GetProfile(context.Background(), learner)
	if p.LessonStartedAt == nil || !p.LessonStartedAt.Equal(h.clock()) {
		t.Fatalf("lesson started at = %v", p.LessonStartedAt)
	}
}

func TestStart_NotEligible(t *testing.T) {
	tests := []struct {
		name       string
		cfg        VariantConfig
		learnerID  string
		edit       func(p *profile.Profile, now time.Time)
		wantReason profile.Reason
		wantText   string
		wantButton bool
	}{
		{
			name:       "missing profile",
			cfg:        freeVariant(),
			learnerID:  "unknown",
			wantReason: profile.ReasonOnboarding,
			wantText:   "Finish onboarding",
		},
		{
			name: "free already completed",
			cfg:  freeVariant(),
			edit: func(p *profile.Profile, now time.Time) {
				done := now.Add(-time.Hour)
				p.FreeLessonCompletedAt = &done
			},
			wantReason: profile.ReasonFreeCompleted,
			wantText:   "Free lesson already done",
			wantButton: true,
		},
		{
			name: "paid too early",
			cfg:  paidVariant(),
			edit: func(p *profile.Profile, now time.Time) {
				next := now.Add(2*time.Hour + 30*time.Minute)
				p.NextLessonAt = &next
			},
			wantReason: profile.ReasonTooEarly,
			wantText:   "Next lesson in 2h 30m",
		},
		{
			name:       "paid no lessons left",
			cfg:        paidVariant(),
			edit:       func(p *profile.Profile, now time.Time) { p.LessonsLeft = 0 },
			wantReason: profile.ReasonNoLessonsLeft,
			wantText:   "No lessons left",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			if tt.edit != nil {
				p, _ := h.profiles.GetProfile(context.Background(), learner)
				tt.edit(p, h.clock())
				h.profiles.Put(*p)
			}
			id := learner
			if tt.learnerID != "" {
				id = tt.learnerID
			}

			res, err := h.ctrl.Start(context.Background(), id)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if res.Outcome != OutcomeNotEligible || res.Reason != tt.wantReason {
				t.Fatalf("result = %+v", res)
			}
			msg := h.lastText()
			if msg.Text != tt.wantText {
				t.Fatalf("text = %q, want %q", msg.Text, tt.wantText)
			}
			if got := len(msg.Buttons) > 0; got != tt.wantButton {
				t.Fatalf("buttons = %+v", msg.Buttons)
			}
			if keys := h.keys(); len(keys) != 0 {
				t.Fatalf("keys written: %q", keys)
			}
		})
	}
}

func TestStart_AlreadyActiveThenStale(t *testing.T) {
	h := newHarness(t, freeVariant())
	first := h.start()

	again := h.start()
	if again.Outcome != OutcomeAlreadyActive || again.SessionID != first.SessionID {
		t.Fatalf("second start = %+v", again)
	}
	if h.lastText().Text != "Already active" {
		t.Fatalf("text = %q", h.lastText().Text)
	}

	h.advance(6 * time.Minute)
	fresh := h.start()
	if fresh.Outcome != OutcomeStarted || fresh.SessionID == first.SessionID {
		t.Fatalf("start after idle = %+v", fresh)
	}
	if hist := h.history(); len(hist) != 1 {
		t.Fatalf("history not reset: %+v", hist)
	}
}

func TestStart_Busy(t *testing.T) {
	h := newHarness(t, freeVariant())
	lockKey := h.ctrl.store.keys.Lock(learner)
	if err := h.kv.Set(context.Background(), lockKey, "other", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res := h.start()
	if res.Outcome != OutcomeBusy {
		t.Fatalf("outcome = %s, want busy", res.Outcome)
	}
	if v, _, _ := h.kv.Get(context.Background(), lockKey); v != "other" {
		t.Fatalf("foreign lock released: %q", v)
	}
}

func TestStart_FallbackOpening(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.llm.fail.Store(true)

	res := h.start()
	if res.Outcome != OutcomeStarted || res.Opening != "Hi there! How are you?" {
		t.Fatalf("result = %+v", res)
	}
	if hist := h.history(); len(hist) != 1 || hist[0].Content != res.Opening {
		t.Fatalf("history = %+v", hist)
	}
	if got := testutil.ToFloat64(h.metrics.FallbacksTotal.WithLabelValues("opening")); got != 1 {
		t.Fatalf("opening fallbacks = %v", got)
	}
}

func TestStart_LanguageFallback(t *testing.T) {
	h := newHarness(t, freeVariant())
	p, _ := h.profiles.GetProfile(context.Background(), learner)
	p.Language = "ru"
	h.profiles.Put(*p)

	h.start()
	texts := h.msgs.Texts()
	if texts[0] != "Начинаем урок" {
		t.Fatalf("starting text = %q", texts[0])
	}
	if !strings.HasPrefix(texts[1], "Try saying") {
		t.Fatalf("suggestion text = %q, want english fallback", texts[1])
	}
}

func TestHandleVoiceTurn_NoSession(t *testing.T) {
	h := newHarness(t, freeVariant())

	res := h.say("m1", "Hello")
	if res.Outcome != OutcomeNoSession {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	msg := h.lastText()
	if msg.Text != "No active lesson" || len(msg.Buttons) != 1 || msg.Buttons[0].CallbackData != "lesson:start" {
		t.Fatalf("message = %+v", msg)
	}
	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("keys written: %q", keys)
	}
	if h.stt.calls.Load() != 0 {
		t.Fatalf("audio transcribed without a session")
	}
}

func TestHandleVoiceTurn_Replies(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.msgs.Reset()

	res := h.say("m1", "I went to the cinema")
	if res.Outcome != OutcomeReplied || res.Reply != "Tell me more about that." || res.Recovered {
		t.Fatalf("result = %+v", res)
	}

	hist := h.history()
	if len(hist) != 3 {
		t.Fatalf("history = %+v", hist)
	}
	if hist[1].Role != lesson.RoleLearner || hist[1].Content != "I went to the cinema" || hist[1].MessageID != "m1" {
		t.Fatalf("learner turn = %+v", hist[1])
	}
	if hist[2].Role != lesson.RoleTutor || hist[2].Content != res.Reply {
		t.Fatalf("tutor turn = %+v", hist[2])
	}
	if v := h.voices(); len(v) != 1 || v[0] != res.Reply {
		t.Fatalf("voices = %q", v)
	}
	if _, found, _ := h.kv.Get(context.Background(), h.ctrl.store.keys.Lock(learner)); found {
		t.Fatalf("lock not released")
	}
	if got := testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues("free", "replied")); got != 1 {
		t.Fatalf("replied turns = %v", got)
	}
}

func TestHandleVoiceTurn_DuplicateMessage(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()

	h.say("m1", "First answer")
	res := h.say("m1", "First answer")
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", res.Outcome)
	}
	if n := lesson.CountTurns(h.history()).Learner; n != 1 {
		t.Fatalf("learner turns = %d, want 1", n)
	}
	if h.stt.calls.Load() != 1 {
		t.Fatalf("transcriptions = %d, want 1", h.stt.calls.Load())
	}
}

func TestHandleVoiceTurn_ConcurrentSameMessage(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.stt.delay = 20 * time.Millisecond
	h.msgs.PutFile("file-m1", []byte("Hello there"))

	const n = 8
	results := make([]TurnResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.ctrl.HandleVoiceTurn(context.Background(), VoiceTurn{LearnerID: learner, MessageID: "m1", AudioRef: "file-m1"})
			if err != nil {
				t.Errorf("HandleVoiceTurn: %v", err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	replied := 0
	for _, r := range results {
		if r.Outcome == OutcomeReplied {
			replied++
		}
	}
	if replied != 1 {
		t.Fatalf("replied %d times, want 1: %+v", replied, results)
	}
	count := lesson.CountTurns(h.history())
	if count.Learner != 1 || count.Tutor != 2 {
		t.Fatalf("turns = %+v", count)
	}
}

func TestHandleVoiceTurn_ConcurrentDistinctMessages(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.stt.delay = 20 * time.Millisecond

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		h.msgs.PutFile("file-"+id, []byte("answer "+id))
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.ctrl.HandleVoiceTurn(context.Background(), VoiceTurn{LearnerID: learner, MessageID: id, AudioRef: "file-" + id}); err != nil {
				t.Errorf("HandleVoiceTurn(%s): %v", id, err)
			}
		}()
	}
	wg.Wait()

	hist := h.history()
	seen := map[string]int{}
	for i, turn := range hist {
		if turn.Role != lesson.RoleLearner {
			continue
		}
		seen[turn.MessageID]++
		if i+1 >= len(hist) || hist[i+1].Role != lesson.RoleTutor {
			t.Fatalf("learner turn %s not answered exactly once: %+v", turn.MessageID, hist)
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("message %s recorded %d times", id, n)
		}
	}
}

func TestHandleVoiceTurn_Busy(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	if err := h.kv.Set(context.Background(), h.ctrl.store.keys.Lock(learner), "other", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if res := h.say("m1", "Hello"); res.Outcome != OutcomeBusy {
		t.Fatalf("outcome = %s, want busy", res.Outcome)
	}
	if n := lesson.CountTurns(h.history()).Learner; n != 0 {
		t.Fatalf("learner turns = %d while locked", n)
	}
}

func TestHandleVoiceTurn_TranscriptionFailure(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.stt.err = errors.New("whisper 500")

	res := h.say("m1", "Hello")
	if res.Outcome != OutcomeTranscriptionFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if h.lastText().Text != "Could not hear you" {
		t.Fatalf("text = %q", h.lastText().Text)
	}
	if hist := h.history(); len(hist) != 1 {
		t.Fatalf("history changed: %+v", hist)
	}
}

func TestHandleVoiceTurn_EmptyTranscript(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()

	if res := h.say("m1", "   "); res.Outcome != OutcomeTranscriptionFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestHandleVoiceTurn_RecoversPersistedLearnerTurn(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, freeVariant(), func(h *harness, d *Deps) {
		d.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	})
	h.start()

	// A previous invocation persisted the learner turn and died before replying.
	hist := lesson.AddTurn(h.history(), lesson.RoleLearner, "I like tea", "m1")
	if err := h.ctrl.store.saveHistory(context.Background(), learner, hist); err != nil {
		t.Fatalf("saveHistory: %v", err)
	}

	res := h.say("m2", "Something else")
	if res.Outcome != OutcomeReplied || !res.Recovered {
		t.Fatalf("result = %+v", res)
	}
	if h.stt.calls.Load() != 0 {
		t.Fatalf("incoming audio transcribed during recovery")
	}
	got := h.history()
	if len(got) != 3 || got[1].Content != "I like tea" || got[2].Role != lesson.RoleTutor {
		t.Fatalf("history = %+v", got)
	}
	if out := logs.String(); !strings.Contains(out, `"stage":"recovery"`) || !strings.Contains(out, `"dropped_message_id":"m2"`) {
		t.Fatalf("dropped message not logged:\n%s", out)
	}
}

func TestHandleVoiceTurn_RecoveryReachesSameDecision(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()

	hist := h.history()
	for i, u := range []string{"one", "two", "three"} {
		hist = lesson.AddTurn(hist, lesson.RoleLearner, u, string(rune('a'+i)))
		hist = lesson.AddTurn(hist, lesson.RoleTutor, "ok", "")
	}
	hist = lesson.AddTurn(hist, lesson.RoleLearner, "four", "d")
	if err := h.ctrl.store.saveHistory(context.Background(), learner, hist); err != nil {
		t.Fatalf("saveHistory: %v", err)
	}

	res := h.say("e", "late message")
	if res.Outcome != OutcomeConcluded || !res.Recovered {
		t.Fatalf("result = %+v", res)
	}
	if h.stt.calls.Load() != 0 {
		t.Fatalf("incoming audio transcribed during recovery")
	}
	if len(res.Report.Feedback) != 4 {
		t.Fatalf("report covers %d utterances, want 4", len(res.Report.Feedback))
	}
}

func TestHandleVoiceTurn_FreeLessonConcludes(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()

	for i, u := range []string{"one", "two", "three"} {
		if res := h.say(string(rune('a'+i)), u); res.Outcome != OutcomeReplied {
			t.Fatalf("turn %d outcome = %s", i, res.Outcome)
		}
	}
	h.msgs.Reset()

	res := h.say("d", "four")
	if res.Outcome != OutcomeConcluded {
		t.Fatalf("outcome = %s, want concluded", res.Outcome)
	}

	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("keys left after conclusion: %q", keys)
	}
	if v := h.voices(); len(v) != 1 || v[0] != "Goodbye for today" {
		t.Fatalf("voices = %q", v)
	}

	if res.Report == nil || len(res.Report.Feedback) != 4 || res.Report.Assessment == nil {
		t.Fatalf("report = %+v", res.Report)
	}
	if h.llm.feedbacks.Load() != 4 || h.llm.assessments.Load() != 1 {
		t.Fatalf("analysis calls: feedback %d, assessment %d", h.llm.feedbacks.Load(), h.llm.assessments.Load())
	}
	wantUtterances := []string{"one", "two", "three", "four"}
	for i, f := range res.Report.Feedback {
		if f.Utterance != wantUtterances[i] {
			t.Fatalf("feedback %d utterance = %q", i, f.Utterance)
		}
	}

	texts := h.msgs.Texts()
	if texts[0] != "Analyzing" || texts[1] != "Feedback" {
		t.Fatalf("texts = %q", texts)
	}
	if !slices.ContainsFunc(texts, func(s string) bool { return strings.HasPrefix(s, "Assessment") }) {
		t.Fatalf("assessment not sent: %q", texts)
	}
	closing := h.lastText()
	if closing.Text != "Subscribe for more" || len(closing.Buttons) != 1 || closing.Buttons[0].CallbackData != "subscribe:weekly" {
		t.Fatalf("closing = %+v", closing)
	}

	p, _ := h.profiles.GetProfile(context.Background(), learner)
	if p.FreeLessonCompletedAt == nil || p.LessonsTotal != 1 || p.CurrentStreak != 1 {
		t.Fatalf("profile = %+v", p)
	}

	if late := h.say("e", "hello?"); late.Outcome != OutcomeNoSession {
		t.Fatalf("message after conclusion = %s", late.Outcome)
	}
}

// lockHookStore runs hook right before the next SetNX on lockKey once armed.
type lockHookStore struct {
	session.Store
	lockKey string
	armed   atomic.Bool
	hook    func()
}

func (s *lockHookStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == s.lockKey && s.armed.CompareAndSwap(true, false) {
		s.hook()
	}
	return s.Store.SetNX(ctx, key, value, ttl)
}

func TestHandleVoiceTurn_SessionConcludedBeforeLock(t *testing.T) {
	hooked := &lockHookStore{}
	h := newHarness(t, freeVariant(), func(h *harness, d *Deps) {
		hooked.Store = d.Store
		d.Store = hooked
	})
	hooked.lockKey = h.ctrl.store.keys.Lock(learner)

	h.start()
	for i, u := range []string{"one", "two", "three"} {
		if res := h.say(string(rune('a'+i)), u); res.Outcome != OutcomeReplied {
			t.Fatalf("turn %d outcome = %s", i, res.Outcome)
		}
	}

	var concluded TurnResult
	hooked.hook = func() { concluded = h.say("d", "four") }
	hooked.armed.Store(true)

	late := h.say("e", "still there?")
	if concluded.Outcome != OutcomeConcluded {
		t.Fatalf("concluding turn outcome = %s", concluded.Outcome)
	}
	if late.Outcome != OutcomeNoSession || late.Reply != "" {
		t.Fatalf("late turn = %+v, want no_session", late)
	}
	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("keys written after conclusion: %q", keys)
	}
	if v := h.voices(); v[len(v)-1] != "Goodbye for today" {
		t.Fatalf("voice after farewell: %q", v)
	}
	if n := h.stt.calls.Load(); n != 4 {
		t.Fatalf("transcriptions = %d, want 4", n)
	}
	if h.llm.replies.Load() != 3 {
		t.Fatalf("replies generated = %d, want 3", h.llm.replies.Load())
	}
}

func TestHandleVoiceTurn_SessionReplacedBeforeLock(t *testing.T) {
	hooked := &lockHookStore{}
	h := newHarness(t, freeVariant(), func(h *harness, d *Deps) {
		hooked.Store = d.Store
		d.Store = hooked
	})
	hooked.lockKey = h.ctrl.store.keys.Lock(learner)
	h.start()

	ctx := context.Background()
	hooked.hook = func() {
		rec, _ := h.ctrl.store.loadRecord(ctx, learner)
		rec.ID = "replacement"
		if err := h.ctrl.store.saveRecord(ctx, learner, rec); err != nil {
			t.Errorf("saveRecord: %v", err)
		}
	}
	hooked.armed.Store(true)

	if res := h.say("m1", "hello"); res.Outcome != OutcomeNoSession {
		t.Fatalf("outcome = %s, want no_session", res.Outcome)
	}
	if hist := h.history(); len(hist) != 1 {
		t.Fatalf("history of replacement session changed: %+v", hist)
	}
}

func TestHandleVoiceTurn_PaidLessonConcludes(t *testing.T) {
	h := newHarness(t, paidVariant())
	h.start()

	h.say("a", "one")
	h.say("b", "two")
	h.msgs.Reset()

	res := h.say("c", "three")
	if res.Outcome != OutcomeConcluded {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("keys left: %q", keys)
	}
	closing := h.lastText()
	if closing.Text != "Next lesson tomorrow" || len(closing.Buttons) != 0 {
		t.Fatalf("closing = %+v", closing)
	}

	p, _ := h.profiles.GetProfile(context.Background(), learner)
	if p.LessonsLeft != 4 || p.NextLessonAt == nil {
		t.Fatalf("profile = %+v", p)
	}
	want := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	if !p.NextLessonAt.Equal(want) {
		t.Fatalf("next lesson = %v, want %v", p.NextLessonAt, want)
	}
}

func TestHandleVoiceTurn_ProfileUpdateFailure(t *testing.T) {
	h := newHarness(t, freeVariant(), func(h *harness, d *Deps) {
		d.Profiles = failingProfiles{h.profiles}
	})
	h.start()
	for i, u := range []string{"one", "two", "three"} {
		h.say(string(rune('a'+i)), u)
	}

	h.msgs.PutFile("file-d", []byte("four"))
	res, err := h.ctrl.HandleVoiceTurn(context.Background(), VoiceTurn{LearnerID: learner, MessageID: "d", AudioRef: "file-d"})
	if !errors.Is(err, lesson.ErrProfileUpdate) {
		t.Fatalf("err = %v, want ErrProfileUpdate", err)
	}
	if res.Outcome != OutcomeConcluded {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if h.lastText().Text != "Subscribe for more" {
		t.Fatalf("closing not sent: %q", h.lastText().Text)
	}
	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("keys left: %q", keys)
	}
	if got := testutil.ToFloat64(h.metrics.ProfileUpdateFailures.WithLabelValues("free")); got != 1 {
		t.Fatalf("profile failures = %v", got)
	}
}

func TestHandleVoiceTurn_IdleTimeout(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.say("a", "one")

	h.advance(5*time.Minute + time.Second)
	res := h.say("b", "are you there?")
	if res.Outcome != OutcomeExpired {
		t.Fatalf("outcome = %s, want expired", res.Outcome)
	}
	msg := h.lastText()
	if msg.Text != "Timed out" || len(msg.Buttons) != 1 {
		t.Fatalf("message = %+v", msg)
	}
	if keys := h.keys(); len(keys) != 0 {
		t.Fatalf("stale keys left: %q", keys)
	}
	if h.stt.calls.Load() != 1 {
		t.Fatalf("stale session resumed")
	}

	if res := h.say("c", "hello"); res.Outcome != OutcomeNoSession {
		t.Fatalf("outcome after expiry = %s", res.Outcome)
	}
}

func TestHandleVoiceTurn_IdleAfterEnoughTurns(t *testing.T) {
	h := newHarness(t, paidVariant())
	h.start()
	h.say("a", "one")

	h.advance(11 * time.Minute)
	if res := h.say("b", "back"); res.Outcome != OutcomeExpired {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	msg := h.lastText()
	if msg.Text != "Lesson completed after inactivity" || len(msg.Buttons) != 0 {
		t.Fatalf("message = %+v", msg)
	}
}

func TestHandleVoiceTurn_Concluding(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()

	ctx := context.Background()
	rec, _ := h.ctrl.store.loadRecord(ctx, learner)
	rec.State = StateConcluding
	if err := h.ctrl.store.saveRecord(ctx, learner, rec); err != nil {
		t.Fatalf("saveRecord: %v", err)
	}
	h.msgs.Reset()

	if res := h.say("m1", "hello"); res.Outcome != OutcomeConcluding {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if len(h.msgs.Messages()) != 0 {
		t.Fatalf("late message answered: %+v", h.msgs.Messages())
	}
}

func TestHandleVoiceTurn_AudioFallsBackToText(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.tts.err = errors.New("tts down")
	h.msgs.Reset()

	res := h.say("m1", "Hello")
	if res.Outcome != OutcomeReplied {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if !slices.Contains(h.msgs.Texts(), "📝 "+res.Reply) {
		t.Fatalf("reply not delivered as text: %q", h.msgs.Texts())
	}
	if got := testutil.ToFloat64(h.metrics.AudioDeliveriesTotal.WithLabelValues("text")); got != 1 {
		t.Fatalf("text deliveries = %v", got)
	}
}

func TestHandleVoiceTurn_ReplyFallback(t *testing.T) {
	h := newHarness(t, freeVariant())
	h.start()
	h.llm.fail.Store(true)

	res := h.say("m1", "Hello")
	if res.Outcome != OutcomeReplied || res.Reply != "Could you tell me more?" {
		t.Fatalf("result = %+v", res)
	}
}

func TestNewController_Validates(t *testing.T) {
	cfg := freeVariant()
	cfg.Completion.Threshold = 0
	if _, err := NewController(cfg, Deps{}); !errors.Is(err, lesson.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewController(freeVariant(), Deps{}); !errors.Is(err, lesson.ErrInvalidConfig) {
		t.Fatalf("missing deps err = %v", err)
	}
}

func TestFormatUntil(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "1m"},
		{45 * time.Minute, "45m"},
		{3 * time.Hour, "3h"},
		{13*time.Hour + 59*time.Minute + 40*time.Second, "14h"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatUntil(tt.d); got != tt.want {
			t.Fatalf("formatUntil(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
