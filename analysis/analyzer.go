// Package analysis produces the end-of-lesson feedback report.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/dialogue"
)

const (
	DefaultConcurrency = 4
	DefaultApology     = "Sorry, I couldn't analyze this particular response."

	feedbackMaxTokens   = 300
	assessmentMaxTokens = 400
)

// UtteranceFeedback is the tutor comment on one learner utterance.
type UtteranceFeedback struct {
	Utterance string
	Feedback  string
	// Failed is set when Feedback is the generic apology.
	Failed bool
}

// Skill is one scored dimension of the assessment.
type Skill struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// SkillAssessment scores the lesson as a whole relative to the learner level.
type SkillAssessment struct {
	Speaking   Skill `json:"speaking"`
	Vocabulary Skill `json:"vocabulary"`
	Grammar    Skill `json:"grammar"`
}

// Report is the analyzer output. Assessment is nil when it could not be produced.
type Report struct {
	Level      lesson.Level
	Feedback   []UtteranceFeedback
	Assessment *SkillAssessment
}

// Config configures an Analyzer.
type Config struct {
	Concurrency int    // parallel feedback requests, default DefaultConcurrency
	Apology     string // feedback text for an utterance that could not be analyzed
	Logger      *slog.Logger
}

// Analyzer turns the learner's utterances into a Report.
type Analyzer struct {
	provider    dialogue.Provider
	concurrency int
	apology     string
	logger      *slog.Logger
}

// New creates an Analyzer over provider.
func New(provider dialogue.Provider, cfg Config) *Analyzer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{
		provider:    provider,
		concurrency: cfg.Concurrency,
		apology:     cfg.Apology,
		logger:      cfg.Logger,
	}
}

// Analyze reviews every non-empty utterance and scores the lesson.
// It never fails: per-utterance failures become apology items and a failed
// assessment leaves Assessment nil.
func (a *Analyzer) Analyze(ctx context.Context, utterances []string, level lesson.Level) *Report {
	var said []string
	for _, u := range utterances {
		if u = strings.TrimSpace(u); u != "" {
			said = append(said, u)
		}
	}

	report := &Report{Level: level, Feedback: make([]UtteranceFeedback, len(said))}
	if len(said) == 0 {
		return report
	}

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, u := range said {
		g.Go(func() error {
			report.Feedback[i] = a.feedback(ctx, u, level)
			return nil
		})
	}

	assessment := make(chan *SkillAssessment, 1)
	go func() {
		assessment <- a.assess(ctx, said, level)
	}()

	_ = g.Wait()
	report.Assessment = <-assessment
	return report
}

func (a *Analyzer) feedback(ctx context.Context, utterance string, level lesson.Level) UtteranceFeedback {
	res, err := a.provider.Complete(ctx, dialogue.Request{
		System:      feedbackPrompt(utterance, level),
		Messages:    []dialogue.Message{{Role: lesson.RoleLearner, Content: utterance}},
		MaxTokens:   feedbackMaxTokens,
		Temperature: 0.3,
	})
	if err == nil {
		if text := strings.TrimSpace(res.Text); text != "" {
			return UtteranceFeedback{Utterance: utterance, Feedback: text}
		}
		err = dialogue.ErrEmptyCompletion
	}
	a.logger.WarnContext(ctx, "utterance feedback failed", "stage", "analysis", "error", err)
	return UtteranceFeedback{Utterance: utterance, Feedback: a.apology, Failed: true}
}

func (a *Analyzer) assess(ctx context.Context, utterances []string, level lesson.Level) *SkillAssessment {
	res, err := a.provider.Complete(ctx, dialogue.Request{
		System:      assessmentPrompt(utterances, level),
		Messages:    []dialogue.Message{{Role: lesson.RoleLearner, Content: "Assess my speaking."}},
		MaxTokens:   assessmentMaxTokens,
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "skill assessment failed", "stage", "analysis", "error", err)
		return nil
	}
	sa, err := parseAssessment(res.Text)
	if err != nil {
		a.logger.WarnContext(ctx, "skill assessment unusable", "stage", "analysis", "error", err)
		return nil
	}
	return sa
}

// parseAssessment decodes a model answer, tolerating a fenced code block.
func parseAssessment(text string) (*SkillAssessment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var sa SkillAssessment
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &sa); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	for name, s := range map[string]Skill{"speaking": sa.Speaking, "vocabulary": sa.Vocabulary, "grammar": sa.Grammar} {
		if s.Score < 1 || s.Score > 100 {
			return nil, fmt.Errorf("assessment %s score %d out of range", name, s.Score)
		}
	}
	return &sa, nil
}
