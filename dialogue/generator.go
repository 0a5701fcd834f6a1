package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lesson "github.com/linguapulse/lesson"
)

const (
	DefaultFallbackReply      = "Could you tell me more?"
	DefaultFallbackSuggestion = "I think that's interesting. Can you tell me more about it?"

	replyMaxTokens      = 250
	openingMaxTokens    = 150
	suggestionMaxTokens = 100
	suggestionTurns     = 3

	openingKickoff = "Start the conversation."
)

// ErrEmptyCompletion is returned when a model answers with no text.
var ErrEmptyCompletion = errors.New("dialogue: empty completion")

// Config configures a Generator.
type Config struct {
	FallbackReply      string
	FallbackSuggestion string
	// MaxHistoryTokens bounds the estimated size of the history sent with a
	// reply request, dropping the oldest turns first. Zero replays the whole
	// history.
	MaxHistoryTokens int
	Logger           *slog.Logger
}

// Generator produces openings, replies and suggested learner answers.
type Generator struct {
	provider           Provider
	fallbackReply      string
	fallbackSuggestion string
	maxHistoryTokens   int
	logger             *slog.Logger
}

// NewGenerator creates a Generator over provider.
func NewGenerator(provider Provider, cfg Config) *Generator {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if cfg.FallbackSuggestion == "" {
		cfg.FallbackSuggestion = DefaultFallbackSuggestion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		provider:           provider,
		fallbackReply:      cfg.FallbackReply,
		fallbackSuggestion: cfg.FallbackSuggestion,
		maxHistoryTokens:   cfg.MaxHistoryTokens,
		logger:             cfg.Logger,
	}
}

// Opening generates the first tutor line of a lesson. Failures are returned
// so the caller can use its canned opening.
func (g *Generator) Opening(ctx context.Context, frame string, level lesson.Level) (string, error) {
	res, err := g.provider.Complete(ctx, Request{
		System:      SystemPrompt(frame, level),
		Messages:    []Message{{Role: lesson.RoleLearner, Content: openingKickoff}},
		MaxTokens:   openingMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("dialogue: opening: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Reply generates the tutor's answer to history. It never fails: on any
// error or empty output the fallback reply is returned with fellBack set.
func (g *Generator) Reply(ctx context.Context, frame string, level lesson.Level, history lesson.History) (text string, fellBack bool) {
	res, err := g.provider.Complete(ctx, Request{
		System:      SystemPrompt(frame, level),
		Messages:    FromHistory(history.WithinTokens(g.maxHistoryTokens)),
		MaxTokens:   replyMaxTokens,
		Temperature: 0.7,
	})
	if err == nil {
		if text := strings.TrimSpace(res.Text); text != "" {
			return text, false
		}
		err = ErrEmptyCompletion
	}
	g.logger.WarnContext(ctx, "reply generation failed, using fallback",
		"provider", g.provider.Name(), "error", err)
	return g.fallbackReply, true
}

// Suggest proposes an answer the learner could give next, based on the last
// few turns. It never fails.
func (g *Generator) Suggest(ctx context.Context, history lesson.History) string {
	res, err := g.provider.Complete(ctx, Request{
		System:      suggestionPrompt(history.Tail(suggestionTurns)),
		Messages:    []Message{{Role: lesson.RoleLearner, Content: "Suggest my next answer."}},
		MaxTokens:   suggestionMaxTokens,
		Temperature: 0.8,
	})
	if err == nil {
		if text := strings.TrimSpace(res.Text); text != "" {
			return text
		}
		err = ErrEmptyCompletion
	}
	g.logger.WarnContext(ctx, "suggestion generation failed, using fallback",
		"provider", g.provider.Name(), "error", err)
	return g.fallbackSuggestion
}
