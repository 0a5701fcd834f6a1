// Package gemini implements dialogue.Provider on the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/dialogue"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	maxAttempts = 2
)

// Config configures the Gemini provider.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // overrides the API endpoint, for tests
	HTTPClient *http.Client
}

// Provider implements dialogue.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", lesson.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Complete generates content, retrying once on failure or empty output.
func (p *Provider) Complete(ctx context.Context, req dialogue.Request) (*dialogue.Result, error) {
	contents, config := buildRequest(req)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			lastErr = dialogue.ErrEmptyCompletion
			continue
		}
		return &dialogue.Result{Text: text, Model: p.model}, nil
	}
	return nil, fmt.Errorf("gemini: generate: %w", lastErr)
}

// buildRequest maps a dialogue request onto Gemini contents. Tutor turns
// become model turns. Gemini rejects an empty contents list, so a request
// without messages carries a single user turn.
func buildRequest(req dialogue.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == lesson.RoleTutor {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Begin.", genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return contents, config
}

var _ dialogue.Provider = (*Provider)(nil)
