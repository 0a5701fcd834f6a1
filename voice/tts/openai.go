package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the TTS Provider interface using the OpenAI
// speech endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	defaults   SynthesizeOptions
}

// NewOpenAI creates a new OpenAI TTS provider. Zero fields of defaults fall
// back to tts-1, voice sage and opus output.
func NewOpenAI(apiKey string, defaults SynthesizeOptions) *OpenAIProvider {
	return NewOpenAIWithClient(apiKey, "", &http.Client{}, defaults)
}

// NewOpenAIWithClient creates a new OpenAI TTS provider with a custom HTTP
// client and base URL.
func NewOpenAIWithClient(apiKey, baseURL string, client *http.Client, defaults SynthesizeOptions) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if defaults.Model == "" {
		defaults.Model = "tts-1"
	}
	if defaults.Voice == "" {
		defaults.Voice = "sage"
	}
	if defaults.Format == "" {
		defaults.Format = "opus"
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		defaults:   defaults,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts text to audio using the OpenAI speech API.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: empty text")
	}
	if opts.Model == "" {
		opts.Model = p.defaults.Model
	}
	if opts.Voice == "" {
		opts.Voice = p.defaults.Voice
	}
	if opts.Format == "" {
		opts.Format = p.defaults.Format
	}

	body, err := json.Marshal(speechRequest{
		Model:          opts.Model,
		Voice:          opts.Voice,
		Input:          text,
		ResponseFormat: opts.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai tts error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts: empty audio")
	}

	return &Synthesis{Audio: audio, Format: opts.Format}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
