// Package transcode re-encodes synthesized speech into a voice format the
// messaging platform plays inline.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Transcoder converts audio into the platform voice format.
type Transcoder interface {
	Transcode(ctx context.Context, audio []byte) ([]byte, error)
}

const (
	DefaultBaseURL      = "https://api2.transloadit.com"
	DefaultPollInterval = time.Second
	DefaultErrorBackoff = 2 * time.Second
	DefaultTimeout      = 90 * time.Second
	DefaultResultStep   = "encoded-audio"

	statusCompleted = "ASSEMBLY_COMPLETED"
)

// ErrTimeout is returned when an assembly does not complete within Timeout.
var ErrTimeout = errors.New("transcode: assembly timed out")

// Config configures a Transloadit transcoder.
type Config struct {
	Key          string
	TemplateID   string
	BaseURL      string
	PollInterval time.Duration // wait between status polls
	ErrorBackoff time.Duration // wait after a failed status poll
	Timeout      time.Duration // bound on submit, polling and download together
	ResultStep   string        // assembly step whose first result is downloaded
}

// Transloadit runs a template assembly: submit, poll until done, download.
type Transloadit struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTransloadit creates a transcoder. A nil client uses a default one and a
// nil logger uses slog.Default().
func NewTransloadit(cfg Config, client *http.Client, logger *slog.Logger) (*Transloadit, error) {
	if cfg.Key == "" || cfg.TemplateID == "" {
		return nil, errors.New("transcode: transloadit key and template are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ResultStep == "" {
		cfg.ResultStep = DefaultResultStep
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transloadit{cfg: cfg, httpClient: client, logger: logger}, nil
}

type assemblyParams struct {
	Auth       assemblyAuth      `json:"auth"`
	TemplateID string            `json:"template_id"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type assemblyAuth struct {
	Key string `json:"key"`
}

type assemblyResult struct {
	SSLURL string `json:"ssl_url"`
}

type assemblyStatus struct {
	OK             string                      `json:"ok"`
	Error          string                      `json:"error"`
	Message        string                      `json:"message"`
	AssemblyID     string                      `json:"assembly_id"`
	AssemblySSLURL string                      `json:"assembly_ssl_url"`
	Results        map[string][]assemblyResult `json:"results"`
}

// Transcode implements Transcoder.
func (t *Transloadit) Transcode(ctx context.Context, audio []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	submitted, err := t.submit(ctx, audio)
	if err != nil {
		return nil, err
	}
	done, err := t.wait(ctx, submitted)
	if err != nil {
		return nil, err
	}

	results := done.Results[t.cfg.ResultStep]
	if len(results) == 0 || results[0].SSLURL == "" {
		return nil, fmt.Errorf("transcode: assembly %s has no %q result", done.AssemblyID, t.cfg.ResultStep)
	}
	return t.download(ctx, results[0].SSLURL)
}

func (t *Transloadit) submit(ctx context.Context, audio []byte) (*assemblyStatus, error) {
	params, err := json.Marshal(assemblyParams{
		Auth:       assemblyAuth{Key: t.cfg.Key},
		TemplateID: t.cfg.TemplateID,
		Fields:     map[string]string{"filename": "src.ogg"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("params", string(params)); err != nil {
		return nil, fmt.Errorf("write params field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "src.ogg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/assemblies", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcode: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcode: submit (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var status assemblyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("transcode: decode submit response: %w", err)
	}
	if status.Error != "" {
		return nil, fmt.Errorf("transcode: assembly error: %s %s", status.Error, status.Message)
	}
	if status.AssemblySSLURL == "" {
		return nil, errors.New("transcode: submit response has no assembly_ssl_url")
	}
	t.logger.DebugContext(ctx, "transloadit assembly submitted", "assembly_id", status.AssemblyID)
	return &status, nil
}

// wait polls the assembly until it completes, reports an error or ctx ends.
// Failed polls are retried after ErrorBackoff.
func (t *Transloadit) wait(ctx context.Context, submitted *assemblyStatus) (*assemblyStatus, error) {
	if submitted.OK == statusCompleted {
		return submitted, nil
	}

	for {
		status, err := t.poll(ctx, submitted.AssemblySSLURL)
		delay := t.cfg.PollInterval
		switch {
		case err != nil:
			t.logger.WarnContext(ctx, "transloadit status poll failed",
				"assembly_id", submitted.AssemblyID, "error", err)
			delay = t.cfg.ErrorBackoff
		case status.OK == statusCompleted:
			return status, nil
		case status.Error != "":
			return nil, fmt.Errorf("transcode: assembly error: %s %s", status.Error, status.Message)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Transloadit) poll(ctx context.Context, url string) (*assemblyStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var status assemblyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

func (t *Transloadit) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcode: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcode: download (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transcode: read result: %w", err)
	}
	return data, nil
}

var _ Transcoder = (*Transloadit)(nil)
