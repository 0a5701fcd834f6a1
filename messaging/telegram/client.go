// Package telegram implements messaging.Messenger over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/linguapulse/lesson/messaging"
)

// DefaultBaseURL is the Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxDownload bounds the size of an inbound voice file.
const maxDownload = 20 << 20

// Client sends messages through one bot.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing or a local Bot API server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a Bot API client for token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.StatusCode, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// SendText implements messaging.Messenger.
func (c *Client) SendText(ctx context.Context, chatID, text string, buttons ...messaging.Button) error {
	req := sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"}
	if len(buttons) > 0 {
		markup := &replyMarkup{}
		for _, b := range buttons {
			markup.InlineKeyboard = append(markup.InlineKeyboard, []inlineButton{{
				Text:         b.Text,
				CallbackData: b.CallbackData,
				URL:          b.URL,
			}})
		}
		req.ReplyMarkup = markup
	}
	return c.callJSON(ctx, "sendMessage", req, nil)
}

// SendVoice implements messaging.Messenger.
func (c *Client) SendVoice(ctx context.Context, chatID string, audio []byte, seconds int) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if seconds > 0 {
		if err := mw.WriteField("duration", strconv.Itoa(seconds)); err != nil {
			return fmt.Errorf("write duration field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("voice", "voice.ogg")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	return c.call(ctx, "sendVoice", mw.FormDataContentType(), &buf, nil)
}

// DownloadFile implements messaging.Messenger.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.callJSON(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, &APIError{Method: "getFile", StatusCode: http.StatusOK, Description: "empty file_path"}
	}

	url := c.baseURL + "/file/bot" + c.token + "/" + file.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: "file", StatusCode: resp.StatusCode, Description: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// AnswerCallback implements messaging.Messenger.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.callJSON(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID}, nil)
}

func (c *Client) callJSON(ctx context.Context, method string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	return c.call(ctx, method, "application/json", bytes.NewReader(payload), result)
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader, result any) error {
	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: "undecodable response"}
	}
	if !out.OK || resp.StatusCode != http.StatusOK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: out.Description}
	}
	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

var _ messaging.Messenger = (*Client)(nil)
