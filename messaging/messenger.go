// Package messaging defines the outbound surface of the chat platform the
// lesson runs on.
package messaging

import (
	"context"
)

// Button is an inline button attached to a text message. Exactly one of
// CallbackData and URL is set.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Messenger sends messages to a learner's chat and fetches inbound media.
type Messenger interface {
	// SendText sends a Markdown text message with optional inline buttons,
	// one button per row.
	SendText(ctx context.Context, chatID, text string, buttons ...Button) error

	// SendVoice sends an ogg/opus voice message of the given duration.
	SendVoice(ctx context.Context, chatID string, audio []byte, seconds int) error

	// DownloadFile returns the content of an inbound file.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// AnswerCallback acknowledges a button press.
	AnswerCallback(ctx context.Context, callbackID string) error
}
