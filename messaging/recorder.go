package messaging

import (
	"context"
	"fmt"
	"sync"
)

// MessageKind tells text and voice messages apart in a Recorder.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
)

// Message is one outbound message captured by a Recorder.
type Message struct {
	Kind    MessageKind
	ChatID  string
	Text    string
	Buttons []Button
	Audio   []byte
	Seconds int
}

// Recorder is an in-memory Messenger. It serves files registered with
// PutFile and records every outbound message.
type Recorder struct {
	mu        sync.Mutex
	messages  []Message
	files     map[string][]byte
	callbacks []string

	// FailVoice makes SendVoice fail, FailText makes SendText fail.
	FailVoice bool
	FailText  bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{files: make(map[string][]byte)}
}

// PutFile registers the content served for fileID.
func (r *Recorder) PutFile(fileID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[fileID] = data
}

// SendText implements Messenger.
func (r *Recorder) SendText(ctx context.Context, chatID, text string, buttons ...Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailText {
		return fmt.Errorf("send text: rejected")
	}
	r.messages = append(r.messages, Message{Kind: KindText, ChatID: chatID, Text: text, Buttons: buttons})
	return nil
}

// SendVoice implements Messenger.
func (r *Recorder) SendVoice(ctx context.Context, chatID string, audio []byte, seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailVoice {
		return fmt.Errorf("send voice: rejected")
	}
	r.messages = append(r.messages, Message{Kind: KindVoice, ChatID: chatID, Audio: audio, Seconds: seconds})
	return nil
}

// DownloadFile implements Messenger.
func (r *Recorder) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[fileID]
	if !ok {
		return nil, fmt.Errorf("download %s: file not found", fileID)
	}
	return data, nil
}

// AnswerCallback implements Messenger.
func (r *Recorder) AnswerCallback(ctx context.Context, callbackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callbackID)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns the text of every text message sent so far.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages {
		if m.Kind == KindText {
			out = append(out, m.Text)
		}
	}
	return out
}

// Callbacks returns every acknowledged callback id.
func (r *Recorder) Callbacks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.callbacks...)
}

// Reset drops every recorded message.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.callbacks = nil
}

var _ Messenger = (*Recorder)(nil)
