// Package voice turns tutor text into a voice message, degrading to the raw
// synthesis and finally to plain text when a stage fails.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/linguapulse/lesson/messaging"
	"github.com/linguapulse/lesson/voice/transcode"
	"github.com/linguapulse/lesson/voice/tts"
)

// Stage errors carried by a Delivery.
var (
	ErrSynthesis = errors.New("voice: synthesis failed")
	ErrTranscode = errors.New("voice: transcode failed")
	ErrDelivery  = errors.New("voice: delivery failed")
)

// TextPrefix marks a tutor reply sent as text because no audio could be delivered.
const TextPrefix = "📝 "

// bytesPerSecond approximates speech-quality opus.
const bytesPerSecond = 12000

// Path names how a reply reached the learner.
type Path string

const (
	DeliveryTranscoded Path = "transcoded"
	DeliveryRaw        Path = "raw"
	DeliveryText       Path = "text"
	DeliveryFailed     Path = "failed"
	DeliverySkipped    Path = "skipped"
)

// Delivery reports the outcome of Speak.
type Delivery struct {
	Path Path
	// Errors holds one wrapped error per failed stage, in order.
	Errors []error
}

// Err joins the stage errors.
func (d Delivery) Err() error {
	return errors.Join(d.Errors...)
}

// Delivered reports whether the learner received the reply in any form.
func (d Delivery) Delivered() bool {
	return d.Path != DeliveryFailed
}

// Pipeline synthesizes, transcodes and sends speech.
type Pipeline struct {
	tts        tts.Provider
	transcoder transcode.Transcoder
	messenger  messaging.Messenger
	opts       tts.SynthesizeOptions
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. A nil transcoder sends the synthesized
// audio as is; a nil logger uses slog.Default().
func NewPipeline(provider tts.Provider, transcoder transcode.Transcoder, messenger messaging.Messenger, opts tts.SynthesizeOptions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tts:        provider,
		transcoder: transcoder,
		messenger:  messenger,
		opts:       opts,
		logger:     logger,
	}
}

// EstimateSeconds approximates the playback length of opus audio.
func EstimateSeconds(size int) int {
	s := int(math.Round(float64(size) / bytesPerSecond))
	if s < 1 {
		return 1
	}
	return s
}

// Speak delivers text to chatID as voice, falling back to the untranscoded
// synthesis and then to text. Empty text is skipped.
func (p *Pipeline) Speak(ctx context.Context, chatID, text string) Delivery {
	var d Delivery
	if strings.TrimSpace(text) == "" {
		d.Path = DeliverySkipped
		return d
	}
	logger := p.logger.With("chat", chatID)

	synth, err := p.tts.Synthesize(ctx, text, p.opts)
	if err != nil {
		logger.WarnContext(ctx, "speech synthesis failed", "stage", "synthesis", "error", err)
		d.Errors = append(d.Errors, fmt.Errorf("%w: %w", ErrSynthesis, err))
		return p.sendText(ctx, logger, chatID, text, d)
	}

	if p.transcoder != nil {
		encoded, err := p.transcoder.Transcode(ctx, synth.Audio)
		if err != nil {
			logger.WarnContext(ctx, "transcode failed, sending raw audio", "stage", "transcode", "error", err)
			d.Errors = append(d.Errors, fmt.Errorf("%w: %w", ErrTranscode, err))
		} else if err := p.messenger.SendVoice(ctx, chatID, encoded, EstimateSeconds(len(encoded))); err != nil {
			logger.WarnContext(ctx, "transcoded voice delivery failed, sending raw audio", "stage", "delivery", "error", err)
			d.Errors = append(d.Errors, fmt.Errorf("%w: transcoded: %w", ErrDelivery, err))
		} else {
			d.Path = DeliveryTranscoded
			return d
		}
	}

	if err := p.messenger.SendVoice(ctx, chatID, synth.Audio, EstimateSeconds(len(synth.Audio))); err != nil {
		logger.WarnContext(ctx, "raw voice delivery failed, sending text", "stage", "delivery", "error", err)
		d.Errors = append(d.Errors, fmt.Errorf("%w: raw: %w", ErrDelivery, err))
		return p.sendText(ctx, logger, chatID, text, d)
	}
	d.Path = DeliveryRaw
	return d
}

func (p *Pipeline) sendText(ctx context.Context, logger *slog.Logger, chatID, text string, d Delivery) Delivery {
	if err := p.messenger.SendText(ctx, chatID, TextPrefix+text); err != nil {
		logger.ErrorContext(ctx, "text fallback delivery failed", "stage", "delivery", "error", err)
		d.Errors = append(d.Errors, fmt.Errorf("%w: text: %w", ErrDelivery, err))
		d.Path = DeliveryFailed
		return d
	}
	d.Path = DeliveryText
	return d
}
