package audio

import (
	"context"
	"errors"
)

var (
	ErrDeviceUnavailable   = errors.New("audio input device unavailable")
	ErrInvalidAudioPayload = errors.New("invalid audio payload")
	ErrCancelled           = errors.New("capture cancelled")
	ErrNoPreview           = errors.New("no recording to preview")
)

// Constraints are passed through to the capture device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

// Device acquires capture streams.
type Device interface {
	// RequestAudioInput fails when permission is denied or no device exists.
	RequestAudioInput(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture stream.
type Stream interface {
	// Chunks delivers encoded audio buffers while capturing.
	Chunks() <-chan []byte
	MimeType() string
	// Close releases the device.
	Close() error
}

// Output starts audible playback of an encoded payload.
type Output interface {
	Start(ctx context.Context, mime string, data []byte) (Playback, error)
}

// Playback is one audible stream. Done yields once playback has ended,
// naturally, by error or after Stop.
type Playback interface {
	Stop()
	Done() <-chan error
}

// Sink receives a finished voice note, typically a ledger append bound to
// one conversation.
type Sink interface {
	AppendAudio(ctx context.Context, content string, seconds int) error
}

type SinkFunc func(ctx context.Context, content string, seconds int) error

func (f SinkFunc) AppendAudio(ctx context.Context, content string, seconds int) error {
	return f(ctx, content, seconds)
}
