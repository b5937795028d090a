package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pborman/uuid"

	"github.com/mqy/pawchat/audio"
)

const micBuffer = 64

// mic is the capture device of one widget: the browser records and streams
// encoded chunks over the socket.
type mic struct {
	sync.Mutex
	mimeType string
	stream   *micStream
}

func (m *mic) prepare(mimeType string) {
	m.Lock()
	m.mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	m.Unlock()
}

// RequestAudioInput implements `audio.Device`.
func (m *mic) RequestAudioInput(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Lock()
	defer m.Unlock()
	if !strings.HasPrefix(m.mimeType, "audio/") {
		return nil, fmt.Errorf("unsupported capture format %q", m.mimeType)
	}
	s := &micStream{mic: m, mimeType: m.mimeType, ch: make(chan []byte, micBuffer)}
	m.stream = s
	return s, nil
}

func (m *mic) push(data []byte) bool {
	m.Lock()
	s := m.stream
	m.Unlock()
	if s == nil {
		return false
	}
	return s.push(data)
}

type micStream struct {
	mic      *mic
	mimeType string

	sync.Mutex
	ch     chan []byte
	closed bool
}

func (s *micStream) Chunks() <-chan []byte { return s.ch }
func (s *micStream) MimeType() string      { return s.mimeType }

func (s *micStream) push(data []byte) bool {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- data:
		return true
	default:
		return false
	}
}

func (s *micStream) Close() error {
	s.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.Unlock()

	s.mic.Lock()
	if s.mic.stream == s {
		s.mic.stream = nil
	}
	s.mic.Unlock()
	return nil
}

// speaker plays audio in the browser: start and stop are pushed to the
// widget, which reports the end of playback back.
type speaker struct {
	send func(*ServerMsg)

	sync.Mutex
	active map[string]*remotePlayback
}

func newSpeaker(send func(*ServerMsg)) *speaker {
	return &speaker{send: send, active: make(map[string]*remotePlayback)}
}

// Start implements `audio.Output`.
func (sp *speaker) Start(ctx context.Context, mime string, data []byte) (audio.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &remotePlayback{id: uuid.New(), sp: sp, done: make(chan error, 1)}
	sp.Lock()
	sp.active[p.id] = p
	sp.Unlock()

	sp.send(&ServerMsg{Playback: &PlaybackResp{ID: p.id, Action: "start", MimeType: mime, Data: data}})
	return p, nil
}

// ended handles the widget's report that playback id finished.
func (sp *speaker) ended(id, errText string) bool {
	p := sp.take(id)
	if p == nil {
		return false
	}
	var err error
	if errText != "" {
		err = errors.New(errText)
	}
	p.finish(err)
	return true
}

func (sp *speaker) take(id string) *remotePlayback {
	sp.Lock()
	defer sp.Unlock()
	p := sp.active[id]
	delete(sp.active, id)
	return p
}

type remotePlayback struct {
	id   string
	sp   *speaker
	once sync.Once
	done chan error
}

func (p *remotePlayback) Stop() {
	if p.sp.take(p.id) != nil {
		p.sp.send(&ServerMsg{Playback: &PlaybackResp{ID: p.id, Action: "stop"}})
	}
	p.finish(nil)
}

func (p *remotePlayback) Done() <-chan error { return p.done }

func (p *remotePlayback) finish(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}
