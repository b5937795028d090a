package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/pawchat/attach"
	"github.com/mqy/pawchat/metrics"
)

const (
	DefaultTick     = time.Second
	defaultMimeType = "audio/webm"
)

type State int

const (
	Idle State = iota
	Requesting
	Recording
	Stopped
	Previewing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	case Previewing:
		return "previewing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Preview is an assembled recording waiting to be sent or cancelled.
type Preview struct {
	Content  string // data uri
	MimeType string
	Seconds  int
}

// Session captures one voice note at a time. Every exit path releases the
// device stream.
type Session struct {
	device      Device
	constraints Constraints
	tick        time.Duration

	sync.Mutex
	state State
	// gen changes on every Start and Cancel; an acquisition or collector
	// from an older generation must not touch the session.
	gen     uint64
	stream  Stream
	stop    chan struct{}
	done    chan struct{}
	chunks  [][]byte
	elapsed int
	preview *Preview

	handleID string
	player   *Player
}

func NewSession(device Device, c Constraints, tick time.Duration) *Session {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Session{device: device, constraints: c, tick: tick}
}

func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Elapsed returns the whole seconds recorded so far.
func (s *Session) Elapsed() int {
	s.Lock()
	defer s.Unlock()
	return s.elapsed
}

// Pending returns a copy of the pending preview, or nil.
func (s *Session) Pending() *Preview {
	s.Lock()
	defer s.Unlock()
	if s.preview == nil {
		return nil
	}
	p := *s.preview
	return &p
}

// Start acquires the device and begins recording. Whatever the session held
// before is released first.
func (s *Session) Start(ctx context.Context) error {
	s.Lock()
	release := s.resetLocked()
	s.state = Requesting
	s.gen++
	gen := s.gen
	s.Unlock()
	release()

	stream, err := s.device.RequestAudioInput(ctx, s.constraints)

	s.Lock()
	if s.gen != gen {
		s.Unlock()
		if stream != nil {
			stream.Close()
		}
		return ErrCancelled
	}
	if err != nil {
		s.state = Idle
		s.Unlock()
		metrics.Recordings.WithLabelValues("device_unavailable").Inc()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.state = Recording
	s.stream = stream
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.collect(gen, stream.Chunks(), s.stop, s.done)
	s.Unlock()

	glog.V(5).Infof("audio: recording, mime: %s", stream.MimeType())
	return nil
}

// collect buffers chunks and counts seconds until stop is closed.
func (s *Session) collect(gen uint64, chunks <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(s.tick)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	add := func(c []byte) {
		s.Lock()
		if s.gen == gen {
			s.chunks = append(s.chunks, c)
		}
		s.Unlock()
	}

	for {
		select {
		case <-stop:
			// keep what the device already flushed.
			for {
				select {
				case c, ok := <-chunks:
					if !ok {
						return
					}
					add(c)
				default:
					return
				}
			}
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			add(c)
		case <-ticker.C:
			s.Lock()
			if s.gen == gen {
				s.elapsed++
			}
			s.Unlock()
		}
	}
}

// Stop ends recording and releases the stream. A recording shorter than one
// second, or without data, is discarded and Stop returns nil. Stopping while
// the device is being acquired abandons the acquisition. In other states it
// does nothing.
func (s *Session) Stop() (*Preview, error) {
	s.Lock()
	if s.state == Requesting {
		// Start closes the stream it acquires for an older generation.
		s.gen++
		s.state = Idle
		s.Unlock()
		metrics.Recordings.WithLabelValues("discarded").Inc()
		glog.V(5).Infof("audio: stopped while requesting the device")
		return nil, nil
	}
	if s.state != Recording {
		s.Unlock()
		return nil, nil
	}
	s.state = Stopped
	gen := s.gen
	stream, done := s.stream, s.done
	s.stream, s.done = nil, nil
	close(s.stop)
	s.stop = nil
	s.Unlock()

	<-done
	if err := stream.Close(); err != nil {
		glog.Errorf("audio: close stream err: %v", err)
	}

	s.Lock()
	defer s.Unlock()
	if s.gen != gen || s.state != Stopped {
		return nil, ErrCancelled
	}

	chunks, elapsed := s.chunks, s.elapsed
	s.chunks = nil
	if elapsed < 1 || len(chunks) == 0 {
		s.state = Idle
		s.elapsed = 0
		metrics.Recordings.WithLabelValues("discarded").Inc()
		glog.V(5).Infof("audio: discarded, seconds: %d, chunks: %d", elapsed, len(chunks))
		return nil, nil
	}

	mime := stream.MimeType()
	if mime == "" {
		mime = defaultMimeType
	}
	data := bytes.Join(chunks, nil)
	s.preview = &Preview{
		Content:  attach.DataURI(mime, data),
		MimeType: mime,
		Seconds:  elapsed,
	}
	s.handleID = "preview-" + uuid.New()
	s.state = Previewing
	metrics.Recordings.WithLabelValues("previewed").Inc()
	glog.V(5).Infof("audio: previewing, seconds: %d, bytes: %d", elapsed, len(data))

	p := *s.preview
	return &p, nil
}

// Preview plays the pending recording through player. Calling it again
// while audible stops it.
func (s *Session) Preview(ctx context.Context, player *Player) (*Handle, error) {
	s.Lock()
	if s.state != Previewing {
		s.Unlock()
		return nil, ErrNoPreview
	}
	id, content := s.handleID, s.preview.Content
	s.player = player
	s.Unlock()

	return player.Play(ctx, id, content)
}

// Send hands the preview to sink and returns to Idle. A sink error keeps
// the preview so the user may retry or cancel.
func (s *Session) Send(ctx context.Context, sink Sink) error {
	s.Lock()
	defer s.Unlock()
	if s.state != Previewing {
		return ErrNoPreview
	}
	if err := sink.AppendAudio(ctx, s.preview.Content, s.preview.Seconds); err != nil {
		return err
	}

	s.stopPreviewLocked()
	s.preview = nil
	s.elapsed = 0
	s.state = Idle
	metrics.Recordings.WithLabelValues("sent").Inc()
	return nil
}

// Cancel discards everything from any state. It is idempotent.
func (s *Session) Cancel() {
	s.Lock()
	was := s.state
	s.gen++
	release := s.resetLocked()
	s.state = Idle
	s.Unlock()
	release()

	if was != Idle {
		metrics.Recordings.WithLabelValues("cancelled").Inc()
		glog.V(5).Infof("audio: cancelled from %s", was)
	}
}

// resetLocked drops the session's data and returns the release of the
// stream, to be run without the lock.
func (s *Session) resetLocked() func() {
	s.stopPreviewLocked()
	s.preview = nil
	s.chunks = nil
	s.elapsed = 0

	stream, done := s.stream, s.done
	s.stream, s.done = nil, nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return func() {
		if done != nil {
			<-done
		}
		if stream != nil {
			if err := stream.Close(); err != nil {
				glog.Errorf("audio: close stream err: %v", err)
			}
		}
	}
}

func (s *Session) stopPreviewLocked() {
	if s.player != nil && s.handleID != "" {
		s.player.Stop(s.handleID)
	}
	s.player = nil
	s.handleID = ""
}
