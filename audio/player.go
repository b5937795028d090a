package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang/glog"

	"github.com/mqy/pawchat/attach"
	"github.com/mqy/pawchat/metrics"
)

// Handle is the active playback of one message or preview.
type Handle struct {
	ID       string
	MimeType string

	playback Playback
}

// Player is the playback controller of one widget instance: at most one
// handle is audible at any time.
type Player struct {
	output Output

	sync.Mutex
	active *Handle
}

func NewPlayer(output Output) *Player {
	return &Player{output: output}
}

// Play starts payload under id. Playing the active id again stops it and
// returns a nil handle; any other active handle is stopped first.
func (p *Player) Play(ctx context.Context, id, payload string) (*Handle, error) {
	p.Lock()
	defer p.Unlock()

	if p.active != nil {
		if p.active.ID == id {
			p.stopLocked()
			metrics.Playbacks.WithLabelValues("toggled").Inc()
			return nil, nil
		}
		p.stopLocked()
		metrics.Playbacks.WithLabelValues("preempted").Inc()
	}

	mime, data, err := decodeAudio(payload)
	if err != nil {
		metrics.Playbacks.WithLabelValues("invalid").Inc()
		return nil, err
	}

	pb, err := p.output.Start(ctx, mime, data)
	if err != nil {
		metrics.Playbacks.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("start playback of %s: %w", id, err)
	}

	h := &Handle{ID: id, MimeType: mime, playback: pb}
	p.active = h
	go p.watch(h)

	metrics.Playbacks.WithLabelValues("started").Inc()
	glog.V(5).Infof("player: %s started, mime: %s, bytes: %d", id, mime, len(data))
	return h, nil
}

func (p *Player) watch(h *Handle) {
	err := <-h.playback.Done()

	p.Lock()
	if p.active == h {
		p.active = nil
	}
	p.Unlock()

	if err != nil {
		metrics.Playbacks.WithLabelValues("failed").Inc()
		glog.Errorf("player: %s err: %v", h.ID, err)
		return
	}
	glog.V(5).Infof("player: %s ended", h.ID)
}

func (p *Player) stopLocked() {
	h := p.active
	p.active = nil
	h.playback.Stop()
	glog.V(5).Infof("player: %s stopped", h.ID)
}

// Active returns the id of the audible handle, or "".
func (p *Player) Active() string {
	p.Lock()
	defer p.Unlock()
	if p.active == nil {
		return ""
	}
	return p.active.ID
}

// Stop stops id if it is the active handle.
func (p *Player) Stop(id string) bool {
	p.Lock()
	defer p.Unlock()
	if p.active == nil || p.active.ID != id {
		return false
	}
	p.stopLocked()
	return true
}

// StopAll releases the active handle, if any.
func (p *Player) StopAll() {
	p.Lock()
	defer p.Unlock()
	if p.active != nil {
		p.stopLocked()
	}
}

// decodeAudio accepts a base64 data uri that declares an audio type, or
// whose bytes sniff as audio.
func decodeAudio(payload string) (string, []byte, error) {
	mime, data, err := attach.ParseDataURI(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidAudioPayload, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty", ErrInvalidAudioPayload)
	}
	if strings.HasPrefix(mime, "audio/") {
		return mime, data, nil
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return m.String(), data, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidAudioPayload, detected.String())
}
