package ws

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/mqy/pawchat/audio"
	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/partner"
)

// serve runs one widget request. Conversation changes are not returned
// here: they reach the widget through the ledger subscription.
func (h *Handler) serve(req *ClientMsg) (*ServerMsg, error) {
	ctx := h.ctx
	l := h.hub.ledger

	switch {
	case req.Open != nil:
		return h.open(ctx, req.Open)

	case req.List != nil:
		d, s, err := parseTarget(req.List.Domain, req.List.Surface)
		if err != nil {
			return nil, err
		}
		headers, err := l.List(ctx, d, s)
		if err != nil {
			return nil, err
		}
		return &ServerMsg{Inbox: &InboxResp{Headers: headers}}, nil

	case req.Close != nil:
		h.recorder.Cancel()
		h.player.StopAll()
		h.hub.release(h, h.swap(nil))
		return &ServerMsg{Closed: true}, nil

	case req.PlaybackEnded != nil:
		if !h.speaker.ended(req.PlaybackEnded.ID, req.PlaybackEnded.Error) {
			glog.V(5).Infof("playbackEnded(): stale playback %s", req.PlaybackEnded.ID)
		}
		return nil, nil

	case req.RecordChunk != nil:
		if !h.mic.push(req.RecordChunk.Data) {
			glog.V(5).Infof("recordChunk(): dropped %d bytes, session: %s", len(req.RecordChunk.Data), h)
		}
		return nil, nil

	case req.RecordStop != nil:
		if _, err := h.recorder.Stop(); err != nil {
			return nil, err
		}
		return h.recording(), nil

	case req.RecordCancel != nil:
		h.recorder.Cancel()
		return h.recording(), nil
	}

	conv := h.current()
	if conv == nil {
		return nil, errNoConversation
	}

	switch {
	case req.SendText != nil:
		_, err := l.AppendText(ctx, conv, req.SendText.Text)
		return nil, err

	case req.SendAttachment != nil:
		if len(req.SendAttachment.FileName) > MaxFileNameBytes {
			return nil, fmt.Errorf("%w: %d bytes", errFileNameTooLong, len(req.SendAttachment.FileName))
		}
		a, err := h.hub.encoder.Encode(req.SendAttachment.FileName, bytes.NewReader(req.SendAttachment.Data))
		if err != nil {
			return nil, err
		}
		_, err = l.AppendAttachment(ctx, conv, a.Kind, a.Content, a.FileName, a.FileSize)
		return nil, err

	case req.Delete != nil:
		return nil, l.SoftDelete(ctx, conv, req.Delete.MessageID, req.Delete.ForEveryone)

	case req.Export != nil:
		return &ServerMsg{Export: &ExportResp{Text: l.Export(conv)}}, nil

	case req.RecordStart != nil:
		h.mic.prepare(req.RecordStart.MimeType)
		if err := h.recorder.Start(ctx); err != nil {
			return nil, err
		}
		return h.recording(), nil

	case req.RecordPreview != nil:
		if _, err := h.recorder.Preview(ctx, h.player); err != nil {
			return nil, err
		}
		return nil, nil

	case req.RecordSend != nil:
		sink := audio.SinkFunc(func(ctx context.Context, content string, seconds int) error {
			_, err := l.AppendAudio(ctx, conv, content, seconds)
			return err
		})
		if err := h.recorder.Send(ctx, sink); err != nil {
			return nil, err
		}
		return h.recording(), nil

	case req.Play != nil:
		m := findMessage(conv, req.Play.MessageID)
		if m == nil {
			return nil, fmt.Errorf("%w: %s", chatstore.ErrNotFound, req.Play.MessageID)
		}
		if m.Kind != chatstore.KindAudio || m.Deleted {
			return nil, fmt.Errorf("%w: %s is not playable", audio.ErrInvalidAudioPayload, m.ID)
		}
		_, err := h.player.Play(ctx, m.ID, m.Content)
		return nil, err
	}

	return nil, fmt.Errorf("unsupported request %s", req.name())
}

func (h *Handler) open(ctx context.Context, req *OpenReq) (*ServerMsg, error) {
	d, s, err := parseTarget(req.Domain, req.Surface)
	if err != nil {
		return nil, err
	}
	conv, err := h.hub.ledger.Load(ctx, ledger.Target{
		Domain:      d,
		Surface:     s,
		PartnerID:   req.PartnerID,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		return nil, err
	}

	if prev := h.swap(conv); prev != nil && prev != conv {
		h.recorder.Cancel()
		h.player.StopAll()
		h.hub.release(h, prev)
	}
	return &ServerMsg{Conversation: localView(conv.Snapshot())}, nil
}

func (h *Handler) recording() *ServerMsg {
	resp := &RecordingResp{
		State:   h.recorder.State().String(),
		Seconds: h.recorder.Elapsed(),
	}
	if p := h.recorder.Pending(); p != nil {
		resp.Seconds = p.Seconds
		resp.Preview = p.Content
	}
	return &ServerMsg{Recording: resp}
}

func parseTarget(domain, surface string) (partner.Domain, partner.Surface, error) {
	d, err := partner.ParseDomain(domain)
	if err != nil {
		return "", "", err
	}
	s, err := partner.ParseSurface(surface)
	if err != nil {
		return "", "", err
	}
	return d, s, nil
}

func findMessage(conv *chatstore.Conversation, id string) *chatstore.Message {
	conv.Lock()
	defer conv.Unlock()
	if m := conv.Find(id); m != nil {
		out := *m
		return &out
	}
	return nil
}
