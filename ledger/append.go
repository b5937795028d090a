package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/metrics"
)

// AppendText appends a text message from the local user and schedules one
// counterpart reply.
func (l *Ledger) AppendText(ctx context.Context, conv *chatstore.Conversation, text string) (*chatstore.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, chatstore.ErrEmptyContent
	}
	m, err := l.appendLocal(ctx, conv, &chatstore.Message{Kind: chatstore.KindText, Content: text})
	if err != nil {
		return nil, err
	}

	l.RLock()
	r := l.replier
	l.RUnlock()
	if r != nil {
		r.Schedule(conv)
	}
	return m, nil
}

// AppendAttachment appends an encoded image or file from the local user.
func (l *Ledger) AppendAttachment(ctx context.Context, conv *chatstore.Conversation, kind chatstore.Kind,
	content, fileName, fileSize string) (*chatstore.Message, error) {
	if kind != chatstore.KindImage && kind != chatstore.KindFile {
		return nil, fmt.Errorf("%w: %q is not an attachment", chatstore.ErrInvalidKind, kind)
	}
	if content == "" {
		return nil, chatstore.ErrEmptyContent
	}
	return l.appendLocal(ctx, conv, &chatstore.Message{
		Kind:     kind,
		Content:  content,
		FileName: fileName,
		FileSize: fileSize,
	})
}

// AppendAudio appends a voice note from the local user.
func (l *Ledger) AppendAudio(ctx context.Context, conv *chatstore.Conversation, content string, seconds int) (*chatstore.Message, error) {
	if seconds < 1 {
		return nil, chatstore.ErrEmptyRecording
	}
	if content == "" {
		return nil, chatstore.ErrEmptyContent
	}
	return l.appendLocal(ctx, conv, &chatstore.Message{
		Kind:     chatstore.KindAudio,
		Content:  content,
		Duration: chatstore.FormatDuration(seconds),
	})
}

func (l *Ledger) appendLocal(ctx context.Context, conv *chatstore.Conversation, m *chatstore.Message) (*chatstore.Message, error) {
	u, err := l.identity.LocalUser(ctx)
	if err != nil {
		return nil, err
	}

	m.SenderID = u.ID
	m.ReceiverID = conv.ID
	m.FromUser = true
	m.Status = chatstore.StatusSent

	var out chatstore.Message
	if err := l.mutate(ctx, conv, func() (bool, error) {
		l.stamp(conv, m)
		out = *m
		return true, nil
	}); err != nil {
		return nil, err
	}

	metrics.MessagesAppended.WithLabelValues(string(conv.Domain), string(out.Kind), "local").Inc()
	glog.V(5).Infof("ledger: %s/%s: local %s message %s", conv.Domain, conv.ID, out.Kind, out.ID)
	return &out, nil
}

// AppendIncoming appends a counterpart message. It is the seam the reply
// generator (or a real counterpart client) writes through.
func (l *Ledger) AppendIncoming(ctx context.Context, conv *chatstore.Conversation, content string) (*chatstore.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, chatstore.ErrEmptyContent
	}
	m := &chatstore.Message{
		Kind:     chatstore.KindText,
		Content:  content,
		SenderID: conv.ID,
		Status:   chatstore.StatusDelivered,
	}

	var out chatstore.Message
	if err := l.mutate(ctx, conv, func() (bool, error) {
		m.ReceiverID = l.localPeer(ctx, conv)
		l.stamp(conv, m)
		conv.LastSeen = m.Timestamp
		out = *m
		return true, nil
	}); err != nil {
		return nil, err
	}

	metrics.MessagesAppended.WithLabelValues(string(conv.Domain), string(out.Kind), "remote").Inc()
	glog.V(5).Infof("ledger: %s/%s: remote message %s", conv.Domain, conv.ID, out.ID)
	return &out, nil
}

// stamp assigns id and timestamp and appends; the caller holds the lock so
// ids follow append order.
func (l *Ledger) stamp(conv *chatstore.Conversation, m *chatstore.Message) {
	now := l.now()
	m.ID = chatstore.NewID(now)
	m.Timestamp = now
	conv.Messages = append(conv.Messages, m)
}

// localPeer finds the local user id for an incoming message: the current
// identity if any, else the author of the latest local message.
func (l *Ledger) localPeer(ctx context.Context, conv *chatstore.Conversation) string {
	if u, err := l.identity.LocalUser(ctx); err == nil {
		return u.ID
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].FromUser {
			return conv.Messages[i].SenderID
		}
	}
	return ""
}

// SoftDelete hides a message. Deleting for everyone is never downgraded by
// a later delete for me. Authorship is not checked here: the caller only
// offers delete for everyone on the local user's own messages.
func (l *Ledger) SoftDelete(ctx context.Context, conv *chatstore.Conversation, messageID string, forEveryone bool) error {
	return l.mutate(ctx, conv, func() (bool, error) {
		m := conv.Find(messageID)
		if m == nil {
			return false, fmt.Errorf("%w: %s", chatstore.ErrNotFound, messageID)
		}
		if m.Deleted && (m.DeletedForEveryone || !forEveryone) {
			return false, nil
		}
		m.Deleted = true
		if forEveryone {
			m.DeletedForEveryone = true
		}
		glog.V(5).Infof("ledger: %s/%s: deleted %s, for everyone: %v", conv.Domain, conv.ID, messageID, forEveryone)
		return true, nil
	})
}
