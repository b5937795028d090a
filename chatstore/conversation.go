package chatstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mqy/pawchat/partner"
)

var (
	ErrNotAuthenticated = errors.New("no local user")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrEmptyRecording   = errors.New("recording is shorter than one second")
	ErrNotFound         = errors.New("message not found")
	ErrInvalidKind      = errors.New("invalid message kind")
)

// Conversation is the ledger and metadata for one local-user/partner pair in
// one partner domain. All fields are guarded by the embedded mutex; callers
// outside the ledger should work on a Snapshot.
type Conversation struct {
	sync.Mutex

	ID          string
	DisplayName string
	Avatar      string
	IsOnline    bool
	LastSeen    time.Time
	Messages    []*Message

	Domain  partner.Domain
	Surface partner.Surface

	// Persisted is set once a partition record exists for this conversation.
	Persisted bool
	// Dirty is set while the latest mutation is not written back.
	Dirty bool
}

// View is an immutable copy of a conversation for rendering.
type View struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Avatar      string         `json:"avatar"`
	IsOnline    bool           `json:"isOnline"`
	LastSeen    time.Time      `json:"lastSeen"`
	Domain      partner.Domain `json:"domain"`
	Messages    []Message      `json:"messages"`
}

// Find returns the message with the given id. The caller holds the lock.
func (c *Conversation) Find(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Snapshot copies the conversation under its lock.
func (c *Conversation) Snapshot() *View {
	c.Lock()
	defer c.Unlock()
	return c.SnapshotLocked()
}

// SnapshotLocked copies the conversation; the caller holds the lock.
func (c *Conversation) SnapshotLocked() *View {
	v := &View{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Avatar:      c.Avatar,
		IsOnline:    c.IsOnline,
		LastSeen:    c.LastSeen,
		Domain:      c.Domain,
		Messages:    make([]Message, len(c.Messages)),
	}
	for i, m := range c.Messages {
		v.Messages[i] = *m
	}
	return v
}

// Summary renders the conversation as plain text for the share collaborator.
func (v *View) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %s (%d messages)\n", v.DisplayName, len(v.Messages))
	for i := range v.Messages {
		m := &v.Messages[i]
		who := v.DisplayName
		if m.FromUser {
			who = "Me"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), who, m.ExportText())
	}
	return b.String()
}
