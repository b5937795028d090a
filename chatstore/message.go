package chatstore

import (
	"fmt"
	"time"
)

// Kind is the content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindAudio Kind = "audio"
)

// Status is the delivery status of a locally authored message.
// It only moves forward: sent, delivered, read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before reports whether s precedes other.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

const (
	deletedForMeText       = "You deleted this message"
	deletedForEveryoneText = "This message was deleted"
)

// Message is one entry of a conversation ledger. Records are never removed:
// deletion flips the flags and changes how the message renders.
type Message struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"senderId"`
	ReceiverID         string    `json:"receiverId"`
	Content            string    `json:"content"`
	Kind               Kind      `json:"type"`
	FileName           string    `json:"fileName,omitempty"`
	FileSize           string    `json:"fileSize,omitempty"`
	Duration           string    `json:"duration,omitempty"` // m:ss, audio only
	Status             Status    `json:"status"`
	FromUser           bool      `json:"isFromUser"`
	Deleted            bool      `json:"deleted"`
	DeletedForEveryone bool      `json:"deletedForEveryone"`
	Timestamp          time.Time `json:"timestamp"`
}

// Advance moves the status forward to `to`. It returns false, leaving the
// message untouched, for remote messages and for targets that are not ahead
// of the current status.
func (m *Message) Advance(to Status) bool {
	if !m.FromUser || !m.Status.Before(to) {
		return false
	}
	m.Status = to
	return true
}

// Render returns the content to show to a viewer. The local viewer sees a
// placeholder for anything they deleted; the counterpart only sees the
// placeholder when the message was deleted for everyone.
func (m *Message) Render(viewerIsLocal bool) string {
	if m.DeletedForEveryone {
		return deletedForEveryoneText
	}
	if m.Deleted && viewerIsLocal {
		return deletedForMeText
	}
	return m.Content
}

// ExportText returns a single plain-text line for clipboard export.
func (m *Message) ExportText() string {
	if m.Deleted || m.DeletedForEveryone {
		return m.Render(true)
	}
	switch m.Kind {
	case KindAudio:
		return fmt.Sprintf("[voice message %s]", m.Duration)
	case KindImage:
		return fmt.Sprintf("[image %s (%s)]", m.FileName, m.FileSize)
	case KindFile:
		return fmt.Sprintf("[file %s (%s)]", m.FileName, m.FileSize)
	}
	return m.Content
}

// FormatDuration formats seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
