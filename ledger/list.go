package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/partner"
)

// Header is one inbox row of a partition.
type Header struct {
	PartnerID    string    `json:"partnerId"`
	DisplayName  string    `json:"displayName"`
	Avatar       string    `json:"avatar"`
	IsOnline     bool      `json:"isOnline"`
	LastMessage  string    `json:"lastMessage"`
	LastActivity time.Time `json:"lastActivity"`
	Count        int       `json:"count"`
}

// List returns the inbox of one partition, most recent activity first.
// Open conversations are read from memory, the rest from the store.
func (l *Ledger) List(ctx context.Context, d partner.Domain, s partner.Surface) ([]*Header, error) {
	b, err := partner.Resolve(d, s)
	if err != nil {
		return nil, err
	}
	records, err := l.readPartition(ctx, b.Partition)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Header)
	for _, r := range records {
		id := r.Text(b.IDField)
		if id == "" {
			continue
		}
		conv := &chatstore.Conversation{ID: id, Domain: d, Surface: partner.CanonicalSurface(d, s)}
		if err := decodeConversation(r, b, conv); err != nil {
			return nil, err
		}
		byID[id] = header(conv.SnapshotLocked())
	}

	for _, conv := range l.Conversations() {
		if _, cb, err := keyOf(conv); err != nil || cb.Partition != b.Partition {
			continue
		}
		v := conv.Snapshot()
		if len(v.Messages) == 0 {
			if _, ok := byID[v.ID]; !ok {
				continue // transient and empty: not in the inbox yet.
			}
		}
		byID[v.ID] = header(v)
	}

	out := make([]*Header, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].PartnerID < out[j].PartnerID
	})
	return out, nil
}

func header(v *chatstore.View) *Header {
	h := &Header{
		PartnerID:    v.ID,
		DisplayName:  v.DisplayName,
		Avatar:       v.Avatar,
		IsOnline:     v.IsOnline,
		LastActivity: v.LastSeen,
		Count:        len(v.Messages),
	}
	if n := len(v.Messages); n > 0 {
		last := &v.Messages[n-1]
		h.LastMessage = last.ExportText()
		if last.Timestamp.After(h.LastActivity) {
			h.LastActivity = last.Timestamp
		}
	}
	return h
}
