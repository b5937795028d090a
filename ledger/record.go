package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/metrics"
	"github.com/mqy/pawchat/partner"
	"github.com/mqy/pawchat/store"
)

// Record fields shared by every partition; the identity fields come from
// the partner binding.
const (
	fieldMessages = "messages"
	fieldIsOnline = "isOnline"
	fieldLastSeen = "lastSeen"
)

func decodeConversation(r store.Record, b partner.Binding, conv *chatstore.Conversation) error {
	var name, avatar string
	if err := r.Decode(b.NameField, &name); err != nil {
		return err
	}
	if err := r.Decode(b.AvatarField, &avatar); err != nil {
		return err
	}
	if name != "" {
		conv.DisplayName = name
	}
	if avatar != "" {
		conv.Avatar = avatar
	}
	if err := r.Decode(fieldMessages, &conv.Messages); err != nil {
		return err
	}
	if err := r.Decode(fieldIsOnline, &conv.IsOnline); err != nil {
		return err
	}
	var lastSeen time.Time
	if err := r.Decode(fieldLastSeen, &lastSeen); err == nil {
		conv.LastSeen = lastSeen
	} else {
		// tolerate whatever the old widget wrote here.
		glog.V(5).Infof("ledger: ignore bad %s of %s: %v", fieldLastSeen, conv.ID, err)
	}
	return nil
}

func encodeConversation(r store.Record, b partner.Binding, conv *chatstore.Conversation) error {
	messages := conv.Messages
	if messages == nil {
		messages = []*chatstore.Message{}
	}
	fields := []struct {
		name  string
		value interface{}
	}{
		{b.IDField, conv.ID},
		{b.NameField, conv.DisplayName},
		{b.AvatarField, conv.Avatar},
		{fieldMessages, messages},
		{fieldIsOnline, conv.IsOnline},
		{fieldLastSeen, conv.LastSeen},
	}
	for _, f := range fields {
		if err := r.Put(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// persistLocked rewrites the conversation's record in its partition. The
// caller holds the conversation lock; the partition lock serializes writers
// of different conversations sharing the partition.
func (l *Ledger) persistLocked(ctx context.Context, conv *chatstore.Conversation) error {
	key, b, err := keyOf(conv)
	if err != nil {
		return err
	}

	mu := l.partitionLock(b.Partition)
	mu.Lock()
	defer mu.Unlock()

	err = func() error {
		records, err := l.readPartition(ctx, b.Partition)
		if err != nil {
			return err
		}
		var r store.Record
		if i := store.FindRecord(records, b.IDField, conv.ID); i >= 0 {
			r = records[i]
		} else {
			r = store.Record{}
			records = append(records, r)
		}
		if err := encodeConversation(r, b, conv); err != nil {
			return err
		}
		value, err := store.EncodeRecords(records)
		if err != nil {
			return err
		}
		if err := l.kv.Set(ctx, b.Partition, value); err != nil {
			return fmt.Errorf("write partition %s: %w", b.Partition, err)
		}
		return nil
	}()
	if err != nil {
		l.setDirty(key, conv, true)
		metrics.PersistFailures.WithLabelValues(b.Partition).Inc()
		glog.Errorf("ledger: persist %s/%s err: %v", b.Partition, conv.ID, err)
		return err
	}

	conv.Persisted = true
	l.setDirty(key, conv, false)
	glog.V(5).Infof("ledger: persisted %s/%s, messages: %d", b.Partition, conv.ID, len(conv.Messages))
	return nil
}
