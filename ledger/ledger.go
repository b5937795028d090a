package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru"

	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/partner"
	"github.com/mqy/pawchat/store"
)

const DefaultCacheSize = 128

var ErrEmptyPartnerID = errors.New("empty partner id")

// Replier is told about every locally sent text message. It must append at
// most one counterpart message per call, asynchronously.
type Replier interface {
	Schedule(conv *chatstore.Conversation)
	// Cancel drops pending replies for conv.
	Cancel(conv *chatstore.Conversation)
}

// Observer is called after every committed mutation, outside the lock.
type Observer func(conv *chatstore.Conversation, view *chatstore.View)

// Target identifies the conversation a hosting screen wants to show.
type Target struct {
	Domain    partner.Domain
	Surface   partner.Surface
	PartnerID string

	// Seed metadata for a conversation that has no record yet.
	DisplayName string
	Avatar      string
}

// Ledger owns conversations: it loads them from their partitions, applies
// every mutation under the conversation lock and writes them back.
type Ledger struct {
	kv       store.IKVStore
	identity auth.Identity
	now      func() time.Time

	sync.RWMutex
	cache     *lru.Cache // partition/partnerId -> *chatstore.Conversation
	open      map[string]*chatstore.Conversation
	// dirty holds conversations whose last write failed, open or not,
	// until a write succeeds.
	dirty     map[string]*chatstore.Conversation
	partLocks map[string]*sync.Mutex
	replier   Replier
	observers []Observer
}

func New(kv store.IKVStore, identity auth.Identity, cacheSize int) (*Ledger, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		kv:        kv,
		identity:  identity,
		now:       time.Now,
		cache:     cache,
		open:      make(map[string]*chatstore.Conversation),
		dirty:     make(map[string]*chatstore.Conversation),
		partLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SetReplier installs the reply seam. It is set after construction because
// the replier appends through the ledger.
func (l *Ledger) SetReplier(r Replier) {
	l.Lock()
	l.replier = r
	l.Unlock()
}

// Subscribe registers an observer.
func (l *Ledger) Subscribe(fn Observer) {
	l.Lock()
	l.observers = append(l.observers, fn)
	l.Unlock()
}

func conversationKey(b partner.Binding, partnerID string) string {
	return b.Partition + "/" + partnerID
}

func keyOf(conv *chatstore.Conversation) (string, partner.Binding, error) {
	b, err := partner.Resolve(conv.Domain, conv.Surface)
	if err != nil {
		return "", b, err
	}
	return conversationKey(b, conv.ID), b, nil
}

// Load finds the conversation for t, reading its partition on first access.
// A conversation without a record is returned unpersisted, seeded with the
// target's display metadata. The result is registered as open.
func (l *Ledger) Load(ctx context.Context, t Target) (*chatstore.Conversation, error) {
	b, err := partner.Resolve(t.Domain, t.Surface)
	if err != nil {
		return nil, err
	}
	if t.PartnerID == "" {
		return nil, ErrEmptyPartnerID
	}
	t.Surface = partner.CanonicalSurface(t.Domain, t.Surface)
	key := conversationKey(b, t.PartnerID)

	if conv := l.lookup(key); conv != nil {
		return conv, nil
	}

	records, err := l.readPartition(ctx, b.Partition)
	if err != nil {
		return nil, err
	}

	conv := &chatstore.Conversation{
		ID:          t.PartnerID,
		DisplayName: t.DisplayName,
		Avatar:      t.Avatar,
		Domain:      t.Domain,
		Surface:     t.Surface,
	}
	if i := store.FindRecord(records, b.IDField, t.PartnerID); i >= 0 {
		if err := decodeConversation(records[i], b, conv); err != nil {
			return nil, fmt.Errorf("partition %s: %w", b.Partition, err)
		}
		conv.Persisted = true
	}

	l.Lock()
	defer l.Unlock()
	// another caller may have loaded it meanwhile.
	if cached := l.cachedLocked(key); cached != nil {
		conv = cached
	} else {
		l.cache.Add(key, conv)
	}
	l.open[key] = conv
	glog.V(5).Infof("ledger: loaded %s, persisted: %v, messages: %d", key, conv.Persisted, len(conv.Messages))
	return conv, nil
}

func (l *Ledger) lookup(key string) *chatstore.Conversation {
	l.Lock()
	defer l.Unlock()
	conv := l.cachedLocked(key)
	if conv != nil {
		l.open[key] = conv
	}
	return conv
}

// cachedLocked finds a live instance of key. A dirty conversation evicted
// from the cache is still newer than its record, so it is put back.
func (l *Ledger) cachedLocked(key string) *chatstore.Conversation {
	if conv, ok := l.open[key]; ok {
		return conv
	}
	if v, ok := l.cache.Get(key); ok {
		return v.(*chatstore.Conversation)
	}
	if conv, ok := l.dirty[key]; ok {
		l.cache.Add(key, conv)
		return conv
	}
	return nil
}

// Close deregisters conv and cancels its pending replies. The conversation
// stays usable; a later Load reopens it.
func (l *Ledger) Close(conv *chatstore.Conversation) {
	key, _, err := keyOf(conv)
	if err != nil {
		return
	}
	l.Lock()
	delete(l.open, key)
	r := l.replier
	l.Unlock()

	if r != nil {
		r.Cancel(conv)
	}
	glog.V(5).Infof("ledger: closed %s", key)
}

// Conversations returns the open conversations.
func (l *Ledger) Conversations() []*chatstore.Conversation {
	l.RLock()
	defer l.RUnlock()
	out := make([]*chatstore.Conversation, 0, len(l.open))
	for _, conv := range l.open {
		out = append(out, conv)
	}
	return out
}

// Apply runs fn under the conversation lock and persists if fn reports a
// change. Timer callbacks mutate conversations through it.
func (l *Ledger) Apply(ctx context.Context, conv *chatstore.Conversation, fn func(c *chatstore.Conversation) bool) error {
	return l.mutate(ctx, conv, func() (bool, error) {
		return fn(conv), nil
	})
}

// Persist writes conv into its partition record, creating it if absent.
func (l *Ledger) Persist(ctx context.Context, conv *chatstore.Conversation) error {
	conv.Lock()
	defer conv.Unlock()
	return l.persistLocked(ctx, conv)
}

// Flush retries the write of every conversation whose last persist failed,
// closed ones included. It returns the number still dirty.
func (l *Ledger) Flush(ctx context.Context) int {
	l.RLock()
	convs := make([]*chatstore.Conversation, 0, len(l.dirty))
	for _, conv := range l.dirty {
		convs = append(convs, conv)
	}
	l.RUnlock()

	for _, conv := range convs {
		conv.Lock()
		if conv.Dirty {
			_ = l.persistLocked(ctx, conv)
		}
		conv.Unlock()
	}

	l.RLock()
	defer l.RUnlock()
	return len(l.dirty)
}

func (l *Ledger) setDirty(key string, conv *chatstore.Conversation, dirty bool) {
	conv.Dirty = dirty
	l.Lock()
	if dirty {
		l.dirty[key] = conv
	} else {
		delete(l.dirty, key)
	}
	l.Unlock()
}

// Export renders conv for the share collaborator.
func (l *Ledger) Export(conv *chatstore.Conversation) string {
	return conv.Snapshot().Summary()
}

// mutate is the single write path: read-modify-write under the conversation
// lock, then persist, then notify observers.
func (l *Ledger) mutate(ctx context.Context, conv *chatstore.Conversation, fn func() (bool, error)) error {
	conv.Lock()
	changed, err := fn()
	if err != nil || !changed {
		conv.Unlock()
		return err
	}
	// best effort: the in-memory ledger stays authoritative.
	_ = l.persistLocked(ctx, conv)
	view := conv.SnapshotLocked()
	conv.Unlock()

	l.RLock()
	observers := l.observers
	l.RUnlock()
	for _, fn := range observers {
		fn(conv, view)
	}
	return nil
}

func (l *Ledger) partitionLock(partition string) *sync.Mutex {
	l.Lock()
	defer l.Unlock()
	mu, ok := l.partLocks[partition]
	if !ok {
		mu = &sync.Mutex{}
		l.partLocks[partition] = mu
	}
	return mu
}

func (l *Ledger) readPartition(ctx context.Context, partition string) ([]store.Record, error) {
	value, _, err := l.kv.Get(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", partition, err)
	}
	return store.DecodeRecords(value)
}
