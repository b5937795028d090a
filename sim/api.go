package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/mqy/pawchat/chatstore"
)

// Ledger is the part of the message ledger the simulators write through.
type Ledger interface {
	// Conversations returns the open conversations.
	Conversations() []*chatstore.Conversation

	// Apply runs fn atomically on conv and persists when fn reports a change.
	Apply(ctx context.Context, conv *chatstore.Conversation, fn func(c *chatstore.Conversation) bool) error

	// AppendIncoming appends one counterpart message.
	AppendIncoming(ctx context.Context, conv *chatstore.Conversation, content string) (*chatstore.Message, error)
}

// lockedRand is a math/rand source safe for timer callbacks.
type lockedRand struct {
	sync.Mutex
	r *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.Lock()
	defer l.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.Lock()
	defer l.Unlock()
	return l.r.Int63n(n)
}

func (l *lockedRand) Intn(n int) int {
	l.Lock()
	defer l.Unlock()
	return l.r.Intn(n)
}
