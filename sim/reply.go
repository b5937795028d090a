package sim

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/metrics"
)

const (
	DefaultReplyMinDelay = 2 * time.Second
	DefaultReplyMaxDelay = 5 * time.Second
)

// ReplyGenerator stands in for the remote counterpart: each Schedule arms
// one timer that appends one canned reply after a random delay. Timers are
// scoped to their conversation and cancelled by Cancel or Stop.
type ReplyGenerator struct {
	ledger   Ledger
	corpus   Corpus
	minDelay time.Duration
	maxDelay time.Duration
	rnd      *lockedRand

	sync.Mutex
	pending map[*chatstore.Conversation]map[*time.Timer]struct{}
	stopped bool
}

func NewReplyGenerator(ledger Ledger, corpus Corpus, minDelay, maxDelay time.Duration, seed int64) *ReplyGenerator {
	if corpus == nil {
		corpus = DefaultCorpus()
	}
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &ReplyGenerator{
		ledger:   ledger,
		corpus:   corpus,
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      newLockedRand(seed),
		pending:  make(map[*chatstore.Conversation]map[*time.Timer]struct{}),
	}
}

func (g *ReplyGenerator) delay() time.Duration {
	span := int64(g.maxDelay - g.minDelay)
	if span <= 0 {
		return g.minDelay
	}
	return g.minDelay + time.Duration(g.rnd.Int63n(span+1))
}

// Schedule implements `ledger.Replier`.
func (g *ReplyGenerator) Schedule(conv *chatstore.Conversation) {
	d := g.delay()

	g.Lock()
	defer g.Unlock()
	if g.stopped {
		return
	}

	// the callback takes the lock before reading t.
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		g.Lock()
		ok := g.takeLocked(conv, t)
		g.Unlock()
		if ok {
			g.fire(conv)
		}
	})
	set, ok := g.pending[conv]
	if !ok {
		set = make(map[*time.Timer]struct{})
		g.pending[conv] = set
	}
	set[t] = struct{}{}

	metrics.Replies.WithLabelValues("scheduled").Inc()
	glog.V(5).Infof("reply: %s/%s: scheduled in %s", conv.Domain, conv.ID, d)
}

// takeLocked removes t from the pending set; false means it was cancelled.
func (g *ReplyGenerator) takeLocked(conv *chatstore.Conversation, t *time.Timer) bool {
	set, ok := g.pending[conv]
	if !ok {
		return false
	}
	if _, ok := set[t]; !ok {
		return false
	}
	delete(set, t)
	if len(set) == 0 {
		delete(g.pending, conv)
	}
	return true
}

func (g *ReplyGenerator) fire(conv *chatstore.Conversation) {
	content := g.corpus.Pick(conv.Domain, g.rnd.Intn)
	if _, err := g.ledger.AppendIncoming(context.Background(), conv, content); err != nil {
		metrics.Replies.WithLabelValues("failed").Inc()
		glog.Errorf("reply: %s/%s: append err: %v", conv.Domain, conv.ID, err)
		return
	}
	metrics.Replies.WithLabelValues("fired").Inc()
}

// Cancel implements `ledger.Replier`.
func (g *ReplyGenerator) Cancel(conv *chatstore.Conversation) {
	g.Lock()
	defer g.Unlock()
	g.cancelLocked(conv)
}

func (g *ReplyGenerator) cancelLocked(conv *chatstore.Conversation) {
	set := g.pending[conv]
	for t := range set {
		t.Stop()
		metrics.Replies.WithLabelValues("cancelled").Inc()
	}
	if len(set) > 0 {
		glog.V(5).Infof("reply: %s/%s: cancelled %d pending", conv.Domain, conv.ID, len(set))
	}
	delete(g.pending, conv)
}

// Stop cancels every pending reply and rejects new ones.
func (g *ReplyGenerator) Stop() {
	g.Lock()
	defer g.Unlock()
	g.stopped = true
	for conv := range g.pending {
		g.cancelLocked(conv)
	}
}

// Pending returns the number of armed timers.
func (g *ReplyGenerator) Pending() int {
	g.Lock()
	defer g.Unlock()
	var n int
	for _, set := range g.pending {
		n += len(set)
	}
	return n
}
