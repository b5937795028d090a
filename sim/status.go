package sim

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/metrics"
)

const (
	DefaultStatusInterval  = 3 * time.Second
	DefaultReadProbability = 0.4
)

// StatusSimulator stands in for read receipts: every tick it marks sent
// messages delivered, and delivered messages read with a fixed probability.
type StatusSimulator struct {
	ledger          Ledger
	interval        time.Duration
	readProbability float64
	rnd             func() float64
}

func NewStatusSimulator(ledger Ledger, interval time.Duration, readProbability float64, seed int64) *StatusSimulator {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &StatusSimulator{
		ledger:          ledger,
		interval:        interval,
		readProbability: readProbability,
		rnd:             newLockedRand(seed).Float64,
	}
}

// Tick advances every open conversation once. A message promoted to
// delivered is not considered for read until the next tick.
func (s *StatusSimulator) Tick(ctx context.Context) {
	for _, conv := range s.ledger.Conversations() {
		if err := s.ledger.Apply(ctx, conv, s.advance); err != nil {
			glog.Errorf("status: advance %s/%s err: %v", conv.Domain, conv.ID, err)
		}
	}
}

func (s *StatusSimulator) advance(c *chatstore.Conversation) bool {
	var changed bool
	for _, m := range c.Messages {
		if !m.FromUser {
			continue
		}
		switch m.Status {
		case chatstore.StatusSent:
			if m.Advance(chatstore.StatusDelivered) {
				changed = true
				metrics.StatusTransitions.WithLabelValues(string(chatstore.StatusDelivered)).Inc()
			}
		case chatstore.StatusDelivered:
			if s.rnd() < s.readProbability && m.Advance(chatstore.StatusRead) {
				changed = true
				metrics.StatusTransitions.WithLabelValues(string(chatstore.StatusRead)).Inc()
			}
		}
	}
	return changed
}

// Run ticks until ctx is done.
func (s *StatusSimulator) Run(ctx context.Context) {
	glog.Infof("status: loop enter, interval: %s, read probability: %.2f", s.interval, s.readProbability)

	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		glog.Info("status: loop exit")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
