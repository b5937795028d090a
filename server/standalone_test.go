package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/sim"
	"github.com/mqy/pawchat/store"
	"github.com/mqy/pawchat/ws"
)

// flakyStore fails every write while failing is set.
type flakyStore struct {
	store.IKVStore
	failing int32
}

func (s *flakyStore) Set(ctx context.Context, partition string, value []byte) error {
	if atomic.LoadInt32(&s.failing) == 1 {
		return errors.New("disk full")
	}
	return s.IKVStore.Set(ctx, partition, value)
}

func TestStandaloneServesAndStops(t *testing.T) {
	kv := store.NewMemStore()
	l, err := ledger.New(kv, auth.ContextIdentity{}, 0)
	require.NoError(t, err)
	replies := sim.NewReplyGenerator(l, nil, time.Hour, time.Hour, 1)
	l.SetReplier(replies)

	mux := http.NewServeMux()
	hub := ws.NewHub(&auth.CookieClient{}, l, ws.Conf{})
	mux.Handle("/ws", hub)

	s := NewStandalone(&Conf{
		Addr:          "127.0.0.1:0",
		Mux:           mux,
		Ledger:        l,
		Hub:           hub,
		Status:        sim.NewStatusSimulator(l, 10*time.Millisecond, 0, 1),
		Replies:       replies,
		FlushInterval: 10 * time.Millisecond,
	})
	lis, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{}, 1)
	go s.Run(ctx, lis, stopped)

	header := http.Header{}
	header.Set("Cookie", "x-uid=u1")
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+lis.Addr().String()+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"open":{"domain":"vet","partnerId":"d1"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"sendText":{"text":"hello"}}`)))

	// the status simulator marks the message delivered.
	deadline := time.Now().Add(3 * time.Second)
	var delivered bool
	for !delivered {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg ws.ServerMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if v := msg.Conversation; v != nil && len(v.Messages) == 1 && v.Messages[0].Status == "delivered" {
			delivered = true
		}
	}
	assert.Equal(t, 1, replies.Pending())

	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, 0, replies.Pending())

	_, ok, err := kv.Get(context.Background(), "vetChats")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStopFlushesClosedConversations(t *testing.T) {
	kv := &flakyStore{IKVStore: store.NewMemStore(), failing: 1}
	l, err := ledger.New(kv, auth.ContextIdentity{}, 0)
	require.NoError(t, err)
	replies := sim.NewReplyGenerator(l, nil, time.Hour, time.Hour, 1)
	l.SetReplier(replies)

	mux := http.NewServeMux()
	hub := ws.NewHub(&auth.CookieClient{}, l, ws.Conf{})
	mux.Handle("/ws", hub)

	s := NewStandalone(&Conf{
		Addr:          "127.0.0.1:0",
		Mux:           mux,
		Ledger:        l,
		Hub:           hub,
		Status:        sim.NewStatusSimulator(l, time.Hour, 0, 1),
		Replies:       replies,
		FlushInterval: time.Hour,
	})
	lis, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{}, 1)
	go s.Run(ctx, lis, stopped)

	header := http.Header{}
	header.Set("Cookie", "x-uid=u1")
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+lis.Addr().String()+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"open":{"domain":"trainer","partnerId":"t1"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"sendText":{"text":"sit!"}}`)))

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg ws.ServerMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if v := msg.Conversation; v != nil && len(v.Messages) == 1 {
			break
		}
	}
	_, ok, err := kv.Get(context.Background(), "trainerChats")
	require.NoError(t, err)
	assert.False(t, ok)

	// the store recovers; the stop path closes the session, then flushes.
	atomic.StoreInt32(&kv.failing, 0)
	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Empty(t, l.Conversations())

	value, ok, err := kv.Get(context.Background(), "trainerChats")
	require.NoError(t, err)
	require.True(t, ok)
	records, err := store.DecodeRecords(value)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].Text("trainerId"))
	assert.Contains(t, string(records[0]["messages"]), "sit!")
}
