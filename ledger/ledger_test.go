package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/partner"
	"github.com/mqy/pawchat/store"
	store_mock "github.com/mqy/pawchat/store/mock"
)

var (
	ctx     = context.Background()
	localU1 = auth.Static{User: auth.User{ID: "u1", Name: "Ann"}}
	doctor  = Target{Domain: partner.Vet, PartnerID: "d1", DisplayName: "Dr. Lee", Avatar: "lee.png"}
)

type fakeReplier struct {
	sync.Mutex
	scheduled, cancelled int
}

func (f *fakeReplier) Schedule(*chatstore.Conversation) {
	f.Lock()
	f.scheduled++
	f.Unlock()
}

func (f *fakeReplier) Cancel(*chatstore.Conversation) {
	f.Lock()
	f.cancelled++
	f.Unlock()
}

func newTestLedger(t *testing.T, kv store.IKVStore, id auth.Identity) *Ledger {
	l, err := New(kv, id, 0)
	require.NoError(t, err)
	return l
}

func TestLoadTransientThenPersist(t *testing.T) {
	kv := store.NewMemStore()
	l := newTestLedger(t, kv, localU1)

	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	assert.False(t, conv.Persisted)
	assert.Equal(t, "Dr. Lee", conv.DisplayName)
	assert.Empty(t, conv.Messages)

	_, ok, _ := kv.Get(ctx, "vetChats")
	assert.False(t, ok, "load must not create the record")

	m, err := l.AppendText(ctx, conv, "hello")
	require.NoError(t, err)
	assert.Equal(t, chatstore.KindText, m.Kind)
	assert.Equal(t, chatstore.StatusSent, m.Status)
	assert.True(t, m.FromUser)
	assert.Equal(t, "u1", m.SenderID)
	assert.Equal(t, "d1", m.ReceiverID)
	assert.True(t, conv.Persisted)

	value, ok, err := kv.Get(ctx, "vetChats")
	require.NoError(t, err)
	require.True(t, ok)
	records, err := store.DecodeRecords(value)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d1", records[0].Text("doctorId"))
	assert.Equal(t, "Dr. Lee", records[0].Text("doctorName"))
	assert.Equal(t, "lee.png", records[0].Text("doctorAvatar"))

	// a fresh ledger reads the record back.
	l2 := newTestLedger(t, kv, localU1)
	conv2, err := l2.Load(ctx, Target{Domain: partner.Vet, PartnerID: "d1", DisplayName: "ignored"})
	require.NoError(t, err)
	assert.True(t, conv2.Persisted)
	assert.Equal(t, "Dr. Lee", conv2.DisplayName)
	require.Len(t, conv2.Messages, 1)
	assert.Equal(t, m.ID, conv2.Messages[0].ID)
	assert.Equal(t, "hello", conv2.Messages[0].Content)
}

func TestLoadReturnsSameInstance(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	a, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	b, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	assert.Same(t, a, b)

	found, err := l.Load(ctx, Target{Domain: partner.LostFound, Surface: partner.SurfaceFound, PartnerID: "d1"})
	require.NoError(t, err)
	assert.NotSame(t, a, found)
	assert.Len(t, l.Conversations(), 2)
}

func TestLoadErrors(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	_, err := l.Load(ctx, Target{Domain: "groomer", PartnerID: "g1"})
	assert.ErrorIs(t, err, partner.ErrUnknownDomain)

	_, err = l.Load(ctx, Target{Domain: partner.Shop})
	assert.ErrorIs(t, err, ErrEmptyPartnerID)

	kv := store.NewMemStore()
	require.NoError(t, kv.Set(ctx, "shopChats", []byte(`{"broken":`)))
	l = newTestLedger(t, kv, localU1)
	_, err = l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s1"})
	assert.Error(t, err)
}

func TestPersistKeepsOtherRecords(t *testing.T) {
	kv := store.NewMemStore()
	require.NoError(t, kv.Set(ctx, "petSocialChats",
		[]byte(`[{"petId":"p0","petName":"Rex","messages":[],"likes":3}]`)))

	l := newTestLedger(t, kv, localU1)
	conv, err := l.Load(ctx, Target{Domain: partner.PetSocial, PartnerID: "p1", DisplayName: "Bella"})
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "hi Bella")
	require.NoError(t, err)

	// idempotent
	require.NoError(t, l.Persist(ctx, conv))
	require.NoError(t, l.Persist(ctx, conv))

	value, _, err := kv.Get(ctx, "petSocialChats")
	require.NoError(t, err)
	records, err := store.DecodeRecords(value)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p0", records[0].Text("petId"))
	assert.Equal(t, "3", records[0].Text("likes"))
	assert.Equal(t, "p1", records[1].Text("petId"))
}

func TestAppendErrors(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)

	_, err = l.AppendText(ctx, conv, "  \n\t")
	assert.ErrorIs(t, err, chatstore.ErrEmptyContent)

	_, err = l.AppendAudio(ctx, conv, "data:audio/webm;base64,AAAA", 0)
	assert.ErrorIs(t, err, chatstore.ErrEmptyRecording)

	_, err = l.AppendAttachment(ctx, conv, chatstore.KindAudio, "data:x", "a", "1 Bytes")
	assert.ErrorIs(t, err, chatstore.ErrInvalidKind)

	_, err = l.AppendAttachment(ctx, conv, chatstore.KindFile, "", "a", "0 Bytes")
	assert.ErrorIs(t, err, chatstore.ErrEmptyContent)

	assert.Empty(t, conv.Messages)

	signedOut := newTestLedger(t, store.NewMemStore(), auth.Static{})
	conv, err = signedOut.Load(ctx, doctor)
	require.NoError(t, err)
	_, err = signedOut.AppendText(ctx, conv, "hello")
	assert.ErrorIs(t, err, chatstore.ErrNotAuthenticated)
	_, err = signedOut.AppendAudio(ctx, conv, "data:audio/webm;base64,AAAA", 3)
	assert.ErrorIs(t, err, chatstore.ErrNotAuthenticated)
	_, err = signedOut.AppendAttachment(ctx, conv, chatstore.KindImage, "data:image/png;base64,AAAA", "a.png", "3 Bytes")
	assert.ErrorIs(t, err, chatstore.ErrNotAuthenticated)
	assert.Empty(t, conv.Messages)
	assert.False(t, conv.Persisted)
}

func TestAppendKinds(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)

	img, err := l.AppendAttachment(ctx, conv, chatstore.KindImage, "data:image/png;base64,AAAA", "x.png", "3 Bytes")
	require.NoError(t, err)
	assert.Equal(t, "x.png", img.FileName)
	assert.Equal(t, "3 Bytes", img.FileSize)

	voice, err := l.AppendAudio(ctx, conv, "data:audio/webm;base64,AAAA", 75)
	require.NoError(t, err)
	assert.Equal(t, chatstore.KindAudio, voice.Kind)
	assert.Equal(t, "1:15", voice.Duration)

	in, err := l.AppendIncoming(ctx, conv, "got it")
	require.NoError(t, err)
	assert.False(t, in.FromUser)
	assert.Equal(t, chatstore.StatusDelivered, in.Status)
	assert.Equal(t, "d1", in.SenderID)
	assert.Equal(t, "u1", in.ReceiverID)
	assert.Equal(t, in.Timestamp, conv.LastSeen)

	require.Len(t, conv.Messages, 3)
}

func TestAppendOrderUnderConcurrency(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := l.AppendText(ctx, conv, "ping")
				assert.NoError(t, err)
			} else {
				_, err := l.AppendIncoming(ctx, conv, "pong")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, conv.Messages, n)
	for i := 1; i < n; i++ {
		assert.Less(t, conv.Messages[i-1].ID, conv.Messages[i].ID, "ids follow append order")
	}
}

func TestSoftDelete(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	a, err := l.AppendText(ctx, conv, "first")
	require.NoError(t, err)
	b, err := l.AppendText(ctx, conv, "second")
	require.NoError(t, err)

	require.NoError(t, l.SoftDelete(ctx, conv, a.ID, false))
	require.NoError(t, l.SoftDelete(ctx, conv, b.ID, true))

	require.Len(t, conv.Messages, 2)
	ma, mb := conv.Find(a.ID), conv.Find(b.ID)
	assert.True(t, ma.Deleted)
	assert.False(t, ma.DeletedForEveryone)
	assert.Equal(t, "first", ma.Content)
	assert.Equal(t, "first", ma.Render(false))
	assert.NotEqual(t, "first", ma.Render(true))

	assert.True(t, mb.Deleted)
	assert.True(t, mb.DeletedForEveryone)
	assert.Equal(t, "second", mb.Content)
	assert.NotEqual(t, "second", mb.Render(false))

	// never downgraded
	require.NoError(t, l.SoftDelete(ctx, conv, b.ID, false))
	assert.True(t, mb.DeletedForEveryone)

	err = l.SoftDelete(ctx, conv, "nope", true)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
	assert.Len(t, conv.Messages, 2)
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	kv := store_mock.NewMockIKVStore(mockCtrl)
	kv.EXPECT().Get(gomock.Any(), "vetChats").Return(nil, false, nil).AnyTimes()
	kv.EXPECT().Set(gomock.Any(), "vetChats", gomock.Any()).Return(errors.New("quota exceeded")).Times(2)

	l := newTestLedger(t, kv, localU1)
	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)

	m, err := l.AppendText(ctx, conv, "hello")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, m.ID, conv.Messages[0].ID)
	assert.False(t, conv.Persisted)

	assert.Error(t, l.Persist(ctx, conv))
}

func TestReplierAndClose(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	r := &fakeReplier{}
	l.SetReplier(r)

	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "one")
	require.NoError(t, err)
	_, err = l.AppendAudio(ctx, conv, "data:audio/webm;base64,AAAA", 2)
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "")
	require.Error(t, err)
	assert.Equal(t, 1, r.scheduled, "only text messages trigger replies")

	l.Close(conv)
	assert.Equal(t, 1, r.cancelled)
	assert.Empty(t, l.Conversations())

	again, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	assert.Same(t, conv, again)
	assert.Len(t, l.Conversations(), 1)
}

func TestObserverAndApply(t *testing.T) {
	l := newTestLedger(t, store.NewMemStore(), localU1)
	var views []*chatstore.View
	l.Subscribe(func(_ *chatstore.Conversation, v *chatstore.View) {
		views = append(views, v)
	})

	conv, err := l.Load(ctx, doctor)
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "hello")
	require.NoError(t, err)
	require.Len(t, views, 1)

	require.NoError(t, l.Apply(ctx, conv, func(*chatstore.Conversation) bool { return false }))
	assert.Len(t, views, 1, "unchanged apply does not notify")

	require.NoError(t, l.Apply(ctx, conv, func(c *chatstore.Conversation) bool {
		c.IsOnline = true
		return true
	}))
	require.Len(t, views, 2)
	assert.True(t, views[1].IsOnline)
	assert.Len(t, views[1].Messages, 1)
}

func TestListAndExport(t *testing.T) {
	kv := store.NewMemStore()
	require.NoError(t, kv.Set(ctx, "trainerChats", []byte(`[{"trainerId":"t0","trainerName":"Sam","messages":[]}]`)))
	l := newTestLedger(t, kv, localU1)

	conv, err := l.Load(ctx, Target{Domain: partner.Trainer, PartnerID: "t1", DisplayName: "Kim"})
	require.NoError(t, err)
	_, err = l.Load(ctx, Target{Domain: partner.Trainer, PartnerID: "t2", DisplayName: "Empty"})
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "sit!")
	require.NoError(t, err)

	headers, err := l.List(ctx, partner.Trainer, partner.SurfaceNone)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, "t1", headers[0].PartnerID)
	assert.Equal(t, "sit!", headers[0].LastMessage)
	assert.Equal(t, 1, headers[0].Count)
	assert.Equal(t, "t0", headers[1].PartnerID)
	assert.Equal(t, "Sam", headers[1].DisplayName)

	s := l.Export(conv)
	assert.Contains(t, s, "Conversation with Kim")
	assert.Contains(t, s, "Me: sit!")

	_, err = l.List(ctx, "groomer", partner.SurfaceNone)
	assert.ErrorIs(t, err, partner.ErrUnknownDomain)
}

func TestFlushRetriesFailedWrites(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	kv := store_mock.NewMockIKVStore(mockCtrl)
	kv.EXPECT().Get(gomock.Any(), "shopChats").Return(nil, false, nil).AnyTimes()
	gomock.InOrder(
		kv.EXPECT().Set(gomock.Any(), "shopChats", gomock.Any()).Return(errors.New("disk full")),
		kv.EXPECT().Set(gomock.Any(), "shopChats", gomock.Any()).Return(nil),
	)

	l := newTestLedger(t, kv, localU1)
	conv, err := l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s1"})
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "in stock?")
	require.NoError(t, err)
	assert.True(t, conv.Dirty)

	assert.Equal(t, 0, l.Flush(ctx))
	assert.False(t, conv.Dirty)
	assert.True(t, conv.Persisted)

	// nothing left to write
	assert.Equal(t, 0, l.Flush(ctx))
}

func TestFlushWritesClosedConversation(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	kv := store_mock.NewMockIKVStore(mockCtrl)
	kv.EXPECT().Get(gomock.Any(), "shopChats").Return(nil, false, nil).AnyTimes()
	var written []byte
	gomock.InOrder(
		kv.EXPECT().Set(gomock.Any(), "shopChats", gomock.Any()).Return(errors.New("disk full")).Times(2),
		kv.EXPECT().Set(gomock.Any(), "shopChats", gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, value []byte) error {
				written = value
				return nil
			}),
	)

	l := newTestLedger(t, kv, localU1)
	conv, err := l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s1"})
	require.NoError(t, err)
	m, err := l.AppendText(ctx, conv, "in stock?")
	require.NoError(t, err)
	l.Close(conv)
	assert.Empty(t, l.Conversations())

	// still failing
	assert.Equal(t, 1, l.Flush(ctx))
	assert.True(t, conv.Dirty)

	assert.Equal(t, 0, l.Flush(ctx))
	assert.False(t, conv.Dirty)
	records, err := store.DecodeRecords(written)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].Text("shopId"))
	assert.Contains(t, string(records[0]["messages"]), m.ID)
}

func TestDirtyConversationSurvivesEviction(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	kv := store_mock.NewMockIKVStore(mockCtrl)
	kv.EXPECT().Get(gomock.Any(), "shopChats").Return(nil, false, nil).AnyTimes()
	kv.EXPECT().Set(gomock.Any(), "shopChats", gomock.Any()).Return(errors.New("disk full")).AnyTimes()

	l, err := New(kv, localU1, 1)
	require.NoError(t, err)
	conv, err := l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s1"})
	require.NoError(t, err)
	_, err = l.AppendText(ctx, conv, "in stock?")
	require.NoError(t, err)
	l.Close(conv)

	// evicts s1 from the cache.
	other, err := l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s2"})
	require.NoError(t, err)
	l.Close(other)

	again, err := l.Load(ctx, Target{Domain: partner.Shop, PartnerID: "s1"})
	require.NoError(t, err)
	assert.Same(t, conv, again)
	assert.Len(t, again.Messages, 1)
}

func TestLostFoundDefaultsToLost(t *testing.T) {
	kv := store.NewMemStore()
	l := newTestLedger(t, kv, localU1)

	conv, err := l.Load(ctx, Target{Domain: partner.LostFound, PartnerID: "post1", DisplayName: "Max"})
	require.NoError(t, err)
	assert.Equal(t, partner.SurfaceLost, conv.Surface)
	lost, err := l.Load(ctx, Target{Domain: partner.LostFound, Surface: partner.SurfaceLost, PartnerID: "post1"})
	require.NoError(t, err)
	assert.Same(t, conv, lost)

	_, err = l.AppendText(ctx, conv, "is this Max?")
	require.NoError(t, err)
	// a change that is not written back: List must read it from memory.
	require.NoError(t, l.Apply(ctx, conv, func(c *chatstore.Conversation) bool {
		c.IsOnline = true
		return false
	}))

	for _, s := range []partner.Surface{partner.SurfaceNone, partner.SurfaceLost} {
		headers, err := l.List(ctx, partner.LostFound, s)
		require.NoError(t, err)
		require.Len(t, headers, 1)
		assert.Equal(t, "post1", headers[0].PartnerID)
		assert.True(t, headers[0].IsOnline)
	}

	headers, err := l.List(ctx, partner.LostFound, partner.SurfaceFound)
	require.NoError(t, err)
	assert.Empty(t, headers)
}
