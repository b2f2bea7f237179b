package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

const itemID = "00000000-0000-4000-8000-000000000007"

type boost struct {
	multiplier float64
	expiresAt  time.Time
}

type memoryStore struct {
	mu         sync.Mutex
	boosts     map[domain.ItemRef]boost
	tombstones map[domain.ItemRef]time.Time
	err        error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{boosts: map[domain.ItemRef]boost{}, tombstones: map[domain.ItemRef]time.Time{}}
}

func (m *memoryStore) ActiveBoosts(ctx context.Context) (map[domain.ItemRef]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.ItemRef]float64, len(m.boosts))
	for ref, b := range m.boosts {
		out[ref] = b.multiplier
	}
	return out, nil
}

func (m *memoryStore) SetBoost(ctx context.Context, ref domain.ItemRef, multiplier float64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.boosts[ref] = boost{multiplier: multiplier, expiresAt: expiresAt}
	return nil
}

func (m *memoryStore) ClearBoost(ctx context.Context, ref domain.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boosts, ref)
	return nil
}

func (m *memoryStore) AddTombstone(ctx context.Context, ref domain.ItemRef, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tombstones[ref] = deletedAt
	return nil
}

func (m *memoryStore) Tombstones(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.ItemRef]bool{}
	for _, r := range refs {
		if _, ok := m.tombstones[r]; ok {
			out[r] = true
		}
	}
	return out, nil
}

func (m *memoryStore) boostOf(ref domain.ItemRef) (boost, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boosts[ref]
	return b, ok
}

func (m *memoryStore) tombstoned(ref domain.ItemRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tombstones[ref]
	return ok
}

type countingCache struct{ n atomic.Int64 }

func (c *countingCache) Invalidate() { c.n.Add(1) }

func clampTo(lo, hi float64) MultiplierClamp {
	return func(m float64) float64 { return min(max(m, lo), hi) }
}

func msg(subject, data string) *nats.Msg {
	return &nats.Msg{Subject: subject, Data: []byte(data)}
}

func TestHandleContentDeleted(t *testing.T) {
	store := newMemoryStore()
	h := NewEventHandler(store, store, &countingCache{}, nil)

	h.HandleContentDeleted(msg(SubjectContentDeleted, `{"type":"post","id":"`+itemID+`","deleted_at":"2026-03-01T10:00:00Z"}`))

	ref := domain.ItemRef{Type: domain.TypePost, ID: itemID}
	require.True(t, store.tombstoned(ref))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), store.tombstones[ref].UTC())
}

func TestHandleContentDeleted_RejectsBadPayloads(t *testing.T) {
	store := newMemoryStore()
	h := NewEventHandler(store, store, &countingCache{}, nil)

	for _, data := range []string{
		`not json`,
		`{"type":"story","id":"` + itemID + `"}`,
		`{"type":"post","id":"42"}`,
		`{}`,
	} {
		h.HandleContentDeleted(msg(SubjectContentDeleted, data))
	}
	assert.Empty(t, store.tombstones)
}

func TestHandleCurationBoosted(t *testing.T) {
	store := newMemoryStore()
	cache := &countingCache{}
	h := NewEventHandler(store, store, cache, clampTo(1, 3))

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	h.HandleCurationBoosted(msg(SubjectCurationBoosted,
		`{"type":"project","id":"`+itemID+`","multiplier":10,"expires_at":"`+expires.Format(time.RFC3339)+`"}`))

	b, ok := store.boostOf(domain.ItemRef{Type: domain.TypeProject, ID: itemID})
	require.True(t, ok)
	assert.Equal(t, 3.0, b.multiplier, "multiplier is clamped")
	assert.True(t, expires.Equal(b.expiresAt))
	assert.Equal(t, int64(1), cache.n.Load())
}

func TestHandleCurationBoosted_IgnoresExpired(t *testing.T) {
	store := newMemoryStore()
	cache := &countingCache{}
	h := NewEventHandler(store, store, cache, nil)

	h.HandleCurationBoosted(msg(SubjectCurationBoosted,
		`{"type":"post","id":"`+itemID+`","multiplier":2,"expires_at":"2020-01-01T00:00:00Z"}`))

	assert.Empty(t, store.boosts)
	assert.Zero(t, cache.n.Load())
}

func TestHandleCurationBoosted_StoreErrorKeepsCache(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis down")
	cache := &countingCache{}
	h := NewEventHandler(store, store, cache, nil)

	h.HandleCurationBoosted(msg(SubjectCurationBoosted, `{"type":"post","id":"`+itemID+`","multiplier":2}`))
	assert.Zero(t, cache.n.Load())
}

func TestHandleCurationCleared(t *testing.T) {
	store := newMemoryStore()
	ref := domain.ItemRef{Type: domain.TypeGig, ID: itemID}
	store.boosts[ref] = boost{multiplier: 2}
	cache := &countingCache{}
	h := NewEventHandler(store, store, cache, nil)

	h.HandleCurationCleared(msg(SubjectCurationCleared, `{"type":"gig","id":"`+itemID+`"}`))

	_, ok := store.boostOf(ref)
	assert.False(t, ok)
	assert.Equal(t, int64(1), cache.n.Load())
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubscribe_EndToEnd(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	store := newMemoryStore()
	cache := &countingCache{}
	h := NewEventHandler(store, store, cache, clampTo(1, 3))

	subs, err := h.Subscribe(nc)
	require.NoError(t, err)
	assert.Len(t, subs, 3)
	for _, s := range subs {
		assert.Equal(t, QueueGroup, s.Queue)
	}

	require.NoError(t, nc.Publish(SubjectContentDeleted, []byte(`{"type":"repost","id":"`+itemID+`"}`)))
	require.NoError(t, nc.Publish(SubjectCurationBoosted, []byte(`{"type":"post","id":"`+itemID+`","multiplier":2}`)))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool {
		return store.tombstoned(domain.ItemRef{Type: domain.TypeRepost, ID: itemID})
	}, 2*time.Second, 10*time.Millisecond)

	postRef := domain.ItemRef{Type: domain.TypePost, ID: itemID}
	require.Eventually(t, func() bool {
		_, ok := store.boostOf(postRef)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, nc.Publish(SubjectCurationCleared, []byte(`{"type":"post","id":"`+itemID+`"}`)))
	require.Eventually(t, func() bool {
		_, ok := store.boostOf(postRef)
		return !ok && cache.n.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
