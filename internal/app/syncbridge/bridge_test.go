package syncbridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/syncbridge"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = domain.RoomID("lobby")

type recorder struct {
	mu      sync.Mutex
	updates []syncbridge.Update
}

func (r *recorder) observe(u syncbridge.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) last() syncbridge.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func start(t *testing.T, b *syncbridge.Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestBridge_PublishesVersionedDeltas(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	b := syncbridge.New(room, reg, feed, syncbridge.WithResync(0))

	rec := &recorder{}
	b.Observe(rec.observe)
	start(t, b)

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never became ready")
	}
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), rec.last().Snapshot.Version)

	_, err := reg.JoinSlot(context.Background(), "alice", room, 3)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	u := rec.last()
	assert.Equal(t, uint64(2), u.Snapshot.Version)
	require.Len(t, u.Delta.SlotsAdded, 1)
	assert.Equal(t, domain.UserID("alice"), u.Delta.SlotsAdded[0].UserID)
	assert.False(t, u.Delta.SettingsChanged)

	require.NoError(t, reg.LeaveSlot(context.Background(), "alice", domain.SlotKey{RoomID: room, Number: 3}))
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)
	require.Len(t, rec.last().Delta.SlotsRemoved, 1)
	assert.Empty(t, rec.last().Snapshot.Occupants())
}

func TestBridge_LateObserverGetsLatest(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	_, err := reg.JoinSlot(context.Background(), "bob", room, 1)
	require.NoError(t, err)

	b := syncbridge.New(room, reg, feed, syncbridge.WithResync(0))
	start(t, b)
	<-b.Ready()

	rec := &recorder{}
	cancel := b.Observe(rec.observe)
	require.Equal(t, 1, rec.len(), "replay happens synchronously")
	_, seated := rec.last().Snapshot.SlotOf("bob")
	assert.True(t, seated)

	cancel()
	_, err = reg.JoinSlot(context.Background(), "carol", room, 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		u, _ := b.Latest()
		return u.Snapshot.Version == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.len(), "cancelled observer receives nothing")
}

type countingFetcher struct {
	inner   syncbridge.Fetcher
	calls   atomic.Int32
	failN   int32
	gateAt  int32
	entered chan struct{}
	gate    chan struct{}
}

func (f *countingFetcher) Snapshot(ctx context.Context, r domain.RoomID) (core.Snapshot, error) {
	n := f.calls.Add(1)
	if n <= f.failN {
		return core.Snapshot{}, errors.New("store unreachable")
	}
	if f.gateAt != 0 && n == f.gateAt {
		close(f.entered)
		<-f.gate
	}
	return f.inner.Snapshot(ctx, r)
}

func TestBridge_IdenticalStateIsNotRepublished(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	fetch := &countingFetcher{inner: reg}
	b := syncbridge.New(room, fetch, feed, syncbridge.WithResync(0))

	rec := &recorder{}
	b.Observe(rec.observe)
	start(t, b)
	<-b.Ready()

	require.NoError(t, feed.Publish(context.Background(), core.Notification{RoomID: room, Stream: core.StreamSlots}))
	require.Eventually(t, func() bool { return fetch.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestBridge_FailedFetchRetriesOnResync(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	fetch := &countingFetcher{inner: reg, failN: 2}
	b := syncbridge.New(room, fetch, feed, syncbridge.WithResync(10*time.Millisecond))
	start(t, b)

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge gave up after failed fetches")
	}
	assert.GreaterOrEqual(t, fetch.calls.Load(), int32(3))
}

func TestBridge_CoalescesBurstDuringFetch(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	fetch := &countingFetcher{inner: reg, gateAt: 2, entered: make(chan struct{}), gate: make(chan struct{})}
	b := syncbridge.New(room, fetch, feed, syncbridge.WithResync(0))
	start(t, b)
	<-b.Ready()

	ctx := context.Background()
	note := core.Notification{RoomID: room, Stream: core.StreamRequests}
	require.NoError(t, feed.Publish(ctx, note))
	<-fetch.entered

	for i := 0; i < 5; i++ {
		require.NoError(t, feed.Publish(ctx, note))
	}
	close(fetch.gate)

	require.Eventually(t, func() bool { return fetch.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), fetch.calls.Load())
}

func TestBridge_SingleWorkerFanoutReachesEveryObserver(t *testing.T) {
	feed := memory.NewFeed()
	reg := mic.NewRegistry(memory.NewStore(), feed)
	b := syncbridge.New(room, reg, feed, syncbridge.WithResync(0), syncbridge.WithFanout(1))

	recs := []*recorder{{}, {}, {}}
	for _, r := range recs {
		b.Observe(r.observe)
	}
	start(t, b)
	<-b.Ready()

	_, err := reg.JoinSlot(context.Background(), "alice", room, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.Eventually(t, func() bool { return r.len() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, uint64(2), r.last().Snapshot.Version)
	}
}
