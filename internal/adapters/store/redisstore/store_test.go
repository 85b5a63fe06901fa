package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/MicRoom/internal/adapters/store/redisstore"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = domain.RoomID("r42")

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func key(n int) domain.SlotKey { return domain.SlotKey{RoomID: room, Number: n} }

func slot(n int, user domain.UserID, since time.Time) domain.MicSlot {
	return domain.MicSlot{Key: key(n), UserID: user, OccupiedSince: since}
}

func TestStore_SettingsDefaultAndRoundTrip(t *testing.T) {
	s := redisstore.New(newClient(t), "test:")
	ctx := context.Background()

	got, err := s.GetSettings(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMicSettings(), got)

	got.MicCount = 4
	got.MicTimeLimit = 120
	got.ChatMuted = true
	require.NoError(t, s.SaveSettings(ctx, room, got))

	again, err := s.GetSettings(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestStore_SlotUniqueness(t *testing.T) {
	s := redisstore.New(newClient(t), "")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.InsertSlot(ctx, slot(1, "alice", now)))
	assert.ErrorIs(t, s.InsertSlot(ctx, slot(1, "bob", now)), domain.ErrSlotOccupied)
	assert.ErrorIs(t, s.InsertSlot(ctx, slot(2, "alice", now)), domain.ErrAlreadySeated)

	require.NoError(t, s.SetSlotLock(ctx, key(3), true))
	assert.ErrorIs(t, s.InsertSlot(ctx, slot(3, "bob", now)), domain.ErrSlotLocked)
	require.NoError(t, s.SetSlotLock(ctx, key(3), false))
	require.NoError(t, s.InsertSlot(ctx, slot(3, "bob", now)))

	slots, err := s.ListSlots(ctx, room)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, domain.UserID("alice"), slots[0].UserID)
	assert.True(t, now.Equal(slots[0].OccupiedSince))
	assert.Equal(t, 3, slots[1].Key.Number)
}

func TestStore_ConditionalDeleteAndMute(t *testing.T) {
	s := redisstore.New(newClient(t), "")
	ctx := context.Background()
	since := time.Date(2026, 5, 1, 8, 0, 0, 123456000, time.UTC)

	require.NoError(t, s.InsertSlot(ctx, slot(2, "alice", since)))

	require.NoError(t, s.SetSlotMuted(ctx, key(2), true))
	assert.ErrorIs(t, s.SetSlotMuted(ctx, key(5), true), domain.ErrNotFound)
	slots, err := s.ListSlots(ctx, room)
	require.NoError(t, err)
	assert.True(t, slots[0].ModeratorMuted)

	ok, err := s.DeleteSlot(ctx, key(2), core.SlotCondition{UserID: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteSlot(ctx, key(2), core.SlotCondition{UserID: "alice", Since: since.Add(time.Microsecond)})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteSlot(ctx, key(2), core.SlotCondition{UserID: "alice", Since: since})
	require.NoError(t, err)
	assert.True(t, ok)

	// The user index went with it.
	require.NoError(t, s.InsertSlot(ctx, slot(4, "alice", since)))
	require.NoError(t, s.InsertSlot(ctx, slot(2, "bob", since)))
	slots, err = s.ListSlots(ctx, room)
	require.NoError(t, err)
	assert.False(t, slots[0].ModeratorMuted, "mute does not survive a new occupancy")

	n, err := s.ClearSlots(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	slots, err = s.ListSlots(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestStore_RequestLifecycle(t *testing.T) {
	s := redisstore.New(newClient(t), "")
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	first := domain.MicRequest{ID: "01A", RoomID: room, UserID: "alice", Status: domain.RequestPending, CreatedAt: t0}
	require.NoError(t, s.InsertRequest(ctx, first))
	dup := first
	dup.ID = "01B"
	assert.ErrorIs(t, s.InsertRequest(ctx, dup), domain.ErrAlreadyPending)

	other := domain.MicRequest{ID: "01C", RoomID: room, UserID: "bob", RequestedSlot: 3, Status: domain.RequestPending, CreatedAt: t0.Add(-time.Second)}
	require.NoError(t, s.InsertRequest(ctx, other))

	pending, err := s.ListPendingRequests(ctx, room)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.RequestID("01C"), pending[0].ID, "oldest first")

	assert.ErrorIs(t, s.DeletePendingRequest(ctx, "01A", "bob"), domain.ErrNotFound)
	require.NoError(t, s.ResolveRequest(ctx, "01A", domain.RequestApproved, t0))
	assert.ErrorIs(t, s.ResolveRequest(ctx, "01A", domain.RequestRejected, t0), domain.ErrNotFound)
	assert.ErrorIs(t, s.DeletePendingRequest(ctx, "01A", "alice"), domain.ErrNotFound)

	got, err := s.GetRequest(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, got.Status)
	require.NotNil(t, got.RespondedAt)

	require.NoError(t, s.DeletePendingRequest(ctx, "01C", "bob"))
	_, err = s.GetRequest(ctx, "01C")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Resolution frees the pending slot for a fresh request.
	require.NoError(t, s.InsertRequest(ctx, dup))
	pending, err = s.ListPendingRequests(ctx, room)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.RequestID("01B"), pending[0].ID)
}

func TestRegistryOverRedis_ConcurrentJoin(t *testing.T) {
	rdb := newClient(t)
	reg := mic.NewRegistry(redisstore.New(rdb, ""), redisstore.NewFeed(rdb, ""))
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(u domain.UserID) {
			defer wg.Done()
			_, err := reg.JoinSlot(ctx, u, room, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, domain.ErrSlotOccupied)
		}(domain.UserID(string(rune('a' + i))))
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestFeed_DeliversRoomNotifications(t *testing.T) {
	rdb := newClient(t)
	feed := redisstore.NewFeed(rdb, "")
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, room)
	require.NoError(t, err)

	other, err := feed.Subscribe(ctx, "elsewhere")
	require.NoError(t, err)
	defer other.Close()

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, feed.Publish(ctx, core.Notification{RoomID: room, Stream: core.StreamRequests, Op: core.OpDelete, At: at}))

	select {
	case n := <-sub.C():
		assert.Equal(t, room, n.RoomID)
		assert.Equal(t, core.StreamRequests, n.Stream)
		assert.Equal(t, core.OpDelete, n.Op)
		assert.True(t, at.Equal(n.At))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case n := <-other.C():
		t.Fatalf("leaked notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestLookups(t *testing.T) {
	l := redisstore.NewLookups(newClient(t), "")
	ctx := context.Background()

	r, err := l.RoleLevel(ctx, "alice", room)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleListener, r)

	require.NoError(t, l.SetRole(ctx, "alice", room, domain.RoleAdmin))
	r, err = l.RoleLevel(ctx, "alice", room)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, r)

	p, err := l.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.PlaceholderProfile("bob"), p)

	want := domain.Profile{UserID: "bob", DisplayName: "Bobby", AvatarURL: "b.png", Level: 3}
	require.NoError(t, l.SetProfile(ctx, want))
	p, err = l.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, want, p)
}
