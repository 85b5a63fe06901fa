package gormstore_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/adapters/store/gormstore"
	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/dkeye/MicRoom/internal/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// These tests need a disposable Postgres; set MICROOM_TEST_POSTGRES_DSN to run them.
func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("MICROOM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MICROOM_TEST_POSTGRES_DSN not set")
	}
	db, err := gormstore.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, gormstore.AutoMigrate(db))
	return db
}

// freshRoom isolates each test by room id instead of truncating tables.
func freshRoom() domain.RoomID { return domain.RoomID("t-" + idgen.NewULID()) }

func TestStore_SlotConstraints(t *testing.T) {
	s := gormstore.New(openDB(t))
	ctx := context.Background()
	room := freshRoom()
	key := func(n int) domain.SlotKey { return domain.SlotKey{RoomID: room, Number: n} }
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.InsertSlot(ctx, domain.MicSlot{Key: key(1), UserID: "alice", OccupiedSince: now}))
	assert.ErrorIs(t, s.InsertSlot(ctx, domain.MicSlot{Key: key(1), UserID: "bob", OccupiedSince: now}), domain.ErrSlotOccupied)
	assert.ErrorIs(t, s.InsertSlot(ctx, domain.MicSlot{Key: key(2), UserID: "alice", OccupiedSince: now}), domain.ErrAlreadySeated)

	require.NoError(t, s.SetSlotLock(ctx, key(3), true))
	require.NoError(t, s.SetSlotLock(ctx, key(3), true))
	assert.ErrorIs(t, s.InsertSlot(ctx, domain.MicSlot{Key: key(3), UserID: "bob", OccupiedSince: now}), domain.ErrSlotLocked)

	ok, err := s.DeleteSlot(ctx, key(1), core.SlotCondition{UserID: "alice", Since: now})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_PendingIndex(t *testing.T) {
	s := gormstore.New(openDB(t))
	ctx := context.Background()
	room := freshRoom()

	req := domain.MicRequest{ID: domain.RequestID(idgen.NewULID()), RoomID: room, UserID: "alice", Status: domain.RequestPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertRequest(ctx, req))
	dup := req
	dup.ID = domain.RequestID(idgen.NewULID())
	assert.ErrorIs(t, s.InsertRequest(ctx, dup), domain.ErrAlreadyPending)

	require.NoError(t, s.ResolveRequest(ctx, req.ID, domain.RequestRejected, time.Now()))
	assert.ErrorIs(t, s.ResolveRequest(ctx, req.ID, domain.RequestApproved, time.Now()), domain.ErrNotFound)
	require.NoError(t, s.InsertRequest(ctx, dup), "resolved rows do not count against the partial index")
}

func TestRegistryOverPostgres(t *testing.T) {
	db := openDB(t)
	reg := mic.NewRegistry(gormstore.New(db), memory.NewFeed())
	ctx := context.Background()
	room := freshRoom()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(u domain.UserID) {
			defer wg.Done()
			if _, err := reg.JoinSlot(ctx, u, room, 2); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(domain.UserID(string(rune('a' + i))))
	}
	wg.Wait()
	assert.Equal(t, 1, ok)

	req, err := reg.RequestMic(ctx, "zed", room, 0)
	require.NoError(t, err)
	require.NoError(t, reg.ApproveRequest(ctx, req.ID, 0))
	snap, err := reg.Snapshot(ctx, room)
	require.NoError(t, err)
	zed, seated := snap.SlotOf("zed")
	require.True(t, seated)
	assert.Equal(t, 1, zed.Key.Number)

	expired, err := reg.ExpireSlot(ctx, zed.Key, "zed", zed.OccupiedSince)
	require.NoError(t, err)
	assert.True(t, expired, "occupied_since survives the round trip exactly")
}

func TestLookups(t *testing.T) {
	l := gormstore.NewLookups(openDB(t))
	ctx := context.Background()
	room := freshRoom()

	require.NoError(t, l.SetRole(ctx, "alice", room, domain.RoleModerator))
	r, err := l.RoleLevel(ctx, "alice", room)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, r)

	r, err = l.RoleLevel(ctx, "nobody", room)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleListener, r)
}
