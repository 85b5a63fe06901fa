package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const room = domain.RoomID("hall")

func slot(n int, user domain.UserID) domain.MicSlot {
	return domain.MicSlot{Key: domain.SlotKey{RoomID: room, Number: n}, UserID: user, OccupiedSince: time.Unix(100, 0)}
}

func TestProject_CellsOverflowAndQueue(t *testing.T) {
	profiles := memory.NewProfiles()
	profiles.Set(domain.Profile{UserID: "alice", DisplayName: "Alice", AvatarURL: "a.png", Level: 7})

	settings := domain.DefaultMicSettings()
	settings.MicCount = 4
	t0 := time.Unix(1000, 0)
	snap := core.NewSnapshot(room, settings,
		[]domain.MicSlot{slot(2, "alice"), slot(6, "bob")},
		[]int{3},
		[]domain.MicRequest{
			{ID: "r2", RoomID: room, UserID: "dave", CreatedAt: t0.Add(time.Second), Status: domain.RequestPending},
			{ID: "r1", RoomID: room, UserID: "carol", CreatedAt: t0, Status: domain.RequestPending},
		})
	snap.Version = 9

	grid := projection.NewProjector(profiles).Project(context.Background(), snap)

	assert.Equal(t, uint64(9), grid.Version)
	require.Len(t, grid.Cells, 5)
	assert.Equal(t, projection.CellEmpty, grid.Cells[0].State)
	assert.Equal(t, projection.CellOccupied, grid.Cells[1].State)
	assert.Equal(t, "Alice", grid.Cells[1].User.DisplayName)
	assert.Equal(t, projection.CellLocked, grid.Cells[2].State)
	assert.True(t, grid.Cells[2].Locked)
	assert.Equal(t, projection.CellEmpty, grid.Cells[3].State)

	over := grid.Cells[4]
	assert.True(t, over.Overflow)
	assert.Equal(t, 6, over.Number)
	assert.Equal(t, "bob", over.User.DisplayName, "unknown users get a placeholder")

	require.Len(t, grid.Queue, 2)
	assert.Equal(t, domain.RequestID("r1"), grid.Queue[0].Request.ID)
	assert.Equal(t, domain.UserID("carol"), grid.Queue[0].User.UserID)
}

type mockProfiles struct{ mock.Mock }

func (m *mockProfiles) GetProfile(ctx context.Context, user domain.UserID) (domain.Profile, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(domain.Profile), args.Error(1)
}

func TestProject_ProfileFailureDegrades(t *testing.T) {
	profiles := new(mockProfiles)
	profiles.On("GetProfile", mock.Anything, domain.UserID("alice")).Return(domain.Profile{}, errors.New("timeout"))

	snap := core.NewSnapshot(room, domain.DefaultMicSettings(), []domain.MicSlot{slot(1, "alice")}, nil, nil)
	grid := projection.NewProjector(profiles).Project(context.Background(), snap)

	require.NotNil(t, grid.Cells[0].User)
	assert.Equal(t, domain.PlaceholderProfile("alice"), *grid.Cells[0].User)
	assert.Len(t, grid.Cells, 8)
	profiles.AssertExpectations(t)
}
