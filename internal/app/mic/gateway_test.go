package mic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) (*mic.Gateway, *memory.Roles) {
	t.Helper()
	roles := memory.NewRoles()
	roles.Set("mod", room, domain.RoleModerator)
	roles.Set("admin", room, domain.RoleAdmin)
	roles.Set("owner", room, domain.RoleOwner)
	roles.Set("member", room, domain.RoleMember)
	return mic.NewGateway(newRegistry(t, memory.NewStore()), roles), roles
}

func TestGateway_RoomWideActionsNeedModerator(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()

	req, err := gw.RequestMic(ctx, "alice", room, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, gw.ApproveRequest(ctx, "member", room, req.ID, 0), domain.ErrForbidden)
	assert.ErrorIs(t, gw.RejectRequest(ctx, "alice", room, req.ID), domain.ErrForbidden)
	assert.ErrorIs(t, gw.LockSlot(ctx, "member", key(1), true), domain.ErrForbidden)
	_, err = gw.UpdateSettings(ctx, "member", room, domain.SettingsPatch{MicEnabled: ptr(false)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Nothing changed.
	snap, err := gw.Snapshot(ctx, room)
	require.NoError(t, err)
	assert.True(t, snap.Settings.MicEnabled)
	require.Len(t, snap.Requests, 1)
	assert.Empty(t, snap.Slots)

	require.NoError(t, gw.ApproveRequest(ctx, "mod", room, req.ID, 0))
	snap, err = gw.Snapshot(ctx, room)
	require.NoError(t, err)
	_, seated := snap.SlotOf("alice")
	assert.True(t, seated)
}

func TestGateway_RequestFromAnotherRoomIsNotFound(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()

	req, err := gw.RequestMic(ctx, "alice", "other-room", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, gw.ApproveRequest(ctx, "mod", room, req.ID, 0), domain.ErrNotFound)

	// Own request, wrong room: still not found, and still pending.
	assert.ErrorIs(t, gw.CancelRequest(ctx, "alice", room, req.ID), domain.ErrNotFound)
	snap, err := gw.Snapshot(ctx, "other-room")
	require.NoError(t, err)
	require.Len(t, snap.Requests, 1)
	require.NoError(t, gw.CancelRequest(ctx, "alice", "other-room", req.ID))
}

func TestGateway_TargetedActionsNeedHigherRank(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()

	_, err := gw.JoinSlot(ctx, "admin", "admin", room, 1)
	require.NoError(t, err)
	_, err = gw.JoinSlot(ctx, "member", "member", room, 2)
	require.NoError(t, err)

	cases := []struct {
		name   string
		caller domain.UserID
		slot   int
		want   error
	}{
		{"listener cannot mute", "alice", 2, domain.ErrForbidden},
		{"moderator cannot mute admin", "mod", 1, domain.ErrForbidden},
		{"moderator mutes member", "mod", 2, nil},
		{"owner mutes admin", "owner", 1, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := gw.ToggleModeratorMute(ctx, tc.caller, key(tc.slot), true)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.ErrorIs(t, gw.RemoveFromMic(ctx, "mod", key(1)), domain.ErrForbidden)
	require.NoError(t, gw.RemoveFromMic(ctx, "admin", key(2)))
	// Removing an empty slot is a no-op for a moderator.
	require.NoError(t, gw.RemoveFromMic(ctx, "mod", key(2)))
}

func TestGateway_JoinOnBehalf(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()

	_, err := gw.JoinSlot(ctx, "member", "alice", room, 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = gw.JoinSlot(ctx, "mod", "admin", room, 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	slot, err := gw.JoinSlot(ctx, "mod", "alice", room, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), slot.UserID)

	// Self join bypasses the gate even for listeners.
	_, err = gw.JoinSlot(ctx, "bob", "", room, 2)
	require.NoError(t, err)
}

type failingRoles struct {
	mock.Mock
}

func (m *failingRoles) RoleLevel(ctx context.Context, user domain.UserID, r domain.RoomID) (domain.Role, error) {
	args := m.Called(ctx, user, r)
	return args.Get(0).(domain.Role), args.Error(1)
}

func TestGateway_RoleLookupFailureIsNotAGrant(t *testing.T) {
	roles := new(failingRoles)
	boom := errors.New("directory down")
	roles.On("RoleLevel", mock.Anything, domain.UserID("mod"), room).Return(domain.RoleOwner, boom)

	gw := mic.NewGateway(newRegistry(t, memory.NewStore()), roles)
	_, err := gw.UpdateSettings(context.Background(), "mod", room, domain.SettingsPatch{MicEnabled: ptr(false)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	snap, err := gw.Snapshot(context.Background(), room)
	require.NoError(t, err)
	assert.True(t, snap.Settings.MicEnabled)
	roles.AssertExpectations(t)
}
