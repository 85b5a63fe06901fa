package mic

import (
	"context"
	"fmt"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Gateway checks the caller's room role before forwarding privileged
// operations to the Registry. Self-service calls pass straight through.
type Gateway struct {
	reg   *Registry
	roles core.RoleLookup
}

func NewGateway(reg *Registry, roles core.RoleLookup) *Gateway {
	return &Gateway{reg: reg, roles: roles}
}

func (g *Gateway) Registry() *Registry { return g.reg }

func (g *Gateway) role(ctx context.Context, user domain.UserID, room domain.RoomID) (domain.Role, error) {
	r, err := g.roles.RoleLevel(ctx, user, room)
	if err != nil {
		return domain.RoleListener, fmt.Errorf("role lookup %s: %w", user, err)
	}
	return r, nil
}

// requireModerator gates room-wide actions.
func (g *Gateway) requireModerator(ctx context.Context, caller domain.UserID, room domain.RoomID) (domain.Role, error) {
	r, err := g.role(ctx, caller, room)
	if err != nil {
		return r, err
	}
	if !r.AtLeast(domain.RoleModerator) {
		log.Debug().Str("module", "app.mic").Str("room", string(room)).Str("caller", string(caller)).Stringer("role", r).Msg("privileged call denied")
		return r, domain.ErrForbidden
	}
	return r, nil
}

// requireOver gates actions aimed at another user: caller must be a
// moderator and strictly outrank the target.
func (g *Gateway) requireOver(ctx context.Context, caller, target domain.UserID, room domain.RoomID) error {
	cr, err := g.requireModerator(ctx, caller, room)
	if err != nil {
		return err
	}
	if target == "" || target == caller {
		return nil
	}
	tr, err := g.role(ctx, target, room)
	if err != nil {
		return err
	}
	if !cr.Outranks(tr) {
		log.Debug().Str("module", "app.mic").Str("room", string(room)).Str("caller", string(caller)).Str("target", string(target)).Msg("target outranks caller")
		return domain.ErrForbidden
	}
	return nil
}

func (g *Gateway) RequestMic(ctx context.Context, caller domain.UserID, room domain.RoomID, slot int) (domain.MicRequest, error) {
	return g.reg.RequestMic(ctx, caller, room, slot)
}

func (g *Gateway) CancelRequest(ctx context.Context, caller domain.UserID, room domain.RoomID, id domain.RequestID) error {
	if err := g.sameRoom(ctx, room, id); err != nil {
		return err
	}
	return g.reg.CancelRequest(ctx, caller, id)
}

func (g *Gateway) LeaveSlot(ctx context.Context, caller domain.UserID, key domain.SlotKey) error {
	return g.reg.LeaveSlot(ctx, caller, key)
}

// JoinSlot seats target. Seating someone other than the caller is a moderator action.
func (g *Gateway) JoinSlot(ctx context.Context, caller, target domain.UserID, room domain.RoomID, number int) (domain.MicSlot, error) {
	if target == "" {
		target = caller
	}
	if target != caller {
		if err := g.requireOver(ctx, caller, target, room); err != nil {
			return domain.MicSlot{}, err
		}
	}
	return g.reg.JoinSlot(ctx, target, room, number)
}

func (g *Gateway) ApproveRequest(ctx context.Context, caller domain.UserID, room domain.RoomID, id domain.RequestID, number int) error {
	if _, err := g.requireModerator(ctx, caller, room); err != nil {
		return err
	}
	if err := g.sameRoom(ctx, room, id); err != nil {
		return err
	}
	return g.reg.ApproveRequest(ctx, id, number)
}

func (g *Gateway) RejectRequest(ctx context.Context, caller domain.UserID, room domain.RoomID, id domain.RequestID) error {
	if _, err := g.requireModerator(ctx, caller, room); err != nil {
		return err
	}
	if err := g.sameRoom(ctx, room, id); err != nil {
		return err
	}
	return g.reg.RejectRequest(ctx, id)
}

// sameRoom keeps a moderator of one room from resolving another room's requests.
func (g *Gateway) sameRoom(ctx context.Context, room domain.RoomID, id domain.RequestID) error {
	req, err := g.reg.Request(ctx, id)
	if err != nil {
		return err
	}
	if req.RoomID != room {
		return domain.ErrNotFound
	}
	return nil
}

func (g *Gateway) RemoveFromMic(ctx context.Context, caller domain.UserID, key domain.SlotKey) error {
	if _, err := g.requireModerator(ctx, caller, key.RoomID); err != nil {
		return err
	}
	target, err := g.reg.Occupant(ctx, key)
	if err != nil {
		return err
	}
	if err := g.requireOver(ctx, caller, target, key.RoomID); err != nil {
		return err
	}
	return g.reg.RemoveFromMic(ctx, key)
}

func (g *Gateway) ToggleModeratorMute(ctx context.Context, caller domain.UserID, key domain.SlotKey, muted bool) error {
	if _, err := g.requireModerator(ctx, caller, key.RoomID); err != nil {
		return err
	}
	target, err := g.reg.Occupant(ctx, key)
	if err != nil {
		return err
	}
	if target == "" {
		return domain.ErrNotFound
	}
	if err := g.requireOver(ctx, caller, target, key.RoomID); err != nil {
		return err
	}
	return g.reg.ToggleModeratorMute(ctx, key, muted)
}

func (g *Gateway) LockSlot(ctx context.Context, caller domain.UserID, key domain.SlotKey, locked bool) error {
	if _, err := g.requireModerator(ctx, caller, key.RoomID); err != nil {
		return err
	}
	return g.reg.LockSlot(ctx, key, locked)
}

func (g *Gateway) UpdateSettings(ctx context.Context, caller domain.UserID, room domain.RoomID, patch domain.SettingsPatch) (domain.RoomMicSettings, error) {
	if _, err := g.requireModerator(ctx, caller, room); err != nil {
		return domain.RoomMicSettings{}, err
	}
	return g.reg.UpdateSettings(ctx, room, patch)
}

func (g *Gateway) Snapshot(ctx context.Context, room domain.RoomID) (core.Snapshot, error) {
	return g.reg.Snapshot(ctx, room)
}
