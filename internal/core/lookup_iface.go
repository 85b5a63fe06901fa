package core

import (
	"context"

	"github.com/dkeye/MicRoom/internal/domain"
)

// RoleLookup resolves a user's role in a room. Used only by the moderation gateway.
type RoleLookup interface {
	RoleLevel(ctx context.Context, user domain.UserID, room domain.RoomID) (domain.Role, error)
}

// ProfileLookup decorates users for display. Failures must never block occupancy logic.
type ProfileLookup interface {
	GetProfile(ctx context.Context, user domain.UserID) (domain.Profile, error)
}
