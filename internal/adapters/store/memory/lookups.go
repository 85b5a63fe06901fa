package memory

import (
	"context"
	"sync"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

type roleKey struct {
	user domain.UserID
	room domain.RoomID
}

// Roles is a static role table. Unknown users are listeners. A global
// role applies in every room and wins over a lower per-room one.
type Roles struct {
	mu     sync.RWMutex
	roles  map[roleKey]domain.Role
	global map[domain.UserID]domain.Role
}

var _ core.RoleLookup = (*Roles)(nil)

func NewRoles() *Roles {
	return &Roles{roles: make(map[roleKey]domain.Role), global: make(map[domain.UserID]domain.Role)}
}

func (r *Roles) Set(user domain.UserID, room domain.RoomID, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[roleKey{user, room}] = role
}

func (r *Roles) SetGlobal(user domain.UserID, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[user] = role
}

func (r *Roles) RoleLevel(_ context.Context, user domain.UserID, room domain.RoomID) (domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role := r.roles[roleKey{user, room}]
	if g := r.global[user]; g.Outranks(role) {
		role = g
	}
	return role, nil
}

// Profiles is a static profile table. Unknown users get a placeholder.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.Profile
}

var _ core.ProfileLookup = (*Profiles)(nil)

func NewProfiles() *Profiles {
	return &Profiles{profiles: make(map[domain.UserID]domain.Profile)}
}

func (p *Profiles) Set(profile domain.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.UserID] = profile
}

func (p *Profiles) GetProfile(_ context.Context, user domain.UserID) (domain.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pr, ok := p.profiles[user]; ok {
		return pr, nil
	}
	return domain.PlaceholderProfile(user), nil
}
