package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Lookups reads roles from a per-room hash (user -> level) and profiles
// from one hash per user. Both are written by the surrounding platform.
type Lookups struct {
	rdb  redis.UniversalClient
	keys keys
}

var (
	_ core.RoleLookup    = (*Lookups)(nil)
	_ core.ProfileLookup = (*Lookups)(nil)
)

func NewLookups(rdb redis.UniversalClient, prefix string) *Lookups {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Lookups{rdb: rdb, keys: keys{prefix: prefix}}
}

func (l *Lookups) RoleLevel(ctx context.Context, user domain.UserID, room domain.RoomID) (domain.Role, error) {
	v, err := l.rdb.HGet(ctx, l.keys.roles(room), string(user)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.RoleListener, nil
	}
	if err != nil {
		return domain.RoleListener, fmt.Errorf("redis: role %s in %s: %w", user, room, err)
	}
	if lvl, err := strconv.Atoi(v); err == nil {
		return domain.Role(lvl), nil
	}
	if r, ok := domain.ParseRole(v); ok {
		return r, nil
	}
	return domain.RoleListener, fmt.Errorf("redis: role %s in %s: unknown value %q", user, room, v)
}

func (l *Lookups) SetRole(ctx context.Context, user domain.UserID, room domain.RoomID, role domain.Role) error {
	return l.rdb.HSet(ctx, l.keys.roles(room), string(user), int(role)).Err()
}

func (l *Lookups) GetProfile(ctx context.Context, user domain.UserID) (domain.Profile, error) {
	m, err := l.rdb.HGetAll(ctx, l.keys.profile(user)).Result()
	if err != nil {
		return domain.Profile{}, fmt.Errorf("redis: profile %s: %w", user, err)
	}
	if len(m) == 0 {
		return domain.PlaceholderProfile(user), nil
	}
	level, _ := strconv.Atoi(m["level"])
	return domain.Profile{
		UserID:      user,
		DisplayName: m["display_name"],
		AvatarURL:   m["avatar_url"],
		Level:       level,
	}, nil
}

func (l *Lookups) SetProfile(ctx context.Context, p domain.Profile) error {
	return l.rdb.HSet(ctx, l.keys.profile(p.UserID),
		"display_name", p.DisplayName,
		"avatar_url", p.AvatarURL,
		"level", p.Level,
	).Err()
}
