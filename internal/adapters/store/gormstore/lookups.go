package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lookups reads room_roles and profiles. Missing rows mean listener and placeholder.
type Lookups struct {
	db *gorm.DB
}

var (
	_ core.RoleLookup    = (*Lookups)(nil)
	_ core.ProfileLookup = (*Lookups)(nil)
)

func NewLookups(db *gorm.DB) *Lookups { return &Lookups{db: db} }

func (l *Lookups) RoleLevel(ctx context.Context, user domain.UserID, room domain.RoomID) (domain.Role, error) {
	var row roomRoleRow
	err := l.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", string(room), string(user)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RoleListener, nil
	}
	if err != nil {
		return domain.RoleListener, fmt.Errorf("gorm: role %s in %s: %w", user, room, err)
	}
	return domain.Role(row.Level), nil
}

func (l *Lookups) SetRole(ctx context.Context, user domain.UserID, room domain.RoomID, role domain.Role) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&roomRoleRow{RoomID: string(room), UserID: string(user), Level: int(role)}).Error
}

func (l *Lookups) GetProfile(ctx context.Context, user domain.UserID) (domain.Profile, error) {
	var row profileRow
	err := l.db.WithContext(ctx).Where("user_id = ?", string(user)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PlaceholderProfile(user), nil
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("gorm: profile %s: %w", user, err)
	}
	return domain.Profile{UserID: user, DisplayName: row.DisplayName, AvatarURL: row.AvatarURL, Level: row.Level}, nil
}

func (l *Lookups) SetProfile(ctx context.Context, p domain.Profile) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&profileRow{UserID: string(p.UserID), DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, Level: p.Level}).Error
}
