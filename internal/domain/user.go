// Package domain contains entity without logic, just meta-data
package domain

import "strings"

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrUserIDEmpty   = newError(KindInvalid, "invalid_user", "user id empty")
	ErrUserIDTooLong = newError(KindInvalid, "invalid_user", "user id too long")
)

type UserID string

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// Profile is the display decoration for a user. It never drives occupancy.
type Profile struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Level       int    `json:"level"`
}

// PlaceholderProfile is shown when the profile collaborator is unavailable.
func PlaceholderProfile(id UserID) Profile {
	name := string(id)
	if len(name) > MaxDisplayNameLen {
		name = name[:MaxDisplayNameLen]
	}
	return Profile{UserID: id, DisplayName: name}
}
