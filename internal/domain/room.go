package domain

import "strings"

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = newError(KindInvalid, "invalid_room", "room id empty")
	ErrRoomIDTooLong = newError(KindInvalid, "invalid_room", "room id too long")
)

type RoomID string

func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// AllowedMicCounts lists the capacities a room may be configured with.
var AllowedMicCounts = []int{2, 4, 6, 8}

// RoomMicSettings is the per-room mic configuration.
type RoomMicSettings struct {
	MicEnabled       bool `json:"mic_enabled"`
	MicCount         int  `json:"mic_count"`
	MicTimeLimit     int  `json:"mic_time_limit"` // seconds, 0 = unlimited
	AllowMicRequests bool `json:"allow_mic_requests"`
	AllowSongs       bool `json:"allow_songs"`
	MicPointsReward  int  `json:"mic_points_reward"`
	RoomLocked       bool `json:"is_locked"`
	ChatMuted        bool `json:"is_chat_muted"`
}

// DefaultMicSettings applies to rooms without a stored record.
func DefaultMicSettings() RoomMicSettings {
	return RoomMicSettings{
		MicEnabled:       true,
		MicCount:         8,
		AllowMicRequests: true,
	}
}

func ValidMicCount(n int) bool {
	for _, c := range AllowedMicCounts {
		if c == n {
			return true
		}
	}
	return false
}

// InRange reports whether number is a valid slot number under the current capacity.
func (s RoomMicSettings) InRange(number int) bool {
	return number >= 1 && number <= s.MicCount
}

// SettingsPatch is a partial update; nil fields are left untouched.
type SettingsPatch struct {
	MicEnabled       *bool `json:"mic_enabled,omitempty"`
	MicCount         *int  `json:"mic_count,omitempty"`
	MicTimeLimit     *int  `json:"mic_time_limit,omitempty"`
	AllowMicRequests *bool `json:"allow_mic_requests,omitempty"`
	AllowSongs       *bool `json:"allow_songs,omitempty"`
	MicPointsReward  *int  `json:"mic_points_reward,omitempty"`
	RoomLocked       *bool `json:"is_locked,omitempty"`
	ChatMuted        *bool `json:"is_chat_muted,omitempty"`
}

// Apply merges the patch into s and validates the result.
func (p SettingsPatch) Apply(s RoomMicSettings) (RoomMicSettings, error) {
	if p.MicEnabled != nil {
		s.MicEnabled = *p.MicEnabled
	}
	if p.MicCount != nil {
		if !ValidMicCount(*p.MicCount) {
			return s, ErrInvalidSettings
		}
		s.MicCount = *p.MicCount
	}
	if p.MicTimeLimit != nil {
		if *p.MicTimeLimit < 0 {
			return s, ErrInvalidSettings
		}
		s.MicTimeLimit = *p.MicTimeLimit
	}
	if p.AllowMicRequests != nil {
		s.AllowMicRequests = *p.AllowMicRequests
	}
	if p.AllowSongs != nil {
		s.AllowSongs = *p.AllowSongs
	}
	if p.MicPointsReward != nil {
		if *p.MicPointsReward < 0 {
			return s, ErrInvalidSettings
		}
		s.MicPointsReward = *p.MicPointsReward
	}
	if p.RoomLocked != nil {
		s.RoomLocked = *p.RoomLocked
	}
	if p.ChatMuted != nil {
		s.ChatMuted = *p.ChatMuted
	}
	return s, nil
}
