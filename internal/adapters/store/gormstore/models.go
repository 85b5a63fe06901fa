package gormstore

import "time"

type micSettingsRow struct {
	RoomID           string `gorm:"primaryKey;size:64"`
	MicEnabled       bool   `gorm:"not null"`
	MicCount         int    `gorm:"not null"`
	MicTimeLimit     int    `gorm:"not null"`
	AllowMicRequests bool   `gorm:"not null"`
	AllowSongs       bool   `gorm:"not null"`
	MicPointsReward  int    `gorm:"not null"`
	IsLocked         bool   `gorm:"not null"`
	IsChatMuted      bool   `gorm:"not null"`
	UpdatedAt        time.Time
}

func (micSettingsRow) TableName() string { return "room_mic_settings" }

type micSlotRow struct {
	ID         uint      `gorm:"primaryKey"`
	RoomID     string    `gorm:"size:64;not null;uniqueIndex:idx_mic_slots_room_number,priority:1;uniqueIndex:idx_mic_slots_room_user,priority:1"`
	SlotNumber int       `gorm:"not null;uniqueIndex:idx_mic_slots_room_number,priority:2"`
	UserID     string    `gorm:"size:64;not null;uniqueIndex:idx_mic_slots_room_user,priority:2"`
	IsMuted    bool      `gorm:"not null;default:false"`
	StartedAt  time.Time `gorm:"not null"`
}

func (micSlotRow) TableName() string { return "mic_slots" }

type micSlotLockRow struct {
	RoomID     string `gorm:"primaryKey;size:64"`
	SlotNumber int    `gorm:"primaryKey"`
	CreatedAt  time.Time
}

func (micSlotLockRow) TableName() string { return "mic_slot_locks" }

type micRequestRow struct {
	ID            string     `gorm:"primaryKey;size:32"`
	RoomID        string     `gorm:"size:64;not null;index:idx_mic_requests_room_status,priority:1"`
	UserID        string     `gorm:"size:64;not null"`
	RequestedSlot int        `gorm:"not null;default:0"`
	Status        string     `gorm:"size:16;not null;index:idx_mic_requests_room_status,priority:2"`
	CreatedAt     time.Time  `gorm:"not null"`
	RespondedAt   *time.Time
}

func (micRequestRow) TableName() string { return "mic_requests" }

type roomRoleRow struct {
	RoomID string `gorm:"primaryKey;size:64"`
	UserID string `gorm:"primaryKey;size:64"`
	Level  int    `gorm:"not null;default:0"`
}

func (roomRoleRow) TableName() string { return "room_roles" }

type profileRow struct {
	UserID      string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:64;not null"`
	AvatarURL   string `gorm:"size:512"`
	Level       int    `gorm:"not null;default:0"`
}

func (profileRow) TableName() string { return "profiles" }
