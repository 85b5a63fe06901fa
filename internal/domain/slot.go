package domain

import (
	"fmt"
	"time"
)

// SlotKey identifies a mic slot: one per (room, number).
type SlotKey struct {
	RoomID RoomID `json:"room_id"`
	Number int    `json:"slot_number"`
}

func (k SlotKey) String() string { return fmt.Sprintf("%s#%d", k.RoomID, k.Number) }

// MicSlot is an occupied (or locked) speaking position.
// A locked number with no occupant has an empty UserID.
type MicSlot struct {
	Key            SlotKey   `json:"key"`
	UserID         UserID    `json:"user_id,omitempty"`
	ModeratorMuted bool      `json:"is_muted"`
	Locked         bool      `json:"is_locked"`
	OccupiedSince  time.Time `json:"started_at"`
}

func (s MicSlot) Occupied() bool { return s.UserID != "" }
