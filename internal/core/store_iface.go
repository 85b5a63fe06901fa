package core

import (
	"context"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
)

// SettingsStore persists RoomMicSettings. Rooms without a record read as defaults.
type SettingsStore interface {
	GetSettings(ctx context.Context, room domain.RoomID) (domain.RoomMicSettings, error)
	SaveSettings(ctx context.Context, room domain.RoomID, s domain.RoomMicSettings) error
}

// SlotCondition narrows a slot delete to a specific occupancy.
// Zero fields are not checked.
type SlotCondition struct {
	UserID domain.UserID
	Since  time.Time
}

// SlotStore owns slot occupancy. InsertSlot is the only serialization point
// for seating: it fails with domain.ErrSlotOccupied, domain.ErrAlreadySeated
// or domain.ErrSlotLocked, atomically.
type SlotStore interface {
	ListSlots(ctx context.Context, room domain.RoomID) ([]domain.MicSlot, error)
	InsertSlot(ctx context.Context, slot domain.MicSlot) error
	DeleteSlot(ctx context.Context, key domain.SlotKey, cond SlotCondition) (bool, error)
	SetSlotMuted(ctx context.Context, key domain.SlotKey, muted bool) error
	ClearSlots(ctx context.Context, room domain.RoomID) (int, error)

	SetSlotLock(ctx context.Context, key domain.SlotKey, locked bool) error
	ListLockedSlots(ctx context.Context, room domain.RoomID) ([]int, error)
}

// RequestStore owns mic requests. InsertRequest fails with
// domain.ErrAlreadyPending when the user already has a pending request in the room.
// DeletePendingRequest and ResolveRequest only act on pending rows and
// report domain.ErrNotFound otherwise.
type RequestStore interface {
	InsertRequest(ctx context.Context, req domain.MicRequest) error
	GetRequest(ctx context.Context, id domain.RequestID) (domain.MicRequest, error)
	ListPendingRequests(ctx context.Context, room domain.RoomID) ([]domain.MicRequest, error)
	DeletePendingRequest(ctx context.Context, id domain.RequestID, owner domain.UserID) error
	ResolveRequest(ctx context.Context, id domain.RequestID, status domain.RequestStatus, at time.Time) error
}

type Store interface {
	SettingsStore
	SlotStore
	RequestStore
}

type Stream string

const (
	StreamSlots    Stream = "slots"
	StreamRequests Stream = "requests"
)

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Notification says something changed in a room stream. It is advisory:
// subscribers re-read state, they never apply it as a patch.
type Notification struct {
	RoomID domain.RoomID `json:"room_id"`
	Stream Stream        `json:"stream"`
	Op     ChangeOp      `json:"op"`
	At     time.Time     `json:"at"`
}

// Feed is the room-scoped change notification transport.
// Delivery is at-least-once and unordered across streams.
type Feed interface {
	Publish(ctx context.Context, n Notification) error
	Subscribe(ctx context.Context, room domain.RoomID) (Subscription, error)
}

type Subscription interface {
	C() <-chan Notification
	Close() error
}
