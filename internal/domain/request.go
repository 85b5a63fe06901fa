package domain

import "time"

type RequestID string

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// MicRequest is a user's ask to be seated. It leaves pending exactly once.
type MicRequest struct {
	ID            RequestID     `json:"id"`
	RoomID        RoomID        `json:"room_id"`
	UserID        UserID        `json:"user_id"`
	RequestedSlot int           `json:"requested_slot,omitempty"` // 0 = no preference
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
}

func (r MicRequest) Pending() bool { return r.Status == RequestPending }
