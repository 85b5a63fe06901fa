package domain

import "errors"

// Kind groups errors by what the caller can do about them.
type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindDuplicate
	KindForbidden
	KindDisabled
	KindDeviceUnavailable
	KindTransientTransport
	KindNotFound
	KindInvalid
	// KindRateLimited means retry later; nothing about the request is wrong.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindDuplicate:
		return "duplicate"
	case KindForbidden:
		return "forbidden"
	case KindDisabled:
		return "disabled"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindTransientTransport:
		return "transient_transport"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a classified error with a stable code for clients.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrSlotOccupied     = newError(KindConflict, "slot_occupied", "slot is already occupied")
	ErrAlreadySeated    = newError(KindConflict, "already_seated", "user already occupies a slot in this room")
	ErrSlotLocked       = newError(KindConflict, "slot_locked", "slot is locked")
	ErrFull             = newError(KindConflict, "full", "no free slot left")
	ErrAlreadyPending   = newError(KindDuplicate, "already_pending", "a pending mic request already exists")
	ErrForbidden        = newError(KindForbidden, "forbidden", "not allowed for your room role")
	ErrMicDisabled      = newError(KindDisabled, "mic_disabled", "mics are disabled in this room")
	ErrRequestsDisabled = newError(KindDisabled, "requests_disabled", "mic requests are disabled in this room")
	ErrMicUnavailable   = newError(KindDeviceUnavailable, "mic_unavailable", "microphone capture unavailable")
	ErrTransport        = newError(KindTransientTransport, "transport_unavailable", "peer audio link unavailable")
	ErrNotFound         = newError(KindNotFound, "not_found", "not found")
	ErrInvalidSlot      = newError(KindInvalid, "invalid_slot", "slot number out of range")
	ErrInvalidSettings  = newError(KindInvalid, "invalid_settings", "invalid mic settings")
	ErrBadPayload       = newError(KindInvalid, "bad_payload", "malformed message")
	ErrInvalidSignal    = newError(KindInvalid, "invalid_signal", "peer signal needs a recipient other than yourself")
	ErrRateLimited      = newError(KindRateLimited, "rate_limited", "too many mic requests, slow down")
	ErrNotInRoom        = newError(KindInvalid, "not_in_room", "join a room first")
)

// KindOf classifies err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable client code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
