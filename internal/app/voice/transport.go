// Package voice reconciles a client's peer audio links with the room's
// occupied slots and applies the two mute authorities.
package voice

import (
	"context"

	"github.com/dkeye/MicRoom/internal/domain"
)

// Link is an established audio path to one remote user.
type Link interface {
	Peer() domain.UserID
}

// AudioTrack is the local microphone track. Disabling it sends silence on every link.
type AudioTrack interface {
	SetEnabled(enabled bool)
	Close() error
}

// CaptureDevice opens the local microphone.
type CaptureDevice interface {
	Open(ctx context.Context) (AudioTrack, error)
}

// PeerTransport is the media primitive the manager drives. A mesh or a
// relay may sit behind it.
type PeerTransport interface {
	Connect(ctx context.Context, peer domain.UserID) (Link, error)
	Disconnect(link Link) error
	// Publish attaches track to link; a nil track detaches the current one.
	Publish(link Link, track AudioTrack) error
	// SetMuted controls local rendering of link's incoming audio only.
	SetMuted(link Link, muted bool) error
}

type LinkState int

const (
	NoLink LinkState = iota
	Connecting
	Linked
	Muted
	TornDown
	Failed
)

func (s LinkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Linked:
		return "linked"
	case Muted:
		return "muted"
	case TornDown:
		return "torn_down"
	case Failed:
		return "failed"
	default:
		return "no_link"
	}
}

type CaptureState int

const (
	CaptureOff CaptureState = iota
	CaptureLive
	CaptureSilenced // moderator muted
	CaptureUnavailable
)

func (s CaptureState) String() string {
	switch s {
	case CaptureLive:
		return "live"
	case CaptureSilenced:
		return "silenced"
	case CaptureUnavailable:
		return "unavailable"
	default:
		return "off"
	}
}
