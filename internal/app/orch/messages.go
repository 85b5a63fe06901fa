package orch

import (
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

const (
	TypeMicState  = "mic_state"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// MicState is pushed to every member whenever the room bridge publishes.
// Snapshot is the source of truth; Grid is the same state decorated for display.
type MicState struct {
	Type     string              `json:"type"`
	Version  uint64              `json:"version"`
	Snapshot core.Snapshot       `json:"snapshot"`
	Grid     projection.SlotGrid `json:"grid"`
	Delta    core.Delta          `json:"delta"`
}

// PeerSignal is an SDP or ICE message between two room members. The
// server only fills From and forwards it.
type PeerSignal struct {
	Type          string        `json:"type"`
	From          domain.UserID `json:"from,omitempty"`
	To            domain.UserID `json:"to"`
	SDP           string        `json:"sdp,omitempty"`
	Candidate     string        `json:"candidate,omitempty"`
	SDPMid        *string       `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty"`
}

func (p PeerSignal) Valid() bool {
	switch p.Type {
	case TypeOffer, TypeAnswer:
		return p.To != "" && p.SDP != ""
	case TypeCandidate:
		return p.To != "" && p.Candidate != ""
	}
	return false
}
