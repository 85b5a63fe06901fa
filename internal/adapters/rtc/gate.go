package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type GateState int32

const (
	GateOpen GateState = iota
	GateMuted
	GateClosed
)

// Sink renders remote audio. The headless client only counts packets.
type Sink interface {
	WriteRTP(peer string, pkt *rtp.Packet) error
}

// PlayoutGate sits between one remote track and the sink. Muting drops
// packets locally; the sender keeps transmitting.
type PlayoutGate struct {
	peer  string
	sink  Sink
	state atomic.Int32 // GateOpen by default
}

func NewPlayoutGate(peer string, sink Sink) *PlayoutGate {
	return &PlayoutGate{peer: peer, sink: sink}
}

func (g *PlayoutGate) State() GateState { return GateState(g.state.Load()) }

func (g *PlayoutGate) SetMuted(muted bool) {
	next := GateOpen
	if muted {
		next = GateMuted
	}
	// A closed gate stays closed.
	for {
		cur := g.state.Load()
		if GateState(cur) == GateClosed || g.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (g *PlayoutGate) Close() { g.state.Store(int32(GateClosed)) }

// Forward passes pkt to the sink unless muted. It reports false once the
// gate is closed so the read loop can stop.
func (g *PlayoutGate) Forward(pkt *rtp.Packet) bool {
	switch g.State() {
	case GateClosed:
		return false
	case GateMuted:
		return true
	}
	if g.sink != nil {
		if err := g.sink.WriteRTP(g.peer, pkt); err != nil {
			g.Close()
			return false
		}
	}
	return true
}
