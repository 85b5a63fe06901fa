package app

import (
	"sync"

	"github.com/dkeye/MicRoom/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
)

// Policy decides what happens to a member whose send queue was full.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
	// OnDelivered resets any slow marking after a successful send.
	OnDelivered(sid core.SessionID)
}

// StrikePolicy tolerates a few consecutive drops and kicks after that.
// A dropped mic_state is harmless on its own since the next one carries
// the whole snapshot.
type StrikePolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[core.SessionID]int
}

func NewStrikePolicy(limit int) *StrikePolicy {
	return &StrikePolicy{Limit: limit, strikes: make(map[core.SessionID]int)}
}

func (p *StrikePolicy) OnBackPressure(_ core.RoomService, sid core.SessionID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[sid]++
	if p.strikes[sid] >= p.Limit {
		delete(p.strikes, sid)
		return KickMember
	}
	return MarkSlow
}

func (p *StrikePolicy) OnDelivered(sid core.SessionID) {
	p.mu.Lock()
	delete(p.strikes, sid)
	p.mu.Unlock()
}
