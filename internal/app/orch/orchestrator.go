package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/MicRoom/internal/app"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

type Deps struct {
	Registry  *app.Registry
	Rooms     core.RoomManager
	Policy    app.Policy
	Mic       *mic.Gateway
	Feed      core.Feed
	Projector *projection.Projector
	// Resync is passed to every room bridge; 0 disables the periodic refetch.
	Resync time.Duration
	// Fanout bounds concurrent observer calls per bridge; 0 keeps the bridge default.
	Fanout int
}

// Orchestrator ties signalling sessions to rooms and keeps one sync bridge
// running per room that has members.
type Orchestrator struct {
	Deps

	ctx     context.Context
	mu      sync.Mutex
	bridges map[domain.RoomID]*roomBridge
}

// New returns an orchestrator whose bridges live until ctx ends.
func New(ctx context.Context, d Deps) *Orchestrator {
	if d.Policy == nil {
		d.Policy = app.NewStrikePolicy(3)
	}
	return &Orchestrator{
		Deps:    d,
		ctx:     ctx,
		bridges: make(map[domain.RoomID]*roomBridge),
	}
}

func (o *Orchestrator) broadcast(room core.RoomService, frame core.Frame) {
	res := room.Broadcast("", frame)
	dropped := make(map[core.SessionID]struct{}, len(res.Dropped))
	for _, sid := range res.Dropped {
		dropped[sid] = struct{}{}
	}
	for _, snap := range o.Registry.MembersOfRoom(room.ID()) {
		if _, slow := dropped[snap.SID]; !slow {
			o.Policy.OnDelivered(snap.SID)
			continue
		}
		switch o.Policy.OnBackPressure(room, snap.SID) {
		case app.KickMember:
			o.KickBySID(snap.SID)
			o.Registry.Cancel(snap.SID)
		case app.MarkSlow, app.NoAction:
		}
	}
}
