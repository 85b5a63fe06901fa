// Package projection turns a mic snapshot into the view model clients render.
package projection

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type CellState string

const (
	CellEmpty    CellState = "empty"
	CellLocked   CellState = "locked"
	CellOccupied CellState = "occupied"
)

type Cell struct {
	Number         int             `json:"number"`
	State          CellState       `json:"state"`
	Locked         bool            `json:"is_locked"`
	Overflow       bool            `json:"overflow,omitempty"` // seated above the current capacity
	User           *domain.Profile `json:"user,omitempty"`
	ModeratorMuted bool            `json:"is_muted"`
	OccupiedSince  *time.Time      `json:"started_at,omitempty"`
}

type QueueEntry struct {
	Request domain.MicRequest `json:"request"`
	User    domain.Profile    `json:"user"`
}

type SlotGrid struct {
	RoomID   domain.RoomID          `json:"room_id"`
	Version  uint64                 `json:"version"`
	Settings domain.RoomMicSettings `json:"settings"`
	Cells    []Cell                 `json:"cells"`
	Queue    []QueueEntry           `json:"queue"`
}

type Projector struct {
	profiles core.ProfileLookup
	parallel int
}

func NewProjector(profiles core.ProfileLookup) *Projector {
	return &Projector{profiles: profiles, parallel: 8}
}

// Project builds the grid. Profile failures fall back to placeholders and
// never fail the projection.
func (p *Projector) Project(ctx context.Context, snap core.Snapshot) SlotGrid {
	users := make(map[domain.UserID]struct{})
	for _, s := range snap.Occupants() {
		users[s.UserID] = struct{}{}
	}
	for _, r := range snap.Requests {
		users[r.UserID] = struct{}{}
	}
	profiles := p.lookup(ctx, users)

	grid := SlotGrid{
		RoomID:   snap.RoomID,
		Version:  snap.Version,
		Settings: snap.Settings,
		Cells:    make([]Cell, 0, snap.Settings.MicCount),
		Queue:    make([]QueueEntry, 0, len(snap.Requests)),
	}
	for n := 1; n <= snap.Settings.MicCount; n++ {
		cell := Cell{Number: n, State: CellEmpty}
		if s, ok := snap.Slot(n); ok {
			cell = fill(cell, s, profiles)
		}
		grid.Cells = append(grid.Cells, cell)
	}
	// Capacity shrinks keep existing occupants; show them after the grid.
	for _, s := range snap.Occupants() {
		if snap.Settings.InRange(s.Key.Number) {
			continue
		}
		cell := fill(Cell{Number: s.Key.Number, Overflow: true}, s, profiles)
		grid.Cells = append(grid.Cells, cell)
	}
	for _, r := range snap.Requests {
		grid.Queue = append(grid.Queue, QueueEntry{Request: r, User: profiles[r.UserID]})
	}
	return grid
}

func fill(c Cell, s domain.MicSlot, profiles map[domain.UserID]domain.Profile) Cell {
	c.Locked = s.Locked
	if s.Locked {
		c.State = CellLocked
	}
	if s.Occupied() {
		pr := profiles[s.UserID]
		since := s.OccupiedSince
		c.State = CellOccupied
		c.User = &pr
		c.ModeratorMuted = s.ModeratorMuted
		c.OccupiedSince = &since
	}
	return c
}

func (p *Projector) lookup(ctx context.Context, users map[domain.UserID]struct{}) map[domain.UserID]domain.Profile {
	var mu sync.Mutex
	out := make(map[domain.UserID]domain.Profile, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for u := range users {
		g.Go(func() error {
			pr, err := p.profiles.GetProfile(gctx, u)
			if err != nil {
				log.Debug().Err(err).Str("module", "app.projection").Str("user", string(u)).Msg("profile unavailable, using placeholder")
				pr = domain.PlaceholderProfile(u)
			}
			if pr.UserID == "" {
				pr.UserID = u
			}
			if pr.DisplayName == "" {
				pr.DisplayName = domain.PlaceholderProfile(u).DisplayName
			}
			mu.Lock()
			out[u] = pr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
