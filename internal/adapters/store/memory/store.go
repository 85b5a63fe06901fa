// Package memory is an in-process Store, Feed and collaborator lookup set.
// It backs the "memory" store driver and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

type roomState struct {
	settings *domain.RoomMicSettings
	slots    map[int]domain.MicSlot
	seated   map[domain.UserID]int
	locked   map[int]bool
	pending  map[domain.UserID]domain.RequestID
}

// Store keeps every room under one mutex, which plays the role of the
// database's uniqueness constraints.
type Store struct {
	mu       sync.Mutex
	rooms    map[domain.RoomID]*roomState
	requests map[domain.RequestID]domain.MicRequest
}

var _ core.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		rooms:    make(map[domain.RoomID]*roomState),
		requests: make(map[domain.RequestID]domain.MicRequest),
	}
}

func (s *Store) room(id domain.RoomID) *roomState {
	r, ok := s.rooms[id]
	if !ok {
		r = &roomState{
			slots:   make(map[int]domain.MicSlot),
			seated:  make(map[domain.UserID]int),
			locked:  make(map[int]bool),
			pending: make(map[domain.UserID]domain.RequestID),
		}
		s.rooms[id] = r
	}
	return r
}

func (s *Store) GetSettings(_ context.Context, room domain.RoomID) (domain.RoomMicSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(room)
	if r.settings == nil {
		return domain.DefaultMicSettings(), nil
	}
	return *r.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, room domain.RoomID, st domain.RoomMicSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(room).settings = &st
	return nil
}

func (s *Store) ListSlots(_ context.Context, room domain.RoomID) ([]domain.MicSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(room)
	out := make([]domain.MicSlot, 0, len(r.slots))
	for _, sl := range r.slots {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Number < out[j].Key.Number })
	return out, nil
}

func (s *Store) InsertSlot(_ context.Context, slot domain.MicSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(slot.Key.RoomID)
	if r.locked[slot.Key.Number] {
		return domain.ErrSlotLocked
	}
	if _, ok := r.slots[slot.Key.Number]; ok {
		return domain.ErrSlotOccupied
	}
	if _, ok := r.seated[slot.UserID]; ok {
		return domain.ErrAlreadySeated
	}
	slot.Locked = false
	r.slots[slot.Key.Number] = slot
	r.seated[slot.UserID] = slot.Key.Number
	return nil
}

func (s *Store) DeleteSlot(_ context.Context, key domain.SlotKey, cond core.SlotCondition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(key.RoomID)
	cur, ok := r.slots[key.Number]
	if !ok {
		return false, nil
	}
	if cond.UserID != "" && cur.UserID != cond.UserID {
		return false, nil
	}
	if !cond.Since.IsZero() && !cur.OccupiedSince.Equal(cond.Since) {
		return false, nil
	}
	delete(r.slots, key.Number)
	delete(r.seated, cur.UserID)
	return true, nil
}

func (s *Store) SetSlotMuted(_ context.Context, key domain.SlotKey, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(key.RoomID)
	cur, ok := r.slots[key.Number]
	if !ok {
		return domain.ErrNotFound
	}
	cur.ModeratorMuted = muted
	r.slots[key.Number] = cur
	return nil
}

func (s *Store) ClearSlots(_ context.Context, room domain.RoomID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(room)
	n := len(r.slots)
	r.slots = make(map[int]domain.MicSlot)
	r.seated = make(map[domain.UserID]int)
	return n, nil
}

func (s *Store) SetSlotLock(_ context.Context, key domain.SlotKey, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(key.RoomID)
	if locked {
		r.locked[key.Number] = true
	} else {
		delete(r.locked, key.Number)
	}
	return nil
}

func (s *Store) ListLockedSlots(_ context.Context, room domain.RoomID) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(room)
	out := make([]int, 0, len(r.locked))
	for n := range r.locked {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (s *Store) InsertRequest(_ context.Context, req domain.MicRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(req.RoomID)
	if _, ok := r.pending[req.UserID]; ok {
		return domain.ErrAlreadyPending
	}
	r.pending[req.UserID] = req.ID
	s.requests[req.ID] = req
	return nil
}

func (s *Store) GetRequest(_ context.Context, id domain.RequestID) (domain.MicRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.MicRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *Store) ListPendingRequests(_ context.Context, room domain.RoomID) ([]domain.MicRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(room)
	out := make([]domain.MicRequest, 0, len(r.pending))
	for _, id := range r.pending {
		out = append(out, s.requests[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeletePendingRequest(_ context.Context, id domain.RequestID, owner domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || !req.Pending() || (owner != "" && req.UserID != owner) {
		return domain.ErrNotFound
	}
	delete(s.room(req.RoomID).pending, req.UserID)
	delete(s.requests, id)
	return nil
}

func (s *Store) ResolveRequest(_ context.Context, id domain.RequestID, status domain.RequestStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || !req.Pending() {
		return domain.ErrNotFound
	}
	req.Status = status
	req.RespondedAt = &at
	s.requests[id] = req
	delete(s.room(req.RoomID).pending, req.UserID)
	return nil
}
