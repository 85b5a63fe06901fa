package core

import (
	"sort"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
)

// Snapshot is a full, internally consistent read of a room's mic state.
type Snapshot struct {
	RoomID    domain.RoomID          `json:"room_id"`
	Version   uint64                 `json:"version"`
	FetchedAt time.Time              `json:"fetched_at"`
	Settings  domain.RoomMicSettings `json:"settings"`
	// Slots holds occupied slots and locked empty ones, ordered by number.
	Slots []domain.MicSlot `json:"slots"`
	// Requests holds pending requests, oldest first.
	Requests []domain.MicRequest `json:"requests"`
}

// NewSnapshot merges occupancy and locks into one ordered slot list.
func NewSnapshot(
	room domain.RoomID,
	settings domain.RoomMicSettings,
	occupied []domain.MicSlot,
	locked []int,
	pending []domain.MicRequest,
) Snapshot {
	byNum := make(map[int]domain.MicSlot, len(occupied)+len(locked))
	for _, s := range occupied {
		byNum[s.Key.Number] = s
	}
	for _, n := range locked {
		s, ok := byNum[n]
		if !ok {
			s = domain.MicSlot{Key: domain.SlotKey{RoomID: room, Number: n}}
		}
		s.Locked = true
		byNum[n] = s
	}
	slots := make([]domain.MicSlot, 0, len(byNum))
	for _, s := range byNum {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Key.Number < slots[j].Key.Number })

	reqs := append([]domain.MicRequest(nil), pending...)
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })

	return Snapshot{
		RoomID:   room,
		Settings: settings,
		Slots:    slots,
		Requests: reqs,
	}
}

func (s Snapshot) Slot(number int) (domain.MicSlot, bool) {
	for _, sl := range s.Slots {
		if sl.Key.Number == number {
			return sl, true
		}
	}
	return domain.MicSlot{}, false
}

// SlotOf returns the slot occupied by user, if any.
func (s Snapshot) SlotOf(user domain.UserID) (domain.MicSlot, bool) {
	for _, sl := range s.Slots {
		if sl.UserID == user {
			return sl, true
		}
	}
	return domain.MicSlot{}, false
}

// Occupants returns the users currently seated, ordered by slot number.
func (s Snapshot) Occupants() []domain.MicSlot {
	out := make([]domain.MicSlot, 0, len(s.Slots))
	for _, sl := range s.Slots {
		if sl.Occupied() {
			out = append(out, sl)
		}
	}
	return out
}

// FreeSlots lists unoccupied, unlocked numbers within capacity, ascending.
func (s Snapshot) FreeSlots() []int {
	taken := make(map[int]bool, len(s.Slots))
	for _, sl := range s.Slots {
		taken[sl.Key.Number] = true
	}
	out := make([]int, 0, s.Settings.MicCount)
	for n := 1; n <= s.Settings.MicCount; n++ {
		if !taken[n] {
			out = append(out, n)
		}
	}
	return out
}

// Delta describes what changed between two consecutive snapshots.
type Delta struct {
	SettingsChanged bool                `json:"settings_changed,omitempty"`
	SlotsAdded      []domain.MicSlot    `json:"slots_added,omitempty"`
	SlotsRemoved    []domain.MicSlot    `json:"slots_removed,omitempty"`
	SlotsChanged    []domain.MicSlot    `json:"slots_changed,omitempty"`
	RequestsAdded   []domain.MicRequest `json:"requests_added,omitempty"`
	RequestsRemoved []domain.MicRequest `json:"requests_removed,omitempty"`
}

func (d Delta) Empty() bool {
	return !d.SettingsChanged &&
		len(d.SlotsAdded) == 0 && len(d.SlotsRemoved) == 0 && len(d.SlotsChanged) == 0 &&
		len(d.RequestsAdded) == 0 && len(d.RequestsRemoved) == 0
}

// Diff computes next relative to prev. A slot whose occupant changed is
// reported as removed and added, so consumers can tear down the old link.
func Diff(prev, next Snapshot) Delta {
	var d Delta
	d.SettingsChanged = prev.Settings != next.Settings

	old := make(map[int]domain.MicSlot, len(prev.Slots))
	for _, s := range prev.Slots {
		old[s.Key.Number] = s
	}
	seen := make(map[int]bool, len(next.Slots))
	for _, s := range next.Slots {
		seen[s.Key.Number] = true
		o, ok := old[s.Key.Number]
		switch {
		case !ok:
			d.SlotsAdded = append(d.SlotsAdded, s)
		case o.UserID != s.UserID || !o.OccupiedSince.Equal(s.OccupiedSince):
			d.SlotsRemoved = append(d.SlotsRemoved, o)
			d.SlotsAdded = append(d.SlotsAdded, s)
		case o.ModeratorMuted != s.ModeratorMuted || o.Locked != s.Locked:
			d.SlotsChanged = append(d.SlotsChanged, s)
		}
	}
	for _, s := range prev.Slots {
		if !seen[s.Key.Number] {
			d.SlotsRemoved = append(d.SlotsRemoved, s)
		}
	}

	oldReq := make(map[domain.RequestID]bool, len(prev.Requests))
	for _, r := range prev.Requests {
		oldReq[r.ID] = true
	}
	newReq := make(map[domain.RequestID]bool, len(next.Requests))
	for _, r := range next.Requests {
		newReq[r.ID] = true
		if !oldReq[r.ID] {
			d.RequestsAdded = append(d.RequestsAdded, r)
		}
	}
	for _, r := range prev.Requests {
		if !newReq[r.ID] {
			d.RequestsRemoved = append(d.RequestsRemoved, r)
		}
	}
	return d
}
