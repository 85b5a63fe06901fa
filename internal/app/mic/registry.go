// Package mic owns the slot/request model of a room: the Registry turns
// client intents into store operations, the Gateway authorizes the
// privileged ones.
package mic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/dkeye/MicRoom/internal/idgen"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ExpiryScheduler arranges for a slot to be released after the room's time limit.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, slot domain.MicSlot, after time.Duration) error
}

type Registry struct {
	store  core.Store
	feed   core.Feed
	expiry ExpiryScheduler
	now    func() time.Time
	newID  func() domain.RequestID
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithRequestIDs(fn func() domain.RequestID) Option { return func(r *Registry) { r.newID = fn } }

func WithExpiry(s ExpiryScheduler) Option { return func(r *Registry) { r.expiry = s } }

func NewRegistry(store core.Store, feed core.Feed, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		feed:  feed,
		now:   time.Now,
		newID: idgen.NewRequestID,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// timestamps are kept at microsecond precision so they survive SQL round trips.
func (r *Registry) stamp() time.Time { return r.now().UTC().Truncate(time.Microsecond) }

func (r *Registry) publish(ctx context.Context, room domain.RoomID, stream core.Stream, op core.ChangeOp) {
	if r.feed == nil {
		return
	}
	n := core.Notification{RoomID: room, Stream: stream, Op: op, At: r.stamp()}
	if err := r.feed.Publish(ctx, n); err != nil {
		// The write already committed; subscribers catch up on their next resync.
		log.Warn().Err(err).Str("module", "app.mic").Str("room", string(room)).Str("stream", string(stream)).Msg("publish change failed")
	}
}

func (r *Registry) enabledSettings(ctx context.Context, room domain.RoomID) (domain.RoomMicSettings, error) {
	s, err := r.store.GetSettings(ctx, room)
	if err != nil {
		return s, fmt.Errorf("get settings: %w", err)
	}
	if !s.MicEnabled {
		return s, domain.ErrMicDisabled
	}
	return s, nil
}

// RequestMic queues a request to be seated.
func (r *Registry) RequestMic(ctx context.Context, user domain.UserID, room domain.RoomID, requested int) (domain.MicRequest, error) {
	s, err := r.enabledSettings(ctx, room)
	if err != nil {
		return domain.MicRequest{}, err
	}
	if !s.AllowMicRequests {
		return domain.MicRequest{}, domain.ErrRequestsDisabled
	}
	if requested != 0 && !s.InRange(requested) {
		return domain.MicRequest{}, domain.ErrInvalidSlot
	}
	slots, err := r.store.ListSlots(ctx, room)
	if err != nil {
		return domain.MicRequest{}, fmt.Errorf("list slots: %w", err)
	}
	for _, sl := range slots {
		if sl.UserID == user {
			return domain.MicRequest{}, domain.ErrAlreadySeated
		}
	}

	req := domain.MicRequest{
		ID:            r.newID(),
		RoomID:        room,
		UserID:        user,
		RequestedSlot: requested,
		Status:        domain.RequestPending,
		CreatedAt:     r.stamp(),
	}
	// Duplicates are rejected by the store's pending uniqueness, not by a pre-check.
	if err := r.store.InsertRequest(ctx, req); err != nil {
		return domain.MicRequest{}, fmt.Errorf("insert request: %w", err)
	}
	log.Info().Str("module", "app.mic").Str("room", string(room)).Str("user", string(user)).Str("request", string(req.ID)).Msg("mic requested")
	r.publish(ctx, room, core.StreamRequests, core.OpInsert)
	return req, nil
}

// CancelRequest withdraws the caller's own pending request.
func (r *Registry) CancelRequest(ctx context.Context, user domain.UserID, id domain.RequestID) error {
	req, err := r.store.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if err := r.store.DeletePendingRequest(ctx, id, user); err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	log.Info().Str("module", "app.mic").Str("room", string(req.RoomID)).Str("user", string(user)).Str("request", string(id)).Msg("mic request cancelled")
	r.publish(ctx, req.RoomID, core.StreamRequests, core.OpDelete)
	return nil
}

// JoinSlot seats user directly. number 0 picks the lowest free slot.
func (r *Registry) JoinSlot(ctx context.Context, user domain.UserID, room domain.RoomID, number int) (domain.MicSlot, error) {
	s, err := r.enabledSettings(ctx, room)
	if err != nil {
		return domain.MicSlot{}, err
	}
	slot, err := r.seat(ctx, user, room, s, number)
	if err != nil {
		return domain.MicSlot{}, err
	}
	if err := r.revalidate(ctx, slot); err != nil {
		return domain.MicSlot{}, err
	}
	r.afterSeat(ctx, slot, s)
	return slot, nil
}

// seat inserts the slot. The store's conflict decides races; with no
// explicit number it retries against fresh state until no slot is free.
func (r *Registry) seat(ctx context.Context, user domain.UserID, room domain.RoomID, s domain.RoomMicSettings, number int) (domain.MicSlot, error) {
	if number != 0 {
		if !s.InRange(number) {
			return domain.MicSlot{}, domain.ErrInvalidSlot
		}
		return r.insert(ctx, user, domain.SlotKey{RoomID: room, Number: number})
	}
	for attempt := 0; attempt <= s.MicCount; attempt++ {
		free, err := r.freeSlots(ctx, room, s)
		if err != nil {
			return domain.MicSlot{}, err
		}
		if len(free) == 0 {
			return domain.MicSlot{}, domain.ErrFull
		}
		slot, err := r.insert(ctx, user, domain.SlotKey{RoomID: room, Number: free[0]})
		if errors.Is(err, domain.ErrSlotOccupied) || errors.Is(err, domain.ErrSlotLocked) {
			continue
		}
		return slot, err
	}
	return domain.MicSlot{}, domain.ErrFull
}

func (r *Registry) insert(ctx context.Context, user domain.UserID, key domain.SlotKey) (domain.MicSlot, error) {
	slot := domain.MicSlot{Key: key, UserID: user, OccupiedSince: r.stamp()}
	if err := r.store.InsertSlot(ctx, slot); err != nil {
		return domain.MicSlot{}, fmt.Errorf("insert slot %s: %w", key, err)
	}
	return slot, nil
}

func (r *Registry) freeSlots(ctx context.Context, room domain.RoomID, s domain.RoomMicSettings) ([]int, error) {
	slots, err := r.store.ListSlots(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	locked, err := r.store.ListLockedSlots(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return core.NewSnapshot(room, s, slots, locked, nil).FreeSlots(), nil
}

// revalidate undoes a fresh seat when mics were disabled while it was being taken.
func (r *Registry) revalidate(ctx context.Context, slot domain.MicSlot) error {
	s, err := r.store.GetSettings(ctx, slot.Key.RoomID)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	if s.MicEnabled {
		return nil
	}
	if _, err := r.store.DeleteSlot(ctx, slot.Key, core.SlotCondition{UserID: slot.UserID, Since: slot.OccupiedSince}); err != nil {
		return fmt.Errorf("undo seat %s: %w", slot.Key, err)
	}
	return domain.ErrMicDisabled
}

func (r *Registry) afterSeat(ctx context.Context, slot domain.MicSlot, s domain.RoomMicSettings) {
	log.Info().Str("module", "app.mic").Str("slot", slot.Key.String()).Str("user", string(slot.UserID)).Msg("slot occupied")
	r.publish(ctx, slot.Key.RoomID, core.StreamSlots, core.OpInsert)
	if r.expiry == nil || s.MicTimeLimit <= 0 {
		return
	}
	if err := r.expiry.ScheduleExpiry(ctx, slot, time.Duration(s.MicTimeLimit)*time.Second); err != nil {
		log.Error().Err(err).Str("module", "app.mic").Str("slot", slot.Key.String()).Msg("schedule slot expiry failed")
	}
}

// LeaveSlot frees the caller's own slot. It is idempotent and never touches
// a slot held by someone else.
func (r *Registry) LeaveSlot(ctx context.Context, user domain.UserID, key domain.SlotKey) error {
	ok, err := r.store.DeleteSlot(ctx, key, core.SlotCondition{UserID: user})
	if err != nil {
		return fmt.Errorf("leave slot %s: %w", key, err)
	}
	if ok {
		log.Info().Str("module", "app.mic").Str("slot", key.String()).Str("user", string(user)).Msg("slot left")
		r.publish(ctx, key.RoomID, core.StreamSlots, core.OpDelete)
	}
	return nil
}

// ApproveRequest seats the requester and only then marks the request
// approved. A failed seat leaves the request pending; a failed resolve
// removes the seat again.
func (r *Registry) ApproveRequest(ctx context.Context, id domain.RequestID, number int) error {
	req, err := r.store.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if !req.Pending() {
		return domain.ErrNotFound
	}
	s, err := r.enabledSettings(ctx, req.RoomID)
	if err != nil {
		return err
	}
	if number == 0 && s.InRange(req.RequestedSlot) {
		number = req.RequestedSlot
	}
	slot, err := r.seat(ctx, req.UserID, req.RoomID, s, number)
	if err != nil {
		return err
	}
	// Checked before resolving so a disabled room leaves the request pending.
	if err := r.revalidate(ctx, slot); err != nil {
		return err
	}
	if err := r.store.ResolveRequest(ctx, id, domain.RequestApproved, r.stamp()); err != nil {
		if _, derr := r.store.DeleteSlot(ctx, slot.Key, core.SlotCondition{UserID: slot.UserID, Since: slot.OccupiedSince}); derr != nil {
			log.Error().Err(derr).Str("module", "app.mic").Str("slot", slot.Key.String()).Msg("rollback seat failed")
		}
		return fmt.Errorf("approve request: %w", err)
	}
	log.Info().Str("module", "app.mic").Str("request", string(id)).Str("slot", slot.Key.String()).Msg("mic request approved")
	r.publish(ctx, req.RoomID, core.StreamRequests, core.OpUpdate)
	r.afterSeat(ctx, slot, s)
	return nil
}

// RejectRequest closes a pending request for good.
func (r *Registry) RejectRequest(ctx context.Context, id domain.RequestID) error {
	req, err := r.store.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if err := r.store.ResolveRequest(ctx, id, domain.RequestRejected, r.stamp()); err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	log.Info().Str("module", "app.mic").Str("request", string(id)).Msg("mic request rejected")
	r.publish(ctx, req.RoomID, core.StreamRequests, core.OpUpdate)
	return nil
}

// RemoveFromMic evicts whoever holds the slot.
func (r *Registry) RemoveFromMic(ctx context.Context, key domain.SlotKey) error {
	ok, err := r.store.DeleteSlot(ctx, key, core.SlotCondition{})
	if err != nil {
		return fmt.Errorf("remove slot %s: %w", key, err)
	}
	if ok {
		log.Info().Str("module", "app.mic").Str("slot", key.String()).Msg("removed from mic")
		r.publish(ctx, key.RoomID, core.StreamSlots, core.OpDelete)
	}
	return nil
}

// ToggleModeratorMute sets the authoritative source mute of a slot.
func (r *Registry) ToggleModeratorMute(ctx context.Context, key domain.SlotKey, muted bool) error {
	if _, err := r.enabledSettings(ctx, key.RoomID); err != nil {
		return err
	}
	if err := r.store.SetSlotMuted(ctx, key, muted); err != nil {
		return fmt.Errorf("mute slot %s: %w", key, err)
	}
	log.Info().Str("module", "app.mic").Str("slot", key.String()).Bool("muted", muted).Msg("moderator mute changed")
	r.publish(ctx, key.RoomID, core.StreamSlots, core.OpUpdate)
	return nil
}

// LockSlot stops (or allows) new occupants at a slot number.
func (r *Registry) LockSlot(ctx context.Context, key domain.SlotKey, locked bool) error {
	s, err := r.enabledSettings(ctx, key.RoomID)
	if err != nil {
		return err
	}
	if locked && !s.InRange(key.Number) {
		return domain.ErrInvalidSlot
	}
	if err := r.store.SetSlotLock(ctx, key, locked); err != nil {
		return fmt.Errorf("lock slot %s: %w", key, err)
	}
	log.Info().Str("module", "app.mic").Str("slot", key.String()).Bool("locked", locked).Msg("slot lock changed")
	r.publish(ctx, key.RoomID, core.StreamSlots, core.OpUpdate)
	return nil
}

// UpdateSettings merges patch into the room's settings. Shrinking capacity
// keeps seats above the new count; turning mics off clears every seat and
// rejects every pending request.
func (r *Registry) UpdateSettings(ctx context.Context, room domain.RoomID, patch domain.SettingsPatch) (domain.RoomMicSettings, error) {
	cur, err := r.store.GetSettings(ctx, room)
	if err != nil {
		return cur, fmt.Errorf("get settings: %w", err)
	}
	next, err := patch.Apply(cur)
	if err != nil {
		return cur, err
	}
	if err := r.store.SaveSettings(ctx, room, next); err != nil {
		return cur, fmt.Errorf("save settings: %w", err)
	}
	log.Info().Str("module", "app.mic").Str("room", string(room)).Bool("mic_enabled", next.MicEnabled).Int("mic_count", next.MicCount).Msg("mic settings updated")

	if cur.MicEnabled && !next.MicEnabled {
		if err := r.shutdown(ctx, room); err != nil {
			return next, err
		}
		r.publish(ctx, room, core.StreamRequests, core.OpUpdate)
	}
	r.publish(ctx, room, core.StreamSlots, core.OpUpdate)
	return next, nil
}

func (r *Registry) shutdown(ctx context.Context, room domain.RoomID) error {
	n, err := r.store.ClearSlots(ctx, room)
	if err != nil {
		return fmt.Errorf("clear slots: %w", err)
	}
	pending, err := r.store.ListPendingRequests(ctx, room)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	at := r.stamp()
	for _, req := range pending {
		if err := r.store.ResolveRequest(ctx, req.ID, domain.RequestRejected, at); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reject request %s: %w", req.ID, err)
		}
	}
	log.Info().Str("module", "app.mic").Str("room", string(room)).Int("slots_cleared", n).Int("requests_rejected", len(pending)).Msg("mics disabled")
	return nil
}

// ExpireSlot releases a slot whose time limit ran out, provided the same
// occupancy is still in place.
func (r *Registry) ExpireSlot(ctx context.Context, key domain.SlotKey, user domain.UserID, since time.Time) (bool, error) {
	ok, err := r.store.DeleteSlot(ctx, key, core.SlotCondition{UserID: user, Since: since})
	if err != nil {
		return false, fmt.Errorf("expire slot %s: %w", key, err)
	}
	if ok {
		log.Info().Str("module", "app.mic").Str("slot", key.String()).Str("user", string(user)).Msg("slot time limit reached")
		r.publish(ctx, key.RoomID, core.StreamSlots, core.OpDelete)
	}
	return ok, nil
}

// Request returns a request by id.
func (r *Registry) Request(ctx context.Context, id domain.RequestID) (domain.MicRequest, error) {
	req, err := r.store.GetRequest(ctx, id)
	if err != nil {
		return req, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// Occupant returns who holds key, or "" when the slot is empty.
func (r *Registry) Occupant(ctx context.Context, key domain.SlotKey) (domain.UserID, error) {
	slots, err := r.store.ListSlots(ctx, key.RoomID)
	if err != nil {
		return "", fmt.Errorf("list slots: %w", err)
	}
	for _, sl := range slots {
		if sl.Key.Number == key.Number {
			return sl.UserID, nil
		}
	}
	return "", nil
}

// Snapshot reads the whole mic state of a room. The four reads run in parallel.
func (r *Registry) Snapshot(ctx context.Context, room domain.RoomID) (core.Snapshot, error) {
	var (
		settings domain.RoomMicSettings
		slots    []domain.MicSlot
		locked   []int
		pending  []domain.MicRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		settings, err = r.store.GetSettings(gctx, room)
		return err
	})
	g.Go(func() (err error) {
		slots, err = r.store.ListSlots(gctx, room)
		return err
	})
	g.Go(func() (err error) {
		locked, err = r.store.ListLockedSlots(gctx, room)
		return err
	})
	g.Go(func() (err error) {
		pending, err = r.store.ListPendingRequests(gctx, room)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %w", room, err)
	}
	snap := core.NewSnapshot(room, settings, slots, locked, pending)
	snap.FetchedAt = r.now().UTC()
	return snap, nil
}
