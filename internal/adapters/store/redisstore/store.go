// Package redisstore keeps mic state in Redis. Every uniqueness rule is
// enforced by a Lua script so concurrent servers agree on one winner.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ResolvedTTL bounds how long approved/rejected requests stay readable.
const ResolvedTTL = 7 * 24 * time.Hour

type Store struct {
	rdb  redis.UniversalClient
	keys keys
}

var _ core.Store = (*Store)(nil)

func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, keys: keys{prefix: prefix}}
}

func (s *Store) GetSettings(ctx context.Context, room domain.RoomID) (domain.RoomMicSettings, error) {
	b, err := s.rdb.Get(ctx, s.keys.settings(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DefaultMicSettings(), nil
	}
	if err != nil {
		return domain.RoomMicSettings{}, fmt.Errorf("redis: get settings %s: %w", room, err)
	}
	var st domain.RoomMicSettings
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.RoomMicSettings{}, fmt.Errorf("redis: decode settings %s: %w", room, err)
	}
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, room domain.RoomID, st domain.RoomMicSettings) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keys.settings(room), b, 0).Err(); err != nil {
		return fmt.Errorf("redis: save settings %s: %w", room, err)
	}
	return nil
}

func micros(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

func (s *Store) ListSlots(ctx context.Context, room domain.RoomID) ([]domain.MicSlot, error) {
	pipe := s.rdb.TxPipeline()
	slotsCmd := pipe.HGetAll(ctx, s.keys.slots(room))
	metaCmd := pipe.HGetAll(ctx, s.keys.meta(room))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: list slots %s: %w", room, err)
	}
	meta := metaCmd.Val()
	out := make([]domain.MicSlot, 0, len(slotsCmd.Val()))
	for field, user := range slotsCmd.Val() {
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		slot := domain.MicSlot{
			Key:            domain.SlotKey{RoomID: room, Number: n},
			UserID:         domain.UserID(user),
			ModeratorMuted: meta[field+":muted"] == "1",
		}
		if us, err := strconv.ParseInt(meta[field+":since"], 10, 64); err == nil {
			slot.OccupiedSince = time.UnixMicro(us).UTC()
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Number < out[j].Key.Number })
	return out, nil
}

func (s *Store) InsertSlot(ctx context.Context, slot domain.MicSlot) error {
	room := slot.Key.RoomID
	res, err := insertSlotScript.Run(ctx, s.rdb,
		[]string{s.keys.slots(room), s.keys.seated(room), s.keys.meta(room), s.keys.locked(room)},
		slot.Key.Number, string(slot.UserID), micros(slot.OccupiedSince),
	).Text()
	if err != nil {
		return fmt.Errorf("redis: insert slot %s: %w", slot.Key, err)
	}
	switch res {
	case "ok":
		return nil
	case "locked":
		return domain.ErrSlotLocked
	case "occupied":
		return domain.ErrSlotOccupied
	case "seated":
		return domain.ErrAlreadySeated
	}
	return fmt.Errorf("redis: insert slot %s: unexpected reply %q", slot.Key, res)
}

func (s *Store) DeleteSlot(ctx context.Context, key domain.SlotKey, cond core.SlotCondition) (bool, error) {
	since := ""
	if !cond.Since.IsZero() {
		since = micros(cond.Since)
	}
	n, err := deleteSlotScript.Run(ctx, s.rdb,
		[]string{s.keys.slots(key.RoomID), s.keys.seated(key.RoomID), s.keys.meta(key.RoomID)},
		key.Number, string(cond.UserID), since,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: delete slot %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) SetSlotMuted(ctx context.Context, key domain.SlotKey, muted bool) error {
	flag := "0"
	if muted {
		flag = "1"
	}
	n, err := muteSlotScript.Run(ctx, s.rdb,
		[]string{s.keys.slots(key.RoomID), s.keys.meta(key.RoomID)},
		key.Number, flag,
	).Int()
	if err != nil {
		return fmt.Errorf("redis: mute slot %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ClearSlots(ctx context.Context, room domain.RoomID) (int, error) {
	n, err := clearSlotsScript.Run(ctx, s.rdb,
		[]string{s.keys.slots(room), s.keys.seated(room), s.keys.meta(room)},
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis: clear slots %s: %w", room, err)
	}
	return n, nil
}

func (s *Store) SetSlotLock(ctx context.Context, key domain.SlotKey, locked bool) error {
	var err error
	if locked {
		err = s.rdb.SAdd(ctx, s.keys.locked(key.RoomID), key.Number).Err()
	} else {
		err = s.rdb.SRem(ctx, s.keys.locked(key.RoomID), key.Number).Err()
	}
	if err != nil {
		return fmt.Errorf("redis: lock slot %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListLockedSlots(ctx context.Context, room domain.RoomID) ([]int, error) {
	members, err := s.rdb.SMembers(ctx, s.keys.locked(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list locks %s: %w", room, err)
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *Store) InsertRequest(ctx context.Context, req domain.MicRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	n, err := insertRequestScript.Run(ctx, s.rdb,
		[]string{s.keys.pending(req.RoomID), s.keys.request(req.ID)},
		string(req.UserID), string(req.ID), b,
	).Int()
	if err != nil {
		return fmt.Errorf("redis: insert request %s: %w", req.ID, err)
	}
	if n == 0 {
		return domain.ErrAlreadyPending
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id domain.RequestID) (domain.MicRequest, error) {
	b, err := s.rdb.Get(ctx, s.keys.request(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MicRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MicRequest{}, fmt.Errorf("redis: get request %s: %w", id, err)
	}
	var req domain.MicRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return domain.MicRequest{}, fmt.Errorf("redis: decode request %s: %w", id, err)
	}
	return req, nil
}

func (s *Store) ListPendingRequests(ctx context.Context, room domain.RoomID) ([]domain.MicRequest, error) {
	index, err := s.rdb.HGetAll(ctx, s.keys.pending(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list pending %s: %w", room, err)
	}
	if len(index) == 0 {
		return []domain.MicRequest{}, nil
	}
	ks := make([]string, 0, len(index))
	for _, id := range index {
		ks = append(ks, s.keys.request(domain.RequestID(id)))
	}
	vals, err := s.rdb.MGet(ctx, ks...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load pending %s: %w", room, err)
	}
	out := make([]domain.MicRequest, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var req domain.MicRequest
		if json.Unmarshal([]byte(raw), &req) == nil && req.Pending() {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeletePendingRequest(ctx context.Context, id domain.RequestID, owner domain.UserID) error {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !req.Pending() || (owner != "" && req.UserID != owner) {
		return domain.ErrNotFound
	}
	return s.settle(ctx, req, "")
}

func (s *Store) ResolveRequest(ctx context.Context, id domain.RequestID, status domain.RequestStatus, at time.Time) error {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !req.Pending() {
		return domain.ErrNotFound
	}
	req.Status = status
	req.RespondedAt = &at
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.settle(ctx, req, string(b))
}

// settle removes req from the pending index, atomically checking it is
// still the pending one, then rewrites or deletes its record.
func (s *Store) settle(ctx context.Context, req domain.MicRequest, record string) error {
	n, err := settleRequestScript.Run(ctx, s.rdb,
		[]string{s.keys.pending(req.RoomID), s.keys.request(req.ID)},
		string(req.UserID), string(req.ID), record, int(ResolvedTTL/time.Second),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: settle request %s: %w", req.ID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
