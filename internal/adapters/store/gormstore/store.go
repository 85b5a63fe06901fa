// Package gormstore keeps mic state in PostgreSQL through gorm. Seating and
// pending-request uniqueness are unique indexes; the store maps their
// violations onto domain errors.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres. TranslateError turns unique violations into
// gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: connect: %w", err)
	}
	log.Info().Str("module", "store.gorm").Msg("database connected")
	return db, nil
}

// AutoMigrate creates the tables and the partial index gorm tags cannot express.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&micSettingsRow{},
		&micSlotRow{},
		&micSlotLockRow{},
		&micRequestRow{},
		&roomRoleRow{},
		&profileRow{},
	); err != nil {
		return fmt.Errorf("gorm: migrate: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_mic_requests_one_pending
		ON mic_requests (room_id, user_id) WHERE status = 'pending'`).Error; err != nil {
		return fmt.Errorf("gorm: migrate pending index: %w", err)
	}
	log.Info().Str("module", "store.gorm").Msg("database migrated")
	return nil
}

type Store struct {
	db *gorm.DB
}

var _ core.Store = (*Store)(nil)

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) GetSettings(ctx context.Context, room domain.RoomID) (domain.RoomMicSettings, error) {
	var row micSettingsRow
	err := s.db.WithContext(ctx).Where("room_id = ?", string(room)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultMicSettings(), nil
	}
	if err != nil {
		return domain.RoomMicSettings{}, fmt.Errorf("gorm: get settings %s: %w", room, err)
	}
	return domain.RoomMicSettings{
		MicEnabled:       row.MicEnabled,
		MicCount:         row.MicCount,
		MicTimeLimit:     row.MicTimeLimit,
		AllowMicRequests: row.AllowMicRequests,
		AllowSongs:       row.AllowSongs,
		MicPointsReward:  row.MicPointsReward,
		RoomLocked:       row.IsLocked,
		ChatMuted:        row.IsChatMuted,
	}, nil
}

func (s *Store) SaveSettings(ctx context.Context, room domain.RoomID, st domain.RoomMicSettings) error {
	row := micSettingsRow{
		RoomID:           string(room),
		MicEnabled:       st.MicEnabled,
		MicCount:         st.MicCount,
		MicTimeLimit:     st.MicTimeLimit,
		AllowMicRequests: st.AllowMicRequests,
		AllowSongs:       st.AllowSongs,
		MicPointsReward:  st.MicPointsReward,
		IsLocked:         st.RoomLocked,
		IsChatMuted:      st.ChatMuted,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("gorm: save settings %s: %w", room, err)
	}
	return nil
}

func (s *Store) ListSlots(ctx context.Context, room domain.RoomID) ([]domain.MicSlot, error) {
	var rows []micSlotRow
	if err := s.db.WithContext(ctx).Where("room_id = ?", string(room)).Order("slot_number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gorm: list slots %s: %w", room, err)
	}
	out := make([]domain.MicSlot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MicSlot{
			Key:            domain.SlotKey{RoomID: room, Number: r.SlotNumber},
			UserID:         domain.UserID(r.UserID),
			ModeratorMuted: r.IsMuted,
			OccupiedSince:  r.StartedAt.UTC(),
		})
	}
	return out, nil
}

// InsertSlot is one statement. Both unique indexes are enforced by
// Postgres; the lock check is only a snapshot read, so a lock taken at the
// same moment may not be seen.
func (s *Store) InsertSlot(ctx context.Context, slot domain.MicSlot) error {
	room := string(slot.Key.RoomID)
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO mic_slots (room_id, slot_number, user_id, is_muted, started_at)
		SELECT ?, ?, ?, false, ?
		WHERE NOT EXISTS (SELECT 1 FROM mic_slot_locks WHERE room_id = ? AND slot_number = ?)`,
		room, slot.Key.Number, string(slot.UserID), slot.OccupiedSince.UTC(),
		room, slot.Key.Number,
	)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return s.classifyDuplicate(ctx, slot)
	}
	if res.Error != nil {
		return fmt.Errorf("gorm: insert slot %s: %w", slot.Key, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSlotLocked
	}
	return nil
}

// classifyDuplicate tells which unique index fired.
func (s *Store) classifyDuplicate(ctx context.Context, slot domain.MicSlot) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&micSlotRow{}).
		Where("room_id = ? AND slot_number = ?", string(slot.Key.RoomID), slot.Key.Number).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("gorm: classify conflict %s: %w", slot.Key, err)
	}
	if n > 0 {
		return domain.ErrSlotOccupied
	}
	return domain.ErrAlreadySeated
}

func (s *Store) DeleteSlot(ctx context.Context, key domain.SlotKey, cond core.SlotCondition) (bool, error) {
	q := s.db.WithContext(ctx).Where("room_id = ? AND slot_number = ?", string(key.RoomID), key.Number)
	if cond.UserID != "" {
		q = q.Where("user_id = ?", string(cond.UserID))
	}
	if !cond.Since.IsZero() {
		q = q.Where("started_at = ?", cond.Since.UTC())
	}
	res := q.Delete(&micSlotRow{})
	if res.Error != nil {
		return false, fmt.Errorf("gorm: delete slot %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SetSlotMuted(ctx context.Context, key domain.SlotKey, muted bool) error {
	res := s.db.WithContext(ctx).Model(&micSlotRow{}).
		Where("room_id = ? AND slot_number = ?", string(key.RoomID), key.Number).
		Update("is_muted", muted)
	if res.Error != nil {
		return fmt.Errorf("gorm: mute slot %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ClearSlots(ctx context.Context, room domain.RoomID) (int, error) {
	res := s.db.WithContext(ctx).Where("room_id = ?", string(room)).Delete(&micSlotRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("gorm: clear slots %s: %w", room, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) SetSlotLock(ctx context.Context, key domain.SlotKey, locked bool) error {
	db := s.db.WithContext(ctx)
	var err error
	if locked {
		err = db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&micSlotLockRow{RoomID: string(key.RoomID), SlotNumber: key.Number}).Error
	} else {
		err = db.Where("room_id = ? AND slot_number = ?", string(key.RoomID), key.Number).
			Delete(&micSlotLockRow{}).Error
	}
	if err != nil {
		return fmt.Errorf("gorm: lock slot %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListLockedSlots(ctx context.Context, room domain.RoomID) ([]int, error) {
	var nums []int
	err := s.db.WithContext(ctx).Model(&micSlotLockRow{}).
		Where("room_id = ?", string(room)).Order("slot_number").
		Pluck("slot_number", &nums).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list locks %s: %w", room, err)
	}
	return nums, nil
}

func toRequest(r micRequestRow) domain.MicRequest {
	req := domain.MicRequest{
		ID:            domain.RequestID(r.ID),
		RoomID:        domain.RoomID(r.RoomID),
		UserID:        domain.UserID(r.UserID),
		RequestedSlot: r.RequestedSlot,
		Status:        domain.RequestStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.RespondedAt != nil {
		at := r.RespondedAt.UTC()
		req.RespondedAt = &at
	}
	return req
}

func (s *Store) InsertRequest(ctx context.Context, req domain.MicRequest) error {
	row := micRequestRow{
		ID:            string(req.ID),
		RoomID:        string(req.RoomID),
		UserID:        string(req.UserID),
		RequestedSlot: req.RequestedSlot,
		Status:        string(req.Status),
		CreatedAt:     req.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadyPending
	}
	if err != nil {
		return fmt.Errorf("gorm: insert request %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id domain.RequestID) (domain.MicRequest, error) {
	var row micRequestRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.MicRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MicRequest{}, fmt.Errorf("gorm: get request %s: %w", id, err)
	}
	return toRequest(row), nil
}

func (s *Store) ListPendingRequests(ctx context.Context, room domain.RoomID) ([]domain.MicRequest, error) {
	var rows []micRequestRow
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", string(room), string(domain.RequestPending)).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list pending %s: %w", room, err)
	}
	out := make([]domain.MicRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRequest(r))
	}
	return out, nil
}

func (s *Store) DeletePendingRequest(ctx context.Context, id domain.RequestID, owner domain.UserID) error {
	q := s.db.WithContext(ctx).Where("id = ? AND status = ?", string(id), string(domain.RequestPending))
	if owner != "" {
		q = q.Where("user_id = ?", string(owner))
	}
	res := q.Delete(&micRequestRow{})
	if res.Error != nil {
		return fmt.Errorf("gorm: delete request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResolveRequest is a conditional update, so a request leaves pending once.
func (s *Store) ResolveRequest(ctx context.Context, id domain.RequestID, status domain.RequestStatus, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&micRequestRow{}).
		Where("id = ? AND status = ?", string(id), string(domain.RequestPending)).
		Updates(map[string]any{"status": string(status), "responded_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("gorm: resolve request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
