// Package tasks runs mic time limits on asynq: seating schedules a delayed
// expiry task, the worker releases the slot if the same occupancy is still there.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	TypeSlotExpire = "mic:slot:expire"
	QueueMic       = "mic"
)

type SlotExpiryPayload struct {
	RoomID domain.RoomID `json:"room_id"`
	Number int           `json:"slot_number"`
	UserID domain.UserID `json:"user_id"`
	Since  time.Time     `json:"since"`
}

func (p SlotExpiryPayload) Key() domain.SlotKey {
	return domain.SlotKey{RoomID: p.RoomID, Number: p.Number}
}

// taskID is stable per occupancy so a retried schedule never doubles up.
func taskID(slot domain.MicSlot) string {
	return fmt.Sprintf("expire:%s:%d:%s:%d", slot.Key.RoomID, slot.Key.Number, slot.UserID, slot.OccupiedSince.UnixMicro())
}

func NewSlotExpiryTask(slot domain.MicSlot) (*asynq.Task, error) {
	b, err := json.Marshal(SlotExpiryPayload{
		RoomID: slot.Key.RoomID,
		Number: slot.Key.Number,
		UserID: slot.UserID,
		Since:  slot.OccupiedSince,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSlotExpire, b, asynq.TaskID(taskID(slot)), asynq.Queue(QueueMic), asynq.MaxRetry(5)), nil
}
