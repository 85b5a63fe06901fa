package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues expiry tasks; it satisfies mic.ExpiryScheduler.
type Scheduler struct {
	client Enqueuer
}

func NewScheduler(client Enqueuer) *Scheduler { return &Scheduler{client: client} }

func (s *Scheduler) ScheduleExpiry(ctx context.Context, slot domain.MicSlot, after time.Duration) error {
	task, err := NewSlotExpiryTask(slot)
	if err != nil {
		return fmt.Errorf("build expiry task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task, asynq.ProcessIn(after))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue expiry %s: %w", slot.Key, err)
	}
	log.Debug().Str("module", "tasks").Str("task_id", info.ID).Str("slot", slot.Key.String()).Dur("after", after).Msg("slot expiry scheduled")
	return nil
}
