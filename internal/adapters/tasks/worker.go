package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

type SlotExpirer interface {
	ExpireSlot(ctx context.Context, key domain.SlotKey, user domain.UserID, since time.Time) (bool, error)
}

type ExpiryHandler struct {
	expirer SlotExpirer
}

func NewExpiryHandler(e SlotExpirer) *ExpiryHandler { return &ExpiryHandler{expirer: e} }

func (h *ExpiryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p SlotExpiryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		log.Error().Err(err).Str("module", "tasks").Str("task_type", t.Type()).Msg("bad expiry payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	released, err := h.expirer.ExpireSlot(ctx, p.Key(), p.UserID, p.Since)
	if err != nil {
		retry, _ := asynq.GetRetryCount(ctx)
		log.Warn().Err(err).Str("module", "tasks").Str("slot", p.Key().String()).Int("retry", retry).Msg("slot expiry failed")
		return err
	}
	log.Debug().Str("module", "tasks").Str("slot", p.Key().String()).Bool("released", released).Msg("slot expiry processed")
	return nil
}

// Worker wraps the asynq server that runs expiry tasks.
type Worker struct {
	server  *asynq.Server
	handler *ExpiryHandler
}

func NewWorker(redisOpt asynq.RedisConnOpt, concurrency int, e SlotExpirer) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueMic: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retry, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Error().Err(err).Str("module", "tasks").Str("task_type", task.Type()).Int("retry", retry).Int("max_retry", maxRetry).Msg("task failed")
		}),
	})
	return &Worker{server: server, handler: NewExpiryHandler(e)}
}

// Start runs the worker in the background; signal handling stays with main.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeSlotExpire, w.handler)
	if err := w.server.Start(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("start worker: %w", err)
	}
	log.Info().Str("module", "tasks").Msg("worker started")
	return nil
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
	log.Info().Str("module", "tasks").Msg("worker stopped")
}
