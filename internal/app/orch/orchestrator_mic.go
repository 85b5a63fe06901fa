package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/MicRoom/internal/app/syncbridge"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomBridge struct {
	bridge  *syncbridge.Bridge
	cancel  context.CancelFunc
	stopObs func()
	done    chan struct{}
}

// Bridge returns the running bridge of room, if any.
func (o *Orchestrator) Bridge(room domain.RoomID) (*syncbridge.Bridge, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rb, ok := o.bridges[room]
	if !ok {
		return nil, false
	}
	return rb.bridge, true
}

func (o *Orchestrator) ensureBridge(room domain.RoomID) *syncbridge.Bridge {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rb, ok := o.bridges[room]; ok {
		return rb.bridge
	}
	ctx, cancel := context.WithCancel(o.ctx)
	opts := []syncbridge.Option{syncbridge.WithResync(o.Resync)}
	if o.Fanout > 0 {
		opts = append(opts, syncbridge.WithFanout(o.Fanout))
	}
	b := syncbridge.New(room, o.Mic, o.Feed, opts...)
	rb := &roomBridge{bridge: b, cancel: cancel, done: make(chan struct{})}
	rb.stopObs = b.Observe(func(u syncbridge.Update) { o.pushMicState(ctx, room, u) })
	o.bridges[room] = rb
	go o.superviseBridge(ctx, rb)
	log.Info().Str("module", "orch").Str("room", string(room)).Msg("bridge started")
	return b
}

// superviseBridge restarts a bridge whose feed dropped, backing off
// between attempts until ctx ends.
func (o *Orchestrator) superviseBridge(ctx context.Context, rb *roomBridge) {
	defer close(rb.done)
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(eb, ctx)

	_ = backoff.RetryNotify(func() error {
		started := time.Now()
		err := rb.bridge.Run(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if time.Since(started) > eb.MaxInterval {
			eb.Reset()
		}
		return err
	}, policy, func(err error, next time.Duration) {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(rb.bridge.Room())).Dur("retry_in", next).Msg("bridge stopped, restarting")
	})
}

func (o *Orchestrator) stopBridge(room domain.RoomID) {
	o.mu.Lock()
	rb, ok := o.bridges[room]
	delete(o.bridges, room)
	o.mu.Unlock()
	if !ok {
		return
	}
	rb.stopObs()
	rb.cancel()
	log.Info().Str("module", "orch").Str("room", string(room)).Msg("bridge stopped")
}

// Close stops every bridge and waits for their goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	all := make([]*roomBridge, 0, len(o.bridges))
	for id, rb := range o.bridges {
		all = append(all, rb)
		delete(o.bridges, id)
	}
	o.mu.Unlock()
	for _, rb := range all {
		rb.stopObs()
		rb.cancel()
		<-rb.done
	}
}

func (o *Orchestrator) micStateFrame(ctx context.Context, u syncbridge.Update) (core.Frame, error) {
	msg := MicState{
		Type:     TypeMicState,
		Version:  u.Snapshot.Version,
		Snapshot: u.Snapshot,
		Grid:     o.Projector.Project(ctx, u.Snapshot),
		Delta:    u.Delta,
	}
	return json.Marshal(msg)
}

func (o *Orchestrator) pushMicState(ctx context.Context, roomID domain.RoomID, u syncbridge.Update) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	frame, err := o.micStateFrame(ctx, u)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("encode mic_state")
		return
	}
	o.broadcast(room, frame)
}
