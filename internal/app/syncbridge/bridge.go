// Package syncbridge keeps one room's mic snapshot current by re-reading
// the store whenever the change feed reports activity.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// ErrFeedClosed is returned by Run when the subscription ends under it.
var ErrFeedClosed = errors.New("syncbridge: change feed closed")

type Fetcher interface {
	Snapshot(ctx context.Context, room domain.RoomID) (core.Snapshot, error)
}

// Update is one published state: the full snapshot plus what changed
// since the previous one.
type Update struct {
	Snapshot core.Snapshot `json:"snapshot"`
	Delta    core.Delta    `json:"delta"`
}

type Observer func(Update)

type Bridge struct {
	room   domain.RoomID
	fetch  Fetcher
	feed   core.Feed
	resync time.Duration
	fanout int

	mu        sync.RWMutex
	latest    *Update
	observers map[int]Observer
	nextID    int

	// deliverMu orders deliveries so an observer never sees versions out of order.
	deliverMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
}

type Option func(*Bridge)

// WithResync sets the periodic full refresh; 0 disables it.
func WithResync(d time.Duration) Option { return func(b *Bridge) { b.resync = d } }

func WithFanout(n int) Option { return func(b *Bridge) { b.fanout = n } }

func New(room domain.RoomID, fetch Fetcher, feed core.Feed, opts ...Option) *Bridge {
	b := &Bridge{
		room:      room,
		fetch:     fetch,
		feed:      feed,
		resync:    30 * time.Second,
		fanout:    8,
		observers: make(map[int]Observer),
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) Room() domain.RoomID { return b.room }

// Ready is closed after the first successful fetch.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

func (b *Bridge) Latest() (Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return Update{}, false
	}
	return *b.latest, true
}

// Observe registers fn and replays the latest update to it right away.
// Observers run on the bridge goroutine pool and must not block.
func (b *Bridge) Observe(fn Observer) (cancel func()) {
	b.deliverMu.Lock()
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	latest := b.latest
	b.mu.Unlock()
	if latest != nil {
		fn(*latest)
	}
	b.deliverMu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

// Run subscribes, performs the initial fetch and then refetches on every
// burst of notifications until ctx ends. Subscribing first means no change
// between the initial fetch and the first notification can be missed.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.feed.Subscribe(ctx, b.room)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.room, err)
	}
	defer sub.Close()

	b.refresh(ctx)

	var tick <-chan time.Time
	if b.resync > 0 {
		t := time.NewTicker(b.resync)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.C():
			if !ok {
				return ErrFeedClosed
			}
			if !drain(sub.C()) {
				return ErrFeedClosed
			}
			b.refresh(ctx)
		case <-tick:
			b.refresh(ctx)
		}
	}
}

// drain swallows notifications already queued so a burst costs one fetch.
func drain(c <-chan core.Notification) bool {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (b *Bridge) refresh(ctx context.Context) {
	snap, err := b.fetch.Snapshot(ctx, b.room)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "app.syncbridge").Str("room", string(b.room)).Msg("refetch failed, waiting for next trigger")
		}
		return
	}

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	var prev core.Snapshot
	if b.latest != nil {
		prev = b.latest.Snapshot
	}
	delta := core.Diff(prev, snap)
	if b.latest != nil && delta.Empty() {
		b.mu.Unlock()
		return
	}
	snap.Version = prev.Version + 1
	u := Update{Snapshot: snap, Delta: delta}
	b.latest = &u
	obs := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		obs = append(obs, o)
	}
	b.mu.Unlock()

	b.readyOnce.Do(func() { close(b.ready) })
	log.Debug().Str("module", "app.syncbridge").Str("room", string(b.room)).Uint64("version", snap.Version).Int("observers", len(obs)).Msg("snapshot published")

	p := pool.New().WithMaxGoroutines(b.fanout)
	for _, o := range obs {
		p.Go(func() { o(u) })
	}
	p.Wait()
}
