package memory

import (
	"context"
	"sync"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

const subscriptionBuffer = 64

// Feed fans notifications out to in-process subscribers.
// A full subscriber buffer drops the notification; the bridge's periodic
// resync covers the gap.
type Feed struct {
	mu   sync.RWMutex
	subs map[domain.RoomID]map[*subscription]struct{}
}

var _ core.Feed = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{subs: make(map[domain.RoomID]map[*subscription]struct{})}
}

func (f *Feed) Publish(_ context.Context, n core.Notification) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[n.RoomID] {
		select {
		case sub.ch <- n:
		default:
			log.Warn().Str("module", "store.memory").Str("room", string(n.RoomID)).Msg("subscriber full, notification dropped")
		}
	}
	return nil
}

func (f *Feed) Subscribe(_ context.Context, room domain.RoomID) (core.Subscription, error) {
	sub := &subscription{feed: f, room: room, ch: make(chan core.Notification, subscriptionBuffer)}
	f.mu.Lock()
	if f.subs[room] == nil {
		f.subs[room] = make(map[*subscription]struct{})
	}
	f.subs[room][sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

type subscription struct {
	feed *Feed
	room domain.RoomID
	ch   chan core.Notification
	once sync.Once
}

func (s *subscription) C() <-chan core.Notification { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs[s.room], s)
		if len(s.feed.subs[s.room]) == 0 {
			delete(s.feed.subs, s.room)
		}
		s.feed.mu.Unlock()
		close(s.ch)
	})
	return nil
}
