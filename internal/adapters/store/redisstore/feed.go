package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const subscriptionBuffer = 64

// Feed publishes change notifications on per-room Redis channels, one per stream.
type Feed struct {
	rdb  redis.UniversalClient
	keys keys
}

var _ core.Feed = (*Feed)(nil)

func NewFeed(rdb redis.UniversalClient, prefix string) *Feed {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Feed{rdb: rdb, keys: keys{prefix: prefix}}
}

func (f *Feed) Publish(ctx context.Context, n core.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, f.keys.channel(n.RoomID, n.Stream), b).Err(); err != nil {
		return fmt.Errorf("redis: publish %s/%s: %w", n.RoomID, n.Stream, err)
	}
	return nil
}

// Subscribe returns once both stream channels are confirmed, so nothing
// published afterwards can be missed.
func (f *Feed) Subscribe(ctx context.Context, room domain.RoomID) (core.Subscription, error) {
	channels := []string{
		f.keys.channel(room, core.StreamSlots),
		f.keys.channel(room, core.StreamRequests),
	}
	ps := f.rdb.Subscribe(ctx, channels...)
	for confirmed := 0; confirmed < len(channels); {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis: subscribe %s: %w", room, err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}

	sub := &subscription{ps: ps, room: room, ch: make(chan core.Notification, subscriptionBuffer), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	room domain.RoomID
	ch   chan core.Notification
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump() {
	defer close(s.done)
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var n core.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			log.Warn().Err(err).Str("module", "store.redis").Str("channel", msg.Channel).Msg("bad notification payload")
			continue
		}
		select {
		case s.ch <- n:
		default:
			log.Warn().Str("module", "store.redis").Str("room", string(s.room)).Msg("subscriber full, notification dropped")
		}
	}
}

func (s *subscription) C() <-chan core.Notification { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}
