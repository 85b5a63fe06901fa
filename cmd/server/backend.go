package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MicRoom/internal/adapters/store/gormstore"
	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/adapters/store/redisstore"
	"github.com/dkeye/MicRoom/internal/adapters/tasks"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/config"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

// backend is the storage side of the server picked by store.driver.
type backend struct {
	store    core.Store
	feed     core.Feed
	roles    core.RoleLookup
	profiles core.ProfileLookup

	expiry      mic.ExpiryScheduler
	startWorker func(tasks.SlotExpirer) error

	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("backend close")
		}
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}
	var rdb *redis.Client
	needRedis := cfg.Store.Driver == "redis" || cfg.Tasks.Enabled
	if needRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Store.RedisAddr, err)
		}
		b.closers = append(b.closers, rdb.Close)
	}

	switch cfg.Store.Driver {
	case "memory":
		b.store = memory.NewStore()
		b.feed = memory.NewFeed()
		roles := memory.NewRoles()
		for _, u := range cfg.Admins {
			roles.SetGlobal(domain.UserID(u), domain.RoleAdmin)
		}
		b.roles = roles
		b.profiles = memory.NewProfiles()
	case "redis":
		b.store = redisstore.New(rdb, cfg.Store.KeyPrefix)
		b.feed = redisstore.NewFeed(rdb, cfg.Store.KeyPrefix)
		lookups := redisstore.NewLookups(rdb, cfg.Store.KeyPrefix)
		b.roles, b.profiles = lookups, lookups
	case "postgres":
		db, err := gormstore.Open(cfg.Store.PostgresDSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			b.Close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			b.closers = append(b.closers, sqlDB.Close)
		}
		b.store = gormstore.New(db)
		lookups := gormstore.NewLookups(db)
		b.roles, b.profiles = lookups, lookups
		// Postgres has no pub/sub we use; fan out through Redis when it is
		// available so several servers see each other's changes.
		if rdb != nil {
			b.feed = redisstore.NewFeed(rdb, cfg.Store.KeyPrefix)
		} else {
			b.feed = memory.NewFeed()
		}
	default:
		b.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Tasks.Enabled {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}
		client := asynq.NewClient(redisOpt)
		b.closers = append(b.closers, client.Close)
		b.expiry = tasks.NewScheduler(client)
		b.startWorker = func(e tasks.SlotExpirer) error {
			w := tasks.NewWorker(redisOpt, cfg.Tasks.Concurrency, e)
			if err := w.Start(); err != nil {
				return err
			}
			b.closers = append(b.closers, func() error { w.Shutdown(); return nil })
			return nil
		}
	}
	return b, nil
}
