package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
)

const eventKeyPrefix = "webhook:event:"

// EventDeduper claims gateway event ids so a redelivered event is processed once.
type EventDeduper interface {
	// Claim returns false when the id was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release drops a claim so a later delivery is processed again.
	Release(ctx context.Context, eventID string) error
}

// RedisDeduper stores claims as expiring keys.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	const op = "cache.Claim"
	ok, err := d.rdb.SetNX(ctx, eventKeyPrefix+eventID, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	const op = "cache.Release"
	if err := d.rdb.Del(ctx, eventKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// NopDeduper claims everything. Used when redis is not configured.
type NopDeduper struct{}

func (NopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopDeduper) Release(context.Context, string) error      { return nil }

// NewRedis connects to redis. An empty address returns a nil client.
func NewRedis(ctx context.Context, cfg cfgpkg.RedisConfig) (*redis.Client, error) {
	const op = "cache.NewRedis"
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rdb, nil
}

func provideRedis(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		l.Warnw("redis address is empty, webhook event dedupe disabled")
		return nil, nil
	}
	l.Infow("connected to redis", "addr", cfg.Redis.Addr)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return rdb.Close()
		},
	})
	return rdb, nil
}

func provideDeduper(rdb *redis.Client, cfg *cfgpkg.Config) EventDeduper {
	if rdb == nil {
		return NopDeduper{}
	}
	return NewRedisDeduper(rdb, cfg.Redis.DedupeTTL)
}

var Module = fx.Options(
	fx.Provide(provideRedis),
	fx.Provide(provideDeduper),
)
