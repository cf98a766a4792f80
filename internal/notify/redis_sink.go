package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ergo-live/internal/presentation"
)

// Redis defaults.
const (
	DefaultRedisChannel = "ergo-live:deliveries"
	DefaultRecentKey    = "ergo-live:displayed"
	DefaultRecentLen    = 50
	DefaultRecentTTL    = 24 * time.Hour
)

// RedisSink publishes deliveries on a pub/sub channel and keeps the most
// recent ones in a capped list so late renderers can backfill.
type RedisSink struct {
	rdb       *redis.Client
	channel   string
	recentKey string
	recentLen int64
	recentTTL time.Duration
}

var _ presentation.Sink = (*RedisSink)(nil)

// RedisSinkConfig configures RedisSink. Zero values use the defaults.
type RedisSinkConfig struct {
	Channel   string
	RecentKey string
	RecentLen int
	RecentTTL time.Duration
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(rdb *redis.Client, cfg RedisSinkConfig) *RedisSink {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.RecentKey == "" {
		cfg.RecentKey = DefaultRecentKey
	}
	if cfg.RecentLen <= 0 {
		cfg.RecentLen = DefaultRecentLen
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = DefaultRecentTTL
	}
	return &RedisSink{
		rdb:       rdb,
		channel:   cfg.Channel,
		recentKey: cfg.RecentKey,
		recentLen: int64(cfg.RecentLen),
		recentTTL: cfg.RecentTTL,
	}
}

// Deliver publishes d and records it in the recent list.
func (s *RedisSink) Deliver(ctx context.Context, d presentation.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, payload)
		pipe.RPush(ctx, s.recentKey, payload)
		pipe.LTrim(ctx, s.recentKey, -s.recentLen, -1)
		pipe.Expire(ctx, s.recentKey, s.recentTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish delivery: %w", err)
	}
	return nil
}

// Recent returns the stored deliveries, oldest first.
func (s *RedisSink) Recent(ctx context.Context) ([]presentation.Delivery, error) {
	vals, err := s.rdb.LRange(ctx, s.recentKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]presentation.Delivery, 0, len(vals))
	for _, v := range vals {
		var d presentation.Delivery
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("unmarshal delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Reset deletes the recent list.
func (s *RedisSink) Reset(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.recentKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
