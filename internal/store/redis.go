// Package store holds the Redis-backed durable state: rooms and player
// sessions, ranked matchmaking queues, the username directory, and the
// aggregate stats records. All cross-process mutations are expressed as
// per-operation atomic Redis commands (HINCRBY, LREM/RPUSH) or small
// Lua scripts where a read-then-write must be indivisible.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connect builds a client from a redis:// URL and verifies the
// connection before anything depends on it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("module", "store").Str("addr", opt.Addr).Msg("redis connected")
	return rdb, nil
}
