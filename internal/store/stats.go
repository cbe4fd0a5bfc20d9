package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// Stats is the player-record store behind the lifecycle's aggregate
// updates. Every write is an increment or a max, so concurrent game
// endings for the same player never lose updates.
//
// Layout: stats:{userID}:{mode} hash with gamesPlayed, gamesWon,
// linesCleared, highestScore.
type Stats struct {
	rdb *redis.Client
	max *redis.Script
}

// maxScript keeps a hash field at the maximum of its current value and
// the argument.
var maxScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1])) or 0
local val = tonumber(ARGV[2])
if val > cur then
    redis.call('HSET', KEYS[1], ARGV[1], val)
    return val
end
return cur
`)

func NewStats(rdb *redis.Client) *Stats {
	return &Stats{rdb: rdb, max: maxScript}
}

func statsKey(userID string, mode domain.RoomMode) string {
	return fmt.Sprintf("stats:%s:%s", userID, mode)
}

// RecordResult applies one finished game to the player's ranked or
// unranked bucket. The win counter moves only for placement 1.
func (s *Stats) RecordResult(ctx context.Context, mode domain.RoomMode, res domain.PlayerResult) error {
	key := statsKey(res.UserID, mode)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "gamesPlayed", 1)
	pipe.HIncrBy(ctx, key, "linesCleared", int64(res.LinesCleared))
	if res.Placement == 1 {
		pipe.HIncrBy(ctx, key, "gamesWon", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record result %s: %w", res.UserID, err)
	}
	if err := s.max.Run(ctx, s.rdb, []string{key}, "highestScore", res.Score).Err(); err != nil {
		return fmt.Errorf("record high score %s: %w", res.UserID, err)
	}
	return nil
}
