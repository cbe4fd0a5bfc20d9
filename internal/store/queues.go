package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// Queues holds the ranked matchmaking lists, one per sized queue kind
// (rankedQueue:2P and friends). Any number of processes push and claim
// concurrently; correctness rests on Redis per-operation atomicity, not
// on application locks.
type Queues struct {
	rdb   *redis.Client
	claim *redis.Script
}

// claimScript is the one indivisible read-length-then-pop-N in the
// system. If two processes observe a full queue simultaneously only one
// drains the head batch; the other sees a shorter list and returns
// empty, so a batch can never be matched twice.
var claimScript = redis.NewScript(`
local need = tonumber(ARGV[1])
if redis.call('LLEN', KEYS[1]) < need then
    return {}
end
local ids = redis.call('LRANGE', KEYS[1], 0, need - 1)
redis.call('LTRIM', KEYS[1], need, -1)
return ids
`)

func NewQueues(rdb *redis.Client) *Queues {
	return &Queues{rdb: rdb, claim: claimScript}
}

func queueKey(kind domain.QueueKind) string { return "rankedQueue:" + string(kind) }

// Enqueue appends userID to every target queue, after removing it from
// all sized queues so an identity occupies at most one logical request
// at a time (last requested queue wins).
func (q *Queues) Enqueue(ctx context.Context, userID string, targets []domain.QueueKind) error {
	pipe := q.rdb.TxPipeline()
	for _, kind := range domain.SizedQueues() {
		pipe.LRem(ctx, queueKey(kind), 0, userID)
	}
	for _, kind := range targets {
		pipe.RPush(ctx, queueKey(kind), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", userID, err)
	}
	return nil
}

// Remove takes userID out of the given queues. Removing an absent entry
// is a no-op, so dequeue is idempotent.
func (q *Queues) Remove(ctx context.Context, userID string, kinds []domain.QueueKind) error {
	pipe := q.rdb.TxPipeline()
	for _, kind := range kinds {
		pipe.LRem(ctx, queueKey(kind), 0, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s from queues: %w", userID, err)
	}
	return nil
}

// Claim atomically drains the first need entries of kind's queue, or
// returns nothing if the queue is shorter than need.
func (q *Queues) Claim(ctx context.Context, kind domain.QueueKind, need int) ([]string, error) {
	ids, err := q.claim.Run(ctx, q.rdb, []string{queueKey(kind)}, need).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", kind, err)
	}
	return ids, nil
}
