package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/bus"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// QueueStore is the shared ordered-list backend of the ranked queues.
// Enqueue must clear the user from every sized queue before pushing;
// Claim must be an indivisible read-length-then-pop-N.
type QueueStore interface {
	Enqueue(ctx context.Context, userID string, targets []domain.QueueKind) error
	Remove(ctx context.Context, userID string, kinds []domain.QueueKind) error
	Claim(ctx context.Context, kind domain.QueueKind, need int) ([]string, error)
}

// RankedRooms creates the room for a winning batch.
type RankedRooms interface {
	CreateRankedRoom(ctx context.Context, kind domain.QueueKind, userIDs []string) (*domain.Room, error)
}

// Matchmaker batches "join queue" requests arriving at arbitrary
// processes into atomically formed rooms. Ties between processes that
// both see a full queue are resolved by the store's atomic claim, never
// by application locking; the loser just observes a shorter queue.
type Matchmaker struct {
	Queues QueueStore
	Rooms  RankedRooms
	Bus    Publisher
}

// queueTargets expands a requested kind into the sized queues it
// occupies: the quick wildcard waits in all of them at once.
func queueTargets(kind domain.QueueKind) ([]domain.QueueKind, error) {
	if kind == domain.QueueQuick {
		return domain.SizedQueues(), nil
	}
	if _, ok := domain.QueueSizes[kind]; !ok {
		return nil, domain.ErrInvalidQueue
	}
	return []domain.QueueKind{kind}, nil
}

// Enqueue places the user in the requested queue(s) and immediately
// checks each for a full batch. On a win it returns the created room;
// a nil room means the user is waiting and will learn of a match via
// the matchFound event.
func (m *Matchmaker) Enqueue(ctx context.Context, userID string, kind domain.QueueKind) (*domain.Room, error) {
	targets, err := queueTargets(kind)
	if err != nil {
		return nil, err
	}
	if err := m.Queues.Enqueue(ctx, userID, targets); err != nil {
		return nil, err
	}
	for _, q := range targets {
		ids, err := m.Queues.Claim(ctx, q, domain.QueueSizes[q])
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}
		return m.fireMatch(ctx, q, ids)
	}
	return nil, nil
}

// Dequeue removes the user from the requested queue(s); absent entries
// are a no-op.
func (m *Matchmaker) Dequeue(ctx context.Context, userID string, kind domain.QueueKind) error {
	targets, err := queueTargets(kind)
	if err != nil {
		return err
	}
	return m.Queues.Remove(ctx, userID, targets)
}

func (m *Matchmaker) fireMatch(ctx context.Context, kind domain.QueueKind, userIDs []string) (*domain.Room, error) {
	// The batch is claimed; pull its members out of every other queue
	// so a quick-queue entry cannot be matched twice.
	others := make([]domain.QueueKind, 0, 2)
	for _, q := range domain.SizedQueues() {
		if q != kind {
			others = append(others, q)
		}
	}
	for _, id := range userIDs {
		if err := m.Queues.Remove(ctx, id, others); err != nil {
			log.Error().Err(err).Str("module", "app.matchmaker").Str("user", id).Msg("cross-queue cleanup failed")
		}
	}

	room, err := m.Rooms.CreateRankedRoom(ctx, kind, userIDs)
	if err != nil {
		return nil, err
	}
	// Addressed to the matched identities, not a room: their sockets
	// have not joined the room yet.
	env := bus.ToUsers(userIDs, domain.MatchFound(room.Code, kind))
	if err := m.Bus.Publish(ctx, bus.MatchEvents, env); err != nil {
		log.Error().Err(err).Str("module", "app.matchmaker").Str("room", room.Code).Msg("matchFound publish failed")
	}
	log.Info().Str("module", "app.matchmaker").Str("room", room.Code).Str("queue", string(kind)).Int("players", len(userIDs)).Msg("match fired")
	return room, nil
}
