// Package bus is the cross-process event fanout. Processes never read
// each other's connection registries; they publish envelopes to Redis
// pub/sub and every process decides locally which of its sockets are
// addressed. Delivery is best-effort live fanout: nothing is queued for
// subscribers that are down at publish time.
package bus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

const (
	// SessionEvents carries room-scoped payloads, or explicit-recipient
	// payloads for events that outlive their room (gameOver).
	SessionEvents = "sessionEvents"
	// MatchEvents always addresses an explicit recipient list; the
	// matched users' sockets do not know the room yet.
	MatchEvents = "matchEvents"
)

// Envelope addresses a message either to every socket viewing RoomCode
// or, when Recipients is set, to those user identities directly.
type Envelope struct {
	RoomCode   string          `json:"roomCode,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	Message    json.RawMessage `json:"message"`
}

// ToRoom addresses msg to every live socket viewing the room.
func ToRoom(roomCode string, msg domain.Message) Envelope {
	return Envelope{RoomCode: roomCode, Message: mustMarshal(msg)}
}

// ToUsers addresses msg to the given user identities wherever they are
// connected.
func ToUsers(userIDs []string, msg domain.Message) Envelope {
	return Envelope{Recipients: userIDs, Message: mustMarshal(msg)}
}

// ToRoomUsers addresses msg to explicit recipients while keeping the
// room code for logging. Used for terminal events published just before
// the room record is deleted.
func ToRoomUsers(roomCode string, userIDs []string, msg domain.Message) Envelope {
	return Envelope{RoomCode: roomCode, Recipients: userIDs, Message: mustMarshal(msg)}
}

func mustMarshal(msg domain.Message) json.RawMessage {
	data, err := json.Marshal(msg)
	if err != nil {
		// Payloads are our own plain structs; this cannot fail at runtime.
		log.Error().Err(err).Str("module", "bus").Msg("marshal event")
		return json.RawMessage(`{}`)
	}
	return data
}

type Bus struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish is fire-and-forget fanout. The error is returned so callers
// can report a retryable failure, but no state is rolled back.
func (b *Bus) Publish(ctx context.Context, channel string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		log.Error().Err(err).Str("module", "bus").Str("channel", channel).Msg("publish failed")
		return err
	}
	return nil
}

// Subscribe registers handler for every message published on channel
// and returns immediately; the receive loop runs until ctx is done.
// Malformed messages are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(Envelope)) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn().Err(err).Str("module", "bus").Str("channel", channel).Msg("invalid bus message")
					continue
				}
				if len(env.Message) == 0 {
					log.Warn().Str("module", "bus").Str("channel", channel).Msg("bus message without body")
					continue
				}
				handler(env)
			}
		}
	}()
	log.Info().Str("module", "bus").Str("channel", channel).Msg("subscribed")
}
