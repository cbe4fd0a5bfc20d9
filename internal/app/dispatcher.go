package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/bus"
)

// Subscriber is the receive side of the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(bus.Envelope))
}

// Dispatcher connects the bus to the local connection registry: every
// process runs one, and each decides independently whether it holds
// sockets the envelope addresses.
type Dispatcher struct {
	Registry *Registry
}

// Run registers the handlers for both channels and returns.
func (d *Dispatcher) Run(ctx context.Context, sub Subscriber) {
	sub.Subscribe(ctx, bus.SessionEvents, d.onSessionEvent)
	sub.Subscribe(ctx, bus.MatchEvents, d.onMatchEvent)
}

func (d *Dispatcher) onSessionEvent(env bus.Envelope) {
	// Explicit recipients bypass room membership; used for events
	// published after the room record is already gone.
	if len(env.Recipients) > 0 {
		d.Registry.DeliverToUsers(env.Recipients, env.Message)
		return
	}
	if env.RoomCode == "" {
		log.Warn().Str("module", "app.dispatcher").Msg("session event without address")
		return
	}
	d.Registry.DeliverToRoom(env.RoomCode, env.Message)
}

func (d *Dispatcher) onMatchEvent(env bus.Envelope) {
	if len(env.Recipients) == 0 {
		log.Warn().Str("module", "app.dispatcher").Msg("match event without recipients")
		return
	}
	d.Registry.DeliverToUsers(env.Recipients, env.Message)
}
