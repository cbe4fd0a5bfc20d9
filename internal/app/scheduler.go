package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/bus"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// Publisher is the send side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, env bus.Envelope) error
}

// speedUpTable maps elapsed play time to the tick period clients must
// pace gravity at. Rates only ever decrease as a game ages.
var speedUpTable = []struct {
	after time.Duration
	rate  int
}{
	{0, 10000},
	{30 * time.Second, 9000},
	{60 * time.Second, 7000},
	{120 * time.Second, 6000},
	{180 * time.Second, 5000},
	{240 * time.Second, 4000},
}

// tickRateFor selects the rate of the last threshold not exceeding
// elapsed.
func tickRateFor(elapsed time.Duration) int {
	rate := speedUpTable[0].rate
	for _, step := range speedUpTable {
		if elapsed >= step.after {
			rate = step.rate
		}
	}
	return rate
}

// Scheduler runs one pacing loop per playing room on the process that
// started the game. Each loop wakes once a second, derives the current
// tick rate from wall-clock time since the room started, and publishes
// a tickUpdate only when the rate changes.
type Scheduler struct {
	mu    sync.Mutex
	loops map[string]*roomLoop
	bus   Publisher
}

type roomLoop struct {
	code      string
	startedAt time.Time
	lastRate  int
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewScheduler(pub Publisher) *Scheduler {
	return &Scheduler{loops: make(map[string]*roomLoop), bus: pub}
}

// Start spins up the loop for a room. Starting an already-scheduled
// room is a no-op with a warning; the running loop keeps its state.
func (s *Scheduler) Start(roomCode string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loops[roomCode]; ok {
		log.Warn().Str("module", "app.scheduler").Str("room", roomCode).Msg("game loop already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &roomLoop{
		code:      roomCode,
		startedAt: startedAt,
		lastRate:  speedUpTable[0].rate,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.loops[roomCode] = l
	go s.run(ctx, l)
	log.Info().Str("module", "app.scheduler").Str("room", roomCode).Msg("game loop started")
}

// Stop cancels a room's loop and waits for it to exit, so no tick can
// fire after the room's state is torn down. Stopping an unknown room is
// a silent no-op.
func (s *Scheduler) Stop(roomCode string) {
	s.mu.Lock()
	l, ok := s.loops[roomCode]
	if ok {
		delete(s.loops, roomCode)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
	log.Info().Str("module", "app.scheduler").Str("room", roomCode).Msg("game loop stopped")
}

// StopAll tears down every loop; called on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	loops := make([]*roomLoop, 0, len(s.loops))
	for code, l := range s.loops {
		loops = append(loops, l)
		delete(s.loops, code)
	}
	s.mu.Unlock()
	for _, l := range loops {
		l.cancel()
		<-l.done
	}
}

func (s *Scheduler) run(ctx context.Context, l *roomLoop) {
	defer close(l.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rate, changed := l.advance(now)
			if !changed {
				continue
			}
			env := bus.ToRoom(l.code, domain.TickUpdate(rate))
			if err := s.bus.Publish(ctx, bus.SessionEvents, env); err != nil {
				log.Error().Err(err).Str("module", "app.scheduler").Str("room", l.code).Msg("tick publish failed")
			}
		}
	}
}

// advance recomputes the rate for the loop's elapsed time and reports
// whether it differs from the last broadcast one. Each distinct rate is
// announced exactly once.
func (l *roomLoop) advance(now time.Time) (int, bool) {
	rate := tickRateFor(now.Sub(l.startedAt))
	if rate == l.lastRate {
		return rate, false
	}
	l.lastRate = rate
	return rate, true
}
