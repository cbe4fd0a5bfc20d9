package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/bus"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// RoomStore is the durable room/session state shared by all processes.
type RoomStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, code string) (*domain.Room, error)
	MarkStarted(ctx context.Context, code string, at time.Time) error
	DeleteRoom(ctx context.Context, code string) error

	CreateSession(ctx context.Context, code string, sess *domain.PlayerSession) error
	GetSession(ctx context.Context, code, userID string) (*domain.PlayerSession, error)
	ListSessions(ctx context.Context, code string) ([]*domain.PlayerSession, error)
	DeleteSession(ctx context.Context, code, userID string) error
	ApplyAction(ctx context.Context, code, userID string, linesCleared, scoreGained int) (*domain.PlayerSession, error)
	MarkEliminated(ctx context.Context, code, userID string) (bool, error)
	SetPlacements(ctx context.Context, code string, placements map[string]int) error
}

// StatsStore is the external player-record store, reached only through
// field-level increments and maxes.
type StatsStore interface {
	RecordResult(ctx context.Context, mode domain.RoomMode, res domain.PlayerResult) error
}

// UserDirectory resolves display names for scoreboard rows.
type UserDirectory interface {
	Usernames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// LoopManager owns the per-room tick loops.
type LoopManager interface {
	Start(roomCode string, startedAt time.Time)
	Stop(roomCode string)
}

// Game drives the room/session lifecycle: waiting → playing → finished,
// with the terminal state deleting the room and its sessions after the
// aggregate stats are written out.
type Game struct {
	Rooms    RoomStore
	Stats    StatsStore
	Users    UserDirectory
	Bus      Publisher
	Loops    LoopManager
	QueueLen int
}

// ActionReport is a client-reported game outcome; the server records
// and relays it but never simulates the board itself.
type ActionReport struct {
	LinesCleared int `json:"linesCleared"`
	ScoreGained  int `json:"scoreGained"`
	GarbageSent  int `json:"garbageSent"`
}

// Opponent is the slice of a player another client may see.
type Opponent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

var roomSizes = map[int]bool{2: true, 3: true, 4: true}

// CreateRoom opens an unranked waiting room with the caller as host and
// first player.
func (g *Game) CreateRoom(ctx context.Context, hostID, hostName string, size int) (*domain.Room, error) {
	if !roomSizes[size] {
		return nil, domain.ErrInvalidRoomSize
	}
	code, err := g.newRoomCode(ctx)
	if err != nil {
		return nil, err
	}
	room := &domain.Room{
		Code:       code,
		Mode:       domain.ModeUnranked,
		Status:     domain.StatusWaiting,
		MaxPlayers: size,
		CreatedBy:  hostID,
		CreatedAt:  time.Now(),
	}
	if err := g.Rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := g.Rooms.CreateSession(ctx, code, g.newSession(hostID, hostName)); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.game").Str("room", code).Str("host", hostID).Msg("room created")
	return room, nil
}

// Join adds a player to a waiting room and announces it room-wide.
func (g *Game) Join(ctx context.Context, code, userID, username string) (*domain.Room, []*domain.PlayerSession, error) {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if room.Status != domain.StatusWaiting {
		return nil, nil, domain.ErrNotWaiting
	}
	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if len(sessions) >= room.MaxPlayers {
		return nil, nil, domain.ErrRoomFull
	}
	if _, err := g.Rooms.GetSession(ctx, code, userID); err == nil {
		return nil, nil, domain.ErrAlreadyJoined
	} else if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil, err
	}
	sess := g.newSession(userID, username)
	if err := g.Rooms.CreateSession(ctx, code, sess); err != nil {
		return nil, nil, err
	}
	g.publishSession(ctx, bus.ToRoom(code, domain.PlayerJoined(userID, username)))
	return room, append(sessions, sess), nil
}

// Leave removes the caller from the room. A leaving host disbands the
// whole room; its loop is stopped before any state is deleted. Returns
// whether the room was closed.
func (g *Game) Leave(ctx context.Context, code, userID string) (bool, error) {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return false, err
	}
	if _, err := g.Rooms.GetSession(ctx, code, userID); err != nil {
		return false, err
	}
	if room.CreatedBy == userID {
		g.Loops.Stop(code)
		if err := g.Rooms.DeleteRoom(ctx, code); err != nil {
			return false, err
		}
		g.publishSession(ctx, bus.ToRoom(code, domain.RoomClosed(code)))
		log.Info().Str("module", "app.game").Str("room", code).Msg("host left, room closed")
		return true, nil
	}
	if err := g.Rooms.DeleteSession(ctx, code, userID); err != nil {
		return false, err
	}
	g.publishSession(ctx, bus.ToRoom(code, domain.PlayerLeft(userID)))
	return false, nil
}

// Details returns the room and its sessions in join order.
func (g *Game) Details(ctx context.Context, code string) (*domain.Room, []*domain.PlayerSession, error) {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	return room, sessions, nil
}

// Start moves a waiting room to playing: stamps the start time, begins
// the tick loop and announces the start. Host only.
func (g *Game) Start(ctx context.Context, code, userID string) (*domain.Room, error) {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.CreatedBy != userID {
		return nil, domain.ErrNotHost
	}
	if room.Status != domain.StatusWaiting {
		return nil, domain.ErrNotWaiting
	}
	now := time.Now()
	if err := g.Rooms.MarkStarted(ctx, code, now); err != nil {
		return nil, err
	}
	room.Status = domain.StatusPlaying
	room.StartedAt = &now
	g.Loops.Start(code, now)
	g.publishSession(ctx, bus.ToRoom(code, domain.RoomStarted(code)))
	return room, nil
}

// ReportAction records one client-reported move for an alive session:
// atomic score/line increments, one piece consumed, score broadcast,
// and a garbage attribution if any was sent. Returns the next two
// pieces so the client can pre-render its queue.
func (g *Game) ReportAction(ctx context.Context, code, userID string, report ActionReport) ([]domain.PieceKind, error) {
	if report.LinesCleared < 0 || report.ScoreGained < 0 || report.GarbageSent < 0 {
		return nil, domain.ErrInvalidAction
	}
	if _, err := g.Rooms.GetRoom(ctx, code); err != nil {
		return nil, err
	}
	sess, err := g.Rooms.GetSession(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if !sess.Alive {
		return nil, domain.ErrEliminated
	}
	updated, err := g.Rooms.ApplyAction(ctx, code, userID, report.LinesCleared, report.ScoreGained)
	if err != nil {
		return nil, err
	}
	g.publishSession(ctx, bus.ToRoom(code, domain.ScoreUpdated(userID, updated.Score, updated.LinesCleared)))
	if report.GarbageSent > 0 {
		g.publishSession(ctx, bus.ToRoom(code, domain.GarbageReceived(report.GarbageSent, userID)))
	}
	return updated.NextPieces(2), nil
}

// Eliminate marks a session dead. Calling it again for the same session
// is a silent no-op: exactly one playerDefeated broadcast and one
// placement write happen per elimination. When at most one session is
// left alive the room finishes.
func (g *Game) Eliminate(ctx context.Context, code, userID string) ([]domain.Standing, error) {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	flipped, err := g.Rooms.MarkEliminated(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return g.Standings(ctx, code)
	}

	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return nil, err
	}
	placeSessions(sessions)
	placements := make(map[string]int, len(sessions))
	for _, sess := range sessions {
		placements[sess.UserID] = sess.Placement
	}
	if err := g.Rooms.SetPlacements(ctx, code, placements); err != nil {
		return nil, err
	}
	g.publishSession(ctx, bus.ToRoom(code, domain.PlayerDefeated(userID)))

	alive := 0
	for _, sess := range sessions {
		if sess.Alive {
			alive++
		}
	}
	if alive <= 1 {
		if err := g.finishRoom(ctx, room, sessions); err != nil {
			return nil, err
		}
	}
	return standingsOf(sessions), nil
}

// Finish ends a room explicitly (host-forced unranked end), with the
// same stats and broadcast behavior as the last-player-standing path.
func (g *Game) Finish(ctx context.Context, code string) error {
	room, err := g.Rooms.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return err
	}
	placeSessions(sessions)
	return g.finishRoom(ctx, room, sessions)
}

// finishRoom is the terminal branch: stop the tick loop before anything
// it references is deleted, write every participant's aggregates,
// announce gameOver to the explicit participant list (the room records
// are about to vanish), then delete sessions and room.
func (g *Game) finishRoom(ctx context.Context, room *domain.Room, sessions []*domain.PlayerSession) error {
	g.Loops.Stop(room.Code)

	results := make([]domain.PlayerResult, 0, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		results = append(results, domain.PlayerResult{
			UserID:       sess.UserID,
			Username:     sess.Username,
			Score:        sess.Score,
			LinesCleared: sess.LinesCleared,
			Placement:    sess.Placement,
		})
		ids = append(ids, sess.UserID)
	}
	for _, res := range results {
		if err := g.Stats.RecordResult(ctx, room.Mode, res); err != nil {
			log.Error().Err(err).Str("module", "app.game").Str("user", res.UserID).Msg("stats update failed")
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Placement < results[j].Placement })

	g.publishSession(ctx, bus.ToRoomUsers(room.Code, ids, domain.GameOver(results)))

	if err := g.Rooms.DeleteRoom(ctx, room.Code); err != nil {
		return err
	}
	log.Info().Str("module", "app.game").Str("room", room.Code).Msg("game over, room deleted")
	return nil
}

// Standings returns the live scoreboard ordered by descending score.
func (g *Game) Standings(ctx context.Context, code string) ([]domain.Standing, error) {
	if _, err := g.Rooms.GetRoom(ctx, code); err != nil {
		return nil, err
	}
	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return nil, err
	}
	placeSessions(sessions)
	return standingsOf(sessions), nil
}

// InitialState returns the caller's next two pieces and its opponents,
// fetched once at game start instead of polling.
func (g *Game) InitialState(ctx context.Context, code, userID string) ([]domain.PieceKind, []Opponent, error) {
	if _, err := g.Rooms.GetRoom(ctx, code); err != nil {
		return nil, nil, err
	}
	sess, err := g.Rooms.GetSession(ctx, code, userID)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := g.Rooms.ListSessions(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	opponents := make([]Opponent, 0, len(sessions))
	for _, other := range sessions {
		if other.UserID == userID {
			continue
		}
		opponents = append(opponents, Opponent{UserID: other.UserID, Username: other.Username})
	}
	return sess.NextPieces(2), opponents, nil
}

// CreateRankedRoom materializes a matched batch: a playing room with
// stamped start time, one session per matched user, and a running tick
// loop. The first matched user is recorded as creator.
func (g *Game) CreateRankedRoom(ctx context.Context, kind domain.QueueKind, userIDs []string) (*domain.Room, error) {
	code, err := g.newRoomCode(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	room := &domain.Room{
		Code:        code,
		Mode:        domain.ModeRanked,
		RankedQueue: kind,
		Status:      domain.StatusPlaying,
		MaxPlayers:  len(userIDs),
		CreatedBy:   userIDs[0],
		StartedAt:   &now,
		CreatedAt:   now,
	}
	if err := g.Rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	names, err := g.Users.Usernames(ctx, userIDs)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.game").Str("room", code).Msg("username lookup failed")
		names = map[string]string{}
	}
	for _, id := range userIDs {
		if err := g.Rooms.CreateSession(ctx, code, g.newSession(id, names[id])); err != nil {
			return nil, err
		}
	}
	g.Loops.Start(code, now)
	log.Info().Str("module", "app.game").Str("room", code).Int("players", len(userIDs)).Msg("ranked room created")
	return room, nil
}

func (g *Game) newSession(userID, username string) *domain.PlayerSession {
	return &domain.PlayerSession{
		UserID:   userID,
		Username: username,
		Pieces:   domain.NewPieceQueue(g.QueueLen),
		Alive:    true,
	}
}

func (g *Game) newRoomCode(ctx context.Context) (string, error) {
	for {
		code := domain.NewRoomCode()
		exists, err := g.Rooms.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
}

// publishSession pushes an envelope onto the session channel. Fanout is
// best-effort; a failed publish is logged and the state change stands.
func (g *Game) publishSession(ctx context.Context, env bus.Envelope) {
	if err := g.Bus.Publish(ctx, bus.SessionEvents, env); err != nil {
		log.Error().Err(err).Str("module", "app.game").Str("room", env.RoomCode).Msg("event publish failed")
	}
}

// placeSessions assigns placements by strictly descending score. The
// sort is stable, so equal scores keep their encounter order.
func placeSessions(sessions []*domain.PlayerSession) {
	ranked := make([]*domain.PlayerSession, len(sessions))
	copy(ranked, sessions)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i, sess := range ranked {
		sess.Placement = i + 1
	}
}

func standingsOf(sessions []*domain.PlayerSession) []domain.Standing {
	standings := make([]domain.Standing, 0, len(sessions))
	for _, sess := range sessions {
		standings = append(standings, domain.Standing{
			UserID:    sess.UserID,
			Username:  sess.Username,
			Score:     sess.Score,
			Placement: sess.Placement,
			Alive:     sess.Alive,
		})
	}
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Placement < standings[j].Placement })
	return standings
}
