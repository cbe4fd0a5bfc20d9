package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThunderSpear21/NeonTetris/internal/bus"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// memStore is an in-memory RoomStore with the same observable behavior
// as the Redis-backed one: list reads return copies, placements are
// written back explicitly, and eliminating twice reports no flip.
type memStore struct {
	rooms          map[string]*domain.Room
	sessions       map[string][]*domain.PlayerSession
	placementCalls int
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[string]*domain.Room),
		sessions: make(map[string][]*domain.PlayerSession),
	}
}

func cloneSession(s *domain.PlayerSession) *domain.PlayerSession {
	c := *s
	c.Pieces = append([]domain.PieceKind(nil), s.Pieces...)
	return &c
}

func (m *memStore) CodeExists(_ context.Context, code string) (bool, error) {
	_, ok := m.rooms[code]
	return ok, nil
}

func (m *memStore) CreateRoom(_ context.Context, room *domain.Room) error {
	m.rooms[room.Code] = room
	return nil
}

func (m *memStore) GetRoom(_ context.Context, code string) (*domain.Room, error) {
	room, ok := m.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (m *memStore) MarkStarted(_ context.Context, code string, at time.Time) error {
	room, ok := m.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Status = domain.StatusPlaying
	room.StartedAt = &at
	return nil
}

func (m *memStore) DeleteRoom(_ context.Context, code string) error {
	delete(m.rooms, code)
	delete(m.sessions, code)
	return nil
}

func (m *memStore) CreateSession(_ context.Context, code string, sess *domain.PlayerSession) error {
	m.sessions[code] = append(m.sessions[code], sess)
	return nil
}

func (m *memStore) find(code, userID string) *domain.PlayerSession {
	for _, s := range m.sessions[code] {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}

func (m *memStore) GetSession(_ context.Context, code, userID string) (*domain.PlayerSession, error) {
	if s := m.find(code, userID); s != nil {
		return cloneSession(s), nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *memStore) ListSessions(_ context.Context, code string) ([]*domain.PlayerSession, error) {
	out := make([]*domain.PlayerSession, 0, len(m.sessions[code]))
	for _, s := range m.sessions[code] {
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (m *memStore) DeleteSession(_ context.Context, code, userID string) error {
	list := m.sessions[code]
	for i, s := range list {
		if s.UserID == userID {
			m.sessions[code] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrSessionNotFound
}

func (m *memStore) ApplyAction(_ context.Context, code, userID string, linesCleared, scoreGained int) (*domain.PlayerSession, error) {
	s := m.find(code, userID)
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	s.Score += scoreGained
	s.LinesCleared += linesCleared
	s.PieceIndex++
	return cloneSession(s), nil
}

func (m *memStore) MarkEliminated(_ context.Context, code, userID string) (bool, error) {
	s := m.find(code, userID)
	if s == nil || !s.Alive {
		return false, nil
	}
	s.Alive = false
	return true, nil
}

func (m *memStore) SetPlacements(_ context.Context, code string, placements map[string]int) error {
	m.placementCalls++
	for _, s := range m.sessions[code] {
		if p, ok := placements[s.UserID]; ok {
			s.Placement = p
		}
	}
	return nil
}

type fakeStats struct {
	recorded []domain.PlayerResult
	modes    []domain.RoomMode
}

func (f *fakeStats) RecordResult(_ context.Context, mode domain.RoomMode, res domain.PlayerResult) error {
	f.recorded = append(f.recorded, res)
	f.modes = append(f.modes, mode)
	return nil
}

type fakeUsers map[string]string

func (f fakeUsers) Usernames(_ context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range userIDs {
		if name, ok := f[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type fakeLoops struct {
	started []string
	stopped []string
}

func (f *fakeLoops) Start(roomCode string, _ time.Time) { f.started = append(f.started, roomCode) }
func (f *fakeLoops) Stop(roomCode string)               { f.stopped = append(f.stopped, roomCode) }

func newTestGame() (*Game, *memStore, *fakeStats, *fakeLoops, *recordingPublisher) {
	store := newMemStore()
	stats := &fakeStats{}
	loops := &fakeLoops{}
	pub := &recordingPublisher{}
	g := &Game{
		Rooms:    store,
		Stats:    stats,
		Users:    fakeUsers{"u1": "alice", "u2": "bob", "u3": "carol"},
		Bus:      pub,
		Loops:    loops,
		QueueLen: 14,
	}
	return g, store, stats, loops, pub
}

// eventTypes decodes the type field of every message published so far.
func eventTypes(t *testing.T, pub *recordingPublisher) []string {
	t.Helper()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	types := make([]string, 0, len(pub.published))
	for _, p := range pub.published {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(p.Env.Message, &msg))
		types = append(types, msg.Type)
	}
	return types
}

func TestCreateRoomInvalidSize(t *testing.T) {
	g, _, _, _, _ := newTestGame()
	for _, size := range []int{0, 1, 5, -2} {
		_, err := g.CreateRoom(context.Background(), "u1", "alice", size)
		assert.ErrorIs(t, err, domain.ErrInvalidRoomSize)
	}
}

func TestCreateRoom(t *testing.T) {
	g, store, _, _, _ := newTestGame()
	room, err := g.CreateRoom(context.Background(), "u1", "alice", 3)
	require.NoError(t, err)

	assert.Len(t, room.Code, 6)
	assert.Equal(t, domain.ModeUnranked, room.Mode)
	assert.Equal(t, domain.StatusWaiting, room.Status)
	assert.Equal(t, 3, room.MaxPlayers)
	assert.Equal(t, "u1", room.CreatedBy)

	sessions := store.sessions[room.Code]
	require.Len(t, sessions, 1)
	assert.Equal(t, "u1", sessions[0].UserID)
	assert.True(t, sessions[0].Alive)
	assert.Len(t, sessions[0].Pieces, g.QueueLen)
}

func TestJoinGuards(t *testing.T) {
	ctx := context.Background()
	g, _, _, _, _ := newTestGame()

	_, _, err := g.Join(ctx, "NOSUCH", "u2", "bob")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, err := g.CreateRoom(ctx, "u1", "alice", 2)
	require.NoError(t, err)

	_, _, err = g.Join(ctx, room.Code, "u1", "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, _, err = g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)

	_, _, err = g.Join(ctx, room.Code, "u3", "carol")
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)
	_, _, err = g.Join(ctx, room.Code, "u3", "carol")
	assert.ErrorIs(t, err, domain.ErrNotWaiting)
}

func TestJoinAnnouncesPlayer(t *testing.T) {
	ctx := context.Background()
	g, _, _, _, pub := newTestGame()
	room, err := g.CreateRoom(ctx, "u1", "alice", 2)
	require.NoError(t, err)

	_, sessions, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.Equal(t, 1, pub.count())
	pub.mu.Lock()
	p := pub.published[0]
	pub.mu.Unlock()
	assert.Equal(t, bus.SessionEvents, p.Channel)
	assert.Equal(t, room.Code, p.Env.RoomCode)
	assert.Equal(t, []string{"playerJoined"}, eventTypes(t, pub))
}

func TestLeaveMember(t *testing.T) {
	ctx := context.Background()
	g, store, _, _, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)

	closed, err := g.Leave(ctx, room.Code, "u2")
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Len(t, store.sessions[room.Code], 1)
	assert.Equal(t, []string{"playerJoined", "playerLeft"}, eventTypes(t, pub))
}

func TestLeaveHostClosesRoom(t *testing.T) {
	ctx := context.Background()
	g, store, _, loops, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)

	closed, err := g.Leave(ctx, room.Code, "u1")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.NotContains(t, store.rooms, room.Code)
	assert.Equal(t, []string{room.Code}, loops.stopped)
	assert.Equal(t, []string{"playerJoined", "roomClosed"}, eventTypes(t, pub))
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	g, _, _, loops, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)

	_, err = g.Start(ctx, room.Code, "u2")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	started, err := g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, []string{room.Code}, loops.started)
	assert.Contains(t, eventTypes(t, pub), "roomStarted")

	_, err = g.Start(ctx, room.Code, "u1")
	assert.ErrorIs(t, err, domain.ErrNotWaiting)
}

func TestReportAction(t *testing.T) {
	ctx := context.Background()
	g, store, _, _, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)

	_, err = g.ReportAction(ctx, room.Code, "u1", ActionReport{LinesCleared: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	sess := store.find(room.Code, "u1")
	next, err := g.ReportAction(ctx, room.Code, "u1", ActionReport{LinesCleared: 2, ScoreGained: 300})
	require.NoError(t, err)
	assert.Equal(t, 300, sess.Score)
	assert.Equal(t, 2, sess.LinesCleared)
	assert.Equal(t, 1, sess.PieceIndex)
	assert.Equal(t, sess.Pieces[1:3], next)
	assert.NotContains(t, eventTypes(t, pub), "garbageReceived")

	_, err = g.ReportAction(ctx, room.Code, "u1", ActionReport{ScoreGained: 100, GarbageSent: 2})
	require.NoError(t, err)
	assert.Contains(t, eventTypes(t, pub), "garbageReceived")

	_, err = g.Eliminate(ctx, room.Code, "u1")
	require.NoError(t, err)
	_, err = g.ReportAction(ctx, room.Code, "u1", ActionReport{ScoreGained: 50})
	assert.ErrorIs(t, err, domain.ErrEliminated)
}

func TestEliminateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, store, _, _, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 3)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	_, _, err = g.Join(ctx, room.Code, "u3", "carol")
	require.NoError(t, err)
	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)

	_, err = g.Eliminate(ctx, room.Code, "u3")
	require.NoError(t, err)
	defeats := 0
	for _, typ := range eventTypes(t, pub) {
		if typ == "playerDefeated" {
			defeats++
		}
	}
	assert.Equal(t, 1, defeats)
	assert.Equal(t, 1, store.placementCalls)

	// A duplicate elimination report must not broadcast or re-rank.
	standings, err := g.Eliminate(ctx, room.Code, "u3")
	require.NoError(t, err)
	assert.Len(t, standings, 3)
	defeats = 0
	for _, typ := range eventTypes(t, pub) {
		if typ == "playerDefeated" {
			defeats++
		}
	}
	assert.Equal(t, 1, defeats)
	assert.Equal(t, 1, store.placementCalls)
}

func TestPlacementTieKeepsJoinOrder(t *testing.T) {
	sessions := []*domain.PlayerSession{
		{UserID: "u1", Score: 300},
		{UserID: "u2", Score: 300},
		{UserID: "u3", Score: 500},
	}
	placeSessions(sessions)
	assert.Equal(t, 2, sessions[0].Placement)
	assert.Equal(t, 3, sessions[1].Placement)
	assert.Equal(t, 1, sessions[2].Placement)
}

func TestEliminateLastStandingFinishesRoom(t *testing.T) {
	ctx := context.Background()
	g, store, stats, loops, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)

	_, err = g.ReportAction(ctx, room.Code, "u1", ActionReport{ScoreGained: 500})
	require.NoError(t, err)
	_, err = g.ReportAction(ctx, room.Code, "u2", ActionReport{ScoreGained: 200})
	require.NoError(t, err)

	standings, err := g.Eliminate(ctx, room.Code, "u2")
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "u1", standings[0].UserID)
	assert.Equal(t, 1, standings[0].Placement)
	assert.Equal(t, "u2", standings[1].UserID)
	assert.Equal(t, 2, standings[1].Placement)

	// Terminal path: loop stopped, stats for every participant, gameOver
	// addressed to the explicit participant list, room deleted.
	assert.Contains(t, loops.stopped, room.Code)
	require.Len(t, stats.recorded, 2)
	assert.Equal(t, domain.ModeUnranked, stats.modes[0])
	assert.NotContains(t, store.rooms, room.Code)

	pub.mu.Lock()
	last := pub.published[len(pub.published)-1]
	pub.mu.Unlock()
	assert.Equal(t, bus.SessionEvents, last.Channel)
	assert.ElementsMatch(t, []string{"u1", "u2"}, last.Env.Recipients)
	var msg struct {
		Type    string                 `json:"type"`
		Payload domain.GameOverPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(last.Env.Message, &msg))
	assert.Equal(t, "gameOver", msg.Type)
	require.Len(t, msg.Payload.Results, 2)
	assert.Equal(t, 1, msg.Payload.Results[0].Placement)
	assert.Equal(t, "u1", msg.Payload.Results[0].UserID)
}

func TestFinish(t *testing.T) {
	ctx := context.Background()
	g, store, stats, _, pub := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)

	require.NoError(t, g.Finish(ctx, room.Code))
	assert.NotContains(t, store.rooms, room.Code)
	assert.Len(t, stats.recorded, 2)
	assert.Contains(t, eventTypes(t, pub), "gameOver")
}

func TestStandings(t *testing.T) {
	ctx := context.Background()
	g, _, _, _, _ := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)
	_, err = g.Start(ctx, room.Code, "u1")
	require.NoError(t, err)
	_, err = g.ReportAction(ctx, room.Code, "u2", ActionReport{ScoreGained: 400})
	require.NoError(t, err)

	standings, err := g.Standings(ctx, room.Code)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "u2", standings[0].UserID)
	assert.Equal(t, 1, standings[0].Placement)
	assert.True(t, standings[0].Alive)
}

func TestInitialState(t *testing.T) {
	ctx := context.Background()
	g, store, _, _, _ := newTestGame()
	room, _ := g.CreateRoom(ctx, "u1", "alice", 2)
	_, _, err := g.Join(ctx, room.Code, "u2", "bob")
	require.NoError(t, err)

	pieces, opponents, err := g.InitialState(ctx, room.Code, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.find(room.Code, "u1").Pieces[:2], pieces)
	require.Len(t, opponents, 1)
	assert.Equal(t, "u2", opponents[0].UserID)
	assert.Equal(t, "bob", opponents[0].Username)
}

func TestCreateRankedRoom(t *testing.T) {
	ctx := context.Background()
	g, store, _, loops, _ := newTestGame()

	room, err := g.CreateRankedRoom(ctx, domain.Queue3P, []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	assert.Equal(t, domain.ModeRanked, room.Mode)
	assert.Equal(t, domain.Queue3P, room.RankedQueue)
	assert.Equal(t, domain.StatusPlaying, room.Status)
	assert.Equal(t, 3, room.MaxPlayers)
	assert.Equal(t, "u1", room.CreatedBy)
	require.NotNil(t, room.StartedAt)
	assert.Equal(t, []string{room.Code}, loops.started)

	sessions := store.sessions[room.Code]
	require.Len(t, sessions, 3)
	assert.Equal(t, "alice", sessions[0].Username)
	assert.Equal(t, "carol", sessions[2].Username)
	for _, s := range sessions {
		assert.True(t, s.Alive)
		assert.Len(t, s.Pieces, g.QueueLen)
	}
}
