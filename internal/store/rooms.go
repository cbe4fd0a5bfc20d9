package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// Rooms persists rooms and their player sessions.
//
// Layout:
//
//	room:{code}           hash   mode, rankedQueue, status, maxPlayers, createdBy, startedAt, createdAt
//	room:{code}:players   list   user ids in join order
//	session:{code}:{uid}  hash   username, score, linesCleared, pieceIndex, pieces, alive, placement
//
// Score, lines and the piece cursor are mutated with HINCRBY only, so
// concurrent action reports from different processes never lose
// updates. The players list keeps encounter order, which is the
// tie-break for equal-score placements.
type Rooms struct {
	rdb       *redis.Client
	eliminate *redis.Script
}

// eliminateScript flips alive exactly once. Returns 1 on the flip and 0
// for an already-dead or missing session, making elimination idempotent
// across racing processes.
var eliminateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'alive') == '1' then
    redis.call('HSET', KEYS[1], 'alive', '0')
    return 1
end
return 0
`)

func NewRooms(rdb *redis.Client) *Rooms {
	return &Rooms{rdb: rdb, eliminate: eliminateScript}
}

func roomKey(code string) string    { return "room:" + code }
func playersKey(code string) string { return "room:" + code + ":players" }
func sessionKey(code, userID string) string {
	return fmt.Sprintf("session:%s:%s", code, userID)
}

func (s *Rooms) CodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.rdb.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("room exists: %w", err)
	}
	return n > 0, nil
}

func (s *Rooms) CreateRoom(ctx context.Context, room *domain.Room) error {
	startedAt := int64(0)
	if room.StartedAt != nil {
		startedAt = room.StartedAt.UnixMilli()
	}
	err := s.rdb.HSet(ctx, roomKey(room.Code),
		"mode", string(room.Mode),
		"rankedQueue", string(room.RankedQueue),
		"status", string(room.Status),
		"maxPlayers", room.MaxPlayers,
		"createdBy", room.CreatedBy,
		"startedAt", startedAt,
		"createdAt", room.CreatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("create room %s: %w", room.Code, err)
	}
	return nil
}

func (s *Rooms) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	fields, err := s.rdb.HGetAll(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrRoomNotFound
	}
	return parseRoom(code, fields), nil
}

// MarkStarted stamps the waiting→playing transition.
func (s *Rooms) MarkStarted(ctx context.Context, code string, at time.Time) error {
	err := s.rdb.HSet(ctx, roomKey(code),
		"status", string(domain.StatusPlaying),
		"startedAt", at.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("mark started %s: %w", code, err)
	}
	return nil
}

// DeleteRoom removes the room, its player index and every session.
func (s *Rooms) DeleteRoom(ctx context.Context, code string) error {
	userIDs, err := s.rdb.LRange(ctx, playersKey(code), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	keys := make([]string, 0, len(userIDs)+2)
	for _, id := range userIDs {
		keys = append(keys, sessionKey(code, id))
	}
	keys = append(keys, playersKey(code), roomKey(code))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

func (s *Rooms) CreateSession(ctx context.Context, code string, sess *domain.PlayerSession) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(code, sess.UserID),
		"username", sess.Username,
		"score", sess.Score,
		"linesCleared", sess.LinesCleared,
		"pieceIndex", sess.PieceIndex,
		"pieces", encodePieces(sess.Pieces),
		"alive", boolField(sess.Alive),
		"placement", sess.Placement,
	)
	pipe.RPush(ctx, playersKey(code), sess.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session %s/%s: %w", code, sess.UserID, err)
	}
	return nil
}

func (s *Rooms) GetSession(ctx context.Context, code, userID string) (*domain.PlayerSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(code, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session %s/%s: %w", code, userID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return parseSession(userID, fields), nil
}

// ListSessions returns sessions in join (encounter) order.
func (s *Rooms) ListSessions(ctx context.Context, code string) ([]*domain.PlayerSession, error) {
	userIDs, err := s.rdb.LRange(ctx, playersKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions %s: %w", code, err)
	}
	sessions := make([]*domain.PlayerSession, 0, len(userIDs))
	for _, id := range userIDs {
		sess, err := s.GetSession(ctx, code, id)
		if err == domain.ErrSessionNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Rooms) DeleteSession(ctx context.Context, code, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(code, userID))
	pipe.LRem(ctx, playersKey(code), 0, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s/%s: %w", code, userID, err)
	}
	return nil
}

func (s *Rooms) PlayerCount(ctx context.Context, code string) (int, error) {
	n, err := s.rdb.LLen(ctx, playersKey(code)).Result()
	if err != nil {
		return 0, fmt.Errorf("player count %s: %w", code, err)
	}
	return int(n), nil
}

// ApplyAction applies one action report: score and line deltas plus one
// piece consumed, each as an atomic increment. Returns the session as
// of after the increments.
func (s *Rooms) ApplyAction(ctx context.Context, code, userID string, linesCleared, scoreGained int) (*domain.PlayerSession, error) {
	key := sessionKey(code, userID)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "score", int64(scoreGained))
	pipe.HIncrBy(ctx, key, "linesCleared", int64(linesCleared))
	pipe.HIncrBy(ctx, key, "pieceIndex", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("apply action %s/%s: %w", code, userID, err)
	}
	return s.GetSession(ctx, code, userID)
}

// MarkEliminated reports whether this call performed the flip; false
// means the session was already dead (or gone) and the caller must not
// broadcast again.
func (s *Rooms) MarkEliminated(ctx context.Context, code, userID string) (bool, error) {
	res, err := s.eliminate.Run(ctx, s.rdb, []string{sessionKey(code, userID)}).Int()
	if err != nil {
		return false, fmt.Errorf("eliminate %s/%s: %w", code, userID, err)
	}
	return res == 1, nil
}

func (s *Rooms) SetPlacements(ctx context.Context, code string, placements map[string]int) error {
	pipe := s.rdb.TxPipeline()
	for userID, placement := range placements {
		pipe.HSet(ctx, sessionKey(code, userID), "placement", placement)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set placements %s: %w", code, err)
	}
	return nil
}

func parseRoom(code string, fields map[string]string) *domain.Room {
	room := &domain.Room{
		Code:        code,
		Mode:        domain.RoomMode(fields["mode"]),
		RankedQueue: domain.QueueKind(fields["rankedQueue"]),
		Status:      domain.RoomStatus(fields["status"]),
		CreatedBy:   fields["createdBy"],
	}
	room.MaxPlayers, _ = strconv.Atoi(fields["maxPlayers"])
	if ms, _ := strconv.ParseInt(fields["startedAt"], 10, 64); ms > 0 {
		t := time.UnixMilli(ms)
		room.StartedAt = &t
	}
	if ms, _ := strconv.ParseInt(fields["createdAt"], 10, 64); ms > 0 {
		room.CreatedAt = time.UnixMilli(ms)
	}
	return room
}

func parseSession(userID string, fields map[string]string) *domain.PlayerSession {
	sess := &domain.PlayerSession{
		UserID:   userID,
		Username: fields["username"],
		Pieces:   decodePieces(fields["pieces"]),
		Alive:    fields["alive"] == "1",
	}
	sess.Score, _ = strconv.Atoi(fields["score"])
	sess.LinesCleared, _ = strconv.Atoi(fields["linesCleared"])
	sess.PieceIndex, _ = strconv.Atoi(fields["pieceIndex"])
	sess.Placement, _ = strconv.Atoi(fields["placement"])
	return sess
}

// Piece kinds are single letters, so a sequence is stored as one flat
// string.
func encodePieces(pieces []domain.PieceKind) string {
	buf := make([]byte, 0, len(pieces))
	for _, p := range pieces {
		buf = append(buf, p[0])
	}
	return string(buf)
}

func decodePieces(raw string) []domain.PieceKind {
	pieces := make([]domain.PieceKind, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		pieces = append(pieces, domain.PieceKind(raw[i:i+1]))
	}
	return pieces
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
