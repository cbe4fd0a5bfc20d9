package domain

// EventType discriminates realtime messages delivered to clients.
type EventType string

const (
	EventPlayerJoined   EventType = "playerJoined"
	EventPlayerLeft     EventType = "playerLeft"
	EventRoomClosed     EventType = "roomClosed"
	EventRoomStarted    EventType = "roomStarted"
	EventScoreUpdated   EventType = "playerScoreUpdated"
	EventGarbage        EventType = "garbageReceived"
	EventPlayerDefeated EventType = "playerDefeated"
	EventGameOver       EventType = "gameOver"
	EventTickUpdate     EventType = "tickUpdate"
	EventMatchFound     EventType = "matchFound"

	// Socket-local spectator notifications, relayed on JOIN_ROOM and
	// LEAVE_ROOM without touching the bus.
	EventUserJoined EventType = "USER_JOINED"
	EventUserLeft   EventType = "USER_LEFT"
)

// Message is the wire shape of every realtime event.
type Message struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type PlayerJoinedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type PlayerLeftPayload struct {
	UserID string `json:"userId"`
}

type RoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type ScoreUpdatedPayload struct {
	UserID       string `json:"userId"`
	NewScore     int    `json:"newScore"`
	LinesCleared int    `json:"linesCleared"`
}

type GarbagePayload struct {
	Lines        int    `json:"lines"`
	FromPlayerID string `json:"fromPlayerId"`
}

type PlayerDefeatedPayload struct {
	UserID string `json:"userId"`
}

type GameOverPayload struct {
	Results []PlayerResult `json:"results"`
}

type TickUpdatePayload struct {
	NewTickRate int `json:"newTickRate"`
}

type MatchFoundPayload struct {
	RoomCode  string    `json:"roomCode"`
	QueueType QueueKind `json:"queueType"`
}

func PlayerJoined(userID, username string) Message {
	return Message{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{UserID: userID, Username: username}}
}

func PlayerLeft(userID string) Message {
	return Message{Type: EventPlayerLeft, Payload: PlayerLeftPayload{UserID: userID}}
}

func RoomClosed(roomCode string) Message {
	return Message{Type: EventRoomClosed, Payload: RoomPayload{RoomCode: roomCode}}
}

func RoomStarted(roomCode string) Message {
	return Message{Type: EventRoomStarted, Payload: RoomPayload{RoomCode: roomCode}}
}

func ScoreUpdated(userID string, newScore, linesCleared int) Message {
	return Message{Type: EventScoreUpdated, Payload: ScoreUpdatedPayload{UserID: userID, NewScore: newScore, LinesCleared: linesCleared}}
}

func GarbageReceived(lines int, fromPlayerID string) Message {
	return Message{Type: EventGarbage, Payload: GarbagePayload{Lines: lines, FromPlayerID: fromPlayerID}}
}

func PlayerDefeated(userID string) Message {
	return Message{Type: EventPlayerDefeated, Payload: PlayerDefeatedPayload{UserID: userID}}
}

func GameOver(results []PlayerResult) Message {
	return Message{Type: EventGameOver, Payload: GameOverPayload{Results: results}}
}

func TickUpdate(newTickRate int) Message {
	return Message{Type: EventTickUpdate, Payload: TickUpdatePayload{NewTickRate: newTickRate}}
}

func MatchFound(roomCode string, queue QueueKind) Message {
	return Message{Type: EventMatchFound, Payload: MatchFoundPayload{RoomCode: roomCode, QueueType: queue}}
}

func UserJoined(userID string) Message {
	return Message{Type: EventUserJoined, Payload: PlayerJoinedPayload{UserID: userID}}
}

func UserLeft(userID string) Message {
	return Message{Type: EventUserLeft, Payload: PlayerLeftPayload{UserID: userID}}
}
