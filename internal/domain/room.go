package domain

import (
	"math/rand/v2"
	"time"
)

type RoomMode string

const (
	ModeRanked   RoomMode = "ranked"
	ModeUnranked RoomMode = "unranked"
)

// RoomStatus transitions only waiting → playing → finished.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// QueueKind names a ranked matchmaking queue. The sized kinds are backed
// by one shared list each; QueueQuick is a wildcard that enqueues into
// every sized queue and accepts whichever fills first.
type QueueKind string

const (
	Queue2P    QueueKind = "2P"
	Queue3P    QueueKind = "3P"
	Queue4P    QueueKind = "4P"
	QueueQuick QueueKind = "quick"
)

// QueueSizes maps each sized queue to its required party size.
var QueueSizes = map[QueueKind]int{
	Queue2P: 2,
	Queue3P: 3,
	Queue4P: 4,
}

// SizedQueues returns the sized queue kinds in match-priority order.
func SizedQueues() []QueueKind {
	return []QueueKind{Queue2P, Queue3P, Queue4P}
}

type Room struct {
	Code        string     `json:"roomCode"`
	Mode        RoomMode   `json:"mode"`
	RankedQueue QueueKind  `json:"rankedQueue,omitempty"`
	Status      RoomStatus `json:"status"`
	MaxPlayers  int        `json:"maxPlayers"`
	CreatedBy   string     `json:"createdBy"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// roomCodeAlphabet avoids ambiguous characters (0/O, 1/I).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLen = 6

// NewRoomCode returns a random human-readable room code. Uniqueness is
// the caller's concern; codes are checked against the store on creation.
func NewRoomCode() string {
	b := make([]byte, roomCodeLen)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
	}
	return string(b)
}
