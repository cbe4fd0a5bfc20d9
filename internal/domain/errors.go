package domain

import "errors"

// Client-facing failures. Handlers map these to HTTP statuses; anything
// else is treated as a transient infrastructure error (retryable).
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("you are not a player in this game")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyJoined   = errors.New("you are already in this room")
	ErrNotHost         = errors.New("only the host can do this")
	ErrNotWaiting      = errors.New("game is not in a waiting state")
	ErrEliminated      = errors.New("you have been eliminated")
	ErrInvalidRoomSize = errors.New("invalid room size")
	ErrInvalidQueue    = errors.New("invalid or missing queue type")
	ErrInvalidAction   = errors.New("invalid action payload")
)
