package domain

import "math/rand/v2"

// PieceKind is one of the seven tetromino kinds.
type PieceKind string

var PieceKinds = [7]PieceKind{"I", "O", "T", "S", "Z", "J", "L"}

// NewPieceBag returns one shuffled bag of all seven kinds (Fisher–Yates).
func NewPieceBag() []PieceKind {
	bag := make([]PieceKind, len(PieceKinds))
	copy(bag, PieceKinds[:])
	rand.Shuffle(len(bag), func(i, j int) {
		bag[i], bag[j] = bag[j], bag[i]
	})
	return bag
}

// NewPieceQueue concatenates shuffled bags and truncates to n pieces.
// Every 7-aligned block of the result is a permutation of the seven
// kinds, so no kind can drought for more than 12 consecutive pieces.
// Generated once per session and never regenerated; clients consume it
// by index.
func NewPieceQueue(n int) []PieceKind {
	queue := make([]PieceKind, 0, n+len(PieceKinds))
	for len(queue) < n {
		queue = append(queue, NewPieceBag()...)
	}
	return queue[:n]
}
