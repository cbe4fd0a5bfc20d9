package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPieceBagIsPermutation(t *testing.T) {
	for i := 0; i < 50; i++ {
		bag := NewPieceBag()
		require.Len(t, bag, 7)
		seen := map[PieceKind]bool{}
		for _, p := range bag {
			seen[p] = true
		}
		assert.Len(t, seen, 7, "bag must contain each kind exactly once")
	}
}

func TestNewPieceQueueLength(t *testing.T) {
	assert.Len(t, NewPieceQueue(100), 100)
	assert.Len(t, NewPieceQueue(7), 7)
	assert.Len(t, NewPieceQueue(1), 1)
	assert.Empty(t, NewPieceQueue(0))
}

func TestNewPieceQueueBagProperty(t *testing.T) {
	queue := NewPieceQueue(100)
	// Every full 7-aligned block is a permutation of the seven kinds.
	for start := 0; start+7 <= len(queue); start += 7 {
		seen := map[PieceKind]bool{}
		for _, p := range queue[start : start+7] {
			seen[p] = true
		}
		assert.Lenf(t, seen, 7, "block starting at %d is not a full bag", start)
	}
}

func TestNextPieces(t *testing.T) {
	sess := &PlayerSession{
		Pieces:     []PieceKind{"I", "O", "T", "S"},
		PieceIndex: 1,
	}
	assert.Equal(t, []PieceKind{"O", "T"}, sess.NextPieces(2))

	sess.PieceIndex = 3
	assert.Equal(t, []PieceKind{"S"}, sess.NextPieces(2), "clamps at the end of the sequence")

	sess.PieceIndex = 9
	assert.Empty(t, sess.NextPieces(2), "cursor past the end yields nothing")
}
