package domain

// PlayerSession is one player's mutable progress within a room. It is
// owned by its room and deleted with it; only aggregate stats survive.
type PlayerSession struct {
	UserID       string      `json:"userId"`
	Username     string      `json:"username"`
	Score        int         `json:"score"`
	LinesCleared int         `json:"linesCleared"`
	PieceIndex   int         `json:"pieceIndex"`
	Pieces       []PieceKind `json:"-"`
	Alive        bool        `json:"isAlive"`
	Placement    int         `json:"placement,omitempty"`
}

// NextPieces returns up to n not-yet-consumed pieces starting at the
// cursor, so clients can pre-render their queue without polling.
func (s *PlayerSession) NextPieces(n int) []PieceKind {
	start := s.PieceIndex
	if start > len(s.Pieces) {
		start = len(s.Pieces)
	}
	end := start + n
	if end > len(s.Pieces) {
		end = len(s.Pieces)
	}
	return s.Pieces[start:end]
}

// Standing is a read-only scoreboard row.
type Standing struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Score     int    `json:"score"`
	Placement int    `json:"placement"`
	Alive     bool   `json:"isAlive"`
}

// PlayerResult is one row of a finished game's outcome.
type PlayerResult struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Score        int    `json:"score"`
	LinesCleared int    `json:"linesCleared"`
	Placement    int    `json:"placement"`
}
