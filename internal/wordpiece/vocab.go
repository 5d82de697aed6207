package wordpiece

import (
	"fmt"
	"strings"
)

// ContinuationPrefix marks a piece that continues the previous piece of the same word.
const ContinuationPrefix = "##"

// Piece is a vocabulary entry, either a word start or a word continuation.
type Piece struct {
	Text         string
	Continuation bool
}

// ParsePiece splits the continuation marker off a vocabulary entry.
func ParsePiece(s string) Piece {
	if rest, ok := strings.CutPrefix(s, ContinuationPrefix); ok && rest != "" {
		return Piece{Text: rest, Continuation: true}
	}
	return Piece{Text: s}
}

// String renders the piece the way it is stored in the vocabulary file.
func (p Piece) String() string {
	if p.Continuation {
		return ContinuationPrefix + p.Text
	}
	return p.Text
}

// Vocabulary is an immutable ordered list of unique pieces. The index of a
// piece is its token id.
type Vocabulary struct {
	pieces []string
	index  map[string]int
}

// NewVocabulary copies pieces into a new Vocabulary. Empty or duplicate
// entries are rejected with ErrCorruptVocabulary.
func NewVocabulary(pieces []string) (*Vocabulary, error) {
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no pieces", ErrCorruptVocabulary)
	}
	v := &Vocabulary{
		pieces: make([]string, len(pieces)),
		index:  make(map[string]int, len(pieces)),
	}
	for id, p := range pieces {
		if p == "" {
			return nil, fmt.Errorf("%w: empty piece at id %d", ErrCorruptVocabulary, id)
		}
		if strings.ContainsAny(p, "\r\n") {
			return nil, fmt.Errorf("%w: piece at id %d contains a line break", ErrCorruptVocabulary, id)
		}
		if prev, ok := v.index[p]; ok {
			return nil, fmt.Errorf("%w: duplicate piece %q at ids %d and %d", ErrCorruptVocabulary, p, prev, id)
		}
		v.pieces[id] = p
		v.index[p] = id
	}
	return v, nil
}

// Size returns the number of pieces.
func (v *Vocabulary) Size() int {
	return len(v.pieces)
}

// ID returns the id of a stored piece string.
func (v *Vocabulary) ID(piece string) (int, bool) {
	id, ok := v.index[piece]
	return id, ok
}

// Token returns the stored string for id.
func (v *Vocabulary) Token(id int) (string, error) {
	if id < 0 || id >= len(v.pieces) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrIDOutOfRange, id, len(v.pieces))
	}
	return v.pieces[id], nil
}

// Piece returns the parsed piece for id.
func (v *Vocabulary) Piece(id int) (Piece, error) {
	s, err := v.Token(id)
	if err != nil {
		return Piece{}, err
	}
	return ParsePiece(s), nil
}

// Pieces returns a copy of all entries in id order.
func (v *Vocabulary) Pieces() []string {
	out := make([]string, len(v.pieces))
	copy(out, v.pieces)
	return out
}
