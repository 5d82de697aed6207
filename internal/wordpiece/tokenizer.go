package wordpiece

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// DefaultMaxInputChars is the longest word, in runes, that is decomposed.
// Longer words map to the unknown token.
const DefaultMaxInputChars = 200

// Tokenizer implements greedy longest-match-first WordPiece decomposition
// over an immutable Vocabulary.
type Tokenizer struct {
	vocab         *Vocabulary
	normalizer    *Normalizer
	unknownID     int
	maxInputChars int
	reserved      int
}

// TokenizerOption configures a Tokenizer.
type TokenizerOption func(*Tokenizer)

// WithMaxInputChars overrides DefaultMaxInputChars.
func WithMaxInputChars(n int) TokenizerOption {
	return func(t *Tokenizer) {
		if n > 0 {
			t.maxInputChars = n
		}
	}
}

// WithReservedPrefix keeps the first n ids out of matching, so text that
// spells a reserved token is never encoded as a control id.
func WithReservedPrefix(n int) TokenizerOption {
	return func(t *Tokenizer) {
		if n > 0 {
			t.reserved = n
		}
	}
}

// NewTokenizer builds a tokenizer. unknownID must be a valid id of vocab.
func NewTokenizer(vocab *Vocabulary, normalizer *Normalizer, unknownID int, opts ...TokenizerOption) (*Tokenizer, error) {
	if _, err := vocab.Token(unknownID); err != nil {
		return nil, configErrorf("sentinels.unknown", "%v", err)
	}
	t := &Tokenizer{
		vocab:         vocab,
		normalizer:    normalizer,
		unknownID:     unknownID,
		maxInputChars: DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Vocabulary returns the vocabulary the tokenizer decomposes into.
func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

// Normalizer returns the normalizer applied before splitting.
func (t *Tokenizer) Normalizer() *Normalizer {
	return t.normalizer
}

// TokenizeWords normalizes text, splits it into words and returns the ids of
// each word. Words that cannot be decomposed become a single unknown id.
func (t *Tokenizer) TokenizeWords(text string) [][]int {
	normalized := t.normalizer.Normalize(text)
	var out [][]int
	for word := range Words(normalized) {
		ids, ok := t.TokenizeWord(word)
		if !ok {
			unknownWords.Inc()
			log.Debug().Str("word", word).Msg("word fell back to unknown token")
		}
		out = append(out, ids)
	}
	return out
}

// Encode returns the flattened, unframed ids of text.
func (t *Tokenizer) Encode(text string) []int {
	words := t.TokenizeWords(text)
	n := 0
	for _, w := range words {
		n += len(w)
	}
	ids := make([]int, 0, n)
	for _, w := range words {
		ids = append(ids, w...)
	}
	return ids
}

// TokenizeWord decomposes a single normalized word. If any position has no
// matching piece the whole word maps to the unknown id and ok is false;
// partial matches are discarded.
func (t *Tokenizer) TokenizeWord(word string) (ids []int, ok bool) {
	if word == "" {
		return nil, true
	}
	if utf8.RuneCountInString(word) > t.maxInputChars {
		return []int{t.unknownID}, false
	}

	var sb strings.Builder
	start := 0
	for start < len(word) {
		end := len(word)
		matched := -1
		for start < end {
			substr := word[start:end]
			if start > 0 {
				sb.Reset()
				sb.WriteString(ContinuationPrefix)
				sb.WriteString(substr)
				substr = sb.String()
			}
			if id, found := t.vocab.index[substr]; found && id >= t.reserved {
				matched = id
				break
			}
			// Step back one whole rune so candidates stay valid UTF-8.
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if matched < 0 {
			return []int{t.unknownID}, false
		}
		ids = append(ids, matched)
		start = end
	}
	return ids, true
}

// Lookup maps ids to their stored pieces. An id outside the vocabulary is
// an error, never clamped.
func (t *Tokenizer) Lookup(ids []int) ([]string, error) {
	pieces := make([]string, len(ids))
	for i, id := range ids {
		p, err := t.vocab.Token(id)
		if err != nil {
			return nil, err
		}
		pieces[i] = p
	}
	return pieces, nil
}

// Detokenize maps ids back to text without any cleanup.
func (t *Tokenizer) Detokenize(ids []int) (string, error) {
	pieces, err := t.Lookup(ids)
	if err != nil {
		return "", err
	}
	return JoinPieces(pieces), nil
}

// JoinPieces glues continuation pieces onto the preceding piece and joins
// words with a single space.
func JoinPieces(pieces []string) string {
	var sb strings.Builder
	for i, p := range pieces {
		piece := ParsePiece(p)
		if !piece.Continuation && i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(piece.Text)
	}
	return sb.String()
}
