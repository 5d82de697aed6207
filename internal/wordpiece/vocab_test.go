package wordpiece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePiece(t *testing.T) {
	assert.Equal(t, Piece{Text: "ing", Continuation: true}, ParsePiece("##ing"))
	assert.Equal(t, Piece{Text: "ing"}, ParsePiece("ing"))
	assert.Equal(t, Piece{Text: "##"}, ParsePiece("##"))
	assert.Equal(t, "##ing", Piece{Text: "ing", Continuation: true}.String())
}

func TestNewVocabulary(t *testing.T) {
	t.Run("InitialAndContinuationAreDistinct", func(t *testing.T) {
		v, err := NewVocabulary([]string{"ing", "##ing"})
		require.NoError(t, err)
		a, _ := v.ID("ing")
		b, _ := v.ID("##ing")
		assert.NotEqual(t, a, b)
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := NewVocabulary([]string{"a", "b", "a"})
		require.ErrorIs(t, err, ErrCorruptVocabulary)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewVocabulary(nil)
		require.ErrorIs(t, err, ErrCorruptVocabulary)
	})

	t.Run("CopiesInput", func(t *testing.T) {
		in := []string{"a", "b"}
		v, err := NewVocabulary(in)
		require.NoError(t, err)
		in[0] = "z"
		tok, err := v.Token(0)
		require.NoError(t, err)
		assert.Equal(t, "a", tok)

		out := v.Pieces()
		out[1] = "z"
		tok, _ = v.Token(1)
		assert.Equal(t, "b", tok)
	})
}

func TestResolveSentinels(t *testing.T) {
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)

	t.Run("Defaults", func(t *testing.T) {
		s, err := v.ResolveSentinels(DefaultReservedTokens, DefaultSentinelNames())
		require.NoError(t, err)
		assert.Equal(t, Sentinels{Pad: 0, Unknown: 1, Start: 2, End: 3}, s)
	})

	t.Run("OrderMismatch", func(t *testing.T) {
		_, err := v.ResolveSentinels([]string{"[UNK]", "[PAD]", "[START]", "[END]"}, DefaultSentinelNames())
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("LongerThanVocabulary", func(t *testing.T) {
		small, err := NewVocabulary([]string{"[PAD]", "[UNK]"})
		require.NoError(t, err)
		_, err = small.ResolveSentinels(DefaultReservedTokens, DefaultSentinelNames())
		require.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestValidateReserved(t *testing.T) {
	names := DefaultSentinelNames()
	tests := []struct {
		name     string
		reserved []string
		names    SentinelNames
		field    string
	}{
		{"Empty", nil, names, "reserved_tokens"},
		{"Duplicate", []string{"[PAD]", "[UNK]", "[START]", "[END]", "[PAD]"}, names, "reserved_tokens"},
		{"Whitespace", []string{"[PAD]", "[UNK]", "[START]", "[END]", "a b"}, names, "reserved_tokens"},
		{"MissingStart", []string{"[PAD]", "[UNK]", "[END]"}, names, "sentinels.start"},
		{"SharedName", DefaultReservedTokens, SentinelNames{Pad: "[PAD]", Unknown: "[UNK]", Start: "[START]", End: "[START]"}, "sentinels.end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReserved(tt.reserved, tt.names)
			require.ErrorIs(t, err, ErrConfiguration)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	require.NoError(t, ValidateReserved([]string{"[PAD]", "[UNK]", "[START]", "[END]", "[MASK]"}, names))
}
