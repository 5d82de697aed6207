package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_LearnEncodeDecode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")

	_, err := runCLI(t, "learn", "--vocab-dir", dir, "--target-size", "300", "--lorem", "20")
	require.NoError(t, err)

	_, m, err := wordpiece.LoadDir(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.Size, 300)
	assert.Equal(t, wordpiece.DefaultReservedTokens, m.ReservedTokens)

	out, err := runCLI(t, "encode", "--vocab-dir", dir, "Lorem ipsum dolor.", "Sit amet")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		ids, err := parseIDs(line)
		require.NoError(t, err)
		assert.Equal(t, 2, ids[0])
		assert.Equal(t, 3, ids[len(ids)-1])
		assert.NotContains(t, ids, 1, "lorem words are all covered")
	}

	idsFile := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(idsFile, []byte(out), 0o644))
	decoded, err := runCLI(t, "decode", "--vocab-dir", dir, "--input", idsFile)
	require.NoError(t, err)
	assert.Equal(t, "lorem ipsum dolor .\nsit amet\n", decoded)

	report, err := runCLI(t, "evaluate", "--vocab-dir", dir, "--lorem", "5", "--seed", "2")
	require.NoError(t, err)
	assert.Contains(t, report, "unknown_rate: 0")
	assert.Contains(t, report, "pieces_per_word:")
}

func TestCLI_LearnRejectsSmallTarget(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")
	_, err := runCLI(t, "learn", "--vocab-dir", dir, "--target-size", "4", "--lorem", "5")
	require.ErrorIs(t, err, wordpiece.ErrConfiguration)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "nothing is written on failure")
}

func TestCLI_InvalidLogLevel(t *testing.T) {
	_, err := runCLI(t, "encode", "--log-level", "loud", "x")
	require.ErrorIs(t, err, wordpiece.ErrConfiguration)
}

func TestCLI_EncodeFormats(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")
	v, err := wordpiece.NewVocabulary([]string{
		"[PAD]", "[UNK]", "[START]", "[END]", "he", "##llo", "wor", "##ld", "!",
	})
	require.NoError(t, err)
	require.NoError(t, wordpiece.SaveDir(dir, v, wordpiece.Manifest{
		ReservedTokens: wordpiece.DefaultReservedTokens,
		Sentinels:      wordpiece.DefaultSentinelNames(),
		Normalizer:     wordpiece.DefaultNormalizerOptions(),
	}))

	out, err := runCLI(t, "encode", "--vocab-dir", dir, "--format", "cbor", "hello world!")
	require.NoError(t, err)
	seqs, err := readIDSequences("cbor", strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 4, 5, 6, 7, 8, 3}}, seqs)

	_, err = runCLI(t, "encode", "--vocab-dir", dir, "--format", "xml", "hello")
	require.ErrorIs(t, err, wordpiece.ErrConfiguration)
}

type recordingWriter struct {
	batches [][]string
}

func (r *recordingWriter) Write(texts []string, _ [][]int) error {
	r.batches = append(r.batches, slices.Clone(texts))
	return nil
}

func (r *recordingWriter) Close() error { return nil }

func TestEncodeAll_Batches(t *testing.T) {
	tokenize := func(_ context.Context, texts []string) ([][]int, error) {
		return make([][]int, len(texts)), nil
	}
	out := &recordingWriter{}
	fwd := &mockForwarder{}
	fwd.On("Forward", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	texts := slices.Values([]string{"a", "b", "c", "d", "e"})
	n, err := encodeAll(context.Background(), texts, 2, tokenize, out, fwd)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, out.batches)
	fwd.AssertNumberOfCalls(t, "Forward", 3)
}

func TestReadIDSequences(t *testing.T) {
	seqs, err := readIDSequences("text", strings.NewReader("2 4 5 3\n\n2 3\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 4, 5, 3}, {}, {2, 3}}, seqs)

	_, err = readIDSequences("text", strings.NewReader("2 x 3\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = readIDSequences("yaml", strings.NewReader(""))
	assert.ErrorIs(t, err, wordpiece.ErrConfiguration)
}

func TestCLI_PlainVocabularyUsesConfiguredTokens(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, wordpiece.VocabFile),
		[]byte("<pad>\n<unk>\n<s>\n</s>\nhe\n##llo\n"), 0o644))
	tokens := []string{
		"--vocab-dir", dir,
		"--reserved-tokens", "<pad>,<unk>,<s>,</s>",
		"--sentinel-pad", "<pad>",
		"--sentinel-unknown", "<unk>",
		"--sentinel-start", "<s>",
		"--sentinel-end", "</s>",
	}

	t.Run("ConfiguredTokens", func(t *testing.T) {
		out, err := runCLI(t, append([]string{"encode"}, append(tokens, "Hello")...)...)
		require.NoError(t, err)
		assert.Equal(t, "2 4 5 3", strings.TrimSpace(out))
	})

	t.Run("ConfiguredMaxInputChars", func(t *testing.T) {
		out, err := runCLI(t, append([]string{"encode", "--max-input-chars", "3"}, append(tokens, "Hello")...)...)
		require.NoError(t, err)
		assert.Equal(t, "2 1 3", strings.TrimSpace(out))
	})

	t.Run("DefaultTokensMismatch", func(t *testing.T) {
		_, err := runCLI(t, "encode", "--vocab-dir", dir, "Hello")
		require.ErrorIs(t, err, wordpiece.ErrConfiguration)
	})
}

func TestCLI_FlagContradictsManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")
	v, err := wordpiece.NewVocabulary([]string{"[PAD]", "[UNK]", "[START]", "[END]", "he", "##llo"})
	require.NoError(t, err)
	require.NoError(t, wordpiece.SaveDir(dir, v, wordpiece.DefaultManifest()))

	_, err = runCLI(t, "encode", "--vocab-dir", dir, "--lowercase=false", "Hello")
	require.ErrorIs(t, err, wordpiece.ErrConfiguration)
	var cerr *wordpiece.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "normalizer.lowercase", cerr.Field)

	out, err := runCLI(t, "encode", "--vocab-dir", dir, "--lowercase=true", "Hello")
	require.NoError(t, err, "an explicit setting that agrees is accepted")
	assert.Equal(t, "2 4 5 3", strings.TrimSpace(out))
}
