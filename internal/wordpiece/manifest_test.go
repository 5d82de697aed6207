package wordpiece

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDirLoadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)

	m := defaultManifest()
	m.Normalizer = NormalizerOptions{Lowercase: true}
	m.MaxInputChars = 50
	require.NoError(t, SaveDir(dir, v, m))

	loaded, lm, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, v.Pieces(), loaded.Pieces())
	assert.Equal(t, len(helloVocab), lm.Size)
	assert.Equal(t, m.ReservedTokens, lm.ReservedTokens)
	assert.Equal(t, m.Sentinels, lm.Sentinels)
	assert.Equal(t, NormalizerOptions{Lowercase: true}, lm.Normalizer)
	assert.Equal(t, 50, lm.MaxInputChars)

	p, err := LoadPipeline(dir)
	require.NoError(t, err)
	// Accents are kept because the stored normalizer does not strip them.
	assert.Equal(t, []int{2, 1, 3}, p.Tokenize("héllo"))
}

func TestLoadDir_WithoutManifest(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	require.NoError(t, Save(v, filepath.Join(dir, VocabFile)))

	_, m, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultReservedTokens, m.ReservedTokens)
	assert.Equal(t, DefaultNormalizerOptions(), m.Normalizer)
}

func TestLoadDir_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	require.NoError(t, SaveDir(dir, v, defaultManifest()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, VocabFile), []byte("[PAD]\n[UNK]\n[START]\n[END]\n"), 0o644))
	_, _, err = LoadDir(dir)
	require.ErrorIs(t, err, ErrCorruptVocabulary)
}

func TestSaveDir_RejectsBadReserved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vocab")
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)

	m := defaultManifest()
	m.ReservedTokens = []string{"[PAD]", "[UNK]", "[START]"}
	require.ErrorIs(t, SaveDir(dir, v, m), ErrConfiguration)

	_, err = os.Stat(filepath.Join(dir, VocabFile))
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing is persisted on failure")
}

func TestSaveDir_ManifestFailureKeepsVocabulary(t *testing.T) {
	dir := t.TempDir()
	old, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	require.NoError(t, SaveDir(dir, old, defaultManifest()))

	// A directory in place of the manifest makes its rename fail.
	require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ManifestFile), 0o755))

	grown, err := NewVocabulary(append(slices.Clone(helloVocab), "##x"))
	require.NoError(t, err)
	require.Error(t, SaveDir(dir, grown, defaultManifest()))

	loaded, err := Load(filepath.Join(dir, VocabFile))
	require.NoError(t, err)
	assert.Equal(t, helloVocab, loaded.Pieces(), "vocabulary is not replaced")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{VocabFile, ManifestFile}, names, "staged files are removed")
}

func TestLoadDirWith_Fallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VocabFile), []byte("<pad>\n<unk>\n<s>\n</s>\nhe\n##llo\n"), 0o644))

	_, err := LoadPipeline(dir)
	require.ErrorIs(t, err, ErrConfiguration, "default tokens do not match")

	fallback := Manifest{
		ReservedTokens: []string{"<pad>", "<unk>", "<s>", "</s>"},
		Sentinels:      SentinelNames{Pad: "<pad>", Unknown: "<unk>", Start: "<s>", End: "</s>"},
		Normalizer:     DefaultNormalizerOptions(),
	}
	p, err := LoadPipelineWith(dir, fallback)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 5, 3}, p.Tokenize("Hello"))
	assert.Equal(t, 6, p.Manifest().Size)

	_, ok, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadDirWith_ManifestWins(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	require.NoError(t, SaveDir(dir, v, DefaultManifest()))

	fallback := DefaultManifest()
	fallback.Normalizer = NormalizerOptions{}
	_, m, err := LoadDirWith(dir, fallback)
	require.NoError(t, err)
	assert.Equal(t, DefaultNormalizerOptions(), m.Normalizer)

	stored, ok, err := ReadManifest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(helloVocab), stored.Size)
}
