package wordpiece

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// VocabFile is the piece list inside a vocabulary directory.
	VocabFile = "vocab.txt"
	// ManifestFile records how the vocabulary was built.
	ManifestFile = "vocab.yaml"
)

// Manifest records the build-time settings that inference must reuse: the
// reserved prefix, which reserved entries are sentinels, and the normalizer.
type Manifest struct {
	Size           int               `yaml:"size"`
	ReservedTokens []string          `yaml:"reserved_tokens"`
	Sentinels      SentinelNames     `yaml:"sentinels"`
	Normalizer     NormalizerOptions `yaml:"normalizer"`
	MaxInputChars  int               `yaml:"max_input_chars,omitempty"`
}

// Validate checks the reserved list and sentinel names.
func (m Manifest) Validate() error {
	return ValidateReserved(m.ReservedTokens, m.Sentinels)
}

// SaveDir writes vocab.txt and vocab.yaml into dir, creating it if needed.
func SaveDir(dir string, v *Vocabulary, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, err := v.ResolveSentinels(m.ReservedTokens, m.Sentinels); err != nil {
		return err
	}
	m.Size = v.Size()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vocabulary dir: %w", err)
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	// Both files are staged before either is renamed, so a failed write
	// leaves the previous pair untouched.
	vocabPath := filepath.Join(dir, VocabFile)
	manifestPath := filepath.Join(dir, ManifestFile)
	vocabTmp, err := stageFile(vocabPath, func(w io.Writer) error { return Write(w, v) })
	if err != nil {
		return fmt.Errorf("stage vocabulary: %w", err)
	}
	defer func() { _ = os.Remove(vocabTmp) }()
	manifestTmp, err := stageFile(manifestPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}
	defer func() { _ = os.Remove(manifestTmp) }()

	if err := os.Rename(manifestTmp, manifestPath); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	if err := os.Rename(vocabTmp, vocabPath); err != nil {
		return fmt.Errorf("rename vocabulary: %w", err)
	}
	return nil
}

// DefaultManifest holds the settings assumed for a directory without a
// manifest when the caller supplies none.
func DefaultManifest() Manifest {
	return Manifest{
		ReservedTokens: append([]string(nil), DefaultReservedTokens...),
		Sentinels:      DefaultSentinelNames(),
		Normalizer:     DefaultNormalizerOptions(),
	}
}

// ReadManifest reads the manifest of a vocabulary directory. Keys missing
// from the file keep their DefaultManifest values. ok is false when the
// directory has none.
func ReadManifest(dir string) (m Manifest, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}
	m = DefaultManifest()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("%w: manifest: %v", ErrCorruptVocabulary, err)
	}
	return m, true, nil
}

// LoadDir reads a vocabulary directory written by SaveDir. A directory
// without a manifest is accepted with DefaultManifest.
func LoadDir(dir string) (*Vocabulary, Manifest, error) {
	return LoadDirWith(dir, DefaultManifest())
}

// LoadDirWith reads a vocabulary directory, using fallback for a plain
// vocab.txt without a manifest.
func LoadDirWith(dir string, fallback Manifest) (*Vocabulary, Manifest, error) {
	v, err := Load(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, Manifest{}, err
	}

	m, ok, err := ReadManifest(dir)
	if err != nil {
		return nil, Manifest{}, err
	}
	if !ok {
		m = fallback
		m.Size = v.Size()
	}
	if m.Size != v.Size() {
		return nil, Manifest{}, fmt.Errorf("%w: manifest size %d, file holds %d pieces", ErrCorruptVocabulary, m.Size, v.Size())
	}
	if err := m.Validate(); err != nil {
		return nil, Manifest{}, err
	}
	return v, m, nil
}
