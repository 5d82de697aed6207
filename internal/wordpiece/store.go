package wordpiece

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxLineBytes = 1 << 20

// Write writes one piece per line in id order.
func Write(w io.Writer, v *Vocabulary) error {
	bw := bufio.NewWriter(w)
	for _, p := range v.pieces {
		if _, err := bw.WriteString(p); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read parses a newline-delimited vocabulary; line N becomes id N.
func Read(r io.Reader) (*Vocabulary, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var pieces []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			return nil, fmt.Errorf("%w: empty line %d", ErrCorruptVocabulary, len(pieces)+1)
		}
		pieces = append(pieces, line)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: line %d exceeds %d bytes", ErrCorruptVocabulary, len(pieces)+1, maxLineBytes)
		}
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorruptVocabulary)
	}
	return NewVocabulary(pieces)
}

// Save writes v to path through a temporary file in the same directory, so
// a failed write never leaves a partial vocabulary behind.
func Save(v *Vocabulary, path string) error {
	tmpName, err := stageFile(path, func(w io.Writer) error { return Write(w, v) })
	if err != nil {
		return fmt.Errorf("stage vocabulary: %w", err)
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename vocabulary: %w", err)
	}
	return nil
}

// stageFile writes a synced temporary file next to path and returns its
// name. The caller renames it into place or removes it.
func stageFile(path string, write func(io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	err = write(tmp)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

// Load reads a vocabulary file written by Save.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	v, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return v, nil
}
