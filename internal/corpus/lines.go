// Package corpus adapts text sources into the string sequences consumed by
// the vocabulary learner and the encode commands.
package corpus

import (
	"bufio"
	"io"
	"iter"
	"os"
)

const maxLineBytes = 16 << 20

// Source is a one-shot sequence of texts that reports read failures after
// iteration.
type Source interface {
	All() iter.Seq[string]
	Err() error
	Lines() int
}

// LineReader yields the lines of a reader. Like bufio.Scanner, it reports
// read failures through Err once iteration stops.
type LineReader struct {
	r   io.Reader
	err error
	n   int
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r}
}

// All yields each line without its terminator. It may be ranged over once.
func (l *LineReader) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(l.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			l.n++
			if !yield(scanner.Text()) {
				return
			}
		}
		l.err = scanner.Err()
	}
}

// Err returns the first read error, if any.
func (l *LineReader) Err() error {
	return l.err
}

// Lines returns how many lines have been yielded.
func (l *LineReader) Lines() int {
	return l.n
}

// Open returns a reader for path, or stdin for "-". The caller closes it.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" || path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
