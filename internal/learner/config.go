package learner

import (
	"fmt"
	"runtime"

	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

// Scoring selects how merge candidates are ranked.
type Scoring string

const (
	// ScoreLikelihood ranks a pair by count(ab) / (count(a) * count(b)).
	ScoreLikelihood Scoring = "likelihood"
	// ScoreFrequency ranks a pair by count(ab).
	ScoreFrequency Scoring = "frequency"
)

// ParseScoring validates a scoring name.
func ParseScoring(s string) (Scoring, error) {
	switch Scoring(s) {
	case ScoreLikelihood, ScoreFrequency:
		return Scoring(s), nil
	case "":
		return ScoreLikelihood, nil
	}
	return "", &wordpiece.ConfigError{Field: "learn.scoring", Message: fmt.Sprintf("unknown scoring %q", s)}
}

// Config holds everything Learn needs besides the corpus.
type Config struct {
	TargetSize       int
	ReservedTokens   []string
	Sentinels        wordpiece.SentinelNames
	Normalizer       wordpiece.NormalizerOptions
	Scoring          Scoring
	MinPairFrequency int
	MaxWordChars     int
	Workers          int
	ChunkSize        int
}

// DefaultConfig returns a config for an 8000-piece vocabulary with the
// default reserved tokens.
func DefaultConfig() Config {
	return Config{
		TargetSize:       8000,
		ReservedTokens:   append([]string(nil), wordpiece.DefaultReservedTokens...),
		Sentinels:        wordpiece.DefaultSentinelNames(),
		Normalizer:       wordpiece.DefaultNormalizerOptions(),
		Scoring:          ScoreLikelihood,
		MinPairFrequency: 2,
		MaxWordChars:     wordpiece.DefaultMaxInputChars,
		Workers:          runtime.NumCPU(),
		ChunkSize:        1024,
	}
}

// Validate rejects settings Learn cannot honor.
func (c Config) Validate() error {
	if err := wordpiece.ValidateReserved(c.ReservedTokens, c.Sentinels); err != nil {
		return err
	}
	if c.TargetSize <= len(c.ReservedTokens) {
		return &wordpiece.ConfigError{
			Field:   "learn.target_size",
			Message: fmt.Sprintf("target size %d must exceed the %d reserved tokens", c.TargetSize, len(c.ReservedTokens)),
		}
	}
	if _, err := ParseScoring(string(c.Scoring)); err != nil {
		return err
	}
	if c.MinPairFrequency < 1 {
		return &wordpiece.ConfigError{Field: "learn.min_pair_frequency", Message: "must be at least 1"}
	}
	return nil
}

// Manifest describes the vocabulary this config produces, for SaveDir.
func (c Config) Manifest() wordpiece.Manifest {
	return wordpiece.Manifest{
		ReservedTokens: append([]string(nil), c.ReservedTokens...),
		Sentinels:      c.Sentinels,
		Normalizer:     c.Normalizer,
		MaxInputChars:  c.MaxWordChars,
	}
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

func (c Config) chunkSize() int {
	if c.ChunkSize < 1 {
		return 1024
	}
	return c.ChunkSize
}

func (c Config) maxWordChars() int {
	if c.MaxWordChars < 1 {
		return wordpiece.DefaultMaxInputChars
	}
	return c.MaxWordChars
}
