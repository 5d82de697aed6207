package wordpiece

import (
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizerOptions selects the canonicalization steps. The same options must
// be used when learning a vocabulary and when tokenizing with it, so they are
// stored alongside the vocabulary.
type NormalizerOptions struct {
	Lowercase    bool `mapstructure:"lowercase" yaml:"lowercase"`
	StripAccents bool `mapstructure:"strip_accents" yaml:"strip_accents"`
}

// DefaultNormalizerOptions folds case and strips accents, like uncased BERT.
func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{Lowercase: true, StripAccents: true}
}

// Normalizer is the single normalization entry point shared by the learner
// and the tokenizer. It is safe for concurrent use.
type Normalizer struct {
	opts NormalizerOptions
	pool sync.Pool
}

// NewNormalizer builds a Normalizer for opts.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	n := &Normalizer{opts: opts}
	n.pool.New = func() any {
		return n.chain()
	}
	return n
}

// Options returns the options the normalizer was built with.
func (n *Normalizer) Options() NormalizerOptions {
	return n.opts
}

// chain builds a fresh transformer; transformers keep state between calls so
// each goroutine needs its own.
func (n *Normalizer) chain() transform.Transformer {
	steps := []transform.Transformer{
		runes.Remove(runes.Predicate(isDroppable)),
		runes.Map(toASCIISpace),
	}
	if n.opts.Lowercase {
		steps = append(steps, cases.Fold())
	}
	if n.opts.StripAccents {
		steps = append(steps, norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	}
	steps = append(steps, norm.NFC)
	return transform.Chain(steps...)
}

// Normalize returns the canonical form of text. Casing is never restored by
// detokenization.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := n.pool.Get().(transform.Transformer)
	defer n.pool.Put(t)
	out, _, err := transform.String(t, text)
	if err != nil {
		// Only reachable on invalid UTF-8 the chain could not repair; fall
		// back to the cleaned input so tokenization still proceeds.
		return runes.ReplaceIllFormed().String(text)
	}
	return out
}

func isDroppable(r rune) bool {
	switch r {
	case 0, unicode.ReplacementChar:
		return true
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

func toASCIISpace(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
}
