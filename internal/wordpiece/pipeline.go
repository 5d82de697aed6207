package wordpiece

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// EncodeCache stores framed ids by input text. Implementations must copy
// on Put and Get.
type EncodeCache interface {
	Get(text string) ([]int, bool)
	Put(text string, ids []int)
}

// Pipeline is the tokenizer surface handed to downstream consumers:
// normalize, decompose, frame, and the inverse with cleanup. It is built
// once from a loaded vocabulary and is safe for concurrent use.
type Pipeline struct {
	tokenizer *Tokenizer
	framer    *Framer
	reserved  []string
	sentinels Sentinels
	manifest  Manifest
	workers   int
	cache     EncodeCache
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithWorkers bounds batch parallelism. Values < 1 are ignored.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithEncodeCache memoizes TokenizeBatch results per text.
func WithEncodeCache(c EncodeCache) PipelineOption {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// NewPipeline resolves the sentinels of m against v once and wires the
// normalizer, tokenizer and framer.
func NewPipeline(v *Vocabulary, m Manifest, opts ...PipelineOption) (*Pipeline, error) {
	sentinels, err := v.ResolveSentinels(m.ReservedTokens, m.Sentinels)
	if err != nil {
		return nil, err
	}
	tokOpts := []TokenizerOption{WithReservedPrefix(len(m.ReservedTokens))}
	if m.MaxInputChars > 0 {
		tokOpts = append(tokOpts, WithMaxInputChars(m.MaxInputChars))
	}
	tok, err := NewTokenizer(v, NewNormalizer(m.Normalizer), sentinels.Unknown, tokOpts...)
	if err != nil {
		return nil, err
	}

	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	p := &Pipeline{
		tokenizer: tok,
		framer:    NewFramer(m.ReservedTokens, m.Sentinels.Unknown, sentinels),
		reserved:  append([]string(nil), m.ReservedTokens...),
		sentinels: sentinels,
		manifest:  m,
		workers:   workers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadPipeline loads a vocabulary directory and builds a Pipeline from it.
func LoadPipeline(dir string, opts ...PipelineOption) (*Pipeline, error) {
	return LoadPipelineWith(dir, DefaultManifest(), opts...)
}

// LoadPipelineWith is LoadPipeline with the settings used when the
// directory has no manifest.
func LoadPipelineWith(dir string, fallback Manifest, opts ...PipelineOption) (*Pipeline, error) {
	v, m, err := LoadDirWith(dir, fallback)
	if err != nil {
		return nil, err
	}
	return NewPipeline(v, m, opts...)
}

// Tokenizer exposes the underlying word-level tokenizer.
func (p *Pipeline) Tokenizer() *Tokenizer {
	return p.tokenizer
}

// Sentinels returns the resolved sentinel ids.
func (p *Pipeline) Sentinels() Sentinels {
	return p.sentinels
}

// Manifest returns the settings the vocabulary was built with.
func (p *Pipeline) Manifest() Manifest {
	return p.manifest
}

// VocabSize returns the number of pieces.
func (p *Pipeline) VocabSize() int {
	return p.tokenizer.vocab.Size()
}

// ReservedTokens returns a copy of the ordered reserved list.
func (p *Pipeline) ReservedTokens() []string {
	return append([]string(nil), p.reserved...)
}

// Tokenize returns the framed ids of a single text.
func (p *Pipeline) Tokenize(text string) []int {
	if p.cache != nil {
		if ids, ok := p.cache.Get(text); ok {
			cacheHits.Inc()
			return ids
		}
		cacheMisses.Inc()
	}
	ids := p.framer.Frame(p.tokenizer.Encode(text))
	if p.cache != nil {
		p.cache.Put(text, ids)
	}
	return ids
}

// Detokenize looks up ids, drops reserved pieces other than unknown, and
// joins the rest into text.
func (p *Pipeline) Detokenize(ids []int) (string, error) {
	pieces, err := p.tokenizer.Lookup(ids)
	if err != nil {
		return "", err
	}
	return JoinPieces(p.framer.Clean(pieces)), nil
}

// Lookup maps ids to stored pieces without cleanup.
func (p *Pipeline) Lookup(ids []int) ([]string, error) {
	return p.tokenizer.Lookup(ids)
}

// TokenizeBatch tokenizes independent texts in parallel. Result i belongs
// to texts[i].
func (p *Pipeline) TokenizeBatch(ctx context.Context, texts []string) ([][]int, error) {
	start := time.Now()
	defer func() {
		tokenizationDuration.Observe(time.Since(start).Seconds())
	}()

	out := make([][]int, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = p.Tokenize(texts[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, ids := range out {
		total += len(ids)
	}
	tokensProduced.Add(float64(total))
	sequencesProcessed.WithLabelValues("tokenize").Add(float64(len(texts)))
	return out, nil
}

// DetokenizeBatch detokenizes independent sequences in parallel. Any id
// outside the vocabulary fails the whole batch.
func (p *Pipeline) DetokenizeBatch(ctx context.Context, batch [][]int) ([]string, error) {
	start := time.Now()
	defer func() {
		detokenizationDuration.Observe(time.Since(start).Seconds())
	}()

	out := make([]string, len(batch))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := p.Detokenize(batch[i])
			if err != nil {
				return fmt.Errorf("sequence %d: %w", i, err)
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sequencesProcessed.WithLabelValues("detokenize").Add(float64(len(batch)))
	return out, nil
}
