// Package learner builds WordPiece vocabularies from a text corpus by
// iteratively merging adjacent symbols.
//
// Learning runs in two phases. The corpus is normalized, split into words
// and tallied in parallel. The merge phase then runs on a single goroutine
// over the combined tallies: the alphabet of observed characters is added in
// both word-initial and continuation form, and the best-scoring adjacent pair
// is merged until the vocabulary reaches the target size or no pair reaches
// the minimum frequency. Candidate order is a strict total order (score,
// then pair count, then the left and right piece strings), so the same
// corpus and config always yield the same vocabulary regardless of worker
// count.
package learner

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

var tracer = otel.Tracer("quiver-learner")

// Learn returns a vocabulary of at most cfg.TargetSize pieces whose first
// entries are cfg.ReservedTokens. The returned size is authoritative: a
// small or uniform corpus yields a smaller vocabulary.
func Learn(ctx context.Context, corpus iter.Seq[string], cfg Config) (*wordpiece.Vocabulary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scoring == "" {
		cfg.Scoring = ScoreLikelihood
	}

	ctx, span := tracer.Start(ctx, "Learn", trace.WithAttributes(
		attribute.Int("target_size", cfg.TargetSize),
		attribute.String("scoring", string(cfg.Scoring)),
	))
	defer span.End()
	start := time.Now()

	counts, err := tallyWords(ctx, corpus, wordpiece.NewNormalizer(cfg.Normalizer), cfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tally corpus: %w", err)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: corpus has no words", wordpiece.ErrInsufficientData)
	}
	log.Info().Int("unique_words", len(counts)).Dur("elapsed", time.Since(start)).Msg("Corpus tallied")

	b := newBuilder(cfg)
	b.seedWords(counts)
	b.addAlphabet()
	merges := b.mergeLoop(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := wordpiece.NewVocabulary(b.vocab)
	if err != nil {
		return nil, err
	}

	learnDuration.Observe(time.Since(start).Seconds())
	vocabularySize.Set(float64(v.Size()))
	span.SetAttributes(
		attribute.Int("unique_words", len(counts)),
		attribute.Int("merges", merges),
		attribute.Int("vocab_size", v.Size()),
	)
	log.Info().
		Int("target", cfg.TargetSize).
		Int("size", v.Size()).
		Int("merges", merges).
		Dur("elapsed", time.Since(start)).
		Msg("Vocabulary learned")
	return v, nil
}

type word struct {
	syms  []int
	count int
}

type pair struct {
	left, right int
}

// pairStat is the weighted occurrence count of one adjacent pair and the
// set of words it occurs in.
type pairStat struct {
	p     pair
	count int
	words map[int]struct{}
}

// builder holds the merge-phase state. Symbols are interned piece strings,
// continuation pieces carrying the ## prefix. Pair and symbol counts are
// kept current across merges, so each merge only revisits the words that
// contain the merged pair.
type builder struct {
	cfg      Config
	symbols  []string
	symIDs   map[string]int
	symCount []int
	words    []word
	vocab    []string
	inVocab  map[string]bool
	pairs    []*pairStat
	pairPos  map[pair]int
}

func newBuilder(cfg Config) *builder {
	b := &builder{
		cfg:     cfg,
		symIDs:  make(map[string]int),
		inVocab: make(map[string]bool),
		pairPos: make(map[pair]int),
	}
	for _, tok := range cfg.ReservedTokens {
		b.appendPiece(tok)
	}
	return b
}

func (b *builder) full() bool {
	return len(b.vocab) >= b.cfg.TargetSize
}

func (b *builder) appendPiece(p string) bool {
	if b.inVocab[p] || b.full() {
		return false
	}
	b.vocab = append(b.vocab, p)
	b.inVocab[p] = true
	return true
}

func (b *builder) intern(s string) int {
	if id, ok := b.symIDs[s]; ok {
		return id
	}
	id := len(b.symbols)
	b.symbols = append(b.symbols, s)
	b.symCount = append(b.symCount, 0)
	b.symIDs[s] = id
	return id
}

// seedWords turns each distinct word into its character symbols, in
// lexicographic word order.
func (b *builder) seedWords(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for w := range counts {
		keys = append(keys, w)
	}
	slices.Sort(keys)

	b.words = make([]word, 0, len(keys))
	for _, w := range keys {
		syms := make([]int, 0, len(w))
		for i, r := range w {
			if i == 0 {
				syms = append(syms, b.intern(string(r)))
			} else {
				syms = append(syms, b.intern(wordpiece.ContinuationPrefix+string(r)))
			}
		}
		b.words = append(b.words, word{syms: syms, count: counts[w]})
	}
}

// addAlphabet adds every observed character in both its word-initial and
// continuation form, most frequent first.
func (b *builder) addAlphabet() {
	freq := make(map[string]int)
	for _, w := range b.words {
		for _, s := range w.syms {
			freq[b.symbols[s]] += w.count
		}
	}
	chars := make(map[string]bool)
	for s := range freq {
		chars[wordpiece.ParsePiece(s).Text] = true
	}

	type entry struct {
		piece string
		freq  int
	}
	entries := make([]entry, 0, 2*len(chars))
	for c := range chars {
		initial := wordpiece.Piece{Text: c}.String()
		cont := wordpiece.Piece{Text: c, Continuation: true}.String()
		entries = append(entries, entry{initial, freq[initial]}, entry{cont, freq[cont]})
	}
	slices.SortFunc(entries, func(x, y entry) int {
		if x.freq != y.freq {
			return cmp.Compare(y.freq, x.freq)
		}
		return strings.Compare(x.piece, y.piece)
	})
	for _, e := range entries {
		if b.full() {
			return
		}
		b.appendPiece(e.piece)
	}
}

// mergeLoop merges the best pair until the vocabulary is full or no pair
// qualifies, and returns the number of merges applied.
func (b *builder) mergeLoop(ctx context.Context) int {
	merges := 0
	if !b.full() {
		for wi := range b.words {
			b.addWord(wi)
		}
	}
	for !b.full() {
		if ctx.Err() != nil {
			return merges
		}
		best, count, ok := b.bestPair()
		if !ok {
			log.Debug().Int("merges", merges).Msg("No pair reaches the minimum frequency")
			break
		}
		left, right := b.symbols[best.left], b.symbols[best.right]
		merged := left + strings.TrimPrefix(right, wordpiece.ContinuationPrefix)
		id := b.intern(merged)
		b.applyMerge(best, id)
		added := b.appendPiece(merged)
		merges++
		mergesApplied.Inc()

		if merges%1000 == 0 {
			log.Debug().
				Int("merges", merges).
				Int("vocab", len(b.vocab)).
				Str("left", left).
				Str("right", right).
				Int("count", count).
				Bool("added", added).
				Msg("Merge progress")
		}
	}
	return merges
}

// bestPair returns the highest ranked pair with at least MinPairFrequency
// occurrences.
func (b *builder) bestPair() (pair, int, bool) {
	var (
		best      pair
		bestCount int
		bestScore float64
		found     bool
	)
	for _, st := range b.pairs {
		if st.count < b.cfg.MinPairFrequency {
			continue
		}
		score := b.score(st.count, b.symCount[st.p.left], b.symCount[st.p.right])
		if !found || b.better(st.p, st.count, score, best, bestCount, bestScore) {
			best, bestCount, bestScore, found = st.p, st.count, score, true
		}
	}
	return best, bestCount, found
}

func (b *builder) score(pairCount, leftCount, rightCount int) float64 {
	if b.cfg.Scoring == ScoreFrequency {
		return float64(pairCount)
	}
	return float64(pairCount) / (float64(leftCount) * float64(rightCount))
}

// better is the total order over candidates: score, pair count, then the
// left and right piece strings in ascending order.
func (b *builder) better(p pair, n int, score float64, q pair, m int, qScore float64) bool {
	if score != qScore {
		return score > qScore
	}
	if n != m {
		return n > m
	}
	if c := strings.Compare(b.symbols[p.left], b.symbols[q.left]); c != 0 {
		return c < 0
	}
	return b.symbols[p.right] < b.symbols[q.right]
}

// applyMerge replaces every non-overlapping occurrence of p, scanning each
// word left to right, with the merged symbol. Only words indexed under p are
// touched; their old counts are withdrawn and the rewritten word re-added.
func (b *builder) applyMerge(p pair, merged int) {
	pos, ok := b.pairPos[p]
	if !ok {
		return
	}
	st := b.pairs[pos]
	affected := make([]int, 0, len(st.words))
	for wi := range st.words {
		affected = append(affected, wi)
	}
	for _, wi := range affected {
		b.removeWord(wi)
		b.words[wi].syms = mergeSymbols(b.words[wi].syms, p, merged)
		b.addWord(wi)
	}
}

func mergeSymbols(syms []int, p pair, merged int) []int {
	out := syms[:0]
	for i := 0; i < len(syms); i++ {
		if i+1 < len(syms) && syms[i] == p.left && syms[i+1] == p.right {
			out = append(out, merged)
			i++
			continue
		}
		out = append(out, syms[i])
	}
	return out
}

// addWord adds the symbol and pair occurrences of word wi to the counts.
func (b *builder) addWord(wi int) {
	w := b.words[wi]
	for i, s := range w.syms {
		b.symCount[s] += w.count
		if i == 0 {
			continue
		}
		p := pair{w.syms[i-1], s}
		pos, ok := b.pairPos[p]
		if !ok {
			pos = len(b.pairs)
			b.pairPos[p] = pos
			b.pairs = append(b.pairs, &pairStat{p: p, words: make(map[int]struct{})})
		}
		st := b.pairs[pos]
		st.count += w.count
		st.words[wi] = struct{}{}
	}
}

// removeWord withdraws the occurrences of word wi from the counts. Pairs
// left without occurrences are dropped.
func (b *builder) removeWord(wi int) {
	w := b.words[wi]
	for i, s := range w.syms {
		b.symCount[s] -= w.count
		if i == 0 {
			continue
		}
		p := pair{w.syms[i-1], s}
		pos, ok := b.pairPos[p]
		if !ok {
			continue
		}
		st := b.pairs[pos]
		st.count -= w.count
		delete(st.words, wi)
		if st.count <= 0 {
			b.dropPair(pos)
		}
	}
}

func (b *builder) dropPair(pos int) {
	last := len(b.pairs) - 1
	delete(b.pairPos, b.pairs[pos].p)
	if pos != last {
		b.pairs[pos] = b.pairs[last]
		b.pairPos[b.pairs[pos].p] = pos
	}
	b.pairs[last] = nil
	b.pairs = b.pairs[:last]
}
