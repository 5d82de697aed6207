// Package evaluate measures how well a vocabulary covers a corpus.
package evaluate

import (
	"context"
	"iter"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

// Summary is the mean and sample standard deviation of a measurement.
type Summary struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`
}

// Report describes tokenization of a held-out corpus.
type Report struct {
	Texts        int     `yaml:"texts"`
	Words        int     `yaml:"words"`
	UnknownWords int     `yaml:"unknown_words"`
	UnknownRate  float64 `yaml:"unknown_rate"`
	Tokens       int     `yaml:"tokens"`
	// PiecesPerWord counts unknown words as one piece.
	PiecesPerWord Summary `yaml:"pieces_per_word"`
	// TokensPerText excludes the start and end sentinels.
	TokensPerText Summary `yaml:"tokens_per_text"`
}

// Evaluate tokenizes every text of corpus with tok.
func Evaluate(ctx context.Context, tok *wordpiece.Tokenizer, corpus iter.Seq[string]) (Report, error) {
	var (
		r             Report
		perText       []float64
		piecesPerWord = make(map[int]float64)
	)
	norm := tok.Normalizer()

	for text := range corpus {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		tokens := 0
		for word := range wordpiece.Words(norm.Normalize(text)) {
			ids, ok := tok.TokenizeWord(word)
			r.Words++
			if !ok {
				r.UnknownWords++
			}
			piecesPerWord[len(ids)]++
			tokens += len(ids)
		}
		r.Texts++
		r.Tokens += tokens
		perText = append(perText, float64(tokens))
	}

	if r.Words > 0 {
		r.UnknownRate = float64(r.UnknownWords) / float64(r.Words)
	}
	r.TokensPerText = summarize(perText, nil)

	// Piece counts are few and repetitive, so they are kept as a weighted
	// histogram instead of one sample per word.
	counts := make([]int, 0, len(piecesPerWord))
	for n := range piecesPerWord {
		counts = append(counts, n)
	}
	slices.Sort(counts)
	values := make([]float64, len(counts))
	weights := make([]float64, len(counts))
	for i, n := range counts {
		values[i] = float64(n)
		weights[i] = piecesPerWord[n]
	}
	r.PiecesPerWord = summarize(values, weights)
	return r, nil
}

func summarize(x, weights []float64) Summary {
	var total float64
	if weights == nil {
		total = float64(len(x))
	} else {
		total = floats.Sum(weights)
	}
	switch {
	case total == 0:
		return Summary{}
	case total < 2:
		return Summary{Mean: stat.Mean(x, weights)}
	}
	mean, std := stat.MeanStdDev(x, weights)
	return Summary{Mean: mean, StdDev: std}
}
