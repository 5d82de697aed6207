package learner

import (
	"context"
	"iter"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

// tallyWords counts normalized words across the corpus. Lines are read by a
// single producer and counted by cfg.Workers goroutines into private maps,
// which are summed afterwards; addition commutes, so the result does not
// depend on scheduling.
func tallyWords(ctx context.Context, corpus iter.Seq[string], norm *wordpiece.Normalizer, cfg Config) (map[string]int, error) {
	workers := cfg.workers()
	chunk := cfg.chunkSize()
	maxChars := cfg.maxWordChars()

	g, ctx := errgroup.WithContext(ctx)
	chunks := make(chan []string, workers)
	partials := make([]map[string]int, workers)

	g.Go(func() error {
		defer close(chunks)
		buf := make([]string, 0, chunk)
		for line := range corpus {
			buf = append(buf, line)
			if len(buf) < chunk {
				continue
			}
			select {
			case chunks <- buf:
			case <-ctx.Done():
				return ctx.Err()
			}
			buf = make([]string, 0, chunk)
		}
		if len(buf) > 0 {
			select {
			case chunks <- buf:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		counts := make(map[string]int)
		partials[w] = counts
		g.Go(func() error {
			for lines := range chunks {
				for _, line := range lines {
					for word := range wordpiece.Words(norm.Normalize(line)) {
						if utf8.RuneCountInString(word) > maxChars {
							skippedWords.Inc()
							continue
						}
						counts[word]++
					}
				}
				linesTallied.Add(float64(len(lines)))
			}
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := partials[0]
	for _, p := range partials[1:] {
		for word, n := range p {
			total[word] += n
		}
	}
	return total, nil
}
