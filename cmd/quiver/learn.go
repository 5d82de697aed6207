package main

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-quiver/internal/corpus"
	"github.com/23skdu/longbow-quiver/internal/learner"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

type corpusFlags struct {
	paths  []string
	format string
	column string
	lorem  int
	seed   int64
}

func (f *corpusFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.paths, "corpus", []string{"-"}, "Corpus files, - for stdin")
	cmd.Flags().StringVar(&f.format, "format", "text", "Corpus format: text (one text per line) or arrow (IPC stream)")
	cmd.Flags().StringVar(&f.column, "column", corpus.DefaultTextColumn, "Text column of an arrow corpus")
	cmd.Flags().IntVar(&f.lorem, "lorem", 0, "Use N generated lorem ipsum paragraphs instead of --corpus")
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "Seed for --lorem")
}

// open returns the texts of every corpus, the sources to check for read
// errors once iteration is done, and a closer for the underlying files.
func (f *corpusFlags) open() (iter.Seq[string], []corpus.Source, func(), error) {
	if f.lorem > 0 {
		return corpus.LoremSeq(f.lorem, f.seed), nil, func() {}, nil
	}

	var (
		sources []corpus.Source
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	for _, path := range f.paths {
		rc, err := corpus.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("open corpus: %w", err)
		}
		closers = append(closers, rc)
		switch f.format {
		case "text":
			sources = append(sources, corpus.NewLineReader(rc))
		case "arrow":
			sources = append(sources, corpus.NewArrowReader(rc, f.column))
		default:
			closeAll()
			return nil, nil, nil, &wordpiece.ConfigError{Field: "format", Message: fmt.Sprintf("unknown corpus format %q", f.format)}
		}
	}

	seq := func(yield func(string) bool) {
		for _, src := range sources {
			for text := range src.All() {
				if !yield(text) {
					return
				}
			}
		}
	}
	return seq, sources, closeAll, nil
}

func checkSources(sources []corpus.Source) (int, error) {
	lines := 0
	for _, src := range sources {
		if err := src.Err(); err != nil {
			return lines, fmt.Errorf("read corpus: %w", err)
		}
		lines += src.Lines()
	}
	return lines, nil
}

func newLearnCmd() *cobra.Command {
	var cf corpusFlags

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Learn a vocabulary from a corpus and save it to --vocab-dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := activeCfg
			lc := cfg.LearnerConfig()

			texts, sources, closeAll, err := cf.open()
			if err != nil {
				return err
			}
			defer closeAll()

			start := time.Now()
			v, err := learner.Learn(cmd.Context(), texts, lc)
			if err != nil {
				return err
			}
			lines, err := checkSources(sources)
			if err != nil {
				return err
			}

			if err := wordpiece.SaveDir(cfg.Vocab.Dir, v, lc.Manifest()); err != nil {
				return err
			}
			log.Info().
				Str("dir", cfg.Vocab.Dir).
				Int("size", v.Size()).
				Int("target", lc.TargetSize).
				Int("lines", lines).
				Dur("elapsed", time.Since(start)).
				Msg("Vocabulary saved")
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}
