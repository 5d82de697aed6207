package main

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/config"
	"github.com/23skdu/longbow-quiver/internal/corpus"
)

type batchTokenizer func(ctx context.Context, texts []string) ([][]int, error)

func newEncodeCmd() *cobra.Command {
	var (
		input   string
		format  string
		forward bool
		remote  string
	)

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode texts, or the lines of --input, to framed token ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := activeCfg
			ctx := cmd.Context()

			out, err := newIDWriter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			tokenize, closeTokenizer, err := newBatchTokenizer(cfg, remote)
			if err != nil {
				return err
			}
			defer closeTokenizer()

			var fwd Forwarder
			if forward {
				f, closeForwarder, err := newForwarder(cfg)
				if err != nil {
					return err
				}
				defer closeForwarder()
				fwd = f
			}

			texts := slices.Values(args)
			var src corpus.Source
			if len(args) == 0 {
				rc, err := corpus.Open(input)
				if err != nil {
					return err
				}
				defer rc.Close()
				lr := corpus.NewLineReader(rc)
				texts, src = lr.All(), lr
			}

			start := time.Now()
			n, err := encodeAll(ctx, texts, cfg.Server.MaxBatch, tokenize, out, fwd)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if src != nil && src.Err() != nil {
				return fmt.Errorf("read input: %w", src.Err())
			}
			log.Debug().Int("texts", n).Dur("elapsed", time.Since(start)).Msg("Encoded texts")
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "-", "File of texts, one per line, when no arguments are given")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, cbor or arrow")
	cmd.Flags().BoolVar(&forward, "forward", false, "Also put token batches to --forward-addr")
	cmd.Flags().StringVar(&remote, "remote", "", "Tokenize on a quiver Flight server instead of loading --vocab-dir")
	return cmd
}

// encodeAll tokenizes texts in batches of batchSize and returns how many
// texts were written.
func encodeAll(ctx context.Context, texts iter.Seq[string], batchSize int, tokenize batchTokenizer, out idWriter, fwd Forwarder) (int, error) {
	total := 0
	flush := func(batch []string) error {
		ids, err := tokenize(ctx, batch)
		if err != nil {
			return err
		}
		if err := out.Write(batch, ids); err != nil {
			return fmt.Errorf("write ids: %w", err)
		}
		if fwd != nil {
			if err := fwd.Forward(ctx, batch, ids); err != nil {
				log.Error().Err(err).Msg("Error forwarding batch to Longbow")
			}
		}
		total += len(batch)
		return nil
	}

	batch := make([]string, 0, batchSize)
	for text := range texts {
		batch = append(batch, text)
		if len(batch) < batchSize {
			continue
		}
		if err := flush(batch); err != nil {
			return total, err
		}
		batch = make([]string, 0, batchSize)
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return total, err
		}
	}
	return total, nil
}

func newBatchTokenizer(cfg config.Config, remote string) (batchTokenizer, func(), error) {
	if remote != "" {
		fc, err := client.NewFlightClient(remote)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", remote, err)
		}
		closeFn := func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}
		return fc.Tokenize, closeFn, nil
	}

	p, err := loadPipeline(cfg, cfg.Server.Workers, cfg.Server.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	return p.TokenizeBatch, func() {}, nil
}

func newForwarder(cfg config.Config) (*client.Forwarder, func(), error) {
	if cfg.Forward.Addr == "" {
		return nil, nil, fmt.Errorf("forwarding needs --forward-addr")
	}
	fc, err := client.NewFlightClient(cfg.Forward.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Forward.Addr, err)
	}
	log.Info().Str("addr", cfg.Forward.Addr).Str("dataset", cfg.Forward.Dataset).Msg("Forwarding token batches to Longbow")
	closeFn := func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}
	return client.NewForwarder(fc, cfg.Forward.Dataset, cfg.Forward.MaxFailures, cfg.Forward.Cooldown), closeFn, nil
}
