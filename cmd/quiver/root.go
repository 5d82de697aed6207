package main

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/config"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

var (
	cfgFile        string
	enableOTel     bool
	activeCfg      config.Config
	shutdownTracer func(context.Context) error
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "quiver",
		Short:         "Learn WordPiece vocabularies and tokenize text with them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)

			if enableOTel {
				shutdown, err := initTracer()
				if err != nil {
					return fmt.Errorf("initialize tracer: %w", err)
				}
				shutdownTracer = shutdown
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdownTracer != nil {
				return shutdownTracer(context.Background())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	cmd.PersistentFlags().BoolVar(&enableOTel, "otel", false, "Enable OpenTelemetry tracing (stderr)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newLearnCmd())
	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func setupLogger(levelStr string) {
	lvl, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// loadPipeline opens the configured vocabulary directory. A non-zero
// cacheSize puts a cache in front of encoding, unbounded when negative.
func loadPipeline(cfg config.Config, workers, cacheSize int) (*wordpiece.Pipeline, error) {
	if err := checkManifest(cfg); err != nil {
		return nil, err
	}
	opts := []wordpiece.PipelineOption{wordpiece.WithWorkers(workers)}
	if cacheSize != 0 {
		c, err := cache.New(cacheSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wordpiece.WithEncodeCache(c))
	}
	// A plain vocab.txt is read with the configured tokens and normalizer.
	p, err := wordpiece.LoadPipelineWith(cfg.Vocab.Dir, cfg.LearnerConfig().Manifest(), opts...)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("dir", cfg.Vocab.Dir).Int("size", p.VocabSize()).Msg("Vocabulary loaded")
	return p, nil
}

// checkManifest rejects explicitly configured settings that contradict the
// manifest stored with the vocabulary.
func checkManifest(cfg config.Config) error {
	stored, ok, err := wordpiece.ReadManifest(cfg.Vocab.Dir)
	if err != nil || !ok {
		return err
	}
	configured := cfg.LearnerConfig().Manifest()
	storedMaxChars := stored.MaxInputChars
	if storedMaxChars <= 0 {
		storedMaxChars = wordpiece.DefaultMaxInputChars
	}

	checks := []struct {
		key   string
		match bool
	}{
		{"tokens.reserved", slices.Equal(stored.ReservedTokens, configured.ReservedTokens)},
		{"tokens.sentinels.pad", stored.Sentinels.Pad == configured.Sentinels.Pad},
		{"tokens.sentinels.unknown", stored.Sentinels.Unknown == configured.Sentinels.Unknown},
		{"tokens.sentinels.start", stored.Sentinels.Start == configured.Sentinels.Start},
		{"tokens.sentinels.end", stored.Sentinels.End == configured.Sentinels.End},
		{"normalizer.lowercase", stored.Normalizer.Lowercase == configured.Normalizer.Lowercase},
		{"normalizer.strip_accents", stored.Normalizer.StripAccents == configured.Normalizer.StripAccents},
		{"vocab.max_input_chars", storedMaxChars == configured.MaxInputChars},
	}
	for _, c := range checks {
		if !c.match && cfg.IsExplicit(c.key) {
			return &wordpiece.ConfigError{
				Field:   c.key,
				Message: fmt.Sprintf("differs from %s", filepath.Join(cfg.Vocab.Dir, wordpiece.ManifestFile)),
			}
		}
	}
	return nil
}
