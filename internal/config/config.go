// Package config loads quiver settings from flags, QUIVER_* environment
// variables and an optional quiver.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/23skdu/longbow-quiver/internal/learner"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

type Config struct {
	Vocab      VocabConfig                 `mapstructure:"vocab"`
	Tokens     TokensConfig                `mapstructure:"tokens"`
	Normalizer wordpiece.NormalizerOptions `mapstructure:"normalizer"`
	Learn      LearnConfig                 `mapstructure:"learn"`
	Server     ServerConfig                `mapstructure:"server"`
	Forward    ForwardConfig               `mapstructure:"forward"`
	LogLevel   string                      `mapstructure:"log_level"`

	// explicit holds the keys set by a flag, the environment or a config
	// file rather than left at their defaults.
	explicit map[string]bool
}

// IsExplicit reports whether key was set by a flag, a QUIVER_* variable or
// the config file.
func (c Config) IsExplicit(key string) bool {
	return c.explicit[key]
}

type VocabConfig struct {
	Dir           string `mapstructure:"dir"`
	MaxInputChars int    `mapstructure:"max_input_chars"`
}

type TokensConfig struct {
	Reserved  []string                `mapstructure:"reserved"`
	Sentinels wordpiece.SentinelNames `mapstructure:"sentinels"`
}

type LearnConfig struct {
	TargetSize       int    `mapstructure:"target_size"`
	Scoring          string `mapstructure:"scoring"`
	MinPairFrequency int    `mapstructure:"min_pair_frequency"`
	Workers          int    `mapstructure:"workers"`
	ChunkSize        int    `mapstructure:"chunk_size"`
}

type ServerConfig struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	FlightAddr    string `mapstructure:"flight_addr"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	MaxBatch      int    `mapstructure:"max_batch"`
	Workers       int    `mapstructure:"workers"`
	CacheSize     int    `mapstructure:"cache_size"`
}

type ForwardConfig struct {
	Addr        string        `mapstructure:"addr"`
	Dataset     string        `mapstructure:"dataset"`
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	learn := learner.DefaultConfig()
	return Config{
		Vocab: VocabConfig{
			Dir:           "vocab",
			MaxInputChars: wordpiece.DefaultMaxInputChars,
		},
		Tokens: TokensConfig{
			Reserved:  append([]string(nil), wordpiece.DefaultReservedTokens...),
			Sentinels: wordpiece.DefaultSentinelNames(),
		},
		Normalizer: wordpiece.DefaultNormalizerOptions(),
		Learn: LearnConfig{
			TargetSize:       learn.TargetSize,
			Scoring:          string(learn.Scoring),
			MinPairFrequency: learn.MinPairFrequency,
			Workers:          runtime.NumCPU(),
			ChunkSize:        learn.ChunkSize,
		},
		Server: ServerConfig{
			ListenAddr:    ":8080",
			FlightAddr:    ":3000",
			MaxConcurrent: 64,
			MaxBatch:      1024,
			Workers:       min(runtime.NumCPU(), 16),
			CacheSize:     10000,
		},
		Forward: ForwardConfig{
			Addr:        "",
			Dataset:     "tokens",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		LogLevel: "info",
	}
}

const envPrefix = "QUIVER"

var envReplacer = strings.NewReplacer("-", "_", ".", "_")

// flagKeys maps each flag to the config key it sets.
var flagKeys = map[string]string{
	"vocab-dir":             "vocab.dir",
	"max-input-chars":       "vocab.max_input_chars",
	"reserved-tokens":       "tokens.reserved",
	"sentinel-pad":          "tokens.sentinels.pad",
	"sentinel-unknown":      "tokens.sentinels.unknown",
	"sentinel-start":        "tokens.sentinels.start",
	"sentinel-end":          "tokens.sentinels.end",
	"lowercase":             "normalizer.lowercase",
	"strip-accents":         "normalizer.strip_accents",
	"target-size":           "learn.target_size",
	"scoring":               "learn.scoring",
	"min-pair-frequency":    "learn.min_pair_frequency",
	"learn-workers":         "learn.workers",
	"chunk-size":            "learn.chunk_size",
	"server-listen-addr":    "server.listen_addr",
	"server-flight-addr":    "server.flight_addr",
	"server-max-concurrent": "server.max_concurrent",
	"server-max-batch":      "server.max_batch",
	"server-workers":        "server.workers",
	"server-cache-size":     "server.cache_size",
	"forward-addr":          "forward.addr",
	"forward-dataset":       "forward.dataset",
	"forward-max-failures":  "forward.max_failures",
	"forward-cooldown":      "forward.cooldown",
	"log-level":             "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("vocab-dir", defaults.Vocab.Dir, "Vocabulary directory (vocab.txt and vocab.yaml)")
	fs.Int("max-input-chars", defaults.Vocab.MaxInputChars, "Words longer than this many characters encode as unknown")
	fs.StringSlice("reserved-tokens", defaults.Tokens.Reserved, "Reserved tokens, placed first in the vocabulary")
	fs.String("sentinel-pad", defaults.Tokens.Sentinels.Pad, "Reserved token used for padding")
	fs.String("sentinel-unknown", defaults.Tokens.Sentinels.Unknown, "Reserved token used for unknown words")
	fs.String("sentinel-start", defaults.Tokens.Sentinels.Start, "Reserved token opening every sequence")
	fs.String("sentinel-end", defaults.Tokens.Sentinels.End, "Reserved token closing every sequence")
	fs.Bool("lowercase", defaults.Normalizer.Lowercase, "Case-fold text before splitting")
	fs.Bool("strip-accents", defaults.Normalizer.StripAccents, "Remove combining marks before splitting")
	fs.Int("target-size", defaults.Learn.TargetSize, "Vocabulary size to learn, reserved tokens included")
	fs.String("scoring", defaults.Learn.Scoring, "Merge scoring: likelihood or frequency")
	fs.Int("min-pair-frequency", defaults.Learn.MinPairFrequency, "Stop merging when no pair occurs this often")
	fs.Int("learn-workers", defaults.Learn.Workers, "Goroutines counting corpus words")
	fs.Int("chunk-size", defaults.Learn.ChunkSize, "Corpus lines per counting task")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.String("server-flight-addr", defaults.Server.FlightAddr, "Arrow Flight listen address, empty to disable")
	fs.Int("server-max-concurrent", defaults.Server.MaxConcurrent, "Requests served at once before rejecting")
	fs.Int("server-max-batch", defaults.Server.MaxBatch, "Largest batch accepted per request")
	fs.Int("server-workers", defaults.Server.Workers, "Goroutines per batch request")
	fs.Int("server-cache-size", defaults.Server.CacheSize, "Encoded texts kept in the LRU cache, 0 to disable, negative for unbounded")
	fs.String("forward-addr", defaults.Forward.Addr, "Longbow Flight address receiving token batches")
	fs.String("forward-dataset", defaults.Forward.Dataset, "Dataset name token batches are put to")
	fs.Int("forward-max-failures", defaults.Forward.MaxFailures, "Consecutive forwarding failures before backing off")
	fs.Duration("forward-cooldown", defaults.Forward.Cooldown, "Back-off before forwarding is retried")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("quiver")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	var fs *pflag.FlagSet
	if opts.Cmd != nil {
		fs = opts.Cmd.Flags()
	}
	cfg.explicit = explicitKeys(v, fs)

	return cfg, nil
}

// explicitKeys lists the keys a user supplied. It returns nil when every
// key is at its default.
func explicitKeys(v *viper.Viper, fs *pflag.FlagSet) map[string]bool {
	var keys map[string]bool
	for name, key := range flagKeys {
		set := v.InConfig(key)
		if _, ok := os.LookupEnv(envName(key)); ok {
			set = true
		}
		if fs != nil {
			if f := fs.Lookup(name); f != nil && f.Changed {
				set = true
			}
		}
		if !set {
			continue
		}
		if keys == nil {
			keys = make(map[string]bool)
		}
		keys[key] = true
	}
	return keys
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("vocab.dir", c.Vocab.Dir)
	v.SetDefault("vocab.max_input_chars", c.Vocab.MaxInputChars)
	v.SetDefault("tokens.reserved", c.Tokens.Reserved)
	v.SetDefault("tokens.sentinels.pad", c.Tokens.Sentinels.Pad)
	v.SetDefault("tokens.sentinels.unknown", c.Tokens.Sentinels.Unknown)
	v.SetDefault("tokens.sentinels.start", c.Tokens.Sentinels.Start)
	v.SetDefault("tokens.sentinels.end", c.Tokens.Sentinels.End)
	v.SetDefault("normalizer.lowercase", c.Normalizer.Lowercase)
	v.SetDefault("normalizer.strip_accents", c.Normalizer.StripAccents)
	v.SetDefault("learn.target_size", c.Learn.TargetSize)
	v.SetDefault("learn.scoring", c.Learn.Scoring)
	v.SetDefault("learn.min_pair_frequency", c.Learn.MinPairFrequency)
	v.SetDefault("learn.workers", c.Learn.Workers)
	v.SetDefault("learn.chunk_size", c.Learn.ChunkSize)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.flight_addr", c.Server.FlightAddr)
	v.SetDefault("server.max_concurrent", c.Server.MaxConcurrent)
	v.SetDefault("server.max_batch", c.Server.MaxBatch)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.cache_size", c.Server.CacheSize)
	v.SetDefault("forward.addr", c.Forward.Addr)
	v.SetDefault("forward.dataset", c.Forward.Dataset)
	v.SetDefault("forward.max_failures", c.Forward.MaxFailures)
	v.SetDefault("forward.cooldown", c.Forward.Cooldown)
	v.SetDefault("log_level", c.LogLevel)
}

// Validate checks the settings shared by every command. Learning settings
// are checked by LearnerConfig's own Validate when a vocabulary is built.
func (c Config) Validate() error {
	if c.Vocab.Dir == "" {
		return &wordpiece.ConfigError{Field: "vocab.dir", Message: "must not be empty"}
	}
	if err := wordpiece.ValidateReserved(c.Tokens.Reserved, c.Tokens.Sentinels); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return &wordpiece.ConfigError{Field: "log_level", Message: err.Error()}
	}
	if c.Server.MaxConcurrent < 1 {
		return &wordpiece.ConfigError{Field: "server.max_concurrent", Message: "must be at least 1"}
	}
	if c.Server.MaxBatch < 1 {
		return &wordpiece.ConfigError{Field: "server.max_batch", Message: "must be at least 1"}
	}
	if c.Forward.Addr != "" && c.Forward.Dataset == "" {
		return &wordpiece.ConfigError{Field: "forward.dataset", Message: "required when forward.addr is set"}
	}
	return nil
}

// LearnerConfig returns the settings Learn needs.
func (c Config) LearnerConfig() learner.Config {
	return learner.Config{
		TargetSize:       c.Learn.TargetSize,
		ReservedTokens:   append([]string(nil), c.Tokens.Reserved...),
		Sentinels:        c.Tokens.Sentinels,
		Normalizer:       c.Normalizer,
		Scoring:          learner.Scoring(c.Learn.Scoring),
		MinPairFrequency: c.Learn.MinPairFrequency,
		MaxWordChars:     c.Vocab.MaxInputChars,
		Workers:          c.Learn.Workers,
		ChunkSize:        c.Learn.ChunkSize,
	}
}
