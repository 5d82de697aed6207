package wordpiece

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates an invalid target size or reserved-token list.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInsufficientData indicates the corpus produced no words to learn from.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrCorruptVocabulary indicates a malformed vocabulary file.
	ErrCorruptVocabulary = errors.New("corrupt vocabulary")

	// ErrIDOutOfRange indicates a token id outside 0..size-1.
	ErrIDOutOfRange = errors.New("token id out of range")
)

// ConfigError describes which setting was rejected and why.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}
