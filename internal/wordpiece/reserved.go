package wordpiece

import (
	"strings"
	"unicode"
)

// DefaultReservedTokens is the reserved prefix used when none is configured.
var DefaultReservedTokens = []string{"[PAD]", "[UNK]", "[START]", "[END]"}

// SentinelNames names the reserved entries that carry pipeline meaning.
type SentinelNames struct {
	Pad     string `mapstructure:"pad" yaml:"pad"`
	Unknown string `mapstructure:"unknown" yaml:"unknown"`
	Start   string `mapstructure:"start" yaml:"start"`
	End     string `mapstructure:"end" yaml:"end"`
}

// DefaultSentinelNames matches DefaultReservedTokens.
func DefaultSentinelNames() SentinelNames {
	return SentinelNames{Pad: "[PAD]", Unknown: "[UNK]", Start: "[START]", End: "[END]"}
}

// Sentinels holds the resolved ids of the named reserved tokens.
type Sentinels struct {
	Pad     int
	Unknown int
	Start   int
	End     int
}

// ValidateReserved checks an ordered reserved-token list against the
// sentinel names it must contain.
func ValidateReserved(reserved []string, names SentinelNames) error {
	if len(reserved) == 0 {
		return configErrorf("reserved_tokens", "list is empty")
	}
	seen := make(map[string]bool, len(reserved))
	for i, tok := range reserved {
		if tok == "" {
			return configErrorf("reserved_tokens", "entry %d is empty", i)
		}
		if strings.IndexFunc(tok, unicode.IsSpace) >= 0 {
			return configErrorf("reserved_tokens", "entry %q contains whitespace", tok)
		}
		if seen[tok] {
			return configErrorf("reserved_tokens", "duplicate entry %q", tok)
		}
		seen[tok] = true
	}
	required := []struct{ field, name string }{
		{"sentinels.pad", names.Pad},
		{"sentinels.unknown", names.Unknown},
		{"sentinels.start", names.Start},
		{"sentinels.end", names.End},
	}
	distinct := make(map[string]string, len(required))
	for _, r := range required {
		if r.name == "" {
			return configErrorf(r.field, "sentinel name is empty")
		}
		if !seen[r.name] {
			return configErrorf(r.field, "%q is not in the reserved list", r.name)
		}
		if other, ok := distinct[r.name]; ok {
			return configErrorf(r.field, "%q is already used by %s", r.name, other)
		}
		distinct[r.name] = r.field
	}
	return nil
}

// ResolveSentinels checks that the vocabulary starts with the reserved list
// in order and returns the ids of the named sentinels.
func (v *Vocabulary) ResolveSentinels(reserved []string, names SentinelNames) (Sentinels, error) {
	if err := ValidateReserved(reserved, names); err != nil {
		return Sentinels{}, err
	}
	if len(reserved) > len(v.pieces) {
		return Sentinels{}, configErrorf("reserved_tokens", "%d reserved tokens but vocabulary holds %d pieces", len(reserved), len(v.pieces))
	}
	for i, tok := range reserved {
		if v.pieces[i] != tok {
			return Sentinels{}, configErrorf("reserved_tokens", "id %d is %q in the vocabulary, configured %q", i, v.pieces[i], tok)
		}
	}
	return Sentinels{
		Pad:     v.index[names.Pad],
		Unknown: v.index[names.Unknown],
		Start:   v.index[names.Start],
		End:     v.index[names.End],
	}, nil
}
