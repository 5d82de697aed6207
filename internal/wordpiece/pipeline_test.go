package wordpiece

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultManifest() Manifest {
	return Manifest{
		ReservedTokens: append([]string(nil), DefaultReservedTokens...),
		Sentinels:      DefaultSentinelNames(),
		Normalizer:     DefaultNormalizerOptions(),
	}
}

func newHelloPipeline(t *testing.T, opts ...PipelineOption) *Pipeline {
	t.Helper()
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	p, err := NewPipeline(v, defaultManifest(), opts...)
	require.NoError(t, err)
	return p
}

func TestPipeline_HelloWorld(t *testing.T) {
	p := newHelloPipeline(t)

	ids := p.Tokenize("hello world!")
	require.Equal(t, []int{2, 4, 5, 6, 7, 8, 3}, ids)

	text, err := p.Detokenize(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello world !", text)
}

func TestPipeline_Framing(t *testing.T) {
	p := newHelloPipeline(t)
	for _, text := range []string{"", "hello", "HELLO WORLD!", "xyz hello", "!!!"} {
		t.Run(text, func(t *testing.T) {
			ids := p.Tokenize(text)
			core := p.Tokenizer().Encode(text)
			require.Len(t, ids, len(core)+2)
			assert.Equal(t, p.Sentinels().Start, ids[0])
			assert.Equal(t, p.Sentinels().End, ids[len(ids)-1])
			assert.Equal(t, core, ids[1:len(ids)-1])
		})
	}
}

func TestPipeline_Cleanup(t *testing.T) {
	p := newHelloPipeline(t)

	tests := []struct {
		name string
		ids  []int
		want string
	}{
		{"DropsFraming", []int{2, 4, 5, 3}, "hello"},
		{"KeepsUnknown", []int{2, 1, 4, 5, 1, 3}, "[UNK] hello [UNK]"},
		{"DropsPadding", []int{2, 6, 7, 3, 0, 0, 0}, "world"},
		{"ReservedMidSequence", []int{4, 2, 5, 0, 8}, "hello !"},
		{"OnlyReserved", []int{0, 2, 3}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Detokenize(tt.ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for _, reserved := range []string{"[PAD]", "[START]", "[END]"} {
				assert.NotContains(t, got, reserved)
			}
		})
	}
}

func TestPipeline_UnknownFallback(t *testing.T) {
	p := newHelloPipeline(t)

	// "hex" starts with a known piece but cannot be finished.
	ids := p.Tokenize("hello hex")
	assert.Equal(t, []int{2, 4, 5, 1, 3}, ids)

	text, err := p.Detokenize(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello [UNK]", text)
}

func TestPipeline_RoundTrip(t *testing.T) {
	p := newHelloPipeline(t)
	norm := NewNormalizer(DefaultNormalizerOptions())

	for _, text := range []string{"Hello World!", "hello   world", "HeLLo!World", "World HELLO"} {
		t.Run(text, func(t *testing.T) {
			got, err := p.Detokenize(p.Tokenize(text))
			require.NoError(t, err)
			want := strings.Join(slices.Collect(Words(norm.Normalize(text))), " ")
			assert.Equal(t, want, got)
		})
	}
}

func TestPipeline_Batch(t *testing.T) {
	p := newHelloPipeline(t, WithWorkers(4))
	ctx := context.Background()

	texts := make([]string, 100)
	for i := range texts {
		texts[i] = strings.Repeat("hello ", i%5) + "world!"
	}

	batch, err := p.TokenizeBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		assert.Equal(t, p.Tokenize(text), batch[i], "text %d", i)
	}

	decoded, err := p.DetokenizeBatch(ctx, batch)
	require.NoError(t, err)
	for i := range texts {
		want := strings.Repeat("hello ", i%5) + "world !"
		assert.Equal(t, want, decoded[i], "text %d", i)
	}
}

func TestPipeline_DetokenizeBatchOutOfRange(t *testing.T) {
	p := newHelloPipeline(t)
	_, err := p.DetokenizeBatch(context.Background(), [][]int{{2, 4, 3}, {2, 99, 3}})
	require.ErrorIs(t, err, ErrIDOutOfRange)
	assert.Contains(t, err.Error(), "sequence 1")
}

func TestPipeline_CanceledContext(t *testing.T) {
	p := newHelloPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.TokenizeBatch(ctx, []string{"hello"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Surface(t *testing.T) {
	p := newHelloPipeline(t)
	assert.Equal(t, 9, p.VocabSize())
	assert.Equal(t, DefaultReservedTokens, p.ReservedTokens())

	reserved := p.ReservedTokens()
	reserved[0] = "mutated"
	assert.Equal(t, "[PAD]", p.ReservedTokens()[0])

	pieces, err := p.Lookup([]int{2, 4, 5, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"[START]", "he", "##llo", "[END]"}, pieces)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]int
}

func (c *mapCache) Get(text string) ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.data[text]
	return append([]int(nil), ids...), ok
}

func (c *mapCache) Put(text string, ids []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[text] = append([]int(nil), ids...)
}

func TestPipeline_EncodeCache(t *testing.T) {
	c := &mapCache{data: make(map[string][]int)}
	p := newHelloPipeline(t, WithEncodeCache(c))

	first := p.Tokenize("hello world!")
	require.Len(t, c.data, 1)
	second := p.Tokenize("hello world!")
	assert.Equal(t, first, second)

	c.data["hello world!"] = []int{2, 8, 3}
	assert.Equal(t, []int{2, 8, 3}, p.Tokenize("hello world!"), "cached value is served")
}

func TestNewPipeline_ReservedMismatch(t *testing.T) {
	v, err := NewVocabulary(helloVocab)
	require.NoError(t, err)
	m := defaultManifest()
	m.ReservedTokens = []string{"[PAD]", "[UNK]", "[START]", "[END]", "[MASK]"}
	_, err = NewPipeline(v, m)
	require.ErrorIs(t, err, ErrConfiguration)
}

func ExamplePipeline_Tokenize() {
	v, _ := NewVocabulary(helloVocab)
	p, _ := NewPipeline(v, Manifest{
		ReservedTokens: DefaultReservedTokens,
		Sentinels:      DefaultSentinelNames(),
		Normalizer:     DefaultNormalizerOptions(),
	})
	ids := p.Tokenize("Hello world!")
	text, _ := p.Detokenize(ids)
	fmt.Println(ids)
	fmt.Println(text)
	// Output:
	// [2 4 5 6 7 8 3]
	// hello world !
}

func TestPipeline_TextSpellingReservedToken(t *testing.T) {
	reserved := []string{"PAD", "UNK", "START", "END"}
	v, err := NewVocabulary(append(slices.Clone(reserved), "hi"))
	require.NoError(t, err)
	p, err := NewPipeline(v, Manifest{
		ReservedTokens: reserved,
		Sentinels:      SentinelNames{Pad: "PAD", Unknown: "UNK", Start: "START", End: "END"},
		Normalizer:     NormalizerOptions{},
	})
	require.NoError(t, err)

	ids := p.Tokenize("hi END hi")
	assert.Equal(t, []int{2, 4, 1, 4, 3}, ids, "END in text is an unknown word, not the end sentinel")

	text, err := p.Detokenize(ids)
	require.NoError(t, err)
	assert.Equal(t, "hi UNK hi", text)
}
