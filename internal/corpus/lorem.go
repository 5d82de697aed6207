package corpus

import (
	"iter"
	"math/rand"
	"strings"
)

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "ut", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "ut", "aliquip", "ex", "ea",
	"commodo", "consequat", "duis", "aute", "irure", "dolor", "in", "reprehenderit",
	"in", "voluptate", "velit", "esse", "cillum", "dolore", "eu", "fugiat", "nulla",
	"pariatur", "excepteur", "sint", "occaecat", "cupidatat", "non", "proident",
	"sunt", "in", "culpa", "qui", "officia", "deserunt", "mollit", "anim", "id", "est", "laborum",
}

// Lorem generates n paragraphs of lorem ipsum. The same seed always yields
// the same text, so it can stand in for a corpus in benchmarks and tests.
func Lorem(n int, seed int64) []string {
	r := rand.New(rand.NewSource(seed))
	result := make([]string, n)

	for i := 0; i < n; i++ {
		sentences := 3 + r.Intn(5)
		para := make([]string, sentences)
		for j := 0; j < sentences; j++ {
			wordCount := 5 + r.Intn(10)
			sentence := make([]string, wordCount)
			for k := 0; k < wordCount; k++ {
				sentence[k] = loremWords[r.Intn(len(loremWords))]
			}
			sentence[0] = strings.ToUpper(sentence[0][:1]) + sentence[0][1:]
			para[j] = strings.Join(sentence, " ") + "."
		}
		result[i] = strings.Join(para, " ")
	}

	return result
}

// LoremSeq yields Lorem(n, seed) as a corpus.
func LoremSeq(n int, seed int64) iter.Seq[string] {
	paragraphs := Lorem(n, seed)
	return func(yield func(string) bool) {
		for _, p := range paragraphs {
			if !yield(p) {
				return
			}
		}
	}
}
