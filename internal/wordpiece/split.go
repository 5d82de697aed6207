package wordpiece

import (
	"iter"
	"unicode"
	"unicode/utf8"
)

const (
	classNone byte = iota
	classSpace
	classPunct
)

var asciiClass [utf8.RuneSelf]byte

func init() {
	// Every printable non-alphanumeric ASCII byte is its own word:
	// [33, 47] ! " # $ % & ' ( ) * + , - . /
	// [58, 64] : ; < = > ? @
	// [91, 96] [ \ ] ^ _ `
	// [123, 126] { | } ~
	for i := 0; i < utf8.RuneSelf; i++ {
		if (i >= 33 && i <= 47) || (i >= 58 && i <= 64) || (i >= 91 && i <= 96) || (i >= 123 && i <= 126) {
			asciiClass[i] = classPunct
		}
		if i == 32 || (i >= 9 && i <= 13) {
			asciiClass[i] = classSpace
		}
	}
}

func classify(r rune) byte {
	if r < utf8.RuneSelf {
		return asciiClass[r]
	}
	if unicode.IsSpace(r) {
		return classSpace
	}
	if unicode.IsPunct(r) || unicode.IsSymbol(r) {
		return classPunct
	}
	return classNone
}

// findBoundary returns the byte offset of the first whitespace or
// punctuation rune in text, or -1.
func findBoundary(text string) int {
	for i, r := range text {
		if classify(r) != classNone {
			return i
		}
	}
	return -1
}

// Words yields the words of normalized text: runs of non-space,
// non-punctuation runes, with each punctuation rune as its own word.
// The learner and the tokenizer both split with this function.
func Words(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := -1
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			switch classify(r) {
			case classNone:
				if start < 0 {
					start = i
				}
				// Jump to the end of the word.
				j := findBoundary(text[i+size:])
				if j < 0 {
					i = len(text)
					continue
				}
				i += size + j
				continue
			case classSpace:
				if start >= 0 {
					if !yield(text[start:i]) {
						return
					}
					start = -1
				}
			case classPunct:
				if start >= 0 {
					if !yield(text[start:i]) {
						return
					}
					start = -1
				}
				if !yield(text[i : i+size]) {
					return
				}
			}
			i += size
		}
		if start >= 0 {
			yield(text[start:])
		}
	}
}
