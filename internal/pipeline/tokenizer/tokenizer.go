// Package tokenizer turns a Document's text into the lazy sequence of
// tokens S2 and S3 consume. It normalizes with Unicode NFKC, lowercases,
// splits on any run of non-letter/non-digit runes, and filters by minimum
// length and stop-word membership.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/cord19index/index-core/internal/pipeline"
	"github.com/cord19index/index-core/internal/pipeline/stopwords"
)

// Token is one normalized term and its position within the filtered
// token stream of its document.
type Token struct {
	Term     string
	Position int
}

// Options controls tokenization.
type Options struct {
	MinLen    int
	Stopwords stopwords.Provider
}

// Tokenize breaks text into normalized, filtered Tokens. Positions are
// 0-based indices into the filtered stream, per spec: stop-words and
// too-short tokens are removed before positions are assigned.
func Tokenize(text string, opts Options) []Token {
	normalized := norm.NFKC.String(text)
	normalized = strings.ToLower(normalized)

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if utf8.RuneCountInString(word) < opts.MinLen {
			continue
		}
		if opts.Stopwords != nil && opts.Stopwords.Contains(word) {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}
	return tokens
}

// TokenizeDocument tokenizes a Document's concatenated text.
func TokenizeDocument(doc pipeline.Document, opts Options) []Token {
	return Tokenize(doc.Text(), opts)
}
