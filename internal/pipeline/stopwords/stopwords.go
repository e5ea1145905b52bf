// Package stopwords provides the stop-word provider contract: a set of
// UTF-8 strings matched case-insensitively after NFKC normalization.
package stopwords

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Provider returns whether a normalized token should be discarded.
type Provider interface {
	Contains(token string) bool
	Len() int
}

// Set is a static stop-word set, normalized and lowercased at construction.
type Set struct {
	words map[string]struct{}
}

var defaultWords = []string{
	"a", "an", "the", "and", "or", "but", "if", "while", "to", "of", "in",
	"for", "on", "with", "as", "by", "is", "it", "this", "that", "be",
	"are", "from",
}

// Default returns the built-in minimal stop-word set.
func Default() *Set {
	return New(defaultWords)
}

// New builds a Set from a slice of raw words, normalizing each the same way
// tokens are normalized (NFKC, lowercase) so membership tests are exact.
func New(words []string) *Set {
	s := &Set{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		s.add(w)
	}
	return s
}

func (s *Set) add(w string) {
	normalized := strings.ToLower(norm.NFKC.String(w))
	if normalized == "" {
		return
	}
	s.words[normalized] = struct{}{}
}

// Contains reports whether token, already normalized by the caller, is a
// stop-word.
func (s *Set) Contains(token string) bool {
	_, ok := s.words[token]
	return ok
}

// Len returns the number of distinct stop-words.
func (s *Set) Len() int {
	return len(s.words)
}

// LoadFile merges an additional newline-delimited word list into the
// default set, mirroring the optional custom stopword file the original
// tokenizer supported.
func LoadFile(path string) (*Set, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stopwords file %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stopwords file %s: %w", path, err)
	}
	return s, nil
}
