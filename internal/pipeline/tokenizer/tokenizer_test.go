package tokenizer

import (
	"reflect"
	"testing"

	"github.com/cord19index/index-core/internal/pipeline/stopwords"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func positions(tokens []Token) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[i] = t.Position
	}
	return out
}

func TestTokenize_SplitsAndLowercases(t *testing.T) {
	tokens := Tokenize("Alpha Beta Alpha", Options{MinLen: 2})
	if got, want := terms(tokens), []string{"alpha", "beta", "alpha"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	if got, want := positions(tokens), []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
}

func TestTokenize_StopwordFilteringReindexesPositions(t *testing.T) {
	opts := Options{MinLen: 2, Stopwords: stopwords.New([]string{"the"})}
	tokens := Tokenize("the quick the fox", opts)
	if got, want := terms(tokens), []string{"quick", "fox"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	if got, want := positions(tokens), []int{0, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("positions = %v, want %v (positions are post-filter indices)", got, want)
	}
}

func TestTokenize_MinLengthFilter(t *testing.T) {
	tokens := Tokenize("a bb ccc", Options{MinLen: 2})
	if got, want := terms(tokens), []string{"bb", "ccc"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
}

func TestTokenize_SplitsOnPunctuationAndWhitespace(t *testing.T) {
	tokens := Tokenize("covid-19: a novel coronavirus!", Options{MinLen: 2})
	got := terms(tokens)
	want := []string{"covid", "19", "novel", "coronavirus"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
}

func TestTokenize_Empty(t *testing.T) {
	tokens := Tokenize("", Options{MinLen: 2})
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %v", tokens)
	}
}

func TestTokenize_NFKCNormalizesFullWidthForms(t *testing.T) {
	// U+FF41 LATIN FULLWIDTH A normalizes (NFKC) to ASCII 'a'.
	tokens := Tokenize("ａｂｃ", Options{MinLen: 2})
	if got, want := terms(tokens), []string{"abc"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
}
