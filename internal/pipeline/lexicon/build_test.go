package lexicon

import (
	"testing"

	"github.com/cord19index/index-core/internal/pipeline"
	"github.com/cord19index/index-core/internal/pipeline/corpus"
	"github.com/cord19index/index-core/internal/pipeline/tokenizer"
)

// fakeSource replays a fixed slice of documents, simulating corpus.Source
// for stage tests that don't need a real filesystem corpus.
type fakeSource struct {
	docs     []pipeline.Document
	badPaths []string
}

func (f *fakeSource) Walk(fn func(pipeline.Document) error, onSkip func(path string, cause error)) error {
	for _, p := range f.badPaths {
		if onSkip != nil {
			onSkip(p, errBadDoc)
		}
	}
	for _, d := range f.docs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Stats() corpus.Stats { return corpus.Stats{} }

var errBadDoc = errTest("malformed document")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestBuild_TwoDocsThreeTokens(t *testing.T) {
	// Scenario from the spec: A = "alpha beta alpha", B = "beta gamma".
	src := &fakeSource{docs: []pipeline.Document{
		{PaperID: "A", Title: "alpha beta alpha"},
		{PaperID: "B", Title: "beta gamma"},
	}}
	l, result, err := Build(src, tokenizer.Options{MinLen: 2}, 0, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.VocabSize != 3 {
		t.Fatalf("VocabSize = %d, want 3", result.VocabSize)
	}
	wantIDs := map[string]uint32{"alpha": 0, "beta": 1, "gamma": 2}
	for term, want := range wantIDs {
		got, ok := l.Lookup(term)
		if !ok || got != want {
			t.Fatalf("Lookup(%q) = (%d, %v), want (%d, true)", term, got, ok, want)
		}
	}
}

func TestBuild_CountsSkippedDocuments(t *testing.T) {
	src := &fakeSource{
		docs:     []pipeline.Document{{PaperID: "A", Title: "alpha"}},
		badPaths: []string{"bad1.json", "bad2.json"},
	}
	_, result, err := Build(src, tokenizer.Options{MinLen: 2}, 0, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.DocsSkipped != 2 {
		t.Fatalf("DocsSkipped = %d, want 2", result.DocsSkipped)
	}
	if result.DocsProcessed != 1 {
		t.Fatalf("DocsProcessed = %d, want 1", result.DocsProcessed)
	}
}

func TestBuild_EmptyTokenStreamDocIsSkipped(t *testing.T) {
	// "a" is below MinLen, so doc B's filtered token stream is empty and must
	// be counted as skipped rather than processed, per spec §7.
	src := &fakeSource{docs: []pipeline.Document{
		{PaperID: "A", Title: "alpha"},
		{PaperID: "B", Title: "a"},
	}}
	_, result, err := Build(src, tokenizer.Options{MinLen: 2}, 0, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.DocsProcessed != 1 {
		t.Fatalf("DocsProcessed = %d, want 1", result.DocsProcessed)
	}
	if result.DocsSkipped != 1 {
		t.Fatalf("DocsSkipped = %d, want 1", result.DocsSkipped)
	}
	if result.VocabSize != 1 {
		t.Fatalf("VocabSize = %d, want 1", result.VocabSize)
	}
}

func TestBuild_EmptyCorpusHasZeroVocab(t *testing.T) {
	src := &fakeSource{}
	l, result, err := Build(src, tokenizer.Options{MinLen: 2}, 0, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.VocabSize != 0 || l.Size() != 0 {
		t.Fatalf("expected empty vocabulary, got VocabSize=%d Size=%d", result.VocabSize, l.Size())
	}
}
