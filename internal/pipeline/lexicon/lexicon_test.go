package lexicon

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestLexicon_GetOrCreateAssignsInFirstObservationOrder(t *testing.T) {
	l := New()
	if id := l.GetOrCreate("alpha"); id != 0 {
		t.Fatalf("alpha id = %d, want 0", id)
	}
	if id := l.GetOrCreate("beta"); id != 1 {
		t.Fatalf("beta id = %d, want 1", id)
	}
	if id := l.GetOrCreate("alpha"); id != 0 {
		t.Fatalf("repeated alpha id = %d, want 0", id)
	}
	if got, want := l.Size(), 2; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
}

func TestLexicon_LookupMissingIsNotCreate(t *testing.T) {
	l := New()
	l.GetOrCreate("alpha")
	if _, ok := l.Lookup("beta"); ok {
		t.Fatal("Lookup should not create beta")
	}
	if l.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", l.Size())
	}
}

func TestLexicon_WriteReadRoundTrip(t *testing.T) {
	l := New()
	for _, w := range []string{"alpha", "beta", "gamma", "delta"} {
		l.GetOrCreate(w)
	}

	var buf bytes.Buffer
	if err := l.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.Size() != l.Size() {
		t.Fatalf("round-tripped size = %d, want %d", got.Size(), l.Size())
	}
	for id := uint32(0); id < uint32(l.Size()); id++ {
		wantTok, _ := l.Token(id)
		gotTok, ok := got.Token(id)
		if !ok || gotTok != wantTok {
			t.Fatalf("token at id %d = %q, want %q", id, gotTok, wantTok)
		}
	}
}

func TestWriteFileReadFile_AtomicPublication(t *testing.T) {
	l := New()
	l.GetOrCreate("alpha")
	l.GetOrCreate("beta")

	path := filepath.Join(t.TempDir(), "lexicon.bin")
	if err := WriteFile(l, path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", got.Size())
	}
	id, ok := got.Lookup("alpha")
	if !ok || id != 0 {
		t.Fatalf("Lookup(alpha) = (%d, %v), want (0, true)", id, ok)
	}
}

func TestReadFrom_EmptyLexiconHasWellFormedHeader(t *testing.T) {
	l := New()
	var buf bytes.Buffer
	if err := l.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got, want := buf.Len(), 4; got != want {
		t.Fatalf("empty lexicon encodes to %d bytes, want %d (just vocab_size=0)", got, want)
	}
	got, err := ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", got.Size())
	}
}

func TestReadFrom_RejectsOutOfOrderTokenID(t *testing.T) {
	// Hand-crafted stream: vocab_size=1, token_len=5, "alpha", token_id=7
	// (should be 0 for the first entry).
	var buf bytes.Buffer
	buf.Write([]byte{1, 0, 0, 0})       // vocab_size
	buf.Write([]byte{5, 0, 0, 0})       // token_len
	buf.WriteString("alpha")            // token bytes
	buf.Write([]byte{7, 0, 0, 0})       // token_id (wrong)

	if _, err := ReadFrom(&buf); err == nil {
		t.Fatal("expected corruption error for out-of-order token_id")
	}
}
