package heavy

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cord19index/index-core/internal/pipeline/barrel"
	"github.com/cord19index/index-core/internal/pipeline/postings"
)

// writePostingsFixture builds a minimal postings_index.bin + offsets pair for
// the given tokens, each with the given (doc_id, freq, positions) records.
func writePostingsFixture(t *testing.T, dir string, blocks map[uint32][]fixtureRecord) {
	t.Helper()
	indexPath := filepath.Join(dir, "postings_index.bin")
	offsetsPath := filepath.Join(dir, "postings_offsets.bin")

	f, err := os.Create(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	bw := bufio.NewWriter(f)

	type entry struct {
		tokenID uint32
		offset  uint64
		length  uint64
	}
	var entries []entry
	var offset uint64

	var tokenIDs []uint32
	for tid := range blocks {
		tokenIDs = append(tokenIDs, tid)
	}
	// deterministic order
	for i := 0; i < len(tokenIDs); i++ {
		for j := i + 1; j < len(tokenIDs); j++ {
			if tokenIDs[j] < tokenIDs[i] {
				tokenIDs[i], tokenIDs[j] = tokenIDs[j], tokenIDs[i]
			}
		}
	}

	for _, tid := range tokenIDs {
		recs := blocks[tid]
		n := 0
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(recs))); err != nil {
			t.Fatal(err)
		}
		n += 4
		for _, rec := range recs {
			fields := [3]uint32{rec.docID, rec.freq, uint32(len(rec.positions))}
			if err := binary.Write(bw, binary.LittleEndian, fields); err != nil {
				t.Fatal(err)
			}
			n += 12
			if len(rec.positions) > 0 {
				if err := binary.Write(bw, binary.LittleEndian, rec.positions); err != nil {
					t.Fatal(err)
				}
				n += 4 * len(rec.positions)
			}
		}
		entries = append(entries, entry{tokenID: tid, offset: offset, length: uint64(n)})
		offset += uint64(n)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	of, err := os.Create(offsetsPath)
	if err != nil {
		t.Fatal(err)
	}
	obw := bufio.NewWriter(of)
	if err := binary.Write(obw, binary.LittleEndian, uint32(len(entries))); err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := binary.Write(obw, binary.LittleEndian, e.tokenID); err != nil {
			t.Fatal(err)
		}
		if err := binary.Write(obw, binary.LittleEndian, e.offset); err != nil {
			t.Fatal(err)
		}
		if err := binary.Write(obw, binary.LittleEndian, e.length); err != nil {
			t.Fatal(err)
		}
	}
	if err := obw.Flush(); err != nil {
		t.Fatal(err)
	}
	of.Close()
}

type fixtureRecord struct {
	docID, freq uint32
	positions   []uint32
}

func TestExtract_OnlyFrequentBarrelTokensAreProjected(t *testing.T) {
	dir := t.TempDir()
	blocks := map[uint32][]fixtureRecord{
		0: {{docID: 0, freq: 2, positions: []uint32{0, 4}}, {docID: 1, freq: 1, positions: []uint32{2}}},
		1: {{docID: 0, freq: 1, positions: []uint32{1}}},
	}
	writePostingsFixture(t, dir, blocks)

	offsets, err := postings.ReadOffsets(filepath.Join(dir, "postings_offsets.bin"))
	if err != nil {
		t.Fatalf("ReadOffsets: %v", err)
	}

	m := &barrel.Mapping{NumBarrels: 4, SpecialID: 4, TokenBarrel: []uint32{4, 0}}

	manifest, err := Extract(filepath.Join(dir, "postings_index.bin"), offsets, m, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(manifest.Tokens) != 1 {
		t.Fatalf("manifest has %d tokens, want 1 (only token 0 is in the special barrel)", len(manifest.Tokens))
	}
	if manifest.Tokens[0].TokenID != 0 || manifest.Tokens[0].DocCount != 2 {
		t.Fatalf("manifest entry = %+v, want token_id=0 doc_count=2", manifest.Tokens[0])
	}

	reread, err := ReadManifest(filepath.Join(dir, "heavy", "manifest.json"))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(reread.Tokens) != 1 {
		t.Fatalf("reread manifest has %d tokens, want 1", len(reread.Tokens))
	}
}

func TestExtract_DocFreqProjectionMatchesPostingsBlockLaw(t *testing.T) {
	// Per the round-trip law: projecting a postings block to (doc_id, freq)
	// and dropping positions must yield exactly the same pairs the heavy file
	// stores, in the same doc_id order the block was sorted in.
	dir := t.TempDir()
	blocks := map[uint32][]fixtureRecord{
		7: {
			{docID: 2, freq: 3, positions: []uint32{0, 1, 9}},
			{docID: 5, freq: 1, positions: []uint32{4}},
			{docID: 9, freq: 2, positions: []uint32{0, 3}},
		},
	}
	writePostingsFixture(t, dir, blocks)
	offsets, err := postings.ReadOffsets(filepath.Join(dir, "postings_offsets.bin"))
	if err != nil {
		t.Fatalf("ReadOffsets: %v", err)
	}
	m := &barrel.Mapping{NumBarrels: 4, SpecialID: 4, TokenBarrel: []uint32{4, 4, 4, 4, 4, 4, 4, 4}}

	manifest, err := Extract(filepath.Join(dir, "postings_index.bin"), offsets, m, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var entry *ManifestEntry
	for i := range manifest.Tokens {
		if manifest.Tokens[i].TokenID == 7 {
			entry = &manifest.Tokens[i]
		}
	}
	if entry == nil {
		t.Fatal("token 7 missing from manifest")
	}

	docIDs, freqs, err := ReadDocFreqFile(filepath.Join(dir, "heavy", entry.Filename))
	if err != nil {
		t.Fatalf("ReadDocFreqFile: %v", err)
	}
	wantDocIDs := []uint32{2, 5, 9}
	wantFreqs := []uint32{3, 1, 2}
	if len(docIDs) != len(wantDocIDs) {
		t.Fatalf("got %d doc ids, want %d", len(docIDs), len(wantDocIDs))
	}
	for i := range wantDocIDs {
		if docIDs[i] != wantDocIDs[i] || freqs[i] != wantFreqs[i] {
			t.Fatalf("entry %d = (doc=%d freq=%d), want (doc=%d freq=%d)", i, docIDs[i], freqs[i], wantDocIDs[i], wantFreqs[i])
		}
	}
}

func TestExtract_NoTokensInSpecialBarrelYieldsEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	writePostingsFixture(t, dir, map[uint32][]fixtureRecord{
		0: {{docID: 0, freq: 1, positions: []uint32{0}}},
	})
	offsets, err := postings.ReadOffsets(filepath.Join(dir, "postings_offsets.bin"))
	if err != nil {
		t.Fatalf("ReadOffsets: %v", err)
	}
	m := &barrel.Mapping{NumBarrels: 4, SpecialID: 4, TokenBarrel: []uint32{0}}

	manifest, err := Extract(filepath.Join(dir, "postings_index.bin"), offsets, m, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(manifest.Tokens) != 0 {
		t.Fatalf("manifest has %d tokens, want 0", len(manifest.Tokens))
	}
}
