package barrel

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cord19index/index-core/internal/pipeline/forward"
)

func TestAssign_FrequentBarrelRoutingAtThreshold(t *testing.T) {
	// D = 100, tau = 5 => tokens with df > 5 go to the special barrel;
	// a token with df == 5 does not (strict '>', per the spec's chosen
	// open-question resolution).
	const d = 100
	records := make([]forward.Record, 0, d)
	for i := 0; i < d; i++ {
		var tokens []uint32
		if i < 6 {
			tokens = append(tokens, 0) // token 0: df = 6 > tau
		}
		if i < 5 {
			tokens = append(tokens, 1) // token 1: df = 5 == tau
		}
		records = append(records, forward.Record{DocID: uint32(i), TokenIDs: tokens})
	}

	opts := Options{NumBarrels: 16, FreqBarrelThreshold: 0.05, BarrelExponent: 0.6}
	m := Assign(records, 2, opts)

	if got, want := m.BarrelOf(0), m.SpecialID; got != want {
		t.Fatalf("token 0 (df=6) barrel = %d, want special barrel %d", got, want)
	}
	if got := m.BarrelOf(1); got == m.SpecialID {
		t.Fatalf("token 1 (df=5, not > tau) routed to special barrel, want a regular barrel")
	}
}

func TestAssign_TieBreakByTokenIDAscending(t *testing.T) {
	// Two tokens with identical df must receive a deterministic assignment
	// ordered by token_id. Both have df = 1, which is not > tau = 1.0, so both
	// stay regular: token 0 ranks 0 -> barrel 0, token 1 ranks 0.5 ->
	// floor(0.5^0.6 * 16) = 10.
	records := []forward.Record{
		{DocID: 0, TokenIDs: []uint32{0, 1}},
	}
	opts := Options{NumBarrels: 16, FreqBarrelThreshold: 1.0, BarrelExponent: 0.6}
	m1 := Assign(records, 2, opts)
	m2 := Assign(records, 2, opts)
	if m1.BarrelOf(0) != m2.BarrelOf(0) || m1.BarrelOf(1) != m2.BarrelOf(1) {
		t.Fatal("barrel assignment is not deterministic across runs with identical input")
	}
	if got0, got1 := m1.BarrelOf(0), m1.BarrelOf(1); got0 != 0 || got1 != 10 {
		t.Fatalf("equal-df barrels = (%d, %d), want (0, 10) by token_id tiebreak", got0, got1)
	}
}

func TestAssign_EveryTokenGetsExactlyOneBarrel(t *testing.T) {
	const vocabSize = 50
	records := []forward.Record{{DocID: 0, TokenIDs: allTokenIDs(vocabSize)}}
	opts := Options{NumBarrels: 16, FreqBarrelThreshold: 0.05, BarrelExponent: 0.6}
	m := Assign(records, vocabSize, opts)
	if len(m.TokenBarrel) != vocabSize {
		t.Fatalf("mapping has %d entries, want %d", len(m.TokenBarrel), vocabSize)
	}
	for tid := uint32(0); tid < vocabSize; tid++ {
		b := m.BarrelOf(tid)
		if b > m.NumBarrels {
			t.Fatalf("token %d assigned out-of-range barrel %d", tid, b)
		}
	}
}

func allTokenIDs(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

func TestWriteReadMapping_RoundTrip(t *testing.T) {
	records := []forward.Record{{DocID: 0, TokenIDs: []uint32{0, 1, 2}}}
	opts := Options{NumBarrels: 4, FreqBarrelThreshold: 0.5, BarrelExponent: 0.6}
	m := Assign(records, 3, opts)

	path := filepath.Join(t.TempDir(), "barrel_mapping.bin")
	if err := WriteMapping(m, path); err != nil {
		t.Fatalf("WriteMapping: %v", err)
	}
	got, err := ReadMapping(path)
	if err != nil {
		t.Fatalf("ReadMapping: %v", err)
	}
	if got.NumBarrels != m.NumBarrels || got.SpecialID != m.SpecialID {
		t.Fatalf("header mismatch: got %+v, want NumBarrels=%d SpecialID=%d", got, m.NumBarrels, m.SpecialID)
	}
	for tid := uint32(0); tid < 3; tid++ {
		if got.BarrelOf(tid) != m.BarrelOf(tid) {
			t.Fatalf("token %d barrel = %d, want %d", tid, got.BarrelOf(tid), m.BarrelOf(tid))
		}
	}
}

func TestWritePostings_RoutesRecordsToAssignedBarrels(t *testing.T) {
	// alpha=0, beta=1, gamma=2 as in the spec's two-doc scenario.
	records := []forward.Record{
		{DocID: 0, TokenIDs: []uint32{0, 1, 0}},
		{DocID: 1, TokenIDs: []uint32{1, 2}},
	}
	opts := Options{NumBarrels: 4, FreqBarrelThreshold: 0.9, BarrelExponent: 0.6}
	m := Assign(records, 3, opts)

	dir := t.TempDir()
	if err := WritePostings(records, m, dir); err != nil {
		t.Fatalf("WritePostings: %v", err)
	}

	byToken := map[uint32][]decodedPosting{}
	for barrelID := uint32(0); barrelID <= m.SpecialID; barrelID++ {
		path := BarrelPath(dir, barrelID, m.SpecialID)
		postings, err := readBarrelFile(t, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			t.Fatalf("reading %s: %v", path, err)
		}
		for _, p := range postings {
			if m.BarrelOf(p.tokenID) != barrelID {
				t.Fatalf("posting for token %d found in barrel %d, mapping says %d", p.tokenID, barrelID, m.BarrelOf(p.tokenID))
			}
			byToken[p.tokenID] = append(byToken[p.tokenID], p)
		}
	}

	// token 0 (alpha): doc 0, freq 2, positions [0, 2]
	if len(byToken[0]) != 1 || byToken[0][0].freq != 2 {
		t.Fatalf("token 0 postings = %+v, want one posting with freq 2", byToken[0])
	}
	// token 1 (beta): doc 0 freq 1, doc 1 freq 1 -> two distinct postings
	if len(byToken[1]) != 2 {
		t.Fatalf("token 1 postings = %+v, want 2 entries", byToken[1])
	}
}

type decodedPosting struct {
	tokenID   uint32
	docID     uint32
	freq      uint32
	positions []uint32
}

func readBarrelFile(t *testing.T, path string) ([]decodedPosting, error) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	var out []decodedPosting
	for {
		var fields [4]uint32
		if err := binary.Read(br, binary.LittleEndian, &fields); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		positions := make([]uint32, fields[3])
		if fields[3] > 0 {
			if err := binary.Read(br, binary.LittleEndian, positions); err != nil {
				return nil, err
			}
		}
		out = append(out, decodedPosting{tokenID: fields[0], docID: fields[1], freq: fields[2], positions: positions})
	}
	return out, nil
}
