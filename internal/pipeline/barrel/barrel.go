// Package barrel implements S4: a two-pass barrel builder that assigns
// every token to a document-frequency stratum and writes the positional
// postings for each stratum to its own barrel file.
package barrel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cord19index/index-core/internal/pipeline/forward"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
)

// Mapping is the total function token_id -> barrel_id produced by Assign.
type Mapping struct {
	NumBarrels  uint32 // B, the number of regular barrels
	SpecialID   uint32 // conventionally == NumBarrels
	TokenBarrel []uint32
}

// BarrelOf returns the barrel id assigned to tokenID.
func (m *Mapping) BarrelOf(tokenID uint32) uint32 {
	return m.TokenBarrel[tokenID]
}

// Options controls barrel assignment.
type Options struct {
	NumBarrels          uint32
	FreqBarrelThreshold float64
	BarrelExponent      float64
}

// Assign runs Pass 1 over records: it computes per-token document frequency
// and derives the barrel mapping per the rank^exponent stratification rule.
func Assign(records []forward.Record, vocabSize uint32, opts Options) *Mapping {
	df := make([]uint32, vocabSize)
	seen := make(map[uint32]struct{})
	for _, rec := range records {
		for k := range seen {
			delete(seen, k)
		}
		for _, tid := range rec.TokenIDs {
			if _, ok := seen[tid]; ok {
				continue
			}
			seen[tid] = struct{}{}
			df[tid]++
		}
	}

	D := float64(len(records))
	tau := opts.FreqBarrelThreshold * D

	m := &Mapping{
		NumBarrels:  opts.NumBarrels,
		SpecialID:   opts.NumBarrels,
		TokenBarrel: make([]uint32, vocabSize),
	}

	var regular []uint32
	for tid := uint32(0); tid < vocabSize; tid++ {
		if float64(df[tid]) > tau {
			m.TokenBarrel[tid] = m.SpecialID
		} else {
			regular = append(regular, tid)
		}
	}

	sort.Slice(regular, func(i, j int) bool {
		ti, tj := regular[i], regular[j]
		if df[ti] != df[tj] {
			return df[ti] < df[tj]
		}
		return ti < tj
	})

	n := len(regular)
	for rankPos, tid := range regular {
		var rank float64
		if n > 0 {
			rank = float64(rankPos) / float64(n)
		}
		b := uint32(math.Floor(math.Pow(rank, opts.BarrelExponent) * float64(opts.NumBarrels)))
		if b >= opts.NumBarrels {
			b = opts.NumBarrels - 1
		}
		m.TokenBarrel[tid] = b
	}

	return m
}

// WriteMapping atomically publishes barrel_mapping.bin.
func WriteMapping(m *Mapping, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	bw := bufio.NewWriter(f)

	fields := []uint32{m.NumBarrels, m.SpecialID, uint32(len(m.TokenBarrel))}
	if err := binary.Write(bw, binary.LittleEndian, fields); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing mapping header: %w", err)
	}
	for tokenID, barrelID := range m.TokenBarrel {
		pair := [2]uint32{uint32(tokenID), barrelID}
		if err := binary.Write(bw, binary.LittleEndian, pair); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing mapping entry %d: %w", tokenID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// ReadMapping loads barrel_mapping.bin from path.
func ReadMapping(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var numBarrels, specialID, mappingCount uint32
	if err := binary.Read(br, binary.LittleEndian, &numBarrels); err != nil {
		return nil, fmt.Errorf("%w: reading num_barrels: %v", pkgerrors.ErrBarrelCorruption, err)
	}
	if err := binary.Read(br, binary.LittleEndian, &specialID); err != nil {
		return nil, fmt.Errorf("%w: reading special_freq_barrel_id: %v", pkgerrors.ErrBarrelCorruption, err)
	}
	if err := binary.Read(br, binary.LittleEndian, &mappingCount); err != nil {
		return nil, fmt.Errorf("%w: reading mapping_count: %v", pkgerrors.ErrBarrelCorruption, err)
	}

	m := &Mapping{NumBarrels: numBarrels, SpecialID: specialID, TokenBarrel: make([]uint32, mappingCount)}
	for i := uint32(0); i < mappingCount; i++ {
		var tokenID, barrelID uint32
		if err := binary.Read(br, binary.LittleEndian, &tokenID); err != nil {
			return nil, fmt.Errorf("%w: reading token_id at entry %d: %v", pkgerrors.ErrBarrelCorruption, i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &barrelID); err != nil {
			return nil, fmt.Errorf("%w: reading barrel_id at entry %d: %v", pkgerrors.ErrBarrelCorruption, i, err)
		}
		if int(tokenID) >= len(m.TokenBarrel) {
			return nil, fmt.Errorf("%w: token_id %d out of range at entry %d", pkgerrors.ErrBarrelCorruption, tokenID, i)
		}
		m.TokenBarrel[tokenID] = barrelID
	}
	return m, nil
}

// posting is one (doc_id, freq, positions) record bound for a single barrel.
type posting struct {
	tokenID   uint32
	docID     uint32
	positions []uint32
}

// BarrelPath returns the on-disk filename for a barrel id.
func BarrelPath(dir string, barrelID, specialID uint32) string {
	if barrelID == specialID {
		return filepath.Join(dir, "barrel_freq.bin")
	}
	return filepath.Join(dir, fmt.Sprintf("barrel_%02d.bin", barrelID))
}

// WritePostings runs Pass 2: for every document it computes per-token
// positions and routes the resulting posting to the barrel selected by
// mapping, through one dedicated writer goroutine per barrel so that each
// barrel file has exactly one writer even though per-document decoding is
// parallelized across worker goroutines.
func WritePostings(records []forward.Record, m *Mapping, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating barrels dir %s: %w", dir, err)
	}

	numFiles := m.NumBarrels + 1
	channels := make([]chan posting, numFiles)
	for i := range channels {
		channels[i] = make(chan posting, 256)
	}

	var writers errgroup.Group
	for barrelID := uint32(0); barrelID < numFiles; barrelID++ {
		finalPath := BarrelPath(dir, barrelID, m.SpecialID)
		tmpPath := finalPath + ".tmp"
		ch := channels[barrelID]
		writers.Go(func() error {
			return drainBarrel(ch, tmpPath, finalPath)
		})
	}

	const numWorkers = 4
	var decoders errgroup.Group
	for _, part := range partitionRecords(records, numWorkers) {
		part := part
		decoders.Go(func() error {
			for _, rec := range part {
				perToken := make(map[uint32][]uint32)
				order := make([]uint32, 0, len(rec.TokenIDs))
				for pos, tid := range rec.TokenIDs {
					if _, ok := perToken[tid]; !ok {
						order = append(order, tid)
					}
					perToken[tid] = append(perToken[tid], uint32(pos))
				}
				for _, tid := range order {
					barrelID := m.BarrelOf(tid)
					channels[barrelID] <- posting{tokenID: tid, docID: rec.DocID, positions: perToken[tid]}
				}
			}
			return nil
		})
	}

	decodeErr := decoders.Wait()
	for _, ch := range channels {
		close(ch)
	}
	writeErr := writers.Wait()
	if decodeErr != nil {
		return decodeErr
	}
	return writeErr
}

func partitionRecords(records []forward.Record, n int) [][]forward.Record {
	if n < 1 {
		n = 1
	}
	if len(records) == 0 {
		return nil
	}
	chunk := (len(records) + n - 1) / n
	var parts [][]forward.Record
	for i := 0; i < len(records); i += chunk {
		end := i + chunk
		if end > len(records) {
			end = len(records)
		}
		parts = append(parts, records[i:end])
	}
	return parts
}

// drainBarrel fully drains ch even after a write error, so that decoder
// goroutines sending to ch never block forever on a writer that gave up.
func drainBarrel(ch chan posting, tmpPath, finalPath string) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		drainOnly(ch)
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	bw := bufio.NewWriter(f)

	var writeErr error
	for p := range ch {
		if writeErr != nil {
			continue
		}
		if err := writePostingRecord(bw, p); err != nil {
			writeErr = err
		}
	}
	if writeErr != nil {
		f.Close()
		os.Remove(tmpPath)
		return writeErr
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flushing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, finalPath, err)
	}
	return nil
}

func drainOnly(ch chan posting) {
	for range ch {
	}
}

// writePostingRecord writes one barrel record: token_id, doc_id, freq,
// pos_count, positions[pos_count]. freq and pos_count are always equal.
func writePostingRecord(w *bufio.Writer, p posting) error {
	freq := uint32(len(p.positions))
	fields := [4]uint32{p.tokenID, p.docID, freq, freq}
	if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
		return fmt.Errorf("writing posting header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, p.positions); err != nil {
		return fmt.Errorf("writing positions: %w", err)
	}
	return nil
}
