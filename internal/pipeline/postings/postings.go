// Package postings implements S5: aggregating barrel records into a single
// seekable postings_index.bin with an offset directory, using a
// spill-to-disk strategy to bound per-token memory.
package postings

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerrors "github.com/cord19index/index-core/pkg/errors"
)

// record is one decoded barrel posting, read back in Phase A.
type record struct {
	docID     uint32
	freq      uint32
	positions []uint32
}

// Options controls the aggregator.
type Options struct {
	SpillThreshold int
	TempDir        string
}

// Aggregator runs Phase A: it scans every barrel file and accumulates
// postings per token, spilling a token's accumulator to a temp file once it
// crosses SpillThreshold.
type Aggregator struct {
	opts      Options
	inMemory  map[uint32][]record
	spilled   map[uint32]*os.File
	seenOrder []uint32
	seen      map[uint32]struct{}
}

// NewAggregator creates an Aggregator. tempDir holds per-token spill files.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{
		opts:     opts,
		inMemory: make(map[uint32][]record),
		spilled:  make(map[uint32]*os.File),
		seen:     make(map[uint32]struct{}),
	}
}

// ScanBarrelDir streams every barrel_*.bin and barrel_freq.bin file in dir,
// in sorted filename order, appending each posting to its token's
// accumulator. Order across barrels does not matter; order within a barrel
// is preserved because files are streamed sequentially front to back.
func (a *Aggregator) ScanBarrelDir(dir string, onProgress func(recordsScanned int)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing barrels dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "barrel") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		if err := a.scanBarrelFile(path, &total, onProgress); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) scanBarrelFile(path string, total *int, onProgress func(int)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	for {
		var fields [4]uint32
		if err := binary.Read(br, binary.LittleEndian, &fields); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: reading posting header in %s: %v", pkgerrors.ErrArtifactCorruption, path, err)
		}
		tokenID, docID, freq, posCount := fields[0], fields[1], fields[2], fields[3]
		positions := make([]uint32, posCount)
		if posCount > 0 {
			if err := binary.Read(br, binary.LittleEndian, positions); err != nil {
				return fmt.Errorf("%w: reading positions in %s for token %d: %v", pkgerrors.ErrArtifactCorruption, path, tokenID, err)
			}
		}
		a.append(tokenID, record{docID: docID, freq: freq, positions: positions})

		*total++
		if onProgress != nil && *total%10000 == 0 {
			onProgress(*total)
		}
	}
	return nil
}

func (a *Aggregator) append(tokenID uint32, rec record) error {
	if _, ok := a.seen[tokenID]; !ok {
		a.seen[tokenID] = struct{}{}
		a.seenOrder = append(a.seenOrder, tokenID)
	}
	a.inMemory[tokenID] = append(a.inMemory[tokenID], rec)
	if len(a.inMemory[tokenID]) >= a.opts.SpillThreshold {
		return a.spill(tokenID)
	}
	return nil
}

func (a *Aggregator) spill(tokenID uint32) error {
	f, ok := a.spilled[tokenID]
	var err error
	if !ok {
		path := filepath.Join(a.opts.TempDir, fmt.Sprintf("token_%d.bin", tokenID))
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening spill file for token %d: %w", tokenID, err)
		}
		a.spilled[tokenID] = f
	}
	bw := bufio.NewWriter(f)
	for _, rec := range a.inMemory[tokenID] {
		if err := writeSpillRecord(bw, rec); err != nil {
			return fmt.Errorf("spilling token %d: %w", tokenID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing spill for token %d: %w", tokenID, err)
	}
	delete(a.inMemory, tokenID)
	a.inMemory[tokenID] = nil
	return nil
}

func writeSpillRecord(w *bufio.Writer, rec record) error {
	fields := [3]uint32{rec.docID, rec.freq, uint32(len(rec.positions))}
	if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
		return err
	}
	if len(rec.positions) > 0 {
		if err := binary.Write(w, binary.LittleEndian, rec.positions); err != nil {
			return err
		}
	}
	return nil
}

// offsetEntry is one (token_id, offset, length) directory row.
type offsetEntry struct {
	tokenID uint32
	offset  uint64
	length  uint64
}

// Finish runs Phase B: for every seen token id in ascending order, it
// gathers all postings (the in-memory tail plus the spill file, if any), sorts
// by doc_id, validates no duplicate doc_id, and writes a contiguous block
// to postings_index.bin plus a row in postings_offsets.bin. Both files are
// published atomically. Spill files are removed as they are consumed.
func (a *Aggregator) Finish(outDir string, onProgress func(tokensWritten int)) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir %s: %w", outDir, err)
	}

	indexPath := filepath.Join(outDir, "postings_index.bin")
	offsetsPath := filepath.Join(outDir, "postings_offsets.bin")
	indexTmp := indexPath + ".tmp"
	offsetsTmp := offsetsPath + ".tmp"

	indexFile, err := os.Create(indexTmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", indexTmp, err)
	}
	bw := bufio.NewWriter(indexFile)

	sorted := make([]uint32, len(a.seenOrder))
	copy(sorted, a.seenOrder)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var offset uint64
	var entries []offsetEntry
	written := 0
	for _, tokenID := range sorted {
		recs, err := a.gather(tokenID)
		if err != nil {
			bw.Flush()
			indexFile.Close()
			os.Remove(indexTmp)
			return err
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].docID < recs[j].docID })
		for i := 1; i < len(recs); i++ {
			if recs[i].docID == recs[i-1].docID {
				bw.Flush()
				indexFile.Close()
				os.Remove(indexTmp)
				return fmt.Errorf("%w: duplicate doc_id %d in postings for token %d", pkgerrors.ErrDuplicateDocID, recs[i].docID, tokenID)
			}
		}
		for _, rec := range recs {
			if !sort.SliceIsSorted(rec.positions, func(i, j int) bool { return rec.positions[i] < rec.positions[j] }) {
				bw.Flush()
				indexFile.Close()
				os.Remove(indexTmp)
				return fmt.Errorf("%w: token %d doc %d", pkgerrors.ErrUnsortedPositions, tokenID, rec.docID)
			}
		}

		n, err := writeBlock(bw, recs)
		if err != nil {
			indexFile.Close()
			os.Remove(indexTmp)
			return fmt.Errorf("writing block for token %d: %w", tokenID, err)
		}
		entries = append(entries, offsetEntry{tokenID: tokenID, offset: offset, length: uint64(n)})
		offset += uint64(n)

		written++
		if onProgress != nil && written%1000 == 0 {
			onProgress(written)
		}
	}

	if err := bw.Flush(); err != nil {
		indexFile.Close()
		os.Remove(indexTmp)
		return fmt.Errorf("flushing %s: %w", indexTmp, err)
	}
	if err := indexFile.Sync(); err != nil {
		indexFile.Close()
		os.Remove(indexTmp)
		return fmt.Errorf("syncing %s: %w", indexTmp, err)
	}
	if err := indexFile.Close(); err != nil {
		os.Remove(indexTmp)
		return fmt.Errorf("closing %s: %w", indexTmp, err)
	}

	if err := writeOffsets(entries, offsetsTmp); err != nil {
		os.Remove(indexTmp)
		return err
	}

	if err := os.Rename(indexTmp, indexPath); err != nil {
		os.Remove(indexTmp)
		os.Remove(offsetsTmp)
		return fmt.Errorf("renaming %s to %s: %w", indexTmp, indexPath, err)
	}
	if err := os.Rename(offsetsTmp, offsetsPath); err != nil {
		os.Remove(offsetsTmp)
		return fmt.Errorf("renaming %s to %s: %w", offsetsTmp, offsetsPath, err)
	}
	return nil
}

func (a *Aggregator) gather(tokenID uint32) ([]record, error) {
	recs := append([]record(nil), a.inMemory[tokenID]...)

	f, ok := a.spilled[tokenID]
	if !ok {
		return recs, nil
	}
	path := f.Name()
	f.Close()
	delete(a.spilled, tokenID)

	spillFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reopening spill file for token %d: %w", tokenID, err)
	}
	defer spillFile.Close()
	br := bufio.NewReader(spillFile)
	for {
		var fields [3]uint32
		if err := binary.Read(br, binary.LittleEndian, &fields); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: reading spill record for token %d: %v", pkgerrors.ErrArtifactCorruption, tokenID, err)
		}
		positions := make([]uint32, fields[2])
		if fields[2] > 0 {
			if err := binary.Read(br, binary.LittleEndian, positions); err != nil {
				return nil, fmt.Errorf("%w: reading spill positions for token %d: %v", pkgerrors.ErrArtifactCorruption, tokenID, err)
			}
		}
		recs = append(recs, record{docID: fields[0], freq: fields[1], positions: positions})
	}
	os.Remove(path)
	return recs, nil
}

func writeBlock(w *bufio.Writer, recs []record) (int, error) {
	n := 0
	if err := binary.Write(w, binary.LittleEndian, uint32(len(recs))); err != nil {
		return n, err
	}
	n += 4
	for _, rec := range recs {
		fields := [3]uint32{rec.docID, rec.freq, uint32(len(rec.positions))}
		if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
			return n, err
		}
		n += 12
		if len(rec.positions) > 0 {
			if err := binary.Write(w, binary.LittleEndian, rec.positions); err != nil {
				return n, err
			}
			n += 4 * len(rec.positions)
		}
	}
	return n, nil
}

func writeOffsets(entries []offsetEntry, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing token_count: %w", err)
	}
	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, e.tokenID); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("writing token_id %d: %w", e.tokenID, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, e.offset); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("writing offset for token %d: %w", e.tokenID, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, e.length); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("writing length for token %d: %w", e.tokenID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return f.Close()
}

// SweepTemp removes any leftover per-token spill files from a cancelled
// prior run, matching the token_*.bin naming pattern this package writes.
func SweepTemp(tempDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing temp dir %s: %w", tempDir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "token_") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, name)); err != nil {
			return fmt.Errorf("removing stale temp file %s: %w", name, err)
		}
	}
	return nil
}

// OffsetIndex is the in-memory decoded form of postings_offsets.bin used
// for O(1) block lookup by readers.
type OffsetIndex struct {
	byToken map[uint32]offsetEntry
}

// ReadOffsets loads postings_offsets.bin from path.
func ReadOffsets(path string) (*OffsetIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var tokenCount uint32
	if err := binary.Read(br, binary.LittleEndian, &tokenCount); err != nil {
		return nil, fmt.Errorf("%w: reading token_count: %v", pkgerrors.ErrArtifactCorruption, err)
	}
	idx := &OffsetIndex{byToken: make(map[uint32]offsetEntry, tokenCount)}
	for i := uint32(0); i < tokenCount; i++ {
		var tokenID uint32
		var offset, length uint64
		if err := binary.Read(br, binary.LittleEndian, &tokenID); err != nil {
			return nil, fmt.Errorf("%w: reading token_id at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("%w: reading offset at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("%w: reading length at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		idx.byToken[tokenID] = offsetEntry{tokenID: tokenID, offset: offset, length: length}
	}
	return idx, nil
}

// Lookup returns the (offset, length) range for tokenID within
// postings_index.bin.
func (idx *OffsetIndex) Lookup(tokenID uint32) (offset, length uint64, ok bool) {
	e, ok := idx.byToken[tokenID]
	return e.offset, e.length, ok
}

// Len returns the number of tokens with a postings block.
func (idx *OffsetIndex) Len() int {
	return len(idx.byToken)
}
