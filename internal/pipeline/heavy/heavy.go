// Package heavy implements S6: for every token routed to the special
// frequent barrel, it projects that token's postings block down to a
// positionless (doc_id, freq) list stored in its own file, plus a manifest
// describing every extracted token.
package heavy

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cord19index/index-core/internal/pipeline/barrel"
	"github.com/cord19index/index-core/internal/pipeline/postings"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
)

// ManifestEntry describes one extracted heavy-token file, mirroring the
// fields the original extract_heavy_tokens.py recorded.
type ManifestEntry struct {
	TokenID   uint32 `json:"token_id"`
	Filename  string `json:"filename"`
	DocCount  uint32 `json:"doc_count"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest is the decoded form of heavy/manifest.json.
type Manifest struct {
	Tokens []ManifestEntry `json:"tokens"`
}

// Extract reads, for every token assigned to mapping's special barrel, its
// block from postings_index.bin (via offsets) and writes
// heavy/token_<id>.bin plus heavy/manifest.json under outDir. Both the
// per-token files and the manifest are published atomically.
func Extract(indexPath string, offsets *postings.OffsetIndex, m *barrel.Mapping, outDir string) (Manifest, error) {
	heavyDir := filepath.Join(outDir, "heavy")
	if err := os.MkdirAll(heavyDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("creating heavy dir %s: %w", heavyDir, err)
	}

	idxFile, err := os.Open(indexPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("opening %s: %w", indexPath, err)
	}
	defer idxFile.Close()

	var tokenIDs []uint32
	for tid, barrelID := range m.TokenBarrel {
		if barrelID == m.SpecialID {
			tokenIDs = append(tokenIDs, uint32(tid))
		}
	}
	sort.Slice(tokenIDs, func(i, j int) bool { return tokenIDs[i] < tokenIDs[j] })

	var manifest Manifest
	for _, tokenID := range tokenIDs {
		offset, length, ok := offsets.Lookup(tokenID)
		if !ok {
			// Token was assigned to the frequent barrel by Pass 1 but never
			// occurred in any document's postings (e.g. an empty corpus);
			// it has no block to project, so it is simply omitted.
			continue
		}
		entry, err := extractOne(idxFile, tokenID, int64(offset), int64(length), heavyDir)
		if err != nil {
			return Manifest{}, err
		}
		manifest.Tokens = append(manifest.Tokens, entry)
	}

	if err := writeManifest(manifest, filepath.Join(heavyDir, "manifest.json")); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func extractOne(idxFile *os.File, tokenID uint32, offset, length int64, heavyDir string) (ManifestEntry, error) {
	block := make([]byte, length)
	if _, err := idxFile.ReadAt(block, offset); err != nil {
		return ManifestEntry{}, fmt.Errorf("%w: reading block for token %d: %v", pkgerrors.ErrArtifactCorruption, tokenID, err)
	}

	docCount, pairs, err := projectDocFreq(block, tokenID)
	if err != nil {
		return ManifestEntry{}, err
	}

	filename := fmt.Sprintf("token_%d.bin", tokenID)
	path := filepath.Join(heavyDir, filename)
	size, err := writeDocFreqFile(path, docCount, pairs)
	if err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{TokenID: tokenID, Filename: filename, DocCount: docCount, SizeBytes: size}, nil
}

// projectDocFreq decodes a postings_index.bin block and drops positions,
// per the heavy file contract: u32 doc_count, repeated (u32 doc_id, u32 freq).
func projectDocFreq(block []byte, tokenID uint32) (uint32, []uint32, error) {
	if len(block) < 4 {
		return 0, nil, fmt.Errorf("%w: block for token %d shorter than header", pkgerrors.ErrArtifactCorruption, tokenID)
	}
	docCount := binary.LittleEndian.Uint32(block[0:4])
	pairs := make([]uint32, 0, docCount*2)
	pos := 4
	for i := uint32(0); i < docCount; i++ {
		if pos+12 > len(block) {
			return 0, nil, fmt.Errorf("%w: block for token %d truncated at record %d", pkgerrors.ErrArtifactCorruption, tokenID, i)
		}
		docID := binary.LittleEndian.Uint32(block[pos : pos+4])
		freq := binary.LittleEndian.Uint32(block[pos+4 : pos+8])
		posCount := binary.LittleEndian.Uint32(block[pos+8 : pos+12])
		pos += 12 + int(posCount)*4
		pairs = append(pairs, docID, freq)
	}
	return docCount, pairs, nil
}

func writeDocFreqFile(path string, docCount uint32, pairs []uint32) (int64, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", tmp, err)
	}
	bw := bufio.NewWriter(f)
	if err := binary.Write(bw, binary.LittleEndian, docCount); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("writing doc_count to %s: %w", tmp, err)
	}
	if len(pairs) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, pairs); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("writing doc/freq pairs to %s: %w", tmp, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("flushing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func writeManifest(m Manifest, path string) error {
	if m.Tokens == nil {
		m.Tokens = []ManifestEntry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// ReadManifest loads heavy/manifest.json from path.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decoding manifest %s: %v", pkgerrors.ErrArtifactCorruption, path, err)
	}
	return m, nil
}

// ReadDocFreqFile decodes a heavy/token_<id>.bin file into parallel doc_id
// and freq slices.
func ReadDocFreqFile(path string) (docIDs, freqs []uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var docCount uint32
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return nil, nil, fmt.Errorf("%w: reading doc_count in %s: %v", pkgerrors.ErrArtifactCorruption, path, err)
	}
	docIDs = make([]uint32, docCount)
	freqs = make([]uint32, docCount)
	for i := uint32(0); i < docCount; i++ {
		var pair [2]uint32
		if err := binary.Read(br, binary.LittleEndian, &pair); err != nil {
			return nil, nil, fmt.Errorf("%w: reading entry %d in %s: %v", pkgerrors.ErrArtifactCorruption, i, path, err)
		}
		docIDs[i] = pair[0]
		freqs[i] = pair[1]
	}
	return docIDs, freqs, nil
}
