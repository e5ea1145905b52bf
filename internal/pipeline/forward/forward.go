// Package forward implements S3: re-running the tokenizer with the lexicon
// held in memory, assigning sequential doc ids, and persisting
// forward_index.bin plus the doc_ids.tsv sidecar.
package forward

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/cord19index/index-core/internal/pipeline"
	"github.com/cord19index/index-core/internal/pipeline/corpus"
	"github.com/cord19index/index-core/internal/pipeline/lexicon"
	"github.com/cord19index/index-core/internal/pipeline/tokenizer"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
)

// Record is one document's token-id stream.
type Record struct {
	DocID    uint32
	TokenIDs []uint32
}

// BuildResult summarizes a forward-index build.
type BuildResult struct {
	DocCount    uint32
	DocsSkipped int
	TotalTokens int64
}

type docIDEntry struct {
	docID   uint32
	paperID string
}

// Build re-tokenizes src with lex held in memory, assigning doc ids in
// visitation order, and writes forward_index.bin and doc_ids.tsv under
// outDir. onProgress, if non-nil, is called every logEvery documents.
func Build(src corpus.Source, lex *lexicon.Lexicon, opts tokenizer.Options, outDir string, logEvery int, onProgress func(docsProcessed int)) (BuildResult, error) {
	var result BuildResult
	var docIDs []docIDEntry
	var records []Record

	nextDocID := uint32(0)
	walkErr := src.Walk(func(doc pipeline.Document) error {
		tokens := tokenizer.TokenizeDocument(doc, opts)
		if len(tokens) == 0 {
			result.DocsSkipped++
			return nil
		}
		tokenIDs := make([]uint32, 0, len(tokens))
		for _, t := range tokens {
			id, ok := lex.Lookup(t.Term)
			if !ok {
				return fmt.Errorf("%w: token %q from paper %s not present in lexicon", pkgerrors.ErrVocabularyMiss, t.Term, doc.PaperID)
			}
			tokenIDs = append(tokenIDs, id)
		}

		docID := nextDocID
		nextDocID++
		records = append(records, Record{DocID: docID, TokenIDs: tokenIDs})
		docIDs = append(docIDs, docIDEntry{docID: docID, paperID: doc.PaperID})
		result.DocCount++
		result.TotalTokens += int64(len(tokenIDs))

		if onProgress != nil && logEvery > 0 && int(result.DocCount)%logEvery == 0 {
			onProgress(int(result.DocCount))
		}
		return nil
	}, func(path string, cause error) {
		result.DocsSkipped++
	})
	if walkErr != nil {
		return result, walkErr
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("creating output dir %s: %w", outDir, err)
	}

	if err := writeForwardIndex(records, outDir+"/forward_index.bin"); err != nil {
		return result, err
	}
	if err := writeDocIDs(docIDs, outDir+"/doc_ids.tsv"); err != nil {
		return result, err
	}
	return result, nil
}

func writeForwardIndex(records []Record, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	bw := bufio.NewWriter(f)

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(records))); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing doc_count: %w", err)
	}
	for _, rec := range records {
		if err := binary.Write(bw, binary.LittleEndian, rec.DocID); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing doc_id %d: %w", rec.DocID, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(rec.TokenIDs))); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing token_count for doc %d: %w", rec.DocID, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.TokenIDs); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing token_ids for doc %d: %w", rec.DocID, err)
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

func writeDocIDs(docs []docIDEntry, path string) error {
	sorted := make([]docIDEntry, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].docID < sorted[j].docID })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	bw := bufio.NewWriter(f)
	for _, d := range sorted {
		if _, err := fmt.Fprintf(bw, "%d\t%s\n", d.docID, d.paperID); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing doc_ids row: %w", err)
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

// ReadForwardIndex loads forward_index.bin from path.
func ReadForwardIndex(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var docCount uint32
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return nil, fmt.Errorf("%w: reading doc_count: %v", pkgerrors.ErrArtifactCorruption, err)
	}
	records := make([]Record, 0, docCount)
	for i := uint32(0); i < docCount; i++ {
		var docID, tokenCount uint32
		if err := binary.Read(br, binary.LittleEndian, &docID); err != nil {
			return nil, fmt.Errorf("%w: reading doc_id at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &tokenCount); err != nil {
			return nil, fmt.Errorf("%w: reading token_count at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		tokenIDs := make([]uint32, tokenCount)
		if tokenCount > 0 {
			if err := binary.Read(br, binary.LittleEndian, tokenIDs); err != nil {
				return nil, fmt.Errorf("%w: reading token_ids for doc %d: %v", pkgerrors.ErrArtifactCorruption, docID, err)
			}
		}
		records = append(records, Record{DocID: docID, TokenIDs: tokenIDs})
	}
	return records, nil
}
