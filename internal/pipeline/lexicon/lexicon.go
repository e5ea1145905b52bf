// Package lexicon implements S2: a streaming accumulator that assigns dense,
// monotone token ids in order of first observation and persists the result
// as lexicon.bin.
package lexicon

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cord19index/index-core/internal/pipeline"
	"github.com/cord19index/index-core/internal/pipeline/corpus"
	"github.com/cord19index/index-core/internal/pipeline/tokenizer"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
)

// Lexicon is a bijection between normalized token strings and dense token
// ids in [0, V). Assignment order is first-observation order.
type Lexicon struct {
	wordToID map[string]uint32
	idToWord []string
}

// New returns an empty Lexicon.
func New() *Lexicon {
	return &Lexicon{wordToID: make(map[string]uint32)}
}

// GetOrCreate returns token's id, assigning the next free id on first
// observation. Assignment must be called sequentially: it is not safe for
// concurrent use.
func (l *Lexicon) GetOrCreate(token string) uint32 {
	if id, ok := l.wordToID[token]; ok {
		return id
	}
	id := uint32(len(l.idToWord))
	l.wordToID[token] = id
	l.idToWord = append(l.idToWord, token)
	return id
}

// Lookup returns token's id and whether it is present, without creating it.
func (l *Lexicon) Lookup(token string) (uint32, bool) {
	id, ok := l.wordToID[token]
	return id, ok
}

// Token returns the token string for id.
func (l *Lexicon) Token(id uint32) (string, bool) {
	if int(id) >= len(l.idToWord) {
		return "", false
	}
	return l.idToWord[id], true
}

// Size returns the vocabulary size V.
func (l *Lexicon) Size() int {
	return len(l.idToWord)
}

// BuildResult summarizes a lexicon build.
type BuildResult struct {
	DocsProcessed int
	DocsSkipped   int
	TotalTokens   int64
	VocabSize     int
}

// Build runs S2: it streams every document out of src, tokenizes it, and
// assigns each distinct normalized token the next free id in
// first-observation order. Token-id assignment is sequential by
// construction since Walk visits documents one at a time on a single
// goroutine. onProgress, if non-nil, is called every logEvery documents.
func Build(src corpus.Source, opts tokenizer.Options, logEvery int, onProgress func(docsProcessed int)) (*Lexicon, BuildResult, error) {
	l := New()
	var result BuildResult

	walkErr := src.Walk(func(doc pipeline.Document) error {
		tokens := tokenizer.TokenizeDocument(doc, opts)
		if len(tokens) == 0 {
			result.DocsSkipped++
			return nil
		}
		for _, t := range tokens {
			l.GetOrCreate(t.Term)
		}
		result.DocsProcessed++
		result.TotalTokens += int64(len(tokens))
		if onProgress != nil && logEvery > 0 && result.DocsProcessed%logEvery == 0 {
			onProgress(result.DocsProcessed)
		}
		return nil
	}, func(path string, cause error) {
		result.DocsSkipped++
	})
	if walkErr != nil {
		return nil, result, walkErr
	}
	result.VocabSize = l.Size()
	return l, result, nil
}

// WriteTo serializes the lexicon to w in the lexicon.bin format:
//
//	u32 vocab_size
//	repeated vocab_size times: u32 token_len, u8[token_len] token_utf8, u32 token_id
func (l *Lexicon) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(l.idToWord))); err != nil {
		return fmt.Errorf("writing vocab_size: %w", err)
	}
	for id, token := range l.idToWord {
		b := []byte(token)
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(b))); err != nil {
			return fmt.Errorf("writing token_len for id %d: %w", id, err)
		}
		if _, err := bw.Write(b); err != nil {
			return fmt.Errorf("writing token bytes for id %d: %w", id, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(id)); err != nil {
			return fmt.Errorf("writing token_id %d: %w", id, err)
		}
	}
	return bw.Flush()
}

// ReadFrom deserializes a lexicon.bin from r. S3 reads the lexicon back
// from disk rather than trusting the in-memory builder state, per the
// fail-closed requirement in §4.2.
func ReadFrom(r io.Reader) (*Lexicon, error) {
	br := bufio.NewReader(r)
	var vocabSize uint32
	if err := binary.Read(br, binary.LittleEndian, &vocabSize); err != nil {
		return nil, fmt.Errorf("reading vocab_size: %w", err)
	}
	l := &Lexicon{
		wordToID: make(map[string]uint32, vocabSize),
		idToWord: make([]string, 0, vocabSize),
	}
	for i := uint32(0); i < vocabSize; i++ {
		var tokenLen uint32
		if err := binary.Read(br, binary.LittleEndian, &tokenLen); err != nil {
			return nil, fmt.Errorf("%w: reading token_len at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		buf := make([]byte, tokenLen)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: reading token bytes at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		var tokenID uint32
		if err := binary.Read(br, binary.LittleEndian, &tokenID); err != nil {
			return nil, fmt.Errorf("%w: reading token_id at entry %d: %v", pkgerrors.ErrArtifactCorruption, i, err)
		}
		if int(tokenID) != len(l.idToWord) {
			return nil, fmt.Errorf("%w: token_id %d out of order at entry %d", pkgerrors.ErrArtifactCorruption, tokenID, i)
		}
		token := string(buf)
		l.wordToID[token] = tokenID
		l.idToWord = append(l.idToWord, token)
	}
	return l, nil
}

// WriteFile atomically publishes a lexicon to path: it writes to path+".tmp",
// syncs, and renames into place.
func WriteFile(l *Lexicon, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if err := l.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
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

// ReadFile loads a lexicon.bin from path.
func ReadFile(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(f)
}
