// Package corpus implements the document source reader contract: it yields
// Documents from a CORD-19-style dataset directory in a deterministic order,
// applying the PMC-over-PDF dedup-by-paper_id selection policy.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cord19index/index-core/internal/pipeline"
)

// Source yields documents from the corpus in a stable order.
type Source interface {
	// Walk calls fn once per selected document, in deterministic order,
	// until fn returns an error or every document has been visited.
	// Malformed documents are reported via onSkip rather than aborting.
	Walk(fn func(pipeline.Document) error, onSkip func(path string, cause error)) error
	// Stats reports how many PDF-derived duplicates were skipped in favor
	// of a PMC variant of the same paper_id.
	Stats() Stats
}

// Stats tallies source-selection diagnostics.
type Stats struct {
	PMCSelected     int
	PDFSelected     int
	PDFSkippedAsDup int
}

// FSSource reads pdf_json/ and pmc_json/ subdirectories of root.
type FSSource struct {
	root  string
	stats Stats
}

// NewFSSource constructs a filesystem-backed Source rooted at root. root is
// expected to contain "pdf_json" and "pmc_json" subdirectories; either may
// be absent.
func NewFSSource(root string) *FSSource {
	return &FSSource{root: root}
}

type taggedPath struct {
	tag  string // "pmc" or "pdf"
	path string
}

// Walk visits every selected document in lexicographic-by-path order within
// each tag, PMC files before PDF files, deduplicating by paper_id (the
// filename stem up to the first '.') so that a PMC variant always wins over
// a PDF variant of the same paper.
func (s *FSSource) Walk(fn func(pipeline.Document) error, onSkip func(path string, cause error)) error {
	s.stats = Stats{}
	seen := make(map[string]struct{})

	for _, tag := range []string{"pmc", "pdf"} {
		dir := filepath.Join(s.root, tag+"_json")
		entries, err := listJSONFiles(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, path := range entries {
			paperID := paperIDFromPath(path)
			if _, dup := seen[paperID]; dup {
				if tag == "pdf" {
					s.stats.PDFSkippedAsDup++
				}
				continue
			}
			seen[paperID] = struct{}{}
			if tag == "pmc" {
				s.stats.PMCSelected++
			} else {
				s.stats.PDFSelected++
			}

			doc, err := loadDocument(path, paperID)
			if err != nil {
				if onSkip != nil {
					onSkip(path, err)
				}
				continue
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns the selection diagnostics from the most recent Walk.
func (s *FSSource) Stats() Stats {
	return s.stats
}

func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func paperIDFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// rawDocument mirrors the CORD-19 JSON shape for decoding purposes only.
type rawDocument struct {
	PaperID  string `json:"paper_id"`
	Metadata struct {
		Title string `json:"title"`
	} `json:"metadata"`
	Abstract []struct {
		Text string `json:"text"`
	} `json:"abstract"`
	BodyText []struct {
		Text string `json:"text"`
	} `json:"body_text"`
}

func loadDocument(path, fallbackID string) (pipeline.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return pipeline.Document{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	paperID := raw.PaperID
	if paperID == "" {
		paperID = fallbackID
	}

	doc := pipeline.Document{
		PaperID: paperID,
		Title:   raw.Metadata.Title,
	}
	for _, b := range raw.Abstract {
		doc.Abstract = append(doc.Abstract, pipeline.Section{Text: b.Text})
	}
	for _, b := range raw.BodyText {
		doc.Body = append(doc.Body, pipeline.Section{Text: b.Text})
	}
	return doc, nil
}
