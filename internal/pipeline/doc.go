// Package pipeline implements the offline indexing core: tokenization,
// lexicon construction, forward-index construction, barrel-based inverted
// index build, and postings aggregation with heavy-token extraction.
package pipeline

// Section is one block of text within a document (an abstract paragraph or
// a body paragraph).
type Section struct {
	Text string `json:"text"`
}

// Document is the normalized shape every source reader yields, per the
// source reader contract: an identifier, a title, and two section lists.
type Document struct {
	PaperID  string    `json:"paper_id"`
	Title    string    `json:"title"`
	Abstract []Section `json:"abstract"`
	Body     []Section `json:"body"`
}

// Text concatenates the title, abstract sections, and body sections, in
// that order, delimited by a single space, as required by the tokenizer's
// document-to-text contract.
func (d Document) Text() string {
	n := len(d.Title)
	for _, s := range d.Abstract {
		n += 1 + len(s.Text)
	}
	for _, s := range d.Body {
		n += 1 + len(s.Text)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, d.Title...)
	for _, s := range d.Abstract {
		buf = append(buf, ' ')
		buf = append(buf, s.Text...)
	}
	for _, s := range d.Body {
		buf = append(buf, ' ')
		buf = append(buf, s.Text...)
	}
	return string(buf)
}
