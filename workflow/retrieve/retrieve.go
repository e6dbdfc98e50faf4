// Package retrieve defines the document-retrieval port used by retrieval
// nodes, plus an in-memory index suitable for tests and small deployments.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Chunk is one retrieved passage of a document.
type Chunk struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Filter narrows a query to specific documents and enforces ownership.
// An empty DocumentIDs slice means any document the owner can read.
type Filter struct {
	DocumentIDs []string
	OwnerID     string
}

// Retriever answers similarity queries over an indexed corpus.
type Retriever interface {
	Query(ctx context.Context, text string, filter Filter) ([]Chunk, error)
}

// Document is an owned piece of indexed content.
type Document struct {
	ID      string
	OwnerID string
	Content string
}

// Index is an in-memory Retriever using term-overlap scoring.
//
// It is not a vector store; scoring counts query terms present in each
// document. That is enough for deterministic tests and for deployments
// where the corpus is a handful of reference documents.
type Index struct {
	mu        sync.RWMutex
	documents map[string]Document
	topK      int
}

// NewIndex creates an empty index returning at most topK chunks per query.
// A topK of zero or less defaults to 5.
func NewIndex(topK int) *Index {
	if topK <= 0 {
		topK = 5
	}
	return &Index{
		documents: make(map[string]Document),
		topK:      topK,
	}
}

// Add indexes a document, replacing any existing document with the same ID.
func (ix *Index) Add(doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.documents[doc.ID] = doc
}

// Query implements Retriever. Documents owned by a different user are
// silently excluded, so a caller can never read across ownership lines
// even with a forged document ID.
func (ix *Index) Query(ctx context.Context, text string, filter Filter) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var allowed map[string]struct{}
	if len(filter.DocumentIDs) > 0 {
		allowed = make(map[string]struct{}, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			allowed[id] = struct{}{}
		}
	}

	terms := tokenize(text)
	var chunks []Chunk
	for id, doc := range ix.documents {
		if filter.OwnerID != "" && doc.OwnerID != "" && doc.OwnerID != filter.OwnerID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		score := overlap(terms, doc.Content)
		if score <= 0 && len(terms) > 0 {
			continue
		}
		chunks = append(chunks, Chunk{
			DocumentID: id,
			Content:    doc.Content,
			Score:      score,
		})
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].DocumentID < chunks[j].DocumentID
	})
	if len(chunks) > ix.topK {
		chunks = chunks[:ix.topK]
	}
	return chunks, nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// overlap scores a document as the fraction of query terms it contains.
func overlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 1
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
