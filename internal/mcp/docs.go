// File: internal/mcp/docs.go
package mcp

import (
	"errors"
	"strings"

	"go.uber.org/zap"
)

// snippetLen bounds the text returned with each search hit.
const snippetLen = 160

// ErrUnknownDocument is returned by Fetch for ids not in the catalog.
var ErrUnknownDocument = errors.New("unknown id")

// DefaultDocuments is the demo catalog served by the document service.
var DefaultDocuments = []Document{
	{ID: "doc1", Title: "First doc", Text: "Hello world."},
	{ID: "doc2", Title: "Second doc", Text: "More content."},
}

// DocumentService is a read-only keyword search over a fixed catalog.
type DocumentService struct {
	records []Document
	lookup  map[string]Document
	log     *zap.Logger
}

// NewDocumentService indexes records by id.
func NewDocumentService(records []Document, logger *zap.Logger) *DocumentService {
	lookup := make(map[string]Document, len(records))
	for _, r := range records {
		lookup[r.ID] = r
	}
	return &DocumentService{
		records: records,
		lookup:  lookup,
		log:     logger.Named("mcp_docs"),
	}
}

// Search returns every record whose title or text contains query, ignoring
// case. Hit text is cut to the first 160 characters.
func (s *DocumentService) Search(query string) SearchResults {
	q := strings.ToLower(query)
	hits := make([]Document, 0, len(s.records))
	for _, r := range s.records {
		if !strings.Contains(strings.ToLower(r.Title), q) && !strings.Contains(strings.ToLower(r.Text), q) {
			continue
		}
		hit := r
		if runes := []rune(hit.Text); len(runes) > snippetLen {
			hit.Text = string(runes[:snippetLen])
		}
		hits = append(hits, hit)
	}
	s.log.Debug("Document search.", zap.String("query", query), zap.Int("hits", len(hits)))
	return SearchResults{Results: hits}
}

// Fetch returns the full record for id.
func (s *DocumentService) Fetch(id string) (Document, error) {
	doc, ok := s.lookup[id]
	if !ok {
		return Document{}, ErrUnknownDocument
	}
	return doc, nil
}
