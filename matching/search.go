package matching

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
)

const previewRunes = 500

// SearchResult is one ranked retrieval hit. Similarity is derived from
// cosine distance as 1-distance and rounded to three decimals; for
// normalized embeddings it falls in [-1, 1], usually [0, 1].
type SearchResult struct {
	Rank       int            `json:"rank"`
	UnitID     string         `json:"unit_id"`
	Similarity float64        `json:"similarity"`
	Metadata   index.Metadata `json:"metadata"`
	Preview    string         `json:"document_preview"`
	Document   string         `json:"-"`
}

// Search embeds the query text and returns the topK nearest catalog
// units, best match first.
func (m *Matcher) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 5
	}

	start := time.Now()
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors for 1 text", len(vectors))
	}

	hits, err := m.index.Query(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			Rank:       i + 1,
			UnitID:     h.ID,
			Similarity: math.Round((1-h.Distance)*1000) / 1000,
			Metadata:   h.Metadata,
			Preview:    truncate(h.Document, previewRunes),
			Document:   h.Document,
		}
	}

	m.log.Debug("search complete",
		"query_len", len(query),
		"top_k", topK,
		"results", len(results),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return results, nil
}
