// Package matching contains the core of the recognition pipeline: the
// sync engine that reconciles the semantic index against the catalog,
// the retrieval component, the external-module parser, and the
// comparison orchestrator that scores candidate units in parallel.
package matching

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
)

var (
	// ErrUnitNotFound is returned when a requested unit id is absent
	// from the semantic index.
	ErrUnitNotFound = errors.New("matching: unit not found in index")

	// ErrEmptyQuery is returned for blank search or parse input.
	ErrEmptyQuery = errors.New("matching: empty input text")

	// ErrSchemaViolation marks a provider response that does not
	// satisfy the verdict schema despite the schema-constrained
	// request.
	ErrSchemaViolation = errors.New("matching: provider response violates verdict schema")
)

// Catalog is the read-side of the relational catalog the sync engine
// consumes. Implemented by *catalog.Store.
type Catalog interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
	Checksum(ctx context.Context) (time.Time, error)
}

// Index is the semantic index store. Implemented by *index.Index.
type Index interface {
	Upsert(ctx context.Context, entries []index.Entry) error
	Delete(ctx context.Context, ids []string) error
	Get(ctx context.Context, ids []string) ([]index.Entry, error)
	Query(ctx context.Context, embedding []float32, k int) ([]index.QueryResult, error)
	IDs(ctx context.Context) ([]string, error)
	Hashes(ctx context.Context) (map[string]string, error)
	Count(ctx context.Context) (int, error)
}

// Options tunes the matcher. Zero values fall back to defaults.
type Options struct {
	// CompareConcurrency bounds the comparison fan-out. Defaults to 10.
	CompareConcurrency int

	// CompareTimeout bounds each per-candidate generative call.
	// Defaults to 120s. A timed-out candidate fails in isolation.
	CompareTimeout time.Duration
}

// Matcher implements retrieval, parsing, and comparison over the
// semantic index.
type Matcher struct {
	index     Index
	embedder  llm.Provider
	generator llm.Provider
	log       *logging.Logger

	concurrency int
	timeout     time.Duration
}

// NewMatcher wires a matcher. embedder handles vector generation,
// generator the scoring and parsing calls; both may be the same
// provider.
func NewMatcher(ix Index, embedder, generator llm.Provider, opts Options, log *logging.Logger) *Matcher {
	if log == nil {
		log = logging.Nop()
	}
	if opts.CompareConcurrency <= 0 {
		opts.CompareConcurrency = 10
	}
	if opts.CompareTimeout <= 0 {
		opts.CompareTimeout = 120 * time.Second
	}
	return &Matcher{
		index:       ix,
		embedder:    embedder,
		generator:   generator,
		log:         log.With("component", "matcher"),
		concurrency: opts.CompareConcurrency,
		timeout:     opts.CompareTimeout,
	}
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the LLM response
// text. It handles common LLM quirks: markdown code blocks and text
// before or after the JSON.
func extractJSON(raw string) (string, bool) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], true
	}
	return "", false
}

// truncate shortens s to at most max runes, appending an ellipsis
// marker when something was cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// cutRunes shortens s to at most max runes without a marker. A byte
// slice would split multi-byte runes and ship invalid UTF-8 to the
// provider.
func cutRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
