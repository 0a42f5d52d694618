// Package anerkennung implements a matching service for the
// recognition of externally earned course credit. It keeps a semantic
// index of the internal course catalog, retrieves candidate units for
// a pasted external module description, and produces structured
// recognition assessments via an LLM.
package anerkennung

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/matching"
)

// Service bundles the catalog, the semantic index, and the matcher
// behind one facade. Safe for concurrent use.
type Service struct {
	cfg Config
	log *logging.Logger

	catalog    *catalog.Store
	index      *index.Index
	matcher    *matching.Matcher
	reconciler *matching.Reconciler

	mu     sync.Mutex
	closed bool
}

// MatchResult is the combined parse-then-match response.
type MatchResult struct {
	Parsed  *matching.ExternalModule `json:"parsed"`
	Matches []matching.SearchResult  `json:"matches"`

	// Verdict is the assessment against the top match, present only
	// when requested and at least one match exists.
	Verdict *matching.Verdict `json:"verdict,omitempty"`
}

// New builds a Service from the given config. The catalog and index
// files are created on first use.
func New(cfg Config, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" || cfg.IndexPath == "" {
		if err := os.MkdirAll(cfg.resolveDataDir(), 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	cat, err := catalog.Open(cfg.DatabaseURL, cfg.resolveCatalogPath(), log)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	ix, err := index.Open(cfg.resolveIndexPath(), cfg.EmbeddingDim)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}

	embedder, err := llm.NewProvider(withLogger(cfg.Embedding, log))
	if err != nil {
		ix.Close()
		cat.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	generator, err := llm.NewProvider(withLogger(cfg.Chat, log))
	if err != nil {
		ix.Close()
		cat.Close()
		return nil, fmt.Errorf("chat provider: %w", err)
	}

	matcher := matching.NewMatcher(ix, embedder, generator, matching.Options{
		CompareConcurrency: cfg.CompareConcurrency,
		CompareTimeout:     cfg.CompareTimeout(),
	}, log)

	return &Service{
		cfg:        cfg,
		log:        log,
		catalog:    cat,
		index:      ix,
		matcher:    matcher,
		reconciler: matching.NewReconciler(cat, ix, embedder, log),
	}, nil
}

func withLogger(cfg llm.Config, log *logging.Logger) llm.Config {
	cfg.Logger = log
	return cfg
}

// Catalog exposes the relational store for the admin CRUD surface.
func (s *Service) Catalog() *catalog.Store { return s.catalog }

// Reconcile syncs the index with the catalog and returns the post-sync
// entry count.
func (s *Service) Reconcile(ctx context.Context, forceFull bool) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.reconciler.Reconcile(ctx, forceFull)
}

// EnsureSynced reconciles only if the catalog changed since the last
// sync. Reports whether a sync ran.
func (s *Service) EnsureSynced(ctx context.Context) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.reconciler.EnsureSynced(ctx)
}

// Search returns the topK catalog units most similar to the query
// text. The index is freshness-checked first; a sync failure degrades
// to searching the stale index rather than failing the query.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]matching.SearchResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if _, err := s.reconciler.EnsureSynced(ctx); err != nil {
		s.log.Warn("search: freshness check failed, using current index", "error", err)
	}
	return s.matcher.Search(ctx, query, topK)
}

// Parse extracts structured fields from a free-text external module
// description.
func (s *Service) Parse(ctx context.Context, text string) (*matching.ExternalModule, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.matcher.Parse(ctx, text)
}

// CompareOne assesses the external module against one catalog unit.
func (s *Service) CompareOne(ctx context.Context, external *matching.ExternalModule, unitID string) (*matching.Verdict, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if _, err := s.reconciler.EnsureSynced(ctx); err != nil {
		s.log.Warn("compare: freshness check failed, using current index", "error", err)
	}
	return s.matcher.CompareOne(ctx, external, unitID)
}

// CompareMany assesses the external module against several catalog
// units in parallel.
func (s *Service) CompareMany(ctx context.Context, external *matching.ExternalModule, unitIDs []string) (*matching.CompareOutcome, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if _, err := s.reconciler.EnsureSynced(ctx); err != nil {
		s.log.Warn("compare: freshness check failed, using current index", "error", err)
	}
	return s.matcher.CompareMany(ctx, external, unitIDs)
}

// MatchAndCompare runs the full flow: parse the description, retrieve
// the topK candidates, and, when withVerdict is set, assess the best
// match.
func (s *Service) MatchAndCompare(ctx context.Context, text string, topK int, withVerdict bool) (*MatchResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	parsed, err := s.Parse(ctx, text)
	if err != nil {
		return nil, err
	}

	query := text
	if !parsed.ParseError {
		query = parsed.QueryText()
	}
	matches, err := s.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{Parsed: parsed, Matches: matches}
	if withVerdict && len(matches) > 0 && !parsed.ParseError {
		verdict, err := s.matcher.CompareOne(ctx, parsed, matches[0].UnitID)
		if err != nil {
			s.log.Warn("match: verdict for top candidate failed", "unit_id", matches[0].UnitID, "error", err)
		} else {
			result.Verdict = verdict
		}
	}
	return result, nil
}

// IndexCount returns the number of indexed units.
func (s *Service) IndexCount(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.index.Count(ctx)
}

// Close releases the underlying databases.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.index.Close(); err != nil {
		firstErr = err
	}
	if err := s.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
