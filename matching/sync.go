package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
)

// embedBatchSize is the number of documents sent per embedding call.
const embedBatchSize = 32

// Reconciler keeps the semantic index consistent with the catalog. All
// index mutation goes through it; reads may run concurrently but a
// query issued mid-reconcile can observe a partially updated index.
type Reconciler struct {
	catalog  Catalog
	index    Index
	embedder llm.Provider
	log      *logging.Logger

	// mu serializes Reconcile so concurrent invocations cannot race
	// on the delete/add sets.
	mu    sync.Mutex
	group singleflight.Group

	// Checksum cache, owned by this instance rather than shared
	// process state so separate service instances and tests do not
	// interfere.
	stateMu      sync.Mutex
	lastChecksum time.Time
	checksumSeen bool
}

// NewReconciler wires a sync engine over the given catalog, index, and
// embedding provider.
func NewReconciler(cat Catalog, ix Index, embedder llm.Provider, log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.Nop()
	}
	return &Reconciler{
		catalog:  cat,
		index:    ix,
		embedder: embedder,
		log:      log.With("component", "sync"),
	}
}

// Reconcile brings the index in line with a fresh catalog snapshot and
// returns the post-sync entry count. Incremental mode diffs unit ids
// and content hashes, so both removed units and in-place edits are
// picked up; forceFull clears the index and rebuilds everything.
//
// Embedding failures abort the attempt; upserts already committed
// remain (idempotent, so a re-run converges). The caller decides
// whether to retry.
func (r *Reconciler) Reconcile(ctx context.Context, forceFull bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	snap, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching catalog snapshot: %w", err)
	}
	// Never destroy an existing index on empty input.
	if len(snap.Units) == 0 {
		r.log.Info("sync: catalog empty, leaving index untouched")
		return 0, nil
	}

	existing, err := r.index.Hashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading index state: %w", err)
	}

	type builtDoc struct {
		document string
		meta     index.Metadata
		hash     string
	}
	docs := make(map[string]builtDoc, len(snap.Units))
	for id, u := range snap.Units {
		m := snap.Modules[u.ModuleID]
		document := BuildDocument(u, m)
		meta := BuildMetadata(u, m)
		docs[id] = builtDoc{document: document, meta: meta, hash: contentHash(document, meta)}
	}

	var toDelete, toProcess []string
	for id := range existing {
		if _, ok := docs[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	for id, d := range docs {
		if old, ok := existing[id]; !ok || old != d.hash {
			toProcess = append(toProcess, id)
		}
	}

	if !forceFull && len(toDelete) == 0 && len(toProcess) == 0 {
		r.log.Debug("sync: index up to date", "units", len(existing))
		return len(existing), nil
	}

	// Deletes always precede adds to avoid transient duplicate ids.
	if len(toDelete) > 0 {
		if err := r.index.Delete(ctx, toDelete); err != nil {
			return 0, fmt.Errorf("deleting removed units: %w", err)
		}
		r.log.Info("sync: deleted removed units", "count", len(toDelete))
	}

	if forceFull {
		remaining, err := r.index.IDs(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing index ids: %w", err)
		}
		if len(remaining) > 0 {
			if err := r.index.Delete(ctx, remaining); err != nil {
				return 0, fmt.Errorf("clearing index for full rebuild: %w", err)
			}
			r.log.Info("sync: full rebuild, cleared index", "count", len(remaining))
		}
		toProcess = toProcess[:0]
		for id := range docs {
			toProcess = append(toProcess, id)
		}
	}

	sort.Strings(toProcess)

	processed := 0
	for batchStart := 0; batchStart < len(toProcess); batchStart += embedBatchSize {
		batchEnd := batchStart + embedBatchSize
		if batchEnd > len(toProcess) {
			batchEnd = len(toProcess)
		}
		batch := toProcess[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, id := range batch {
			texts[i] = docs[id].document
		}

		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding units (batch of %d): %w", len(batch), err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedding units: got %d vectors for %d texts", len(vectors), len(batch))
		}

		entries := make([]index.Entry, len(batch))
		for i, id := range batch {
			d := docs[id]
			entries[i] = index.Entry{
				ID:          id,
				Document:    d.document,
				Metadata:    d.meta,
				ContentHash: d.hash,
				Embedding:   vectors[i],
			}
		}
		if err := r.index.Upsert(ctx, entries); err != nil {
			return 0, fmt.Errorf("upserting units: %w", err)
		}
		processed += len(batch)
	}

	total, err := r.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting index entries: %w", err)
	}

	r.log.Info("sync: reconcile complete",
		"deleted", len(toDelete),
		"processed", processed,
		"total", total,
		"force_full", forceFull,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return total, nil
}

// EnsureSynced triggers an incremental reconcile when the catalog
// checksum moved since the last successful sync, and reports whether a
// sync ran. Concurrent callers collapse onto one in-flight check via
// singleflight, so repeated calls are close to free when nothing
// changed.
//
// The checksum read and the reconcile are not serialized against
// catalog writers; an edit landing between them is picked up on the
// next call.
func (r *Reconciler) EnsureSynced(ctx context.Context) (bool, error) {
	synced, err, _ := r.group.Do("ensure-synced", func() (interface{}, error) {
		current, err := r.catalog.Checksum(ctx)
		if err != nil {
			return false, fmt.Errorf("reading catalog checksum: %w", err)
		}

		r.stateMu.Lock()
		upToDate := r.checksumSeen && current.Equal(r.lastChecksum)
		last := r.lastChecksum
		r.stateMu.Unlock()

		if upToDate {
			return false, nil
		}

		r.log.Info("sync: catalog checksum changed", "from", last, "to", current)
		if _, err := r.Reconcile(ctx, false); err != nil {
			return false, err
		}

		// Only record the checksum after a successful sync.
		r.stateMu.Lock()
		r.lastChecksum = current
		r.checksumSeen = true
		r.stateMu.Unlock()
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return synced.(bool), nil
}
