// Package index implements the persistent semantic index over catalog
// units: one row per unit holding the searchable document text, the
// denormalized display metadata, and a sqlite-vec embedding for
// cosine-distance nearest-neighbor queries.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Metadata carries the denormalized display fields mirrored from the
// catalog at sync time, so a search result row can be rendered without
// a second catalog lookup.
type Metadata struct {
	UnitID            string `json:"unit_id"`
	UnitTitle         string `json:"unit_title"`
	ModuleID          string `json:"module_id"`
	ModuleTitle       string `json:"module_title"`
	Semester          string `json:"semester"`
	SWS               string `json:"sws"`
	Credits           string `json:"credits"`
	Workload          string `json:"workload"`
	Lehrsprache       string `json:"lehrsprache"`
	Pruefungsleistung string `json:"pruefungsleistung"`
	Studiengang       string `json:"studiengang"`
	Verantwortliche   string `json:"verantwortliche"`
}

// Entry is one indexed unit.
type Entry struct {
	ID          string
	Document    string
	Metadata    Metadata
	ContentHash string
	Embedding   []float32
}

// QueryResult is an Entry returned from a nearest-neighbor query with
// its cosine distance (0 = identical).
type QueryResult struct {
	Entry
	Distance float64
}

// Index wraps the SQLite database holding documents, metadata, and
// sqlite-vec embeddings.
type Index struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) the index database at the given path and
// initialises the schema including the vec0 virtual table.
func Open(dbPath string, embeddingDim int) (*Index, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging index database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	// Conservative pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Index{db: db, dim: embeddingDim}, nil
}

func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS units (
    unit_id TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    metadata JSON NOT NULL,
    content_hash TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_units USING vec0(
    unit_id TEXT PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE INDEX IF NOT EXISTS idx_units_hash ON units(content_hash);
`, embeddingDim)
}

// EmbeddingDim returns the configured vector dimension.
func (ix *Index) EmbeddingDim() int { return ix.dim }

// Close closes the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

// Upsert inserts or replaces entries together with their embeddings.
// Entries without an embedding of the configured dimension are rejected.
func (ix *Index) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Embedding) != ix.dim {
			return fmt.Errorf("index: entry %s embedding dim %d, want %d", e.ID, len(e.Embedding), ix.dim)
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO units (unit_id, document, metadata, content_hash, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(unit_id) DO UPDATE SET
				document = excluded.document,
				metadata = excluded.metadata,
				content_hash = excluded.content_hash,
				updated_at = CURRENT_TIMESTAMP
		`, e.ID, e.Document, string(meta), e.ContentHash); err != nil {
			return fmt.Errorf("upserting unit %s: %w", e.ID, err)
		}
		// vec0 has no ON CONFLICT support; delete-then-insert.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_units WHERE unit_id = ?", e.ID); err != nil {
			return fmt.Errorf("clearing embedding for %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_units (unit_id, embedding) VALUES (?, ?)",
			e.ID, serializeFloat32(e.Embedding)); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes the given unit ids and their embeddings. Unknown ids
// are ignored.
func (ix *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimPrefix(strings.Repeat(",?", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM vec_units WHERE unit_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM units WHERE unit_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting units: %w", err)
	}

	return tx.Commit()
}

// Get returns the entries for the given ids, preserving input order.
// Ids not present in the index are silently omitted; callers that need
// to distinguish misses compare the result length against the request.
func (ix *Index) Get(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimPrefix(strings.Repeat(",?", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := ix.db.QueryContext(ctx,
		"SELECT unit_id, document, metadata, content_hash FROM units WHERE unit_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Entry, len(ids))
	for rows.Next() {
		var e Entry
		var meta string
		if err := rows.Scan(&e.ID, &e.Document, &meta, &e.ContentHash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Entry
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// IDs returns all unit ids currently in the index.
func (ix *Index) IDs(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, "SELECT unit_id FROM units")
	if err != nil {
		return nil, fmt.Errorf("listing unit ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Hashes returns the content hash for every indexed unit, keyed by id.
// The sync engine diffs these against freshly built documents to detect
// content edits on unchanged ids.
func (ix *Index) Hashes(ctx context.Context) (map[string]string, error) {
	rows, err := ix.db.QueryContext(ctx, "SELECT unit_id, content_hash FROM units")
	if err != nil {
		return nil, fmt.Errorf("listing content hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// Count returns the number of indexed units.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}

// Query performs a KNN search returning the k nearest units by cosine
// distance, ascending. An empty index yields an empty result.
func (ix *Index) Query(ctx context.Context, embedding []float32, k int) ([]QueryResult, error) {
	if len(embedding) != ix.dim {
		return nil, fmt.Errorf("index: query embedding dim %d, want %d", len(embedding), ix.dim)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT v.unit_id, v.distance, u.document, u.metadata, u.content_hash
		FROM vec_units v
		JOIN units u ON u.unit_id = v.unit_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var r QueryResult
		var meta string
		if err := rows.Scan(&r.ID, &r.Distance, &r.Document, &meta, &r.ContentHash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
