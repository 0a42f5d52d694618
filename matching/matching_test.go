package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
)

// fakeIndex is an in-memory Index that counts mutations so sync tests
// can assert how much work a reconcile actually did.
type fakeIndex struct {
	mu      sync.Mutex
	entries map[string]index.Entry

	upsertCalls int
	upserted    int
	deleted     int

	// queryResults, when set, is returned verbatim by Query.
	queryResults []index.QueryResult
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]index.Entry)}
}

func (f *fakeIndex) Upsert(_ context.Context, entries []index.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.upserted += len(entries)
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.entries[id]; ok {
			delete(f.entries, id)
			f.deleted++
		}
	}
	return nil
}

func (f *fakeIndex) Get(_ context.Context, ids []string) ([]index.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []index.Entry
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, k int) ([]index.QueryResult, error) {
	if len(f.queryResults) > k {
		return f.queryResults[:k], nil
	}
	return f.queryResults, nil
}

func (f *fakeIndex) IDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeIndex) Hashes(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes := make(map[string]string, len(f.entries))
	for id, e := range f.entries {
		hashes[id] = e.ContentHash
	}
	return hashes, nil
}

func (f *fakeIndex) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

// fakeCatalog serves a mutable snapshot and checksum.
type fakeCatalog struct {
	mu       sync.Mutex
	snap     catalog.Snapshot
	checksum time.Time
}

func (f *fakeCatalog) Snapshot(_ context.Context) (*catalog.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := catalog.Snapshot{
		Units:   make(map[string]catalog.SnapshotUnit, len(f.snap.Units)),
		Modules: make(map[string]catalog.SnapshotModule, len(f.snap.Modules)),
	}
	for k, v := range f.snap.Units {
		snap.Units[k] = v
	}
	for k, v := range f.snap.Modules {
		snap.Modules[k] = v
	}
	return &snap, nil
}

func (f *fakeCatalog) Checksum(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checksum, nil
}

func (f *fakeCatalog) setUnit(u catalog.SnapshotUnit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.Units == nil {
		f.snap.Units = make(map[string]catalog.SnapshotUnit)
	}
	f.snap.Units[u.UnitID] = u
	f.checksum = f.checksum.Add(time.Second)
}

func (f *fakeCatalog) removeUnit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snap.Units, id)
	f.checksum = f.checksum.Add(time.Second)
}

// fakeProvider scripts chat responses and produces deterministic
// embeddings. chatFn, when set, overrides the canned response.
type fakeProvider struct {
	mu         sync.Mutex
	embedCalls int
	embedded   int
	chatCalls  int

	chatContent string
	chatFn      func(req llm.ChatRequest) (*llm.ChatResponse, error)
	embedErr    error
}

func (f *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	f.mu.Unlock()
	if f.chatFn != nil {
		return f.chatFn(req)
	}
	return &llm.ChatResponse{Content: f.chatContent}, nil
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.embedded += len(texts)
	f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		// Cheap deterministic vector derived from the text length.
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

func testCatalog(unitIDs ...string) *fakeCatalog {
	cat := &fakeCatalog{
		snap: catalog.Snapshot{
			Units: make(map[string]catalog.SnapshotUnit),
			Modules: map[string]catalog.SnapshotModule{
				"M1": {ModuleID: "M1", Title: "Grundlagen", Credits: "6", Gesamtziele: "Ueberblick"},
			},
		},
		checksum: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, id := range unitIDs {
		cat.snap.Units[id] = catalog.SnapshotUnit{
			UnitID:    id,
			Title:     "Unit " + id,
			ModuleID:  "M1",
			Lernziele: "Lernziel fuer " + id,
		}
	}
	return cat
}

func testEntry(id string) index.Entry {
	return index.Entry{
		ID:       id,
		Document: fmt.Sprintf("Unit: Unit %s\n\nModul: Grundlagen", id),
		Metadata: index.Metadata{
			UnitID:      id,
			UnitTitle:   "Unit " + id,
			ModuleTitle: "Grundlagen",
			Credits:     "6",
		},
		ContentHash: "hash-" + id,
		Embedding:   []float32{1, 0, 0, 0},
	}
}

func verdictJSON(unitID string) string {
	return fmt.Sprintf(`{
		"unit_id": %q,
		"lernziele_match": 85,
		"empfehlung": "vollstaendig",
		"lernziel_abgleich": [{"lernziel": "Grundlagen", "status": "abgedeckt", "anmerkung": ""}],
		"credits": {"extern": 6, "intern": 6, "bewertung": "ok"},
		"niveau": "vergleichbar",
		"pruefungsform": "Klausur",
		"workload": "vergleichbar",
		"defizite": [],
		"fazit": "Passt."
	}`, unitID)
}

func unitIDFromPrompt(req llm.ChatRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		if i := strings.Index(msg.Content, "unit_id: "); i >= 0 {
			rest := msg.Content[i+len("unit_id: "):]
			if j := strings.Index(rest, ")"); j >= 0 {
				return rest[:j]
			}
		}
	}
	return ""
}
