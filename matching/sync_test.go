package matching

import (
	"context"
	"errors"
	"testing"
)

func newTestReconciler(cat *fakeCatalog) (*Reconciler, *fakeIndex, *fakeProvider) {
	ix := newFakeIndex()
	emb := &fakeProvider{}
	return NewReconciler(cat, ix, emb, nil), ix, emb
}

func TestReconcileInitialSync(t *testing.T) {
	cat := testCatalog("U1", "U2", "U3")
	r, ix, emb := newTestReconciler(cat)

	total, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if emb.embedded != 3 {
		t.Errorf("embedded %d texts, want 3", emb.embedded)
	}
	if ix.entries["U1"].ContentHash == "" {
		t.Error("stored entry missing content hash")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	cat := testCatalog("U1", "U2")
	r, ix, emb := newTestReconciler(cat)

	if _, err := r.Reconcile(context.Background(), false); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	total, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if emb.embedCalls != 1 {
		t.Errorf("second reconcile embedded again (calls = %d)", emb.embedCalls)
	}
	if ix.upsertCalls != 1 {
		t.Errorf("second reconcile wrote to index (upsert calls = %d)", ix.upsertCalls)
	}
}

func TestReconcileIncrementalAddRemoveEdit(t *testing.T) {
	cat := testCatalog("U1", "U2")
	r, ix, emb := newTestReconciler(cat)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, false); err != nil {
		t.Fatalf("initial Reconcile: %v", err)
	}

	cat.removeUnit("U2")
	u := cat.snap.Units["U1"]
	u.Lernziele = "Neue Lernziele"
	cat.setUnit(u)
	cat.setUnit(testCatalog("U3").snap.Units["U3"])

	embeddedBefore := emb.embedded
	total, err := r.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("incremental Reconcile: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	// Only the edited unit and the new unit get re-embedded.
	if got := emb.embedded - embeddedBefore; got != 2 {
		t.Errorf("re-embedded %d texts, want 2", got)
	}
	if _, ok := ix.entries["U2"]; ok {
		t.Error("removed unit still in index")
	}
	if _, ok := ix.entries["U3"]; !ok {
		t.Error("new unit not in index")
	}
}

func TestReconcileEmptyCatalogLeavesIndex(t *testing.T) {
	cat := testCatalog("U1")
	r, ix, _ := newTestReconciler(cat)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, false); err != nil {
		t.Fatalf("initial Reconcile: %v", err)
	}
	cat.removeUnit("U1")

	total, err := r.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile on empty catalog: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(ix.entries) != 1 {
		t.Errorf("empty catalog wiped the index (entries = %d)", len(ix.entries))
	}
}

func TestReconcileForceFullRebuild(t *testing.T) {
	cat := testCatalog("U1", "U2")
	r, _, emb := newTestReconciler(cat)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, false); err != nil {
		t.Fatalf("initial Reconcile: %v", err)
	}
	embeddedBefore := emb.embedded

	total, err := r.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("forced Reconcile: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if got := emb.embedded - embeddedBefore; got != 2 {
		t.Errorf("forced rebuild embedded %d texts, want 2", got)
	}
}

func TestReconcileEmbedFailureAborts(t *testing.T) {
	cat := testCatalog("U1")
	ix := newFakeIndex()
	emb := &fakeProvider{embedErr: errors.New("quota exceeded")}
	r := NewReconciler(cat, ix, emb, nil)

	if _, err := r.Reconcile(context.Background(), false); err == nil {
		t.Fatal("expected embedding error")
	}
	if len(ix.entries) != 0 {
		t.Error("failed reconcile left partial entries in empty index")
	}

	// Clearing the failure lets a retry converge.
	emb.embedErr = nil
	total, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("retry Reconcile: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestEnsureSyncedGate(t *testing.T) {
	cat := testCatalog("U1")
	r, _, emb := newTestReconciler(cat)
	ctx := context.Background()

	synced, err := r.EnsureSynced(ctx)
	if err != nil {
		t.Fatalf("EnsureSynced: %v", err)
	}
	if !synced {
		t.Fatal("first EnsureSynced did not sync")
	}

	// Unchanged checksum short-circuits without touching the catalog.
	synced, err = r.EnsureSynced(ctx)
	if err != nil {
		t.Fatalf("EnsureSynced: %v", err)
	}
	if synced {
		t.Error("EnsureSynced re-synced on unchanged checksum")
	}
	embeddedBefore := emb.embedded

	// A catalog edit moves the checksum and triggers a sync.
	u := cat.snap.Units["U1"]
	u.Lernziele = "Geaendert"
	cat.setUnit(u)

	synced, err = r.EnsureSynced(ctx)
	if err != nil {
		t.Fatalf("EnsureSynced after edit: %v", err)
	}
	if !synced {
		t.Fatal("EnsureSynced missed checksum change")
	}
	if emb.embedded == embeddedBefore {
		t.Error("sync after edit embedded nothing")
	}
}

func TestEnsureSyncedDoesNotRecordFailedSync(t *testing.T) {
	cat := testCatalog("U1")
	ix := newFakeIndex()
	emb := &fakeProvider{embedErr: errors.New("down")}
	r := NewReconciler(cat, ix, emb, nil)
	ctx := context.Background()

	if _, err := r.EnsureSynced(ctx); err == nil {
		t.Fatal("expected error from failed sync")
	}

	// The checksum must not be cached, so recovery retries the sync.
	emb.embedErr = nil
	synced, err := r.EnsureSynced(ctx)
	if err != nil {
		t.Fatalf("EnsureSynced after recovery: %v", err)
	}
	if !synced {
		t.Error("EnsureSynced skipped sync after earlier failure")
	}
}
