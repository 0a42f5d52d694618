//go:build cgo

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open("", dbPath, nil)
	if err != nil {
		t.Fatalf("opening catalog store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intp(v int) *int { return &v }

func seedModule(t *testing.T, s *Store, key string) *Module {
	t.Helper()
	m := &Module{
		ModuleID:          key,
		Title:             "Modul " + key,
		Credits:           intp(10),
		SWS:               intp(6),
		Semester:          intp(1),
		Lernziele:         "Gesamtziele von " + key,
		Pruefungsleistung: "Klausur",
	}
	if err := s.CreateModule(context.Background(), m); err != nil {
		t.Fatalf("creating module: %v", err)
	}
	return m
}

func seedUnit(t *testing.T, s *Store, key string, moduleID uint, personIDs []uint) *Unit {
	t.Helper()
	u := &Unit{
		UnitID:      key,
		Title:       "Unit " + key,
		ModuleID:    moduleID,
		Semester:    intp(1),
		SWS:         intp(2),
		Workload:    "60 Stunden",
		Lehrsprache: "Deutsch",
		Lernziele:   "Lernziele von " + key,
		Inhalte:     "Inhalte von " + key,
	}
	if err := s.CreateUnit(context.Background(), u, personIDs); err != nil {
		t.Fatalf("creating unit: %v", err)
	}
	return u
}

func TestUnitCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := seedModule(t, s, "M9")
	p := &Person{Name: "Prof. Beispiel"}
	if err := s.CreatePerson(ctx, p); err != nil {
		t.Fatalf("creating person: %v", err)
	}

	u := seedUnit(t, s, "M9-U1", m.ID, []uint{p.ID})

	got, err := s.GetUnit(ctx, u.ID)
	if err != nil {
		t.Fatalf("getting unit: %v", err)
	}
	if got.UnitID != "M9-U1" || got.Module.ModuleID != "M9" {
		t.Errorf("unit = %s module = %s", got.UnitID, got.Module.ModuleID)
	}
	if len(got.Verantwortliche) != 1 || got.Verantwortliche[0].Name != "Prof. Beispiel" {
		t.Errorf("verantwortliche = %+v", got.Verantwortliche)
	}

	updated, err := s.UpdateUnit(ctx, u.ID, map[string]interface{}{"title": "Neuer Titel"}, nil)
	if err != nil {
		t.Fatalf("updating unit: %v", err)
	}
	if updated.Title != "Neuer Titel" {
		t.Errorf("title = %q", updated.Title)
	}
	if len(updated.Verantwortliche) != 1 {
		t.Errorf("nil personIDs must not clear links, got %d", len(updated.Verantwortliche))
	}

	if err := s.DeleteUnit(ctx, u.ID); err != nil {
		t.Fatalf("deleting unit: %v", err)
	}
	if _, err := s.GetUnit(ctx, u.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteModuleCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := seedModule(t, s, "M18")
	seedUnit(t, s, "M18-U1", m.ID, nil)
	seedUnit(t, s, "M18-U2", m.ID, nil)

	if err := s.DeleteModule(ctx, m.ID); err != nil {
		t.Fatalf("deleting module: %v", err)
	}

	units, err := s.ListUnits(ctx)
	if err != nil {
		t.Fatalf("listing units: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("units after module delete = %d, want 0", len(units))
	}
}

func TestChecksum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, err := s.Checksum(ctx)
	if err != nil {
		t.Fatalf("checksum on empty catalog: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("empty catalog checksum = %v, want zero time", ts)
	}

	m := seedModule(t, s, "M1")
	u := seedUnit(t, s, "M1-U1", m.ID, nil)

	first, err := s.Checksum(ctx)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if first.IsZero() {
		t.Fatal("checksum still zero after insert")
	}

	// An update must advance the checksum.
	time.Sleep(10 * time.Millisecond)
	if _, err := s.UpdateUnit(ctx, u.ID, map[string]interface{}{"title": "geändert"}, nil); err != nil {
		t.Fatalf("updating unit: %v", err)
	}
	second, err := s.Checksum(ctx)
	if err != nil {
		t.Fatalf("checksum after update: %v", err)
	}
	if !second.After(first) {
		t.Errorf("checksum did not advance: %v -> %v", first, second)
	}
}

func TestChecksumSeesModuleEdit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := seedModule(t, s, "M1")
	seedUnit(t, s, "M1-U1", m.ID, nil)

	before, err := s.Checksum(ctx)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	// Module fields flow into the unit documents, so a module-only
	// edit must advance the units checksum too.
	time.Sleep(10 * time.Millisecond)
	if _, err := s.UpdateModule(ctx, m.ID, map[string]interface{}{"lernziele": "neue Gesamtziele"}); err != nil {
		t.Fatalf("updating module: %v", err)
	}

	after, err := s.Checksum(ctx)
	if err != nil {
		t.Fatalf("checksum after module edit: %v", err)
	}
	if !after.After(before) {
		t.Errorf("module edit invisible to checksum: %v -> %v", before, after)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := seedModule(t, s, "M9")
	p := &Person{Name: "Prof. Beispiel"}
	if err := s.CreatePerson(ctx, p); err != nil {
		t.Fatalf("creating person: %v", err)
	}
	seedUnit(t, s, "M9-U1", m.ID, []uint{p.ID})

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Units) != 1 || len(snap.Modules) != 1 {
		t.Fatalf("snapshot sizes = %d units, %d modules", len(snap.Units), len(snap.Modules))
	}

	u, ok := snap.Units["M9-U1"]
	if !ok {
		t.Fatal("unit M9-U1 missing from snapshot")
	}
	if u.ModuleID != "M9" {
		t.Errorf("unit module key = %q, want M9", u.ModuleID)
	}
	if u.SWS != "2" || u.Semester != "1" {
		t.Errorf("numeric fields not stringified: sws=%q semester=%q", u.SWS, u.Semester)
	}
	if len(u.Verantwortliche) != 1 || u.Verantwortliche[0] != "Prof. Beispiel" {
		t.Errorf("verantwortliche = %v", u.Verantwortliche)
	}

	mod := snap.Modules["M9"]
	if mod.Credits != "10" || mod.Gesamtziele != "Gesamtziele von M9" {
		t.Errorf("module snapshot = %+v", mod)
	}
}

func writeTestWorkbook(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", "Module")
	moduleRows := [][]interface{}{
		{"module_id", "title", "credits", "sws", "semester", "lernziele", "pruefungsleistung"},
		{"M9", "Digitale Verwaltung", "10", "6", "4", "Ziele M9", "Hausarbeit"},
	}
	for i, row := range moduleRows {
		if err := f.SetSheetRow("Module", cellRef(i), &row); err != nil {
			t.Fatalf("writing Module row: %v", err)
		}
	}

	if _, err := f.NewSheet("Units"); err != nil {
		t.Fatalf("creating Units sheet: %v", err)
	}
	unitRows := [][]interface{}{
		{"unit_id", "title", "module_id", "semester", "sws", "workload", "lehrsprache", "lernziele", "inhalte", "verantwortliche"},
		{"M9-U1", "E-Government", "M9", "4", "2", "90 Stunden", "Deutsch", "Lernziele U1", "Inhalte U1", "Prof. A; Prof. B"},
		{"M9-U2", "Open Data", "M9", "4", "2", "60 Stunden", "Deutsch", "Lernziele U2", "Inhalte U2", "Prof. A"},
	}
	for i, row := range unitRows {
		if err := f.SetSheetRow("Units", cellRef(i), &row); err != nil {
			t.Fatalf("writing Units row: %v", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving workbook: %v", err)
	}
}

func cellRef(rowIdx int) string {
	cell, _ := excelize.CoordinatesToCellName(1, rowIdx+1)
	return cell
}

func TestImportXLSX(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "handbook.xlsx")
	writeTestWorkbook(t, path)

	stats, err := s.ImportXLSX(ctx, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Modules != 1 || stats.Units != 2 || stats.Persons != 2 {
		t.Errorf("stats = %+v, want 1 module, 2 units, 2 persons", stats)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	u1, ok := snap.Units["M9-U1"]
	if !ok {
		t.Fatal("M9-U1 missing after import")
	}
	if len(u1.Verantwortliche) != 2 {
		t.Errorf("verantwortliche = %v, want 2 names", u1.Verantwortliche)
	}

	// Re-import is idempotent at the row-count level.
	if _, err := s.ImportXLSX(ctx, path); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	units, _ := s.ListUnits(ctx)
	if len(units) != 2 {
		t.Errorf("units after re-import = %d, want 2", len(units))
	}
}
