package matching

import (
	"strings"
	"testing"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
)

func TestBuildDocumentSections(t *testing.T) {
	u := catalog.SnapshotUnit{
		UnitID:    "U1",
		Title:     "Verwaltungsrecht",
		ModuleID:  "M1",
		Lernziele: "Grundbegriffe kennen",
		Inhalte:   "VwVfG, VwGO",
	}
	m := catalog.SnapshotModule{ModuleID: "M1", Title: "Recht I", Gesamtziele: "Rechtsgrundlagen"}

	doc := BuildDocument(u, m)
	want := "Unit: Verwaltungsrecht\n\nModul: Recht I\n\nLernziele:\nGrundbegriffe kennen\n\nInhalte:\nVwVfG, VwGO\n\nModulziele:\nRechtsgrundlagen"
	if doc != want {
		t.Errorf("document mismatch:\n%q\nwant\n%q", doc, want)
	}
}

func TestBuildDocumentOmitsEmptySections(t *testing.T) {
	u := catalog.SnapshotUnit{UnitID: "U1", Title: "Statistik", ModuleID: "M1"}
	m := catalog.SnapshotModule{ModuleID: "M1", Title: "Methoden"}

	doc := BuildDocument(u, m)
	for _, absent := range []string{"Lernziele:", "Inhalte:", "Modulziele:"} {
		if strings.Contains(doc, absent) {
			t.Errorf("empty section %q rendered:\n%s", absent, doc)
		}
	}
}

func TestBuildMetadata(t *testing.T) {
	u := catalog.SnapshotUnit{
		UnitID:          "U1",
		Title:           "Statistik",
		ModuleID:        "M1",
		Semester:        "2",
		Verantwortliche: []string{"Prof. Meyer", "Dr. Schmidt"},
	}
	m := catalog.SnapshotModule{
		ModuleID:          "M1",
		Title:             "Methoden",
		Credits:           "6",
		Pruefungsleistung: strings.Repeat("Klausur und ", 40),
	}

	meta := BuildMetadata(u, m)
	if meta.Studiengang != "BAPuMa" {
		t.Errorf("Studiengang = %q", meta.Studiengang)
	}
	if meta.Verantwortliche != "Prof. Meyer, Dr. Schmidt" {
		t.Errorf("Verantwortliche = %q", meta.Verantwortliche)
	}
	if len([]rune(meta.Pruefungsleistung)) != 203 {
		t.Errorf("Pruefungsleistung not truncated to 200 runes: %d", len([]rune(meta.Pruefungsleistung)))
	}
}

func TestContentHashTracksChanges(t *testing.T) {
	u := catalog.SnapshotUnit{UnitID: "U1", Title: "Statistik", ModuleID: "M1"}
	m := catalog.SnapshotModule{ModuleID: "M1", Title: "Methoden"}

	h1 := contentHash(BuildDocument(u, m), BuildMetadata(u, m))
	h2 := contentHash(BuildDocument(u, m), BuildMetadata(u, m))
	if h1 != h2 {
		t.Fatal("hash not deterministic")
	}

	// A metadata-only edit must move the hash even though the
	// document text is unchanged.
	m.Credits = "9"
	if h3 := contentHash(BuildDocument(u, m), BuildMetadata(u, m)); h3 == h1 {
		t.Error("credits change did not move the hash")
	}

	u.Lernziele = "Neu"
	if h4 := contentHash(BuildDocument(u, m), BuildMetadata(u, m)); h4 == h1 {
		t.Error("document change did not move the hash")
	}
}
