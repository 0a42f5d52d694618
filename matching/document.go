package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
)

// studiengang is the degree program all indexed units belong to.
const studiengang = "BAPuMa"

// BuildDocument assembles the searchable text for one unit by joining
// its own fields with the parent module's title and aggregate goals.
// Absent fields are omitted rather than rendered as empty sections.
func BuildDocument(u catalog.SnapshotUnit, m catalog.SnapshotModule) string {
	parts := []string{
		"Unit: " + u.Title,
		"Modul: " + m.Title,
	}
	if u.Lernziele != "" {
		parts = append(parts, "Lernziele:\n"+u.Lernziele)
	}
	if u.Inhalte != "" {
		parts = append(parts, "Inhalte:\n"+u.Inhalte)
	}
	if m.Gesamtziele != "" {
		parts = append(parts, "Modulziele:\n"+m.Gesamtziele)
	}
	return strings.Join(parts, "\n\n")
}

// BuildMetadata assembles the denormalized display record stored next
// to the document.
func BuildMetadata(u catalog.SnapshotUnit, m catalog.SnapshotModule) index.Metadata {
	return index.Metadata{
		UnitID:            u.UnitID,
		UnitTitle:         u.Title,
		ModuleID:          u.ModuleID,
		ModuleTitle:       m.Title,
		Semester:          u.Semester,
		SWS:               u.SWS,
		Credits:           m.Credits,
		Workload:          u.Workload,
		Lehrsprache:       u.Lehrsprache,
		Pruefungsleistung: truncate(m.Pruefungsleistung, 200),
		Studiengang:       studiengang,
		Verantwortliche:   strings.Join(u.Verantwortliche, ", "),
	}
}

// contentHash fingerprints the built document plus metadata. The sync
// engine compares it against the stored hash to re-embed units whose
// content changed without an id change.
func contentHash(document string, meta index.Metadata) string {
	h := sha256.New()
	h.Write([]byte(document))
	h.Write([]byte{0})
	metaJSON, _ := json.Marshal(meta)
	h.Write(metaJSON)
	return hex.EncodeToString(h.Sum(nil))
}
