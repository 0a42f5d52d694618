// Package catalog is the authoritative relational store for curriculum
// modules, units, and responsible persons. The matching pipeline only
// reads it through Snapshot and Checksum; all writes come from the
// admin surface and the bulk importer.
package catalog

import "time"

// Module aggregates one or more Units and carries the credit and
// assessment metadata shared by them.
type Module struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	ModuleID          string `gorm:"uniqueIndex;size:50;not null" json:"module_id"`
	Title             string `gorm:"type:text;not null" json:"title"`
	Credits           *int   `json:"credits"`
	SWS               *int   `gorm:"column:sws" json:"sws"`
	Semester          *int   `json:"semester"`
	Lernziele         string `gorm:"type:text" json:"lernziele"`
	Pruefungsleistung string `gorm:"type:text" json:"pruefungsleistung"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Units []Unit `gorm:"constraint:OnDelete:CASCADE" json:"units,omitempty"`
}

// Unit is the internal curriculum entity the matching pipeline scores
// external courses against. UnitID is the stable external-facing key;
// ID is the surrogate primary key used by the admin CRUD.
type Unit struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UnitID      string `gorm:"uniqueIndex;size:50;not null" json:"unit_id"`
	Title       string `gorm:"type:text;not null" json:"title"`
	ModuleID    uint   `gorm:"not null" json:"module_id"`
	Module      Module `json:"-"`
	Semester    *int   `json:"semester"`
	SWS         *int   `gorm:"column:sws" json:"sws"`
	Workload    string `gorm:"size:255" json:"workload"`
	Lehrsprache string `gorm:"size:255" json:"lehrsprache"`
	Lernziele   string `gorm:"type:text" json:"lernziele"`
	Inhalte     string `gorm:"type:text" json:"inhalte"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Verantwortliche []*Person `gorm:"many2many:units_personen" json:"verantwortliche,omitempty"`
}

// Person is a professor or staff member responsible for units.
type Person struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Units []*Unit `gorm:"many2many:units_personen" json:"-"`
}

// SnapshotUnit is the normalized in-memory view of one Unit at sync
// time. All numeric fields are rendered as strings because the index
// metadata treats them as display values.
type SnapshotUnit struct {
	UnitID          string
	Title           string
	ModuleID        string
	Semester        string
	SWS             string
	Workload        string
	Lehrsprache     string
	Lernziele       string
	Inhalte         string
	Verantwortliche []string
}

// SnapshotModule is the normalized in-memory view of one Module.
type SnapshotModule struct {
	ModuleID          string
	Title             string
	Credits           string
	SWS               string
	Semester          string
	Gesamtziele       string
	Pruefungsleistung string
}

// Snapshot is the full normalized catalog state handed to the sync
// engine, keyed by the external-facing unit and module ids.
type Snapshot struct {
	Units   map[string]SnapshotUnit
	Modules map[string]SnapshotModule
}
