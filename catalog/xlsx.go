package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportStats summarizes one xlsx import run.
type ImportStats struct {
	Modules int
	Units   int
	Persons int
}

// ImportXLSX loads a module handbook workbook into the catalog.
// Expected layout: a "Module" sheet with the columns
//
//	module_id | title | credits | sws | semester | lernziele | pruefungsleistung
//
// and a "Units" sheet with
//
//	unit_id | title | module_id | semester | sws | workload | lehrsprache | lernziele | inhalte | verantwortliche
//
// where verantwortliche is a semicolon-separated list of person names.
// Existing rows are matched by their natural key (module_id / unit_id /
// name) and updated in place, so re-importing a handbook is idempotent
// apart from the updated_at bump that triggers the next index sync.
func (s *Store) ImportXLSX(ctx context.Context, path string) (*ImportStats, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	stats := &ImportStats{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moduleIDs, err := importModules(tx, f, stats)
		if err != nil {
			return err
		}
		return importUnits(tx, f, moduleIDs, stats)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func importModules(tx *gorm.DB, f *excelize.File, stats *ImportStats) (map[string]uint, error) {
	rows, err := f.GetRows("Module")
	if err != nil {
		return nil, fmt.Errorf("reading Module sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("Module sheet has no data rows")
	}

	ids := make(map[string]uint)
	for i, row := range rows[1:] {
		key := cell(row, 0)
		if key == "" {
			continue
		}
		m := Module{
			ModuleID:          key,
			Title:             cell(row, 1),
			Credits:           cellInt(row, 2),
			SWS:               cellInt(row, 3),
			Semester:          cellInt(row, 4),
			Lernziele:         cell(row, 5),
			Pruefungsleistung: cell(row, 6),
		}
		if m.Title == "" {
			return nil, fmt.Errorf("Module sheet row %d: missing title for %s", i+2, key)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "module_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "credits", "sws", "semester", "lernziele", "pruefungsleistung", "updated_at",
			}),
		}).Create(&m).Error; err != nil {
			return nil, fmt.Errorf("importing module %s: %w", key, err)
		}
		// Re-read to get the surrogate id on conflict-update paths.
		var saved Module
		if err := tx.Where("module_id = ?", key).First(&saved).Error; err != nil {
			return nil, err
		}
		ids[key] = saved.ID
		stats.Modules++
	}
	return ids, nil
}

func importUnits(tx *gorm.DB, f *excelize.File, moduleIDs map[string]uint, stats *ImportStats) error {
	rows, err := f.GetRows("Units")
	if err != nil {
		return fmt.Errorf("reading Units sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil
	}

	seenPersons := make(map[string]bool)
	for i, row := range rows[1:] {
		key := cell(row, 0)
		if key == "" {
			continue
		}
		moduleKey := cell(row, 2)
		moduleID, ok := moduleIDs[moduleKey]
		if !ok {
			// The module may already exist from an earlier import.
			var m Module
			if err := tx.Where("module_id = ?", moduleKey).First(&m).Error; err != nil {
				return fmt.Errorf("Units sheet row %d: unknown module %q", i+2, moduleKey)
			}
			moduleID = m.ID
			moduleIDs[moduleKey] = m.ID
		}

		u := Unit{
			UnitID:      key,
			Title:       cell(row, 1),
			ModuleID:    moduleID,
			Semester:    cellInt(row, 3),
			SWS:         cellInt(row, 4),
			Workload:    cell(row, 5),
			Lehrsprache: cell(row, 6),
			Lernziele:   cell(row, 7),
			Inhalte:     cell(row, 8),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "unit_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "module_id", "semester", "sws", "workload",
				"lehrsprache", "lernziele", "inhalte", "updated_at",
			}),
		}).Create(&u).Error; err != nil {
			return fmt.Errorf("importing unit %s: %w", key, err)
		}

		var saved Unit
		if err := tx.Where("unit_id = ?", key).First(&saved).Error; err != nil {
			return err
		}

		var persons []*Person
		for _, name := range splitNames(cell(row, 9)) {
			p := Person{Name: name}
			if err := tx.Where("name = ?", name).FirstOrCreate(&p).Error; err != nil {
				return fmt.Errorf("importing person %q: %w", name, err)
			}
			if !seenPersons[name] {
				seenPersons[name] = true
				stats.Persons++
			}
			persons = append(persons, &p)
		}
		if err := tx.Model(&saved).Association("Verantwortliche").Replace(persons); err != nil {
			return fmt.Errorf("linking persons for %s: %w", key, err)
		}
		stats.Units++
	}
	return nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func cellInt(row []string, i int) *int {
	raw := cell(row, i)
	if raw == "" {
		return nil
	}
	// Handbooks occasionally carry "6 CP" style cells.
	raw = strings.Fields(raw)[0]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ";") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
