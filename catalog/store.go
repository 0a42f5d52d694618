package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
)

// ErrNotFound is returned by the single-entity getters when no row
// matches the given id.
var ErrNotFound = errors.New("catalog: record not found")

// Store wraps the gorm connection to the catalog database.
type Store struct {
	db  *gorm.DB
	log *logging.Logger
}

// Open connects to the catalog database. A non-empty databaseURL
// selects Postgres; otherwise a local SQLite file at sqlitePath is
// used. The schema is migrated on open.
func Open(databaseURL, sqlitePath string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormCfg)
	} else {
		if sqlitePath == "" {
			sqlitePath = "catalog.db"
		}
		db, err = gorm.Open(sqlite.Open(sqlitePath+"?_foreign_keys=on"), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to catalog database: %w", err)
	}

	if err := db.AutoMigrate(&Person{}, &Module{}, &Unit{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &Store{db: db, log: log.With("component", "catalog")}, nil
}

// DB exposes the underlying gorm handle for tests.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checksum returns the newest units.updated_at, the cheap change token
// the sync gate compares between calls. The zero time is returned when
// the table is empty. Reading the column through the model keeps the
// driver's time conversion in play on both backends; a raw MAX()
// aggregate comes back untyped from SQLite.
func (s *Store) Checksum(ctx context.Context) (time.Time, error) {
	var u Unit
	err := s.db.WithContext(ctx).
		Select("updated_at").
		Order("updated_at DESC").
		Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading units checksum: %w", err)
	}
	return u.UpdatedAt, nil
}

// Snapshot loads every unit and module into the normalized form the
// sync engine diffs against the semantic index.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	var modules []Module
	if err := s.db.WithContext(ctx).Find(&modules).Error; err != nil {
		return nil, fmt.Errorf("loading modules: %w", err)
	}

	moduleKeyByID := make(map[uint]string, len(modules))
	snap := &Snapshot{
		Units:   make(map[string]SnapshotUnit),
		Modules: make(map[string]SnapshotModule, len(modules)),
	}
	for _, m := range modules {
		moduleKeyByID[m.ID] = m.ModuleID
		snap.Modules[m.ModuleID] = SnapshotModule{
			ModuleID:          m.ModuleID,
			Title:             m.Title,
			Credits:           intString(m.Credits),
			SWS:               intString(m.SWS),
			Semester:          intString(m.Semester),
			Gesamtziele:       m.Lernziele,
			Pruefungsleistung: m.Pruefungsleistung,
		}
	}

	var units []Unit
	if err := s.db.WithContext(ctx).
		Preload("Verantwortliche").
		Find(&units).Error; err != nil {
		return nil, fmt.Errorf("loading units: %w", err)
	}

	for _, u := range units {
		names := make([]string, 0, len(u.Verantwortliche))
		for _, p := range u.Verantwortliche {
			names = append(names, p.Name)
		}
		snap.Units[u.UnitID] = SnapshotUnit{
			UnitID:          u.UnitID,
			Title:           u.Title,
			ModuleID:        moduleKeyByID[u.ModuleID],
			Semester:        intString(u.Semester),
			SWS:             intString(u.SWS),
			Workload:        u.Workload,
			Lehrsprache:     u.Lehrsprache,
			Lernziele:       u.Lernziele,
			Inhalte:         u.Inhalte,
			Verantwortliche: names,
		}
	}

	return snap, nil
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// ---------------------------------------------------------------------------
// Unit CRUD
// ---------------------------------------------------------------------------

// ListUnits returns all units with their module and responsible persons.
func (s *Store) ListUnits(ctx context.Context) ([]Unit, error) {
	var units []Unit
	err := s.db.WithContext(ctx).
		Preload("Module").
		Preload("Verantwortliche").
		Find(&units).Error
	return units, err
}

// GetUnit returns one unit by surrogate id.
func (s *Store) GetUnit(ctx context.Context, id uint) (*Unit, error) {
	var u Unit
	err := s.db.WithContext(ctx).
		Preload("Module").
		Preload("Verantwortliche").
		First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUnit inserts a unit and links the given responsible persons.
func (s *Store) CreateUnit(ctx context.Context, u *Unit, personIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		return s.replacePersons(tx, u, personIDs)
	})
}

// UpdateUnit applies the given field updates. personIDs == nil leaves
// the responsible-person links untouched; an empty slice clears them.
func (s *Store) UpdateUnit(ctx context.Context, id uint, updates map[string]interface{}, personIDs []uint) (*Unit, error) {
	u, err := s.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(u).Updates(updates).Error; err != nil {
				return err
			}
		}
		// Touch updated_at even when only the person links change, so
		// the sync checksum sees the edit.
		if err := tx.Model(u).Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		if personIDs != nil {
			return s.replacePersons(tx, u, personIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUnit(ctx, id)
}

// DeleteUnit removes a unit and its person links.
func (s *Store) DeleteUnit(ctx context.Context, id uint) error {
	u, err := s.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Association("Verantwortliche").Clear(); err != nil {
			return err
		}
		return tx.Delete(u).Error
	})
}

func (s *Store) replacePersons(tx *gorm.DB, u *Unit, personIDs []uint) error {
	var persons []*Person
	if len(personIDs) > 0 {
		if err := tx.Where("id IN ?", personIDs).Find(&persons).Error; err != nil {
			return err
		}
	}
	return tx.Model(u).Association("Verantwortliche").Replace(persons)
}

// ---------------------------------------------------------------------------
// Module CRUD
// ---------------------------------------------------------------------------

func (s *Store) ListModules(ctx context.Context) ([]Module, error) {
	var modules []Module
	err := s.db.WithContext(ctx).Find(&modules).Error
	return modules, err
}

func (s *Store) GetModule(ctx context.Context, id uint) (*Module, error) {
	var m Module
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateModule(ctx context.Context, m *Module) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) UpdateModule(ctx context.Context, id uint, updates map[string]interface{}) (*Module, error) {
	m, err := s.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(m).Updates(updates).Error; err != nil {
				return err
			}
		}
		// Module fields feed the unit documents, so the owned units
		// must carry the edit forward to the sync checksum.
		return tx.Model(&Unit{}).
			Where("module_id = ?", m.ID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetModule(ctx, id)
}

// DeleteModule removes a module; its units cascade in the catalog. The
// loose unit rows disappear from the semantic index on the next sync,
// which only observes unit-level ids.
func (s *Store) DeleteModule(ctx context.Context, id uint) error {
	m, err := s.GetModule(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var units []Unit
		if err := tx.Where("module_id = ?", m.ID).Find(&units).Error; err != nil {
			return err
		}
		for i := range units {
			if err := tx.Model(&units[i]).Association("Verantwortliche").Clear(); err != nil {
				return err
			}
		}
		if len(units) > 0 {
			if err := tx.Where("module_id = ?", m.ID).Delete(&Unit{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(m).Error
	})
}

// ---------------------------------------------------------------------------
// Person CRUD
// ---------------------------------------------------------------------------

func (s *Store) ListPersons(ctx context.Context) ([]Person, error) {
	var persons []Person
	err := s.db.WithContext(ctx).Find(&persons).Error
	return persons, err
}

func (s *Store) GetPerson(ctx context.Context, id uint) (*Person, error) {
	var p Person
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePerson(ctx context.Context, p *Person) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) UpdatePerson(ctx context.Context, id uint, updates map[string]interface{}) (*Person, error) {
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(p).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetPerson(ctx, id)
}

func (s *Store) DeletePerson(ctx context.Context, id uint) error {
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(p).Association("Units").Clear(); err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
}
