package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"repotrack/internal/models"
	"repotrack/internal/utils"
)

// Engine discovers migration files in a directory and applies or reverses
// them against a database, tracking state in the schema_migrations ledger.
//
// The engine assumes exclusive access while migrating: callers serialize runs
// (the CLI takes a file lock), but each migration is still applied in its own
// transaction so a crash leaves either the old or the new schema, never a
// partial one.
type Engine struct {
	db     *gorm.DB
	dir    string
	logger zerolog.Logger
}

// NewEngine creates a migration engine for the given directory.
func NewEngine(db *gorm.DB, dir string, logger zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		dir:    dir,
		logger: logger,
	}
}

// StatusEntry describes one discovered migration's state.
type StatusEntry struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Drifted   bool       `json:"drifted"`
}

// Discover scans the migration directory and returns all migrations sorted
// so every migration appears after its dependencies. Returns a
// CyclicDependencyError when the dependency graph has no such order.
func (e *Engine) Discover() ([]Migration, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, &utils.MigrationError{Message: fmt.Sprintf("read migrations directory %s: %v", e.dir, err)}
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		m, err := ParseFile(filepath.Join(e.dir, entry.Name()))
		if err != nil {
			return nil, &utils.MigrationError{Message: err.Error()}
		}
		migrations = append(migrations, m)
	}

	return topoSort(migrations)
}

// topoSort orders migrations so dependencies come first (Kahn's algorithm,
// version order used to break ties so the result is deterministic).
// Dependencies outside the discovered set do not contribute edges; they are
// checked against the ledger at apply time instead.
func topoSort(migrations []Migration) ([]Migration, error) {
	byVersion := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	indegree := make(map[string]int, len(migrations))
	dependents := make(map[string][]string, len(migrations))
	for _, m := range migrations {
		if _, ok := indegree[m.Version]; !ok {
			indegree[m.Version] = 0
		}
		for _, dep := range m.Dependencies {
			if _, known := byVersion[dep]; known {
				indegree[m.Version]++
				dependents[dep] = append(dependents[dep], m.Version)
			}
		}
	}

	var ready []string
	for version, deg := range indegree {
		if deg == 0 {
			ready = append(ready, version)
		}
	}
	sort.Strings(ready)

	ordered := make([]Migration, 0, len(migrations))
	for len(ready) > 0 {
		version := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byVersion[version])

		var unlocked []string
		for _, dependent := range dependents[version] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(ordered) != len(migrations) {
		var stuck []string
		for version, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, version)
			}
		}
		sort.Strings(stuck)
		return nil, &utils.CyclicDependencyError{Versions: stuck}
	}

	return ordered, nil
}

// ensureLedger creates the schema_migrations table if missing.
func (e *Engine) ensureLedger() error {
	if err := e.db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return &utils.MigrationError{Message: fmt.Sprintf("create migrations ledger: %v", err)}
	}
	return nil
}

// Applied returns the ledger rows in apply order.
func (e *Engine) Applied() ([]models.SchemaMigration, error) {
	if err := e.ensureLedger(); err != nil {
		return nil, err
	}
	var applied []models.SchemaMigration
	if err := e.db.Order("applied_at, id").Find(&applied).Error; err != nil {
		return nil, &utils.MigrationError{Message: fmt.Sprintf("load applied migrations: %v", err)}
	}
	return applied, nil
}

// Status reports, for each discovered migration, whether it is applied and
// whether its on-disk checksum still matches the one recorded at apply time.
func (e *Engine) Status() ([]StatusEntry, error) {
	discovered, err := e.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := e.Applied()
	if err != nil {
		return nil, err
	}

	appliedByVersion := make(map[string]models.SchemaMigration, len(applied))
	for _, record := range applied {
		appliedByVersion[record.Version] = record
	}

	entries := make([]StatusEntry, 0, len(discovered))
	for _, m := range discovered {
		entry := StatusEntry{Version: m.Version, Name: m.Name}
		if record, ok := appliedByVersion[m.Version]; ok {
			appliedAt := record.AppliedAt
			entry.Applied = true
			entry.AppliedAt = &appliedAt
			entry.Drifted = record.Checksum != m.Checksum
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Validate recomputes every discovered migration's checksum and compares it
// to the ledger, reporting mismatches and applied migrations whose files are
// gone. Read-only.
func (e *Engine) Validate() ([]string, error) {
	discovered, err := e.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := e.Applied()
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]Migration, len(discovered))
	for _, m := range discovered {
		byVersion[m.Version] = m
	}

	var issues []string
	for _, record := range applied {
		current, ok := byVersion[record.Version]
		if !ok {
			issues = append(issues, fmt.Sprintf("applied migration %s not found in migration files", record.Version))
			continue
		}
		if current.Checksum != record.Checksum {
			issues = append(issues, fmt.Sprintf("migration %s checksum mismatch - file modified after apply", record.Version))
		}
	}
	return issues, nil
}

// Migrate applies all pending migrations in dependency order, up to and
// including target when given. Each migration's body and ledger insert commit
// together or not at all. Refuses to proceed when any applied migration has
// drifted, so compounding changes on a modified base is impossible.
func (e *Engine) Migrate(ctx context.Context, target string) ([]string, error) {
	discovered, err := e.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := e.Applied()
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]bool, len(applied))
	byVersion := make(map[string]Migration, len(discovered))
	for _, m := range discovered {
		byVersion[m.Version] = m
	}
	for _, record := range applied {
		appliedSet[record.Version] = true
		if current, ok := byVersion[record.Version]; ok && current.Checksum != record.Checksum {
			return nil, &utils.MigrationIntegrityError{Version: record.Version}
		}
	}

	var pending []Migration
	for _, m := range discovered {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}

	if target != "" {
		if _, ok := byVersion[target]; !ok {
			return nil, &utils.MigrationError{Version: target, Message: "not found in migration files"}
		}
		// Pending is in dependency order: everything the target needs
		// precedes it, so applying the prefix through the target is enough.
		cut := -1
		for i, m := range pending {
			if m.Version == target {
				cut = i
				break
			}
		}
		if cut == -1 {
			// target already applied
			pending = nil
		} else {
			pending = pending[:cut+1]
		}
	}

	var appliedVersions []string
	for _, m := range pending {
		for _, dep := range m.Dependencies {
			if !appliedSet[dep] {
				return appliedVersions, &utils.MigrationDependencyError{Version: m.Version, Dependency: dep}
			}
		}

		if err := e.apply(ctx, m); err != nil {
			return appliedVersions, err
		}
		appliedSet[m.Version] = true
		appliedVersions = append(appliedVersions, m.Version)
	}

	if len(appliedVersions) == 0 {
		e.logger.Info().Msg("no pending migrations to apply")
	}
	return appliedVersions, nil
}

// apply runs one migration's forward body and records it, atomically.
func (e *Engine) apply(ctx context.Context, m Migration) error {
	e.logger.Info().
		Str("version", m.Version).
		Str("name", m.Name).
		Msg("applying migration")

	start := time.Now()

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range splitStatements(m.UpSQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("execute statement: %w", err)
			}
		}

		record := models.SchemaMigration{
			Version:     m.Version,
			Name:        m.Name,
			Checksum:    m.Checksum,
			AppliedAt:   time.Now().UTC(),
			RollbackSQL: m.DownSQL,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
	if err != nil {
		return &utils.MigrationError{Version: m.Version, Message: err.Error()}
	}

	e.logger.Info().
		Str("version", m.Version).
		Dur("elapsed", time.Since(start)).
		Msg("migration applied")
	return nil
}

// Rollback reverses applied migrations most-recent-first, down to but not
// including target. Each reversal executes the down body captured in the
// ledger at apply time and removes the ledger row in one transaction.
func (e *Engine) Rollback(ctx context.Context, target string) ([]string, error) {
	discovered, err := e.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := e.Applied()
	if err != nil {
		return nil, err
	}

	if target != "" {
		found := false
		for _, record := range applied {
			if record.Version == target {
				found = true
				break
			}
		}
		if !found {
			return nil, &utils.MigrationError{Version: target, Message: "is not applied, nothing to roll back to"}
		}
	}

	// Most-recent-first until we reach the target.
	var toRollback []models.SchemaMigration
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].Version == target {
			break
		}
		toRollback = append(toRollback, applied[i])
	}

	dependenciesOf := make(map[string][]string, len(discovered))
	for _, m := range discovered {
		dependenciesOf[m.Version] = m.Dependencies
	}

	stillApplied := make(map[string]bool, len(applied))
	for _, record := range applied {
		stillApplied[record.Version] = true
	}

	var rolledBack []string
	for _, record := range toRollback {
		for version := range stillApplied {
			if version == record.Version {
				continue
			}
			for _, dep := range dependenciesOf[version] {
				if dep == record.Version {
					return rolledBack, &utils.MigrationError{
						Version: record.Version,
						Message: fmt.Sprintf("cannot roll back: still-applied migration %s depends on it", version),
					}
				}
			}
		}

		if err := e.reverse(ctx, record); err != nil {
			return rolledBack, err
		}
		delete(stillApplied, record.Version)
		rolledBack = append(rolledBack, record.Version)
	}

	if len(rolledBack) == 0 {
		e.logger.Info().Msg("no migrations to roll back")
	}
	return rolledBack, nil
}

// reverse runs one migration's down body and removes its ledger row,
// atomically.
func (e *Engine) reverse(ctx context.Context, record models.SchemaMigration) error {
	statements := splitStatements(record.RollbackSQL)
	if len(statements) == 0 {
		return &utils.MigrationError{Version: record.Version, Message: "has no rollback body"}
	}

	e.logger.Info().
		Str("version", record.Version).
		Str("name", record.Name).
		Msg("rolling back migration")

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("execute rollback statement: %w", err)
			}
		}
		if err := tx.Where("version = ?", record.Version).Delete(&models.SchemaMigration{}).Error; err != nil {
			return fmt.Errorf("remove ledger row: %w", err)
		}
		return nil
	})
	if err != nil {
		return &utils.MigrationError{Version: record.Version, Message: err.Error()}
	}

	return nil
}
