package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"repotrack/internal/models"
	"repotrack/internal/utils"
)

func setupEngine(t *testing.T) (*Engine, string, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	return NewEngine(db, dir, zerolog.Nop()), dir, db
}

func writeMigration(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func migrationContent(name, deps, up, down string) string {
	return fmt.Sprintf("-- Name: %s\n-- Dependencies: %s\n\n-- +migrate Up\n%s\n\n-- +migrate Down\n%s\n",
		name, deps, up, down)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("extracts version name and dependencies", func(t *testing.T) {
		writeMigration(t, dir, "002_add_widgets.sql", migrationContent(
			"Add Widgets", "001, 000",
			"CREATE TABLE widgets (id INTEGER PRIMARY KEY);",
			"DROP TABLE widgets;",
		))

		m, err := ParseFile(filepath.Join(dir, "002_add_widgets.sql"))
		require.NoError(t, err)
		assert.Equal(t, "002", m.Version)
		assert.Equal(t, "Add Widgets", m.Name)
		assert.Equal(t, []string{"001", "000"}, m.Dependencies)
		assert.Contains(t, m.UpSQL, "CREATE TABLE widgets")
		assert.Contains(t, m.DownSQL, "DROP TABLE widgets")
		assert.Len(t, m.Checksum, 64)
	})

	t.Run("name falls back to filename", func(t *testing.T) {
		writeMigration(t, dir, "003_initial_schema.sql",
			"-- +migrate Up\nCREATE TABLE t (id INTEGER);\n-- +migrate Down\nDROP TABLE t;\n")

		m, err := ParseFile(filepath.Join(dir, "003_initial_schema.sql"))
		require.NoError(t, err)
		assert.Equal(t, "Initial Schema", m.Name)
		assert.Empty(t, m.Dependencies)
	})

	t.Run("checksum covers full content", func(t *testing.T) {
		writeMigration(t, dir, "004_a.sql", migrationContent("A", "", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))
		before, err := ParseFile(filepath.Join(dir, "004_a.sql"))
		require.NoError(t, err)

		// A comment-only edit still changes the checksum.
		writeMigration(t, dir, "004_a.sql", "-- touched\n"+migrationContent("A", "", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))
		after, err := ParseFile(filepath.Join(dir, "004_a.sql"))
		require.NoError(t, err)

		assert.NotEqual(t, before.Checksum, after.Checksum)
		assert.Equal(t, before.UpSQL, after.UpSQL)
	})
}

func TestDiscoverOrdering(t *testing.T) {
	t.Run("dependency order beats lexical order", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_base.sql", migrationContent("Base", "",
			"CREATE TABLE base (id INTEGER);", "DROP TABLE base;"))
		writeMigration(t, dir, "002_late.sql", migrationContent("Late", "003",
			"CREATE TABLE late (id INTEGER);", "DROP TABLE late;"))
		writeMigration(t, dir, "003_early.sql", migrationContent("Early", "001",
			"CREATE TABLE early (id INTEGER);", "DROP TABLE early;"))

		ordered, err := engine.Discover()
		require.NoError(t, err)
		require.Len(t, ordered, 3)
		assert.Equal(t, "001", ordered[0].Version)
		assert.Equal(t, "003", ordered[1].Version)
		assert.Equal(t, "002", ordered[2].Version)
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "002",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))
		writeMigration(t, dir, "002_b.sql", migrationContent("B", "001",
			"CREATE TABLE b (id INTEGER);", "DROP TABLE b;"))

		_, err := engine.Discover()
		require.Error(t, err)

		var cycleErr *utils.CyclicDependencyError
		require.True(t, errors.As(err, &cycleErr))
		assert.ElementsMatch(t, []string{"001", "002"}, cycleErr.Versions)
	})
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migrations and records the ledger", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_widgets.sql", migrationContent("Widgets", "",
			"CREATE TABLE widgets (id INTEGER PRIMARY KEY, label TEXT);", "DROP TABLE widgets;"))
		writeMigration(t, dir, "002_gadgets.sql", migrationContent("Gadgets", "001",
			"CREATE TABLE gadgets (id INTEGER PRIMARY KEY);", "DROP TABLE gadgets;"))

		applied, err := engine.Migrate(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"001", "002"}, applied)
		assert.True(t, db.Migrator().HasTable("widgets"))
		assert.True(t, db.Migrator().HasTable("gadgets"))

		records, err := engine.Applied()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "001", records[0].Version)
		assert.NotEmpty(t, records[0].Checksum)
		assert.Contains(t, records[0].RollbackSQL, "DROP TABLE widgets")
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_widgets.sql", migrationContent("Widgets", "",
			"CREATE TABLE widgets (id INTEGER);", "DROP TABLE widgets;"))

		_, err := engine.Migrate(ctx, "")
		require.NoError(t, err)

		applied, err := engine.Migrate(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, applied)

		records, err := engine.Applied()
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("target stops after its prefix", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))
		writeMigration(t, dir, "002_b.sql", migrationContent("B", "001",
			"CREATE TABLE b (id INTEGER);", "DROP TABLE b;"))
		writeMigration(t, dir, "003_c.sql", migrationContent("C", "002",
			"CREATE TABLE c (id INTEGER);", "DROP TABLE c;"))

		applied, err := engine.Migrate(ctx, "002")
		require.NoError(t, err)
		assert.Equal(t, []string{"001", "002"}, applied)
		assert.True(t, db.Migrator().HasTable("b"))
		assert.False(t, db.Migrator().HasTable("c"))
	})

	t.Run("unknown target rejected", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))

		_, err := engine.Migrate(ctx, "999")
		require.Error(t, err)
		assert.True(t, utils.IsMigrationError(err))
	})

	t.Run("missing dependency rejected", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "002_b.sql", migrationContent("B", "001",
			"CREATE TABLE b (id INTEGER);", "DROP TABLE b;"))

		_, err := engine.Migrate(ctx, "")
		require.Error(t, err)

		var depErr *utils.MigrationDependencyError
		require.True(t, errors.As(err, &depErr))
		assert.Equal(t, "002", depErr.Version)
		assert.Equal(t, "001", depErr.Dependency)
	})

	t.Run("failed migration leaves no ledger row", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_bad.sql", migrationContent("Bad", "",
			"CREATE TABLE ok (id INTEGER);\nTHIS IS NOT SQL;", "DROP TABLE ok;"))

		_, err := engine.Migrate(ctx, "")
		require.Error(t, err)

		var count int64
		require.NoError(t, db.Model(&models.SchemaMigration{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestChecksumDrift(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Engine, string) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_widgets.sql", migrationContent("Widgets", "",
			"CREATE TABLE widgets (id INTEGER);", "DROP TABLE widgets;"))
		_, err := engine.Migrate(ctx, "")
		require.NoError(t, err)

		// Rewrite the applied file so its checksum no longer matches.
		writeMigration(t, dir, "001_widgets.sql", migrationContent("Widgets", "",
			"CREATE TABLE widgets (id INTEGER, sneaky TEXT);", "DROP TABLE widgets;"))
		return engine, dir
	}

	t.Run("validate reports the mismatch", func(t *testing.T) {
		engine, _ := setup(t)
		issues, err := engine.Validate()
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0], "001")
		assert.Contains(t, issues[0], "checksum mismatch")
	})

	t.Run("status flags the drifted migration", func(t *testing.T) {
		engine, _ := setup(t)
		entries, err := engine.Status()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Applied)
		assert.True(t, entries[0].Drifted)
	})

	t.Run("migrate refuses to proceed", func(t *testing.T) {
		engine, dir := setup(t)
		writeMigration(t, dir, "002_gadgets.sql", migrationContent("Gadgets", "001",
			"CREATE TABLE gadgets (id INTEGER);", "DROP TABLE gadgets;"))

		_, err := engine.Migrate(ctx, "")
		require.Error(t, err)

		var integrityErr *utils.MigrationIntegrityError
		require.True(t, errors.As(err, &integrityErr))
		assert.Equal(t, "001", integrityErr.Version)
	})

	t.Run("deleted file reported by validate", func(t *testing.T) {
		engine, dir := setup(t)
		require.NoError(t, os.Remove(filepath.Join(dir, "001_widgets.sql")))

		issues, err := engine.Validate()
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0], "not found in migration files")
	})
}

func TestRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("reverses most recent first down to the target", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))
		writeMigration(t, dir, "002_b.sql", migrationContent("B", "001",
			"CREATE TABLE b (id INTEGER);", "DROP TABLE b;"))
		writeMigration(t, dir, "003_c.sql", migrationContent("C", "002",
			"CREATE TABLE c (id INTEGER);", "DROP TABLE c;"))

		_, err := engine.Migrate(ctx, "")
		require.NoError(t, err)

		rolledBack, err := engine.Rollback(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, []string{"003", "002"}, rolledBack)
		assert.True(t, db.Migrator().HasTable("a"))
		assert.False(t, db.Migrator().HasTable("b"))
		assert.False(t, db.Migrator().HasTable("c"))

		records, err := engine.Applied()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "001", records[0].Version)
	})

	t.Run("rollback uses the down body captured at apply time", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))

		_, err := engine.Migrate(ctx, "")
		require.NoError(t, err)

		// The file's down body changes after apply; the recorded one still runs.
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE does_not_exist;"))

		rolledBack, err := engine.Rollback(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"001"}, rolledBack)
		assert.False(t, db.Migrator().HasTable("a"))
	})

	t.Run("unapplied target rejected", func(t *testing.T) {
		engine, dir, _ := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", "DROP TABLE a;"))

		_, err := engine.Rollback(ctx, "999")
		require.Error(t, err)
		assert.True(t, utils.IsMigrationError(err))
	})

	t.Run("empty rollback body rejected", func(t *testing.T) {
		engine, dir, db := setupEngine(t)
		writeMigration(t, dir, "001_a.sql", migrationContent("A", "",
			"CREATE TABLE a (id INTEGER);", ""))

		_, err := engine.Migrate(ctx, "")
		require.NoError(t, err)

		_, err = engine.Rollback(ctx, "")
		require.Error(t, err)
		assert.True(t, utils.IsMigrationError(err))
		assert.True(t, db.Migrator().HasTable("a"))
	})
}

func TestCreateFile(t *testing.T) {
	dir := t.TempDir()

	path, err := CreateFile(dir, "Add User Notes", []string{"001"},
		"CREATE TABLE notes (id INTEGER);", "DROP TABLE notes;")
	require.NoError(t, err)

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Add User Notes", m.Name)
	assert.Equal(t, []string{"001"}, m.Dependencies)
	assert.Contains(t, filepath.Base(path), "add_user_notes")
	assert.Contains(t, m.UpSQL, "CREATE TABLE notes")
}
