package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"repotrack/internal/models"
	"repotrack/internal/utils"
	"repotrack/internal/validation"
)

var testSchema = []string{
	`CREATE TABLE repositories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		topics TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT '',
		stars INTEGER NOT NULL DEFAULT 0,
		forks INTEGER NOT NULL DEFAULT 0,
		issues INTEGER NOT NULL DEFAULT 0,
		commits INTEGER NOT NULL DEFAULT 0,
		contributors TEXT NOT NULL DEFAULT '',
		created_at TEXT,
		updated_at TEXT,
		last_commit TEXT,
		last_synced TEXT,
		tags TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1)
	)`,
	`CREATE TABLE repository_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	)`,
	`CREATE TABLE repository_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		comment TEXT NOT NULL,
		author TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE repository_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		version_number TEXT NOT NULL,
		release_date TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (repo_id, version_number)
	)`,
}

func setupStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_fk=1&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	for _, stmt := range testSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	return NewStore(db, zerolog.Nop()), db
}

func seedRepository(t *testing.T, s *Store) *models.Repository {
	t.Helper()

	created, err := s.Insert(context.Background(), models.Repository{
		ID:    "golang/go",
		Name:  "go",
		URL:   "https://github.com/golang/go",
		Stars: 100,
	})
	require.NoError(t, err)
	return created
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("new repository starts at version 1", func(t *testing.T) {
		s, _ := setupStore(t)
		created := seedRepository(t, s)
		assert.Equal(t, int64(1), created.Version)

		got, err := s.Get(ctx, "golang/go")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(100), got.Stars)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.Insert(ctx, models.Repository{
			ID:   "golang/go",
			Name: "go again",
			URL:  "https://github.com/golang/go",
		})
		require.Error(t, err)
		assert.True(t, utils.IsDuplicateError(err))
	})

	t.Run("invalid repository rejected before storage", func(t *testing.T) {
		s, db := setupStore(t)

		_, err := s.Insert(ctx, models.Repository{
			ID:   "bad id",
			Name: "x",
			URL:  "https://example.com/x",
		})
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))

		var count int64
		require.NoError(t, db.Model(&models.Repository{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestGet(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get(context.Background(), "nobody/nothing")
	require.Error(t, err)
	assert.True(t, utils.IsNotFoundError(err))
}

func TestUpdateFields(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted update bumps version by exactly one", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		updated, err := s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "150"}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, int64(150), updated.Stars)

		updated, err = s.UpdateFields(ctx, "golang/go", map[string]string{"forks": "30"}, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), updated.Version)
	})

	t.Run("one history entry per changed field", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.UpdateFields(ctx, "golang/go", map[string]string{
			"stars":       "150",
			"description": "The Go programming language",
			"name":        "go",
		}, 1)
		require.NoError(t, err)

		entries, err := s.ListHistory(ctx, "golang/go")
		require.NoError(t, err)
		// "name" did not actually change, so only two entries.
		require.Len(t, entries, 2)

		byField := make(map[string]models.RepositoryHistoryEntry)
		for _, e := range entries {
			byField[e.Field] = e
		}
		assert.Equal(t, "100", byField["stars"].OldValue)
		assert.Equal(t, "150", byField["stars"].NewValue)
		assert.Equal(t, "", byField["description"].OldValue)
	})

	t.Run("stale version is rejected with nothing written", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "150"}, 1)
		require.NoError(t, err)

		_, err = s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "999"}, 1)
		require.Error(t, err)
		assert.True(t, utils.IsOptimisticLockError(err))

		var lockErr *utils.OptimisticLockError
		require.True(t, errors.As(err, &lockErr))
		assert.Equal(t, int64(1), lockErr.ExpectedVersion)

		got, err := s.Get(ctx, "golang/go")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, int64(150), got.Stars)

		entries, err := s.ListHistory(ctx, "golang/go")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("empty change set rejected", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.UpdateFields(ctx, "golang/go", map[string]string{}, 1)
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))
	})

	t.Run("invalid change leaves record untouched", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.UpdateFields(ctx, "golang/go", map[string]string{
			"stars":  "-5",
			"rating": "10",
		}, 1)
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))

		got, err := s.Get(ctx, "golang/go")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(100), got.Stars)
	})

	t.Run("missing repository reported", func(t *testing.T) {
		s, _ := setupStore(t)

		_, err := s.UpdateFields(ctx, "nobody/nothing", map[string]string{"stars": "1"}, 1)
		require.Error(t, err)
		assert.True(t, utils.IsNotFoundError(err))
	})

	t.Run("exactly one concurrent writer wins", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		const writers = 5
		results := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "200"}, 1)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, utils.IsOptimisticLockError(err) || utils.IsStorageError(err),
				"unexpected error class: %v", err)
		}
		assert.Equal(t, 1, wins)

		got, err := s.Get(ctx, "golang/go")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, int64(200), got.Stars)

		entries, err := s.ListHistory(ctx, "golang/go")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the repository and all owned rows", func(t *testing.T) {
		s, db := setupStore(t)
		seedRepository(t, s)

		_, err := s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "150"}, 1)
		require.NoError(t, err)
		_, err = s.AddComment(ctx, validation.CommentInput{RepoID: "golang/go", Comment: "solid"})
		require.NoError(t, err)
		_, err = s.AddVersionSnapshot(ctx, models.RepositoryVersionSnapshot{
			RepoID:        "golang/go",
			VersionNumber: "v1.22.0",
		})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "golang/go"))

		for _, table := range []string{"repository_history", "repository_comments", "repository_versions"} {
			var count int64
			require.NoError(t, db.Table(table).Count(&count).Error)
			assert.Zero(t, count, "table %s should be empty after cascade delete", table)
		}
	})

	t.Run("missing repository reported", func(t *testing.T) {
		s, _ := setupStore(t)
		err := s.Delete(ctx, "nobody/nothing")
		require.Error(t, err)
		assert.True(t, utils.IsNotFoundError(err))
	})
}

func TestComments(t *testing.T) {
	ctx := context.Background()

	t.Run("omitted author defaults to anonymous", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		comment, err := s.AddComment(ctx, validation.CommentInput{RepoID: "golang/go", Comment: "nice"})
		require.NoError(t, err)
		assert.Equal(t, models.AnonymousAuthor, comment.Author)
		assert.NotEmpty(t, comment.CreatedAt)
	})

	t.Run("comment on missing repository rejected", func(t *testing.T) {
		s, _ := setupStore(t)

		_, err := s.AddComment(ctx, validation.CommentInput{RepoID: "nobody/nothing", Comment: "hello"})
		require.Error(t, err)
		assert.True(t, utils.IsNotFoundError(err))
	})

	t.Run("listing is newest first", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.AddComment(ctx, validation.CommentInput{
			RepoID: "golang/go", Comment: "first", CreatedAt: "2024-01-01T10:00:00Z",
		})
		require.NoError(t, err)
		_, err = s.AddComment(ctx, validation.CommentInput{
			RepoID: "golang/go", Comment: "second", CreatedAt: "2024-02-01T10:00:00Z",
		})
		require.NoError(t, err)

		comments, err := s.ListComments(ctx, "golang/go")
		require.NoError(t, err)
		require.Len(t, comments, 2)
		assert.Equal(t, "second", comments[0].Comment)
		assert.Equal(t, "first", comments[1].Comment)
	})
}

func TestVersionSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("version number unique per repository", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)

		_, err := s.AddVersionSnapshot(ctx, models.RepositoryVersionSnapshot{
			RepoID:        "golang/go",
			VersionNumber: "v1.22.0",
		})
		require.NoError(t, err)

		_, err = s.AddVersionSnapshot(ctx, models.RepositoryVersionSnapshot{
			RepoID:        "golang/go",
			VersionNumber: "v1.22.0",
		})
		require.Error(t, err)
		assert.True(t, utils.IsDuplicateError(err))
	})

	t.Run("same version number allowed on different repositories", func(t *testing.T) {
		s, _ := setupStore(t)
		seedRepository(t, s)
		_, err := s.Insert(ctx, models.Repository{
			ID:   "golang/tools",
			Name: "tools",
			URL:  "https://github.com/golang/tools",
		})
		require.NoError(t, err)

		for _, repoID := range []string{"golang/go", "golang/tools"} {
			_, err := s.AddVersionSnapshot(ctx, models.RepositoryVersionSnapshot{
				RepoID:        repoID,
				VersionNumber: "v1.0.0",
			})
			require.NoError(t, err)
		}
	})

	t.Run("snapshot on missing repository rejected", func(t *testing.T) {
		s, _ := setupStore(t)

		_, err := s.AddVersionSnapshot(ctx, models.RepositoryVersionSnapshot{
			RepoID:        "nobody/nothing",
			VersionNumber: "v1.0.0",
		})
		require.Error(t, err)
		assert.True(t, utils.IsNotFoundError(err))
	})
}

func TestListHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)
	seedRepository(t, s)

	_, err := s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "110"}, 1)
	require.NoError(t, err)
	_, err = s.UpdateFields(ctx, "golang/go", map[string]string{"stars": "120"}, 2)
	require.NoError(t, err)

	entries, err := s.ListHistory(ctx, "golang/go")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Same-timestamp entries fall back to insertion order, newest first.
	assert.Equal(t, "120", entries[0].NewValue)
	assert.Equal(t, "110", entries[1].NewValue)
}
