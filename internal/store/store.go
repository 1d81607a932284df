// Package store is the persistence façade for repository records and their
// owned children. Reads return the record with its current version number;
// writes are accepted only when the caller's expected version still matches
// the stored one, enforced by a single conditional UPDATE so no race window
// exists between the version check and the write.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"repotrack/internal/database"
	"repotrack/internal/models"
	"repotrack/internal/utils"
	"repotrack/internal/validation"
)

// Transient storage contention (SQLite's single writer, pool saturation) is
// retried internally; conflicting writers are not.
const (
	maxBusyRetries = 3
	busyRetryDelay = 50 * time.Millisecond
)

// Store handles repository persistence with optimistic concurrency control.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new Store instance.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Get returns the repository with its current version number.
func (s *Store) Get(ctx context.Context, repoID string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.WithContext(ctx).First(&repo, "id = ?", repoID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.WrapNotFoundError("repository", repoID)
		}
		return nil, utils.WrapStorageError("get repository", err)
	}
	return &repo, nil
}

// List returns all tracked repositories ordered by id.
func (s *Store) List(ctx context.Context) ([]models.Repository, error) {
	var repos []models.Repository
	if err := s.db.WithContext(ctx).Order("id").Find(&repos).Error; err != nil {
		return nil, utils.WrapStorageError("list repositories", err)
	}
	return repos, nil
}

// Insert validates and persists a new repository at version 1. Returns a
// DuplicateError when the id is already tracked.
func (s *Store) Insert(ctx context.Context, repo models.Repository) (*models.Repository, error) {
	validated, err := validation.ValidateRepository(repo)
	if err != nil {
		return nil, err
	}
	validated.Version = 1

	err = s.withRetry("insert repository", func() error {
		return s.db.WithContext(ctx).Create(&validated).Error
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, utils.WrapDuplicateError("repository", "id", validated.ID)
		}
		return nil, s.classify("insert repository", err)
	}

	s.logger.Info().Str("repo_id", validated.ID).Msg("repository inserted")
	return &validated, nil
}

// UpdateFields validates and applies a set of field changes, recording one
// history entry per field whose value actually changed, then bumps the
// version by exactly 1 — all of it conditional on the row still being at
// expectedVersion when the UPDATE runs. On a version mismatch nothing is
// written and an OptimisticLockError is returned; the caller re-reads and
// retries, or surfaces the conflict.
func (s *Store) UpdateFields(ctx context.Context, repoID string, changes map[string]string, expectedVersion int64) (*models.Repository, error) {
	if len(changes) == 0 {
		return nil, utils.NewValidationError("repository").Add("", "no field changes provided")
	}

	var updated models.Repository
	err := s.withRetry("update repository fields", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current models.Repository
			if err := tx.First(&current, "id = ?", repoID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.WrapNotFoundError("repository", repoID)
				}
				return err
			}

			merged, err := validation.ApplyFieldChanges(current, changes)
			if err != nil {
				return err
			}

			fields := make([]string, 0, len(changes))
			for field := range changes {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			changedAt := models.NowISO()
			updates := map[string]interface{}{
				"version": expectedVersion + 1,
			}
			var history []models.RepositoryHistoryEntry
			for _, field := range fields {
				oldValue := current.FieldValue(field)
				newValue := merged.FieldValue(field)
				updates[field] = merged.ColumnValue(field)
				if oldValue == newValue {
					continue
				}
				entry, err := validation.ValidateHistoryEntry(models.RepositoryHistoryEntry{
					RepoID:    repoID,
					Field:     field,
					OldValue:  oldValue,
					NewValue:  newValue,
					ChangedAt: changedAt,
				})
				if err != nil {
					return err
				}
				history = append(history, entry)
			}

			if len(history) > 0 {
				if err := tx.Create(&history).Error; err != nil {
					return err
				}
			}

			// The version check and the write are one conditional statement;
			// zero rows affected means another writer got there first and the
			// transaction (history rows included) rolls back.
			result := tx.Model(&models.Repository{}).
				Where("id = ? AND version = ?", repoID, expectedVersion).
				Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return &utils.OptimisticLockError{
					Resource:        "repository",
					ID:              repoID,
					ExpectedVersion: expectedVersion,
				}
			}

			updated = merged
			updated.Version = expectedVersion + 1
			return nil
		})
	})
	if err != nil {
		return nil, s.classify("update repository fields", err)
	}

	s.logger.Info().
		Str("repo_id", repoID).
		Int64("version", updated.Version).
		Int("fields", len(changes)).
		Msg("repository updated")
	return &updated, nil
}

// Delete removes a repository and, through the cascade constraints, all of
// its history entries, comments and version snapshots as one atomic unit.
func (s *Store) Delete(ctx context.Context, repoID string) error {
	err := s.withRetry("delete repository", func() error {
		result := s.db.WithContext(ctx).Delete(&models.Repository{}, "id = ?", repoID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.WrapNotFoundError("repository", repoID)
		}
		return nil
	})
	if err != nil {
		return s.classify("delete repository", err)
	}

	s.logger.Info().Str("repo_id", repoID).Msg("repository deleted")
	return nil
}

// AddComment validates and appends a comment to an existing repository.
func (s *Store) AddComment(ctx context.Context, input validation.CommentInput) (*models.RepositoryComment, error) {
	if input.CreatedAt == "" {
		input.CreatedAt = models.NowISO()
	}
	comment, err := validation.ValidateComment(input)
	if err != nil {
		return nil, err
	}

	if err := s.ensureExists(ctx, comment.RepoID); err != nil {
		return nil, err
	}

	err = s.withRetry("add comment", func() error {
		return s.db.WithContext(ctx).Create(&comment).Error
	})
	if err != nil {
		if isForeignKeyError(err) {
			return nil, utils.WrapNotFoundError("repository", comment.RepoID)
		}
		return nil, s.classify("add comment", err)
	}
	return &comment, nil
}

// ListComments returns a repository's comments, newest first.
func (s *Store) ListComments(ctx context.Context, repoID string) ([]models.RepositoryComment, error) {
	if err := s.ensureExists(ctx, repoID); err != nil {
		return nil, err
	}

	var comments []models.RepositoryComment
	err := s.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at DESC, id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, utils.WrapStorageError("list comments", err)
	}
	return comments, nil
}

// AddVersionSnapshot validates and records a named release snapshot. The
// version number must be unique within the repository.
func (s *Store) AddVersionSnapshot(ctx context.Context, snapshot models.RepositoryVersionSnapshot) (*models.RepositoryVersionSnapshot, error) {
	if snapshot.CreatedAt == "" {
		snapshot.CreatedAt = models.NowISO()
	}
	validated, err := validation.ValidateVersionSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	if err := s.ensureExists(ctx, validated.RepoID); err != nil {
		return nil, err
	}

	err = s.withRetry("add version snapshot", func() error {
		return s.db.WithContext(ctx).Create(&validated).Error
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, utils.WrapDuplicateError("version snapshot", "version_number", validated.VersionNumber)
		}
		if isForeignKeyError(err) {
			return nil, utils.WrapNotFoundError("repository", validated.RepoID)
		}
		return nil, s.classify("add version snapshot", err)
	}
	return &validated, nil
}

// ListVersionSnapshots returns a repository's release snapshots, newest
// first.
func (s *Store) ListVersionSnapshots(ctx context.Context, repoID string) ([]models.RepositoryVersionSnapshot, error) {
	if err := s.ensureExists(ctx, repoID); err != nil {
		return nil, err
	}

	var snapshots []models.RepositoryVersionSnapshot
	err := s.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at DESC, id DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, utils.WrapStorageError("list version snapshots", err)
	}
	return snapshots, nil
}

// ListHistory returns a repository's audit trail, newest first. Ties on
// changed_at fall back to insertion order so the listing is stable.
func (s *Store) ListHistory(ctx context.Context, repoID string) ([]models.RepositoryHistoryEntry, error) {
	if err := s.ensureExists(ctx, repoID); err != nil {
		return nil, err
	}

	var entries []models.RepositoryHistoryEntry
	err := s.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("changed_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, utils.WrapStorageError("list history", err)
	}
	return entries, nil
}

// ensureExists fails with NotFoundError when the parent repository is gone.
func (s *Store) ensureExists(ctx context.Context, repoID string) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Repository{}).
		Where("id = ?", repoID).
		Count(&count).Error
	if err != nil {
		return utils.WrapStorageError("check repository exists", err)
	}
	if count == 0 {
		return utils.WrapNotFoundError("repository", repoID)
	}
	return nil
}

// withRetry runs fn, retrying a small fixed number of times with backoff when
// the storage layer signals transient contention, and surfacing a
// StorageError once exhausted.
func (s *Store) withRetry(operation string, fn func() error) error {
	var err error
	delay := busyRetryDelay
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !database.IsTransientError(err) {
			return err
		}
		if attempt < maxBusyRetries {
			s.logger.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Msg("transient storage contention, retrying")
			time.Sleep(delay)
			delay *= 2
		}
	}
	return utils.WrapStorageError(operation, err)
}

// classify passes through the typed error taxonomy and wraps anything else
// as a StorageError.
func (s *Store) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if utils.IsValidationError(err) ||
		utils.IsNotFoundError(err) ||
		utils.IsDuplicateError(err) ||
		utils.IsOptimisticLockError(err) ||
		utils.IsStorageError(err) {
		return err
	}
	return utils.WrapStorageError(operation, err)
}

// isDuplicateKeyError recognizes unique-constraint violations across the
// supported drivers.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed: unique") ||
		strings.Contains(msg, "duplicate key")
}

// isForeignKeyError recognizes foreign-key violations across the supported
// drivers.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key constraint")
}
