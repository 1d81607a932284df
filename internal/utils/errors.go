package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification with errors.Is
var (
	// ErrValidation is returned when input validation fails
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with an existing resource
	ErrDuplicate = errors.New("duplicate")

	// ErrOptimisticLock is returned when a conditional write loses a version race
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrStorage is returned when an underlying storage operation fails
	ErrStorage = errors.New("storage error")

	// ErrMigration is the base classification for schema migration failures
	ErrMigration = errors.New("migration error")
)

// Violation describes a single broken validation rule.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Field != "" {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return v.Message
}

// ValidationError carries every rule violated by an input record, not just
// the first, so callers can report all problems at once.
type ValidationError struct {
	Entity     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%s validation failed: %s", e.Entity, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add records a violation and returns the error for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
	return e
}

// OrNil returns nil when no violations were recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// NewValidationError creates an empty violation accumulator for an entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateError represents a unique-constraint collision on insert
type DuplicateError struct {
	Resource string
	Field    string
	Value    string
}

func (e *DuplicateError) Error() string {
	if e.Field != "" && e.Value != "" {
		return fmt.Sprintf("%s already exists with %s='%s'", e.Resource, e.Field, e.Value)
	}
	return fmt.Sprintf("%s already exists", e.Resource)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// OptimisticLockError is returned when a write's expected version no longer
// matches the stored version. Recoverable: callers re-read and retry or
// surface the conflict.
type OptimisticLockError struct {
	Resource        string
	ID              string
	ExpectedVersion int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("%s '%s' was modified by another writer (expected version %d)",
		e.Resource, e.ID, e.ExpectedVersion)
}

func (e *OptimisticLockError) Unwrap() error {
	return ErrOptimisticLock
}

// StorageError represents an unclassified I/O or constraint failure in the
// storage layer, surfaced after internal retries are exhausted.
type StorageError struct {
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("storage error during %s", e.Operation)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}

// MigrationError is a general schema-migration failure.
type MigrationError struct {
	Version string
	Message string
}

func (e *MigrationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("migration %s: %s", e.Version, e.Message)
	}
	return fmt.Sprintf("migration error: %s", e.Message)
}

func (e *MigrationError) Unwrap() error {
	return ErrMigration
}

// MigrationDependencyError is returned when a migration cannot be applied
// because one of its declared dependencies is not applied or not discovered.
type MigrationDependencyError struct {
	Version    string
	Dependency string
}

func (e *MigrationDependencyError) Error() string {
	return fmt.Sprintf("migration %s depends on %s which is not applied", e.Version, e.Dependency)
}

func (e *MigrationDependencyError) Unwrap() error {
	return ErrMigration
}

// MigrationIntegrityError is returned when an applied migration's recorded
// checksum no longer matches its file content.
type MigrationIntegrityError struct {
	Version string
}

func (e *MigrationIntegrityError) Error() string {
	return fmt.Sprintf("migration %s checksum mismatch: file modified after apply", e.Version)
}

func (e *MigrationIntegrityError) Unwrap() error {
	return ErrMigration
}

// CyclicDependencyError is returned when the migration dependency graph has
// no valid topological order.
type CyclicDependencyError struct {
	Versions []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("migration dependency cycle involving: %s", strings.Join(e.Versions, ", "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrMigration
}

// Error wrapping helpers

// WrapNotFoundError wraps an error as a not found error
func WrapNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// WrapDuplicateError wraps an error as a duplicate error
func WrapDuplicateError(resource, field, value string) error {
	return &DuplicateError{Resource: resource, Field: field, Value: value}
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(operation string, cause error) error {
	return &StorageError{Operation: operation, Cause: cause}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if an error is a duplicate error
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsOptimisticLockError checks if an error is an optimistic lock conflict
func IsOptimisticLockError(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsMigrationError checks if an error is a migration error
func IsMigrationError(err error) bool {
	return errors.Is(err, ErrMigration)
}
