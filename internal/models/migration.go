package models

import (
	"time"
)

// SchemaMigration is one ledger row recording an applied schema migration.
// The checksum is the file's content hash at apply time; RollbackSQL is the
// down body captured at apply time so later file edits cannot change what a
// rollback executes.
type SchemaMigration struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Version     string    `gorm:"uniqueIndex;not null" json:"version"`
	Name        string    `gorm:"not null" json:"name"`
	Checksum    string    `gorm:"not null" json:"checksum"`
	AppliedAt   time.Time `json:"applied_at"`
	RollbackSQL string    `gorm:"type:text" json:"-"`
}

// TableName ensures consistent table naming
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}
