package models

// Repository represents a tracked GitHub repository. The primary key is the
// canonical "owner/repo" identifier and is immutable after insert.
//
// Version is the optimistic-lock counter: it starts at 1 and increases by
// exactly 1 on every accepted mutation. It is unrelated to the named release
// snapshots stored in repository_versions.
type Repository struct {
	ID           string  `gorm:"primaryKey;size:255" json:"id"`
	Name         string  `gorm:"not null" json:"name"`
	Description  string  `json:"description,omitempty"`
	URL          string  `gorm:"not null" json:"url"`
	Topics       string  `json:"topics,omitempty"`
	License      string  `json:"license,omitempty"`
	Stars        int64   `gorm:"not null;default:0;check:stars >= 0" json:"stars"`
	Forks        int64   `gorm:"not null;default:0;check:forks >= 0" json:"forks"`
	Issues       int64   `gorm:"not null;default:0;check:issues >= 0" json:"issues"`
	Commits      int64   `gorm:"not null;default:0;check:commits >= 0" json:"commits"`
	Contributors string  `json:"contributors,omitempty"`
	// Upstream timestamps are stored as ISO-8601 text so the row carries
	// exactly what the record source reported; nil means never reported.
	RepoCreatedAt *string `gorm:"column:created_at" json:"created_at,omitempty"`
	RepoUpdatedAt *string `gorm:"column:updated_at" json:"updated_at,omitempty"`
	LastCommit    *string `gorm:"column:last_commit" json:"last_commit,omitempty"`
	LastSynced    *string `gorm:"column:last_synced" json:"last_synced,omitempty"`
	Tags          string  `json:"tags,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Version       int64   `gorm:"not null;default:1;check:version >= 1" json:"version"`
}

// TableName ensures consistent table naming
func (Repository) TableName() string {
	return "repositories"
}

// TrackedFields are the repository columns whose changes are audited in
// repository_history. The id and the lock counter are deliberately excluded.
var TrackedFields = map[string]bool{
	"name":         true,
	"description":  true,
	"url":          true,
	"topics":       true,
	"license":      true,
	"created_at":   true,
	"updated_at":   true,
	"stars":        true,
	"forks":        true,
	"issues":       true,
	"contributors": true,
	"commits":      true,
	"last_commit":  true,
	"tags":         true,
	"notes":        true,
	"last_synced":  true,
}

// IsTrackedField reports whether a column participates in history auditing.
func IsTrackedField(name string) bool {
	return TrackedFields[name]
}
