package models

// RepositoryHistoryEntry is one immutable audit row recording a single field
// change on a repository. Entries are append-only: every accepted write of a
// tracked field produces exactly one entry with the pre- and post- values.
type RepositoryHistoryEntry struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RepoID    string `gorm:"not null;index;size:255" json:"repo_id"`
	Field     string `gorm:"not null;size:100" json:"field"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	ChangedAt string `gorm:"not null" json:"changed_at"`

	Repository *Repository `gorm:"foreignKey:RepoID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName ensures consistent table naming
func (RepositoryHistoryEntry) TableName() string {
	return "repository_history"
}
