package models

// RepositoryVersionSnapshot is a named release recorded against a repository
// (for example "v1.2.0"). The version number is unique per repository.
//
// This is user-facing release bookkeeping, not the optimistic-lock counter on
// the repositories row; the two share a word and nothing else.
type RepositoryVersionSnapshot struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	RepoID        string  `gorm:"not null;index:idx_repo_version_number,unique;size:255" json:"repo_id"`
	VersionNumber string  `gorm:"not null;index:idx_repo_version_number,unique;size:100" json:"version_number"`
	ReleaseDate   *string `json:"release_date,omitempty"`
	Description   string  `json:"description,omitempty"`
	CreatedAt     string  `gorm:"not null" json:"created_at"`

	Repository *Repository `gorm:"foreignKey:RepoID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName ensures consistent table naming
func (RepositoryVersionSnapshot) TableName() string {
	return "repository_versions"
}
