package models

// AnonymousAuthor is substituted when a comment is submitted without an
// author field. An explicitly blank author is rejected by validation instead.
const AnonymousAuthor = "Anonymous"

// RepositoryComment is a free-text note attached to a repository. Comments
// are owned by their repository and removed with it.
type RepositoryComment struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RepoID    string `gorm:"not null;index;size:255" json:"repo_id"`
	Comment   string `gorm:"type:text;not null" json:"comment"`
	Author    string `gorm:"not null;size:100" json:"author"`
	CreatedAt string `gorm:"not null" json:"created_at"`

	Repository *Repository `gorm:"foreignKey:RepoID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName ensures consistent table naming
func (RepositoryComment) TableName() string {
	return "repository_comments"
}
