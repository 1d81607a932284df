// Package validation holds the pure validation rules applied to every record
// before it reaches storage. The functions are side-effect free and
// accumulate every broken rule instead of stopping at the first, so callers
// can report all problems at once.
package validation

import (
	"regexp"
	"strings"
	"time"

	"repotrack/internal/models"
	"repotrack/internal/utils"
)

// MaxListItems bounds comma-separated list fields (topics, tags).
const MaxListItems = 50

var repoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+$`)

var contributorsPattern = regexp.MustCompile(`^\d+\+?$`)

var versionNumberPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// timestampLayouts are accepted on input; values are normalized to UTC
// RFC3339 on the way through.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp parses a timestamp in any accepted layout and returns
// the UTC RFC3339 form. The second return is false when parsing fails.
func NormalizeTimestamp(value string) (string, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}

// ValidateRepositoryID checks the canonical owner/repo identifier.
func ValidateRepositoryID(id string) bool {
	return repoIDPattern.MatchString(id)
}

// ValidateRepository checks a repository record against format and business
// rules and returns a normalized copy. A *utils.ValidationError listing every
// violation is returned when any rule fails.
func ValidateRepository(repo models.Repository) (models.Repository, error) {
	verr := utils.NewValidationError("repository")

	if !ValidateRepositoryID(repo.ID) {
		verr.Add("id", "must be in owner/repo format")
	}

	repo.Name = strings.TrimSpace(repo.Name)
	if repo.Name == "" {
		verr.Add("name", "cannot be empty")
	}

	if !strings.HasPrefix(repo.URL, "https://github.com/") &&
		!strings.HasPrefix(repo.URL, "http://github.com/") {
		verr.Add("url", "must be a github.com URL")
	}

	if repo.Stars < 0 {
		verr.Add("stars", "cannot be negative")
	}
	if repo.Forks < 0 {
		verr.Add("forks", "cannot be negative")
	}
	if repo.Issues < 0 {
		verr.Add("issues", "cannot be negative")
	}
	if repo.Commits < 0 {
		verr.Add("commits", "cannot be negative")
	}

	repo.Contributors = strings.TrimSpace(repo.Contributors)
	if repo.Contributors != "" && !contributorsPattern.MatchString(repo.Contributors) {
		verr.Add("contributors", "must be a number or number with + suffix")
	}

	repo.RepoCreatedAt = normalizeOptionalTimestamp("created_at", repo.RepoCreatedAt, verr)
	repo.RepoUpdatedAt = normalizeOptionalTimestamp("updated_at", repo.RepoUpdatedAt, verr)
	repo.LastCommit = normalizeOptionalTimestamp("last_commit", repo.LastCommit, verr)
	repo.LastSynced = normalizeOptionalTimestamp("last_synced", repo.LastSynced, verr)

	if countListItems(repo.Topics) > MaxListItems {
		verr.Add("topics", "too many items in comma-separated list")
	}
	if countListItems(repo.Tags) > MaxListItems {
		verr.Add("tags", "too many items in comma-separated list")
	}

	if repo.Version < 0 {
		verr.Add("version", "must be an integer >= 1")
	}

	repo.Description = strings.TrimSpace(repo.Description)
	repo.Notes = strings.TrimSpace(repo.Notes)

	if err := verr.OrNil(); err != nil {
		return models.Repository{}, err
	}
	return repo, nil
}

// ApplyFieldChanges copies a repository, assigns each proposed field change,
// and validates the result. Unknown fields and unparseable values are
// reported alongside any rule the merged record breaks.
func ApplyFieldChanges(repo models.Repository, changes map[string]string) (models.Repository, error) {
	verr := utils.NewValidationError("repository")

	merged := repo
	for field, value := range changes {
		if !models.IsTrackedField(field) {
			verr.Add(field, "unknown or untracked field")
			continue
		}
		if err := merged.SetField(field, value); err != nil {
			verr.Add(field, err.Error())
		}
	}
	if err := verr.OrNil(); err != nil {
		return models.Repository{}, err
	}

	return ValidateRepository(merged)
}

// CommentInput is an untrusted comment submission. Author distinguishes
// omitted (nil, substituted with Anonymous) from explicitly blank (rejected).
type CommentInput struct {
	RepoID    string
	Comment   string
	Author    *string
	CreatedAt string
}

// ValidateComment checks a comment submission and returns the normalized
// record.
func ValidateComment(input CommentInput) (models.RepositoryComment, error) {
	verr := utils.NewValidationError("comment")

	if !ValidateRepositoryID(input.RepoID) {
		verr.Add("repo_id", "must be in owner/repo format")
	}

	comment := strings.TrimSpace(input.Comment)
	if comment == "" {
		verr.Add("comment", "cannot be empty")
	}

	author := models.AnonymousAuthor
	if input.Author != nil {
		author = strings.TrimSpace(*input.Author)
		if author == "" {
			verr.Add("author", "cannot be empty")
		}
	}

	createdAt, ok := NormalizeTimestamp(input.CreatedAt)
	if !ok {
		verr.Add("created_at", "must be a valid ISO-8601 timestamp")
	}

	if err := verr.OrNil(); err != nil {
		return models.RepositoryComment{}, err
	}

	return models.RepositoryComment{
		RepoID:    input.RepoID,
		Comment:   comment,
		Author:    author,
		CreatedAt: createdAt,
	}, nil
}

// ValidateVersionSnapshot checks a named release snapshot. Uniqueness of the
// version number within a repository is enforced by the store, not here.
func ValidateVersionSnapshot(snapshot models.RepositoryVersionSnapshot) (models.RepositoryVersionSnapshot, error) {
	verr := utils.NewValidationError("version snapshot")

	if !ValidateRepositoryID(snapshot.RepoID) {
		verr.Add("repo_id", "must be in owner/repo format")
	}

	snapshot.VersionNumber = strings.TrimSpace(snapshot.VersionNumber)
	if snapshot.VersionNumber == "" {
		verr.Add("version_number", "cannot be empty")
	} else if !versionNumberPattern.MatchString(snapshot.VersionNumber) {
		verr.Add("version_number", "contains invalid characters")
	}

	if snapshot.ReleaseDate != nil && *snapshot.ReleaseDate != "" {
		normalized, ok := NormalizeTimestamp(*snapshot.ReleaseDate)
		if !ok {
			verr.Add("release_date", "must be a valid date")
		} else {
			snapshot.ReleaseDate = &normalized
		}
	} else {
		snapshot.ReleaseDate = nil
	}

	createdAt, ok := NormalizeTimestamp(snapshot.CreatedAt)
	if !ok {
		verr.Add("created_at", "must be a valid ISO-8601 timestamp")
	} else {
		snapshot.CreatedAt = createdAt
	}

	snapshot.Description = strings.TrimSpace(snapshot.Description)

	if err := verr.OrNil(); err != nil {
		return models.RepositoryVersionSnapshot{}, err
	}
	return snapshot, nil
}

// ValidateHistoryEntry checks an audit row before it is appended.
func ValidateHistoryEntry(entry models.RepositoryHistoryEntry) (models.RepositoryHistoryEntry, error) {
	verr := utils.NewValidationError("history entry")

	if !ValidateRepositoryID(entry.RepoID) {
		verr.Add("repo_id", "must be in owner/repo format")
	}

	if strings.TrimSpace(entry.Field) == "" {
		verr.Add("field", "cannot be empty")
	} else if !models.IsTrackedField(entry.Field) {
		verr.Add("field", "is not a tracked field")
	}

	changedAt, ok := NormalizeTimestamp(entry.ChangedAt)
	if !ok {
		verr.Add("changed_at", "must be a valid ISO-8601 timestamp")
	} else {
		entry.ChangedAt = changedAt
	}

	if err := verr.OrNil(); err != nil {
		return models.RepositoryHistoryEntry{}, err
	}
	return entry, nil
}

func normalizeOptionalTimestamp(field string, value *string, verr *utils.ValidationError) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	normalized, ok := NormalizeTimestamp(*value)
	if !ok {
		verr.Add(field, "must be a valid ISO-8601 timestamp")
		return value
	}
	return &normalized
}

func countListItems(list string) int {
	if strings.TrimSpace(list) == "" {
		return 0
	}
	count := 0
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) != "" {
			count++
		}
	}
	return count
}
