package models

import (
	"fmt"
	"strconv"
	"time"
)

// NowISO returns the current UTC time in the ISO-8601 text form used for
// every timestamp column.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// FieldValue returns the string form of a tracked repository field, as it is
// recorded in history rows. Nil timestamps render as the empty string.
func (r *Repository) FieldValue(field string) string {
	switch field {
	case "name":
		return r.Name
	case "description":
		return r.Description
	case "url":
		return r.URL
	case "topics":
		return r.Topics
	case "license":
		return r.License
	case "stars":
		return strconv.FormatInt(r.Stars, 10)
	case "forks":
		return strconv.FormatInt(r.Forks, 10)
	case "issues":
		return strconv.FormatInt(r.Issues, 10)
	case "commits":
		return strconv.FormatInt(r.Commits, 10)
	case "contributors":
		return r.Contributors
	case "created_at":
		return deref(r.RepoCreatedAt)
	case "updated_at":
		return deref(r.RepoUpdatedAt)
	case "last_commit":
		return deref(r.LastCommit)
	case "last_synced":
		return deref(r.LastSynced)
	case "tags":
		return r.Tags
	case "notes":
		return r.Notes
	}
	return ""
}

// SetField assigns a tracked field from its string form. Numeric fields must
// parse as non-negative integers; empty timestamp values clear the column.
func (r *Repository) SetField(field, value string) error {
	switch field {
	case "name":
		r.Name = value
	case "description":
		r.Description = value
	case "url":
		r.URL = value
	case "topics":
		r.Topics = value
	case "license":
		r.License = value
	case "stars", "forks", "issues", "commits":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		switch field {
		case "stars":
			r.Stars = n
		case "forks":
			r.Forks = n
		case "issues":
			r.Issues = n
		case "commits":
			r.Commits = n
		}
	case "contributors":
		r.Contributors = value
	case "created_at":
		r.RepoCreatedAt = optional(value)
	case "updated_at":
		r.RepoUpdatedAt = optional(value)
	case "last_commit":
		r.LastCommit = optional(value)
	case "last_synced":
		r.LastSynced = optional(value)
	case "tags":
		r.Tags = value
	case "notes":
		r.Notes = value
	default:
		return fmt.Errorf("unknown field")
	}
	return nil
}

// ColumnValue returns the database representation of a tracked field, typed
// to match its column (integers stay integers, nil clears a timestamp).
func (r *Repository) ColumnValue(field string) interface{} {
	switch field {
	case "stars":
		return r.Stars
	case "forks":
		return r.Forks
	case "issues":
		return r.Issues
	case "commits":
		return r.Commits
	case "created_at":
		return r.RepoCreatedAt
	case "updated_at":
		return r.RepoUpdatedAt
	case "last_commit":
		return r.LastCommit
	case "last_synced":
		return r.LastSynced
	default:
		return r.FieldValue(field)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
