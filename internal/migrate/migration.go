// Package migrate applies and reverses versioned schema changes described by
// SQL files. Every file is content-addressed with a SHA-256 checksum and may
// declare dependencies on other migrations; application order is the
// topological order of that graph, and the ledger table records what has been
// applied so drift is detected instead of silently re-run or ignored.
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Section and header markers of the migration file format.
const (
	markerUp           = "-- +migrate Up"
	markerDown         = "-- +migrate Down"
	headerName         = "-- Name:"
	headerDependencies = "-- Dependencies:"
	headerCreated      = "-- Created:"
)

// Migration is one discovered forward/backward schema change.
type Migration struct {
	Version      string
	Name         string
	UpSQL        string
	DownSQL      string
	Checksum     string
	Dependencies []string
}

// ParseFile reads a migration file and extracts its metadata, bodies and
// content checksum. The version is the filename prefix before the first
// underscore ("001_initial_schema.sql" -> "001").
func ParseFile(path string) (Migration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Migration{}, fmt.Errorf("read migration file %s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	version := stem
	if idx := strings.Index(stem, "_"); idx > 0 {
		version = stem[:idx]
	}

	var name string
	var dependencies []string
	var upSQL, downSQL strings.Builder

	inUp := false
	inDown := false

	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(line, headerName):
			name = strings.TrimSpace(strings.TrimPrefix(line, headerName))
		case strings.HasPrefix(line, headerDependencies):
			deps := strings.TrimSpace(strings.TrimPrefix(line, headerDependencies))
			if deps != "" {
				for _, dep := range strings.Split(deps, ",") {
					if dep = strings.TrimSpace(dep); dep != "" {
						dependencies = append(dependencies, dep)
					}
				}
			}
		case line == markerUp:
			inUp, inDown = true, false
		case line == markerDown:
			inUp, inDown = false, true
		case strings.HasPrefix(line, "--"):
			// other comments are ignored
		case inUp:
			upSQL.WriteString(line + "\n")
		case inDown:
			downSQL.WriteString(line + "\n")
		}
	}

	if name == "" {
		name = titleCase(strings.TrimPrefix(stem, version+"_"))
	}

	sum := sha256.Sum256(content)

	return Migration{
		Version:      version,
		Name:         name,
		UpSQL:        strings.TrimSpace(upSQL.String()),
		DownSQL:      strings.TrimSpace(downSQL.String()),
		Checksum:     hex.EncodeToString(sum[:]),
		Dependencies: dependencies,
	}, nil
}

// CreateFile authors a new migration file in dir with a timestamp-derived
// version and returns its path.
func CreateFile(dir, name string, dependencies []string, upSQL, downSQL string) (string, error) {
	version := time.Now().UTC().Format("20060102150405")

	safeName := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)

	content := fmt.Sprintf(`%s %s
%s %s
%s %s

%s
%s

%s
%s
`,
		headerName, name,
		headerDependencies, strings.Join(dependencies, ", "),
		headerCreated, time.Now().UTC().Format(time.RFC3339),
		markerUp, upSQL,
		markerDown, downSQL,
	)

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safeName))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write migration file: %w", err)
	}

	return path, nil
}

// titleCase turns "initial_schema" into "Initial Schema" for migrations that
// omit the Name header.
func titleCase(stem string) string {
	words := strings.Split(stem, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// splitStatements breaks a migration body into individually executable
// statements.
func splitStatements(body string) []string {
	var statements []string
	for _, stmt := range strings.Split(body, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
