package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

const (
	annotationUp         = "-- +goose Up"
	annotationDown       = "-- +goose Down"
	annotationStmtBegin  = "-- +goose StatementBegin"
	annotationStmtFinish = "-- +goose StatementEnd"
)

// MigrationFile is one goose SQL file found on disk.
type MigrationFile struct {
	Version string
	Name    string
	Path    string
}

// ListDir returns the SQL migrations in dir ordered by version. Non-SQL files
// are ignored; badly named or duplicated versions are errors.
func ListDir(dir string) ([]MigrationFile, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("migrations dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir %q: %w", dir, err)
	}

	files := make([]MigrationFile, 0, len(entries))
	byVersion := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("migration %q must be named YYYYMMDDHHMMSS_snake_name.sql", entry.Name())
		}
		if other, dup := byVersion[match[1]]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %s", other, entry.Name(), match[1])
		}
		byVersion[match[1]] = entry.Name()
		files = append(files, MigrationFile{
			Version: match[1],
			Name:    match[2],
			Path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ValidateDir checks every migration in dir for a well-formed name, both goose
// sections (Up before Down) and balanced statement blocks.
func ValidateDir(dir string) error {
	files, err := ListDir(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		body, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("reading migration %q: %w", file.Path, err)
		}
		if err := validateBody(string(body)); err != nil {
			return fmt.Errorf("migration %s_%s: %w", file.Version, file.Name, err)
		}
	}
	return nil
}

func validateBody(body string) error {
	up := strings.Index(body, annotationUp)
	down := strings.Index(body, annotationDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", annotationUp)
	case down < 0:
		return fmt.Errorf("missing %q", annotationDown)
	case down < up:
		return fmt.Errorf("%q must come before %q", annotationUp, annotationDown)
	}

	open := 0
	for _, line := range strings.Split(body, "\n") {
		switch strings.TrimSpace(line) {
		case annotationStmtBegin:
			open++
			if open > 1 {
				return fmt.Errorf("nested %q", annotationStmtBegin)
			}
		case annotationStmtFinish:
			open--
			if open < 0 {
				return fmt.Errorf("%q without matching begin", annotationStmtFinish)
			}
		}
	}
	if open != 0 {
		return fmt.Errorf("unterminated %q", annotationStmtBegin)
	}
	return nil
}
