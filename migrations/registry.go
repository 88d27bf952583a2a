package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	sessions "github.com/goliatone/go-sessions"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SourceLabel = "go-sessions"

	// SessionRecordsTable must be created by the migration set of every dialect.
	SessionRecordsTable = "session_records"
)

const migrationsRootPath = "data/sql/migrations"

type DialectMigrations struct {
	Dialect string
	Path    string
	FS      fs.FS
	// Versions lists the migration prefixes, in apply order.
	Versions []string
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Dialects          []DialectMigrations
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			if trimmed := strings.TrimSpace(strings.ToLower(target)); trimmed != "" {
				next = append(next, trimmed)
			}
		}
		if len(next) > 0 {
			r.ValidationTargets = dedupe(next)
		}
	}
}

// Dialects resolves the embedded migrations per dialect and checks that each
// set is complete: every up file has its down file and the set creates the
// session_records table.
func Dialects() ([]DialectMigrations, error) {
	return dialectsFrom(sessions.GetMigrationsFS())
}

func dialectsFrom(root fs.FS) ([]DialectMigrations, error) {
	base, err := fs.Sub(root, migrationsRootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsRootPath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
	}

	dialects := []DialectMigrations{
		{Dialect: DialectPostgres, Path: migrationsRootPath, FS: base},
		{Dialect: DialectSQLite, Path: migrationsRootPath + "/sqlite", FS: sqliteFS},
	}
	for idx := range dialects {
		versions, err := validateSessionSchema(dialects[idx])
		if err != nil {
			return nil, err
		}
		dialects[idx].Versions = versions
	}
	return dialects, nil
}

func validateSessionSchema(set DialectMigrations) ([]string, error) {
	ups, err := fs.Glob(set.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", set.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", set.Path)
	}
	slices.Sort(ups)

	versions := make([]string, 0, len(ups))
	createsSessions := false
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(set.FS, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down migration", set.Path, up)
		}
		content, err := fs.ReadFile(set.FS, up)
		if err != nil {
			return nil, fmt.Errorf("migrations: read %s/%s: %w", set.Path, up, err)
		}
		if createsTable(string(content), SessionRecordsTable) {
			createsSessions = true
		}
		versions = append(versions, version)
	}
	if !createsSessions {
		return nil, fmt.Errorf("migrations: %s never creates %s", set.Path, SessionRecordsTable)
	}
	return versions, nil
}

func createsTable(statements string, table string) bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(statements)), " ")
	return strings.Contains(normalized, "create table "+table) ||
		strings.Contains(normalized, "create table if not exists "+table)
}

func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       SourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	dialects, err := Dialects()
	if err != nil {
		return reg, err
	}
	for _, set := range dialects {
		if !slices.Contains(reg.ValidationTargets, set.Dialect) {
			continue
		}
		if err := registerFn(ctx, set.Dialect, reg.SourceLabel, set.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", set.Dialect, set.Path, err)
		}
		reg.Dialects = append(reg.Dialects, set)
	}
	if len(reg.Dialects) == 0 {
		return reg, fmt.Errorf("migrations: no migrations match targets %v", reg.ValidationTargets)
	}
	return reg, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
