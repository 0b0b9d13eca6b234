package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"time"
)

// Migration files are named YYYYMMDD_HHMMSS_description.sql and only ever
// move the schema forward.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.sql$`)

var (
	// ErrBadMigrationName is returned for a .sql file that does not follow
	// the naming scheme.
	ErrBadMigrationName = errors.New("migration file name does not match YYYYMMDD_HHMMSS_name.sql")

	// ErrDuplicateMigration is returned when two files share a version.
	ErrDuplicateMigration = errors.New("duplicate migration version")

	// ErrMigrationChanged is returned when a file already applied to the
	// database no longer matches the recorded checksum.
	ErrMigrationChanged = errors.New("applied migration was edited")
)

const createSchemaVersions = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TEXT NOT NULL
) STRICT`

type migration struct {
	version  string
	name     string
	body     string
	checksum string
}

// Migrate applies every migration in src the database has not recorded yet,
// oldest first, each in its own transaction. It returns the number applied.
// A failure leaves earlier migrations committed; the next call resumes at
// the one that failed.
func (db *DB) Migrate(ctx context.Context, src fs.FS) (int, error) {
	steps, err := readMigrations(src)
	if err != nil {
		return 0, err
	}

	if _, err := db.ExecContext(ctx, createSchemaVersions); err != nil {
		return 0, fmt.Errorf("creating schema_versions: %w", err)
	}
	recorded, err := db.recordedChecksums(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range steps {
		if sum, ok := recorded[m.version]; ok {
			if sum != m.checksum {
				return applied, fmt.Errorf("%w: %s_%s", ErrMigrationChanged, m.version, m.name)
			}
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return applied, fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
		}
		applied++
	}
	return applied, nil
}

func (db *DB) recordedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_versions")
	if err != nil {
		return nil, fmt.Errorf("reading schema_versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("reading schema_versions: %w", err)
		}
		out[version] = sum
	}
	return out, rows.Err()
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_versions (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		m.version, m.name, m.checksum, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// readMigrations loads the .sql files at the root of src in version order.
func readMigrations(src fs.FS) ([]migration, error) {
	names, err := fs.Glob(src, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	steps := make([]migration, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		parts := migrationFile.FindStringSubmatch(name)
		if parts == nil {
			return nil, fmt.Errorf("%w: %s", ErrBadMigrationName, name)
		}
		if prev, dup := seen[parts[1]]; dup {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateMigration, prev, name)
		}
		seen[parts[1]] = name

		body, err := fs.ReadFile(src, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		steps = append(steps, migration{
			version:  parts[1],
			name:     parts[2],
			body:     string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}
