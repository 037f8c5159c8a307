// Package sqlitemigrate applies the engine's embedded schema migrations.
// Migration files are plain SQL with sql-migrate style section markers;
// only the Up section runs. Applied files are recorded by name so reruns
// on an existing database are no-ops.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const ledgerTable = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// ApplyMigrations runs every unapplied .sql file under migrationRoot in
// lexical order. Each file commits atomically together with its ledger row.
func ApplyMigrations(sqlDB *sql.DB, migrationFS fs.FS, migrationRoot string) error {
	if sqlDB == nil {
		return fmt.Errorf("sql db is required")
	}

	files, err := migrationFiles(migrationFS, migrationRoot)
	if err != nil {
		return err
	}
	if err := ensureLedger(sqlDB); err != nil {
		return err
	}

	for _, f := range files {
		applied, err := alreadyApplied(sqlDB, f.key)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f.key, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrationFS, f.path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f.key, err)
		}
		if err := runMigration(sqlDB, f.key, upSection(string(content))); err != nil {
			return err
		}
	}
	return nil
}

type migrationFile struct {
	// path locates the file inside the fs.
	path string
	// key is the ledger name, including the root prefix.
	key string
}

func migrationFiles(migrationFS fs.FS, root string) ([]migrationFile, error) {
	root = strings.TrimSpace(root)
	readRoot := root
	if readRoot == "" {
		readRoot = "."
	}

	entries, err := fs.ReadDir(migrationFS, readRoot)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		f := migrationFile{path: entry.Name(), key: entry.Name()}
		if root != "" && root != "." {
			f.path = filepath.ToSlash(filepath.Join(root, entry.Name()))
			f.key = f.path
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

func ensureLedger(sqlDB *sql.DB) error {
	_, err := sqlDB.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)",
		ledgerTable,
	))
	if err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}
	return nil
}

func alreadyApplied(sqlDB *sql.DB, key string) (bool, error) {
	var found int
	err := sqlDB.QueryRow("SELECT 1 FROM "+ledgerTable+" WHERE name = ?", key).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func runMigration(sqlDB *sql.DB, key, upSQL string) error {
	if strings.TrimSpace(upSQL) == "" {
		return nil
	}

	tx, err := sqlDB.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", key, err)
	}

	if _, err := tx.Exec(upSQL); err != nil && !isIdempotentDDLError(err) {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", key, err)
	}

	if _, err := tx.Exec(
		fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", ledgerTable),
		key,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", key, err)
	}
	return tx.Commit()
}

// upSection returns the SQL between the Up and Down markers. Files without
// markers run whole.
func upSection(content string) string {
	up := strings.Index(content, upMarker)
	if up == -1 {
		return content
	}
	body := content[up+len(upMarker):]
	if down := strings.Index(body, downMarker); down != -1 {
		body = body[:down]
	}
	return body
}

// isIdempotentDDLError reports DDL failures that mean the schema change has
// already been made, such as replaying a CREATE TABLE without IF NOT EXISTS.
func isIdempotentDDLError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}
