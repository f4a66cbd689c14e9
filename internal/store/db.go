// Package store persists the server registry and conversation history in
// two independent SQLite databases. Both stores share the same opening
// behavior: schema is created on first use, and an unreadable database file
// is moved aside and recreated so startup degrades to an empty store instead
// of failing.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is the canonical timestamp encoding for both databases.
const timeFormat = time.RFC3339Nano

// openDB opens (or creates) a SQLite database and applies the schema. When
// the existing file turns out to be unreadable it is renamed to
// <path>.corrupt-<timestamp> and a fresh database is created in its place.
func openDB(path, schema string, logger *slog.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := open(path, schema)
	if err == nil {
		return db, nil
	}

	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if renameErr := os.Rename(path, backup); renameErr != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// WAL sidecars belong to the old file; drop them so the fresh database
	// starts clean.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	if logger != nil {
		logger.Warn("database unreadable, starting empty",
			slog.String("path", path),
			slog.String("backup", backup),
			slog.Any("error", err))
	}

	db, err = open(path, schema)
	if err != nil {
		return nil, fmt.Errorf("recreating database %s: %w", path, err)
	}
	return db, nil
}

func open(path, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return db, nil
}

// getSetting reads one key from a store's settings table. A missing key
// yields an empty string, not an error.
func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
