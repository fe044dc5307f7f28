package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS store_documents (
		node TEXT NOT NULL,
		child TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (node, child)
	)`},
	upsert: `
		INSERT INTO store_documents (node, child, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node, child) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
}

// NewSQLiteStore opens a SQLite-backed store.
// dbPath is the path to the SQLite database file (e.g., "./data/farmstall.db").
func NewSQLiteStore(dbPath string, opts SQLOptions) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store, err := newSQLStore(db, sqliteDialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.log.Infow("store initialized", "path", dbPath)
	return store, nil
}
