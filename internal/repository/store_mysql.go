package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = sqlDialect{
	name: "mysql",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS store_documents (
		node VARCHAR(191) NOT NULL,
		child VARCHAR(191) NOT NULL,
		body MEDIUMTEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (node, child)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	upsert: `
		INSERT INTO store_documents (node, child, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			body = VALUES(body),
			updated_at = VALUES(updated_at)`,
	lockSuffix: " FOR UPDATE",
}

// NewMySQLStore opens a MySQL-backed store.
// dsn format: "user:password@tcp(host:port)/dbname?parseTime=true"
func NewMySQLStore(dsn string, opts SQLOptions) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store, err := newSQLStore(db, mysqlDialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.log.Infow("store initialized", "max_open", 10, "max_idle", 5)
	return store, nil
}
