// Package requests provides the SQLite-backed log of document requests.
package requests

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS document_requests (
	id            TEXT PRIMARY KEY,
	issuer        TEXT NOT NULL,
	created_on    DATETIME NOT NULL,
	updated_on    DATETIME NOT NULL,
	document_id   TEXT NOT NULL UNIQUE,
	context       TEXT NOT NULL,
	context_query TEXT NOT NULL DEFAULT '',
	checksum      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_document_requests_created ON document_requests(created_on DESC);
CREATE INDEX IF NOT EXISTS idx_document_requests_issuer ON document_requests(issuer);
`

// DB wraps a sql.DB with request log operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("requests: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requests: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requests: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
