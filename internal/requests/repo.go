package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

const columns = `id, issuer, created_on, updated_on, document_id, context, context_query, checksum`

// Insert appends a request. A second request for the same document id fails
// with apperr.ErrConflict.
func (db *DB) Insert(ctx context.Context, r models.DocumentRequest) error {
	if r.ID == "" || r.DocumentID == "" {
		return errors.New("requests: insert: id and document id are required")
	}
	if r.UpdatedOn.IsZero() {
		r.UpdatedOn = r.CreatedOn
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO document_requests (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Issuer, r.CreatedOn.UTC(), r.UpdatedOn.UTC(), r.DocumentID,
		string(r.Context), string(r.ContextQuery), r.Checksum)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("requests: document %s: %w", r.DocumentID, apperr.ErrConflict)
		}
		return fmt.Errorf("requests: insert: %w", err)
	}
	return nil
}

// Get returns one request by its id.
func (db *DB) Get(ctx context.Context, id string) (models.DocumentRequest, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+columns+` FROM document_requests WHERE id = ?`, id)
	return scanOne(row, id)
}

// GetByDocument returns the request that produced documentID.
func (db *DB) GetByDocument(ctx context.Context, documentID string) (models.DocumentRequest, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+columns+` FROM document_requests WHERE document_id = ?`, documentID)
	return scanOne(row, documentID)
}

func scanOne(row *sql.Row, key string) (models.DocumentRequest, error) {
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DocumentRequest{}, fmt.Errorf("requests: %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return models.DocumentRequest{}, fmt.Errorf("requests: get: %w", err)
	}
	return r, nil
}

// List returns a page of requests, newest first, and the total count.
// An empty issuer lists every kind.
func (db *DB) List(ctx context.Context, limit, offset int, issuer string) ([]models.DocumentRequest, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if issuer != "" {
		where = " WHERE issuer = ?"
		args = append(args, issuer)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM document_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("requests: count: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+columns+` FROM document_requests`+where+
		` ORDER BY created_on DESC, id LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("requests: list: %w", err)
	}
	defer rows.Close()
	out, err := scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Touch records a regeneration: new checksum and updated_on.
func (db *DB) Touch(ctx context.Context, id, checksum string, updatedOn time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE document_requests SET checksum = ?, updated_on = ? WHERE id = ?`,
		checksum, updatedOn.UTC(), id)
	if err != nil {
		return fmt.Errorf("requests: touch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requests: touch: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("requests: %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// All returns every request, newest first.
func (db *DB) All(ctx context.Context) ([]models.DocumentRequest, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+columns+` FROM document_requests ORDER BY created_on DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("requests: all: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (models.DocumentRequest, error) {
	var (
		r                 models.DocumentRequest
		contextJSON, query string
	)
	if err := s.Scan(&r.ID, &r.Issuer, &r.CreatedOn, &r.UpdatedOn, &r.DocumentID, &contextJSON, &query, &r.Checksum); err != nil {
		return models.DocumentRequest{}, err
	}
	r.Context = json.RawMessage(contextJSON)
	if query != "" {
		r.ContextQuery = json.RawMessage(query)
	}
	return r, nil
}

func scanAll(rows *sql.Rows) ([]models.DocumentRequest, error) {
	var out []models.DocumentRequest
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("requests: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
