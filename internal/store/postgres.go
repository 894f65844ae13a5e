// Package store provides persistence port backends for the roster document.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/www-e/formnew/internal/roster"
)

// documentKey mirrors the single-key object store the data model grew up in.
const documentKey = "main"

// Postgres persists the whole document as one JSONB row.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres connection with sane pool defaults and makes
// sure the documents table exists.
func NewPostgres(connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// LoadDocument reads the document row, returning (nil, nil) when no data
// has been stored yet.
func (p *Postgres) LoadDocument(ctx context.Context) (*roster.Document, error) {
	var raw []byte
	row := p.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE id = $1`, documentKey)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var doc roster.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveDocument upserts the whole document.
func (p *Postgres) SaveDocument(ctx context.Context, doc *roster.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, documentKey, raw)
	return err
}

// Healthy verifies database connectivity.
func (p *Postgres) Healthy(ctx context.Context) bool {
	if p == nil || p.db == nil {
		return false
	}
	return p.db.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
