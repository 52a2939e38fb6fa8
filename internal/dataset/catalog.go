package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/schema"
)

// CatalogEntry is one persisted dataset row.
type CatalogEntry struct {
	Info
	BodyPath  string
	CreatedAt time.Time
}

// Catalog persists dataset metadata in SQLite.
type Catalog struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenCatalog opens (creating if needed) the catalog database at dbPath.
func OpenCatalog(dbPath string, logger zerolog.Logger) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{
		db:     db,
		logger: logger.With().Str("component", "dataset-catalog").Logger(),
	}
	if err := c.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initTables() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			num_rows INTEGER NOT NULL,
			body_path TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Put inserts a dataset row. An existing id yields ErrExists.
func (c *Catalog) Put(ctx context.Context, e CatalogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO datasets (id, kind, num_rows, body_path, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, string(e.Kind), e.NumRows, e.BodyPath, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dataset %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	return nil
}

// Delete removes a dataset row. A missing id yields ErrNotFound.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns one dataset row.
func (c *Catalog) Get(ctx context.Context, id string) (CatalogEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, kind, num_rows, body_path, created_at FROM datasets WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns every dataset row ordered by id.
func (c *Catalog) List(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, num_rows, body_path, created_at FROM datasets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (CatalogEntry, error) {
	var e CatalogEntry
	var kind string
	if err := s.Scan(&e.ID, &kind, &e.NumRows, &e.BodyPath, &e.CreatedAt); err != nil {
		return CatalogEntry{}, err
	}
	e.Kind = schema.Kind(kind)
	return e, nil
}
