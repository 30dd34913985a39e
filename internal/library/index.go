package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index records every asset written to the library in a SQLite database.
type Index struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenIndex opens or creates the index database at dbPath and applies pending migrations.
func OpenIndex(dbPath string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	idx := &Index{conn: conn, logger: logger}
	if err := idx.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return idx, nil
}

// Close closes the database.
func (i *Index) Close() error {
	return i.conn.Close()
}

func (i *Index) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, m := range entries {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if i.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := i.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := i.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if i.logger != nil {
			i.logger.Info("applied migration", slog.String("name", name))
		}
	}
	return nil
}

func (i *Index) isMigrationApplied(name string) bool {
	var exists int
	if err := i.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists); err != nil {
		return false
	}
	var applied int
	err := i.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// Record stores a.
func (i *Index) Record(ctx context.Context, a Asset) error {
	_, err := i.conn.ExecContext(ctx,
		`INSERT INTO assets (id, name, backend, location, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Backend, a.Location, a.Size, a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record asset %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the asset with the given id.
func (i *Index) Get(ctx context.Context, id string) (Asset, error) {
	row := i.conn.QueryRowContext(ctx,
		`SELECT id, name, backend, location, size_bytes, created_at FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrAssetNotFound
	}
	return a, err
}

// List returns all assets, newest first.
func (i *Index) List(ctx context.Context) ([]Asset, error) {
	rows, err := i.conn.QueryContext(ctx,
		`SELECT id, name, backend, location, size_bytes, created_at FROM assets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (Asset, error) {
	var (
		a       Asset
		created string
	)
	if err := s.Scan(&a.ID, &a.Name, &a.Backend, &a.Location, &a.Size, &created); err != nil {
		return Asset{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Asset{}, fmt.Errorf("parse created_at of %s: %w", a.ID, err)
	}
	a.CreatedAt = t
	return a, nil
}
