package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"citycrawler/internal/config"
)

// Sink receives each completed child collection.
type Sink interface {
	WriteChild(ctx context.Context, key string, items []json.RawMessage) error
	Close() error
}

// SQLMirror copies the dataset into a relational table, one row per item.
type SQLMirror struct {
	db     *sql.DB
	driver string
	table  string
	runID  string
}

// NewSQLMirror opens the configured database and makes sure the table exists.
func NewSQLMirror(ctx context.Context, cfg config.SQLConfig, runID string) (*SQLMirror, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(pingCtx, cfg); err != nil {
			return nil, err
		}
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	table := cfg.Table
	if table == "" {
		table = "locations"
	}
	m := &SQLMirror{
		db:     db,
		driver: cfg.Driver,
		table:  pq.QuoteIdentifier(table),
		runID:  runID,
	}
	if err := m.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// WriteChild replaces every row for key with items, in order, in one
// transaction.
func (m *SQLMirror) WriteChild(ctx context.Context, key string, items []json.RawMessage) error {
	if m == nil || m.db == nil {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+m.table+` WHERE child_key = $1`, key); err != nil {
		return fmt.Errorf("clear %s rows: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+m.table+` (child_key, position, item, run_id, updated_at) VALUES ($1,$2,$3,$4,$5)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, key, i, string(item), m.runID, now); err != nil {
			return fmt.Errorf("insert %s item %d: %w", key, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror tx: %w", err)
	}
	return nil
}

// ChildItems returns the mirrored items for key in position order.
func (m *SQLMirror) ChildItems(ctx context.Context, key string) ([]json.RawMessage, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT item FROM `+m.table+` WHERE child_key = $1 ORDER BY position`, key)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", key, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", key, err)
		}
		out = append(out, json.RawMessage(item))
	}
	return out, rows.Err()
}

// Close closes the underlying DB connection.
func (m *SQLMirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *SQLMirror) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + m.table + ` (
		    child_key TEXT NOT NULL,
		    position INTEGER NOT NULL,
		    item TEXT NOT NULL,
		    run_id TEXT,
		    updated_at TIMESTAMP,
		    PRIMARY KEY (child_key, position)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}
