// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage provides persistent storage for the wallet bridge daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "walletbridge.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Plugin-scoped key/value data (EdgeProvider writeData/readData)
	CREATE TABLE IF NOT EXISTS plugin_data (
		plugin_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (plugin_id, key)
	);

	-- Conversion analytics reported by plugins
	CREATE TABLE IF NOT EXISTS conversions (
		id TEXT PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		order_id TEXT,
		from_plugin_id TEXT NOT NULL,
		from_token_id TEXT,
		from_amount TEXT NOT NULL,
		to_plugin_id TEXT NOT NULL,
		to_token_id TEXT,
		to_amount TEXT NOT NULL,
		is_estimate INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversions_plugin ON conversions(plugin_id);
	CREATE INDEX IF NOT EXISTS idx_conversions_created ON conversions(created_at);

	-- Spends sent on behalf of plugins
	CREATE TABLE IF NOT EXISTS spends (
		id TEXT PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		session_id TEXT,
		wallet_id TEXT NOT NULL,
		currency_plugin_id TEXT NOT NULL,
		token_id TEXT,
		currency_code TEXT NOT NULL,
		txid TEXT,
		native_amount TEXT NOT NULL,
		network_fee TEXT,
		targets TEXT NOT NULL,
		order_id TEXT,
		metadata TEXT,
		status TEXT NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spends_plugin ON spends(plugin_id);
	CREATE INDEX IF NOT EXISTS idx_spends_wallet ON spends(wallet_id);
	CREATE INDEX IF NOT EXISTS idx_spends_created ON spends(created_at);

	-- Daemon settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases.
// These are ALTER TABLE statements that add columns to existing tables.
// Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE spends ADD COLUMN session_id TEXT",
		"ALTER TABLE conversions ADD COLUMN order_id TEXT",
	}

	for _, migration := range migrations {
		// Ignore errors - column may already exist
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
