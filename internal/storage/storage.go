// Package storage persists swap state to SQLite so the engine can recover
// in-flight swaps after a restart.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage wraps the SQLite database backing the swap engine.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string `yaml:"datadir"`
}

// New opens (and if needed creates) the database under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return Open(filepath.Join(dataDir, "tidepool.db"))
}

// Open opens the database at the given path.
func Open(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reverse_swaps (
		id TEXT PRIMARY KEY,
		pair_id TEXT NOT NULL,
		order_side INTEGER NOT NULL,
		status TEXT NOT NULL,
		invoice TEXT NOT NULL,
		preimage_hash TEXT NOT NULL,
		preimage TEXT,
		key_index INTEGER NOT NULL,
		claim_pubkey TEXT NOT NULL,
		redeem_script TEXT NOT NULL,
		lockup_address TEXT NOT NULL,
		onchain_amount INTEGER NOT NULL,
		timeout_block_height INTEGER NOT NULL,
		transaction_id TEXT,
		transaction_vout INTEGER,
		miner_fee INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reverse_swaps_status ON reverse_swaps(status);
	CREATE INDEX IF NOT EXISTS idx_reverse_swaps_preimage_hash ON reverse_swaps(preimage_hash);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetSetting reads a settings value, returning "" when unset.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting writes a settings value.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
