// Package database stores resume-continuity state for ADW jobs: which
// issue a provided job id belongs to and which workflow last touched it.
// It is not an event log; webhook history lives only in in-memory counters.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	db   *sql.DB
	dbMu sync.Mutex
)

const schema = `
CREATE TABLE IF NOT EXISTS job_states (
	adw_id       TEXT PRIMARY KEY,
	issue_number INTEGER NOT NULL,
	workflow     TEXT NOT NULL DEFAULT '',
	updated_by   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func resolveDBPath() string {
	if p := strings.TrimSpace(os.Getenv("WEBHOOKD_DB_PATH")); p != "" {
		return p
	}
	return filepath.Join("agents", "webhookd.db")
}

// InitDB opens the store at the env-resolved path; see InitDBAt.
func InitDB() error {
	return InitDBAt(resolveDBPath())
}

// InitDBAt opens (creating if needed) the sqlite store at path and applies
// the schema. A second call is a no-op even with a different path.
func InitDBAt(path string) error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	db = handle
	return nil
}

// CloseDB releases the handle; safe to call when never initialized.
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		_ = db.Close()
		db = nil
	}
}

// GetDB exposes the handle for readiness checks.
func GetDB() *sql.DB {
	dbMu.Lock()
	defer dbMu.Unlock()
	return db
}
