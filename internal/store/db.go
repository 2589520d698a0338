package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matheus3301/casechat/internal/lock"
)

// DB wraps the SQLite database backing messages, read positions, the
// reference case directory and the notification outbox.
type DB struct {
	*sql.DB

	caseLocks *lock.Keyed
	now       func() time.Time
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Every transaction starts IMMEDIATE so writers take the reserved lock up front.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, caseLocks: lock.NewKeyed(), now: time.Now}, nil
}

// SetClock replaces the time source used for created_at and updated_at.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) nowMillis() int64 {
	return db.now().UnixMilli()
}
