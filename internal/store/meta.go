package store

import (
	"context"

	"github.com/google/uuid"
)

const metaStoreID = "store_id"

// StoreID returns the identity of this database, creating it on first use.
// Processes that open the same database file see the same id; separate
// databases never share one, so case ids from different stores can be told
// apart.
func (db *DB) StoreID(ctx context.Context) (string, error) {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_meta (key, value) VALUES (?, ?)`,
		metaStoreID, uuid.NewString()); err != nil {
		return "", wrapErr("store id", err)
	}
	var id string
	err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaStoreID).Scan(&id)
	return id, wrapErr("store id", err)
}
