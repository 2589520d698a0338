package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/matheus3301/casechat/internal/apperr"
)

// wrapErr maps SQLite contention to a transient storage error and wraps
// everything else with op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if isBusy(err) {
		return apperr.Transient(err, "%s: storage busy", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
