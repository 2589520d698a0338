package store

import (
	"context"

	"github.com/matheus3301/casechat/internal/apperr"
)

// MarkRead moves a user's read watermark forward to upToID, clamped to the
// latest message id. Older or equal positions are a no-op. The bool reports
// whether the stored position advanced.
func (db *DB) MarkRead(ctx context.Context, caseID int64, userID string, upToID int64) (ReadPosition, bool, error) {
	if upToID < 0 {
		return ReadPosition{}, false, apperr.Validation("up_to_id must not be negative")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ReadPosition{}, false, wrapErr("mark read: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireParticipant(ctx, tx, caseID, userID); err != nil {
		return ReadPosition{}, false, err
	}

	var latest int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM messages WHERE case_id = ?`, caseID).Scan(&latest); err != nil {
		return ReadPosition{}, false, wrapErr("mark read: latest", err)
	}
	if upToID > latest {
		upToID = latest
	}

	pos := ReadPosition{CaseID: caseID, UserID: userID}
	err = tx.QueryRowContext(ctx, `
		SELECT up_to_id, updated_at FROM read_positions WHERE case_id = ? AND user_id = ?`,
		caseID, userID).Scan(&pos.UpToID, &pos.UpdatedAt)
	if err != nil && !isNoRows(err) {
		return ReadPosition{}, false, wrapErr("mark read: current", err)
	}
	if upToID <= pos.UpToID {
		return pos, false, nil
	}

	pos.UpToID = upToID
	pos.UpdatedAt = db.nowMillis()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO read_positions (case_id, user_id, up_to_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(case_id, user_id) DO UPDATE SET
			up_to_id = MAX(read_positions.up_to_id, excluded.up_to_id),
			updated_at = excluded.updated_at`,
		caseID, userID, pos.UpToID, pos.UpdatedAt)
	if err != nil {
		return ReadPosition{}, false, wrapErr("mark read: upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return ReadPosition{}, false, wrapErr("mark read: commit", err)
	}
	return pos, true, nil
}

// ReadPosition returns a user's watermark in a case, zero if none.
func (db *DB) ReadPosition(ctx context.Context, caseID int64, userID string) (ReadPosition, error) {
	pos := ReadPosition{CaseID: caseID, UserID: userID}
	err := db.QueryRowContext(ctx, `
		SELECT up_to_id, updated_at FROM read_positions WHERE case_id = ? AND user_id = ?`,
		caseID, userID).Scan(&pos.UpToID, &pos.UpdatedAt)
	if err != nil && !isNoRows(err) {
		return ReadPosition{}, wrapErr("read position", err)
	}
	return pos, nil
}

// UnreadCount counts messages in the case after the user's watermark that
// someone else authored. Never stored.
func (db *DB) UnreadCount(ctx context.Context, caseID int64, userID string) (int, error) {
	ok, err := db.CaseExists(ctx, caseID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.NotFound("case %d not found", caseID)
	}
	var n int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.case_id = ? AND m.sender_id != ?
		AND m.id > COALESCE((SELECT up_to_id FROM read_positions WHERE case_id = ? AND user_id = ?), 0)`,
		caseID, userID, caseID, userID).Scan(&n)
	if err != nil {
		return 0, wrapErr("unread count", err)
	}
	return n, nil
}

// UnreadCounts returns the unread count of every case the user participates in.
func (db *DB) UnreadCounts(ctx context.Context, userID string) (map[int64]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.case_id, COUNT(m.id)
		FROM case_participants p
		LEFT JOIN read_positions r ON r.case_id = p.case_id AND r.user_id = p.user_id
		LEFT JOIN messages m ON m.case_id = p.case_id
			AND m.sender_id != p.user_id
			AND m.id > COALESCE(r.up_to_id, 0)
		WHERE p.user_id = ?
		GROUP BY p.case_id`, userID)
	if err != nil {
		return nil, wrapErr("unread counts", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[int64]int)
	for rows.Next() {
		var caseID int64
		var n int
		if err := rows.Scan(&caseID, &n); err != nil {
			return nil, wrapErr("scan unread", err)
		}
		counts[caseID] = n
	}
	return counts, wrapErr("unread counts", rows.Err())
}

func (db *DB) readPositions(ctx context.Context, caseID int64) ([]ReadPosition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, up_to_id, updated_at FROM read_positions WHERE case_id = ?`, caseID)
	if err != nil {
		return nil, wrapErr("read positions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReadPosition
	for rows.Next() {
		p := ReadPosition{CaseID: caseID}
		if err := rows.Scan(&p.UserID, &p.UpToID, &p.UpdatedAt); err != nil {
			return nil, wrapErr("scan read position", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("read positions", rows.Err())
}
