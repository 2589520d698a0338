package store

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"github.com/matheus3301/casechat/internal/apperr"
)

// Append persists a message and assigns its per-case id and created_at
// inside one transaction. Appends to the same case are serialized, so ids
// are strictly increasing with no gaps.
func (db *DB) Append(ctx context.Context, m NewMessage) (Message, error) {
	if err := validateNew(m); err != nil {
		return Message{}, err
	}

	unlock := db.caseLocks.Lock(caseKey(m.CaseID))
	defer unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, wrapErr("append: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireParticipant(ctx, tx, m.CaseID, m.SenderID); err != nil {
		return Message{}, err
	}

	var lastID, lastCreated int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0), COALESCE(MAX(created_at), 0)
		FROM messages WHERE case_id = ?`, m.CaseID).Scan(&lastID, &lastCreated)
	if err != nil {
		return Message{}, wrapErr("append: last id", err)
	}

	created := db.nowMillis()
	if created < lastCreated {
		created = lastCreated
	}
	msg := Message{
		ID:            lastID + 1,
		CaseID:        m.CaseID,
		SenderID:      m.SenderID,
		SenderRole:    m.SenderRole,
		Body:          m.Body,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     created,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (case_id, id, sender_id, sender_role, body, attachment_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.CaseID, msg.ID, msg.SenderID, msg.SenderRole, msg.Body, msg.AttachmentRef, msg.CreatedAt)
	if err != nil {
		return Message{}, wrapErr("append: insert", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, wrapErr("append: commit", err)
	}
	return msg, nil
}

// List returns messages of a case with id > sinceID in ascending order.
// limit <= 0 returns the full remainder.
func (db *DB) List(ctx context.Context, caseID, sinceID int64, limit int) ([]Message, error) {
	ok, err := db.CaseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("case %d not found", caseID)
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, case_id, sender_id, sender_role, body, attachment_ref, created_at
		FROM messages
		WHERE case_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, caseID, sinceID, limit)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.CaseID, &m.SenderID, &m.SenderRole, &m.Body, &m.AttachmentRef, &m.CreatedAt); err != nil {
			return nil, wrapErr("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list messages", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	positions, err := db.readPositions(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].ReadBy = readBy(msgs[i], positions)
	}
	return msgs, nil
}

// LatestID returns the highest message id in a case, 0 if empty.
func (db *DB) LatestID(ctx context.Context, caseID int64) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM messages WHERE case_id = ?`, caseID).Scan(&id)
	if err != nil {
		return 0, wrapErr("latest id", err)
	}
	return id, nil
}

// readBy derives the participants whose watermark covers m, sender excluded.
func readBy(m Message, positions []ReadPosition) []string {
	var users []string
	for _, p := range positions {
		if p.UserID != m.SenderID && p.UpToID >= m.ID {
			users = append(users, p.UserID)
		}
	}
	sort.Strings(users)
	return users
}

func validateNew(m NewMessage) error {
	if m.SenderID == "" {
		return apperr.Validation("sender is required")
	}
	if strings.TrimSpace(m.Body) == "" && m.AttachmentRef == "" {
		return apperr.Validation("message needs a body or an attachment")
	}
	if len(m.Body) > MaxBodyBytes {
		return apperr.Validation("message body exceeds %d bytes", MaxBodyBytes)
	}
	return nil
}

func requireParticipant(ctx context.Context, tx *sql.Tx, caseID int64, userID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE id = ?`, caseID).Scan(&exists)
	if err != nil {
		return wrapErr("case lookup", err)
	}
	if exists == 0 {
		return apperr.NotFound("case %d not found", caseID)
	}
	var member int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM case_participants WHERE case_id = ? AND user_id = ?`,
		caseID, userID).Scan(&member)
	if err != nil {
		return wrapErr("participant lookup", err)
	}
	if member == 0 {
		return apperr.NotFound("user %s is not a participant of case %d", userID, caseID)
	}
	return nil
}

func caseKey(caseID int64) string {
	return "case:" + strconv.FormatInt(caseID, 10)
}
