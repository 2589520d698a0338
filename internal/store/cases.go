package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/casechat/internal/apperr"
)

// DirectChatTitle is used when a direct chat is bootstrapped without a title.
const DirectChatTitle = "Direct Chat"

// DirectChatLegalService is the legal service of a bootstrapped direct chat
// unless the lawyer names one.
const DirectChatLegalService = "Direct Consultation"

// UpsertUser registers or updates a user in the directory.
func (db *DB) UpsertUser(ctx context.Context, u User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, role, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role, name = excluded.name`,
		u.ID, u.Role, u.Name, db.nowMillis())
	return wrapErr("upsert user", err)
}

// UserRole returns the directory role of a user.
func (db *DB) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if isNoRows(err) {
		return "", apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return "", wrapErr("user role", err)
	}
	return role, nil
}

// CaseExists reports whether a case id is known.
func (db *DB) CaseExists(ctx context.Context, caseID int64) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE id = ?`, caseID).Scan(&n)
	if err != nil {
		return false, wrapErr("case exists", err)
	}
	return n > 0, nil
}

// IsParticipant reports whether userID is attached to caseID.
func (db *DB) IsParticipant(ctx context.Context, caseID int64, userID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM case_participants WHERE case_id = ? AND user_id = ?`,
		caseID, userID).Scan(&n)
	if err != nil {
		return false, wrapErr("is participant", err)
	}
	return n > 0, nil
}

// Participants lists the users attached to a case, ordered by user id.
func (db *DB) Participants(ctx context.Context, caseID int64) ([]Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, role FROM case_participants WHERE case_id = ? ORDER BY user_id`, caseID)
	if err != nil {
		return nil, wrapErr("participants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Role); err != nil {
			return nil, wrapErr("scan participant", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("participants", rows.Err())
}

// AddParticipant attaches a user to a case. Re-adding is a no-op.
func (db *DB) AddParticipant(ctx context.Context, caseID int64, userID, role string) error {
	ok, err := db.CaseExists(ctx, caseID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("case %d not found", caseID)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO case_participants (case_id, user_id, role, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(case_id, user_id) DO NOTHING`,
		caseID, userID, role, db.nowMillis())
	return wrapErr("add participant", err)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FindCaseForPair returns the oldest case both users participate in.
func (db *DB) FindCaseForPair(ctx context.Context, userA, userB string) (int64, bool, error) {
	return findCaseForPair(ctx, db, userA, userB)
}

func findCaseForPair(ctx context.Context, q queryer, userA, userB string) (int64, bool, error) {
	var caseID int64
	err := q.QueryRowContext(ctx, `
		SELECT a.case_id FROM case_participants a
		JOIN case_participants b ON a.case_id = b.case_id
		WHERE a.user_id = ? AND b.user_id = ?
		ORDER BY a.case_id ASC
		LIMIT 1`, userA, userB).Scan(&caseID)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("find case for pair", err)
	}
	return caseID, true, nil
}

// CreateCase inserts a case and attaches its client and lawyer as
// participants. Case numbers follow CHAT-YYYYMMDD-HHMMSS, with a numeric
// suffix when another case was created in the same second.
func (db *DB) CreateCase(ctx context.Context, nc NewCase) (Case, error) {
	c, _, err := db.createCase(ctx, nc, false)
	return c, err
}

// CreateCaseForPair creates a case for the client and lawyer of nc unless
// the two already share one, in which case that case is returned with
// created false. Lookup and insert share one IMMEDIATE transaction, so
// processes writing the same database cannot both create a case.
func (db *DB) CreateCaseForPair(ctx context.Context, nc NewCase) (Case, bool, error) {
	return db.createCase(ctx, nc, true)
}

func (db *DB) createCase(ctx context.Context, nc NewCase, reuse bool) (Case, bool, error) {
	if nc.ClientID == "" {
		return Case{}, false, apperr.Validation("case needs a client")
	}
	if reuse && nc.LawyerID == "" {
		return Case{}, false, apperr.Validation("case needs a lawyer")
	}
	if strings.TrimSpace(nc.Title) == "" {
		nc.Title = DirectChatTitle
	}
	if nc.Priority == "" {
		nc.Priority = "medium"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Case{}, false, wrapErr("create case: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reuse {
		caseID, found, err := findCaseForPair(ctx, tx, nc.LawyerID, nc.ClientID)
		if err != nil {
			return Case{}, false, err
		}
		if found {
			c, err := scanCase(tx.QueryRowContext(ctx, selectCase+` WHERE id = ?`, caseID))
			return c, false, wrapErr("create case: existing", err)
		}
	}

	now := db.now()
	number, err := nextCaseNumber(ctx, tx, now)
	if err != nil {
		return Case{}, false, err
	}

	c := Case{
		Title:        nc.Title,
		ClientID:     nc.ClientID,
		LawyerID:     nc.LawyerID,
		Status:       "open",
		CaseNumber:   number,
		LegalService: nc.LegalService,
		Priority:     nc.Priority,
		CreatedAt:    now.UnixMilli(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cases (title, client_id, lawyer_id, status, case_number, legal_service, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Title, c.ClientID, c.LawyerID, c.Status, c.CaseNumber, c.LegalService, c.Priority, c.CreatedAt)
	if err != nil {
		return Case{}, false, wrapErr("create case: insert", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return Case{}, false, wrapErr("create case: id", err)
	}

	members := []Participant{{UserID: c.ClientID, Role: "client"}}
	if c.LawyerID != "" {
		members = append(members, Participant{UserID: c.LawyerID, Role: "lawyer"})
	}
	for _, p := range members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO case_participants (case_id, user_id, role, added_at) VALUES (?, ?, ?, ?)`,
			c.ID, p.UserID, p.Role, c.CreatedAt)
		if err != nil {
			return Case{}, false, wrapErr("create case: participant", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Case{}, false, wrapErr("create case: commit", err)
	}
	return c, true, nil
}

const selectCase = `
		SELECT id, title, client_id, lawyer_id, status, case_number, legal_service, priority, created_at
		FROM cases`

// GetCase returns a case by id.
func (db *DB) GetCase(ctx context.Context, caseID int64) (Case, error) {
	row := db.QueryRowContext(ctx, selectCase+` WHERE id = ?`, caseID)
	c, err := scanCase(row)
	if isNoRows(err) {
		return Case{}, apperr.NotFound("case %d not found", caseID)
	}
	if err != nil {
		return Case{}, wrapErr("get case", err)
	}
	return c, nil
}

// CasesForUser lists the cases a user participates in, newest first.
func (db *DB) CasesForUser(ctx context.Context, userID string) ([]Case, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.title, c.client_id, c.lawyer_id, c.status, c.case_number, c.legal_service, c.priority, c.created_at
		FROM cases c
		JOIN case_participants p ON p.case_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, wrapErr("cases for user", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, wrapErr("scan case", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("cases for user", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (Case, error) {
	var c Case
	err := s.Scan(&c.ID, &c.Title, &c.ClientID, &c.LawyerID, &c.Status, &c.CaseNumber, &c.LegalService, &c.Priority, &c.CreatedAt)
	return c, err
}

func nextCaseNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	base := "CHAT-" + now.UTC().Format("20060102-150405")
	number := base
	for i := 2; ; i++ {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE case_number = ?`, number).Scan(&n); err != nil {
			return "", wrapErr("case number", err)
		}
		if n == 0 {
			return number, nil
		}
		number = fmt.Sprintf("%s-%d", base, i)
	}
}
