package store

import (
	"context"

	"github.com/matheus3301/casechat/internal/apperr"
)

// RegisterAttachment records that an uploaded file exists under ref.
func (db *DB) RegisterAttachment(ctx context.Context, a Attachment) error {
	if a.Ref == "" {
		return apperr.Validation("attachment ref is required")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO attachments (ref, case_id, uploaded_by, name, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING`,
		a.Ref, a.CaseID, a.UploadedBy, a.Name, db.nowMillis())
	return wrapErr("register attachment", err)
}

// AttachmentExists reports whether ref was registered.
func (db *DB) AttachmentExists(ctx context.Context, ref string) (bool, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE ref = ?`, ref).Scan(&n); err != nil {
		return false, wrapErr("attachment exists", err)
	}
	return n > 0, nil
}
