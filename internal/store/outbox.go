package store

import "context"

// Notification kinds.
const (
	NotificationNewMessage = "new_message"
)

// QueueNotification adds a notification to the outbox.
func (db *DB) QueueNotification(ctx context.Context, n Notification) (int64, error) {
	now := db.nowMillis()
	if n.Kind == "" {
		n.Kind = NotificationNewMessage
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO notifications (recipient_id, case_id, message_id, kind, title, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		n.RecipientID, n.CaseID, n.MessageID, n.Kind, n.Title, n.Body, now, now)
	if err != nil {
		return 0, wrapErr("queue notification", err)
	}
	return res.LastInsertId()
}

// MarkNotificationSending updates a notification to 'sending' status.
func (db *DB) MarkNotificationSending(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE notifications SET status = 'sending', updated_at = ? WHERE id = ?`, db.nowMillis(), id)
	return wrapErr("mark notification sending", err)
}

// MarkNotificationSent updates a notification to 'sent'.
func (db *DB) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE notifications SET status = 'sent', error_message = '', updated_at = ? WHERE id = ?`, db.nowMillis(), id)
	return wrapErr("mark notification sent", err)
}

// MarkNotificationFailed updates a notification to 'failed' with an error message.
func (db *DB) MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := db.ExecContext(ctx, `UPDATE notifications SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`, errMsg, db.nowMillis(), id)
	return wrapErr("mark notification failed", err)
}

// PendingNotifications returns queued notifications, oldest first.
func (db *DB) PendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.notifications(ctx, `WHERE status = 'queued' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

// NotificationsFor returns a recipient's notifications, newest first.
func (db *DB) NotificationsFor(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.notifications(ctx, `WHERE recipient_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, recipientID, limit)
}

func (db *DB) notifications(ctx context.Context, where string, args ...any) ([]Notification, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, recipient_id, case_id, message_id, kind, title, body, status, error_message, created_at
		FROM notifications `+where, args...)
	if err != nil {
		return nil, wrapErr("list notifications", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.CaseID, &n.MessageID, &n.Kind, &n.Title, &n.Body, &n.Status, &n.ErrorMessage, &n.CreatedAt); err != nil {
			return nil, wrapErr("scan notification", err)
		}
		out = append(out, n)
	}
	return out, wrapErr("list notifications", rows.Err())
}

// Stats counts cases, messages and outbox backlog, and reports the schema
// version.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cases),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM notifications WHERE status = 'queued'),
			(SELECT COUNT(*) FROM notifications WHERE status = 'failed'),
			(SELECT COALESCE(MAX(version), 0) FROM `+schemaTable+`)`).
		Scan(&s.Cases, &s.Messages, &s.QueuedNotifications, &s.FailedNotifications, &s.SchemaVersion)
	return s, wrapErr("stats", err)
}
