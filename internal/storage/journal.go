package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

var ErrNotFound = errors.New("not found")

const defaultListLimit = 50

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	DeviceID model.DeviceID
	Limit    int
}

func (r *Repository) InsertNotification(ctx context.Context, n notify.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, level, operation, device_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		n.ID, string(n.Level), toNull(n.Operation), toNull(n.DeviceID.String()), n.Message, formatTime(n.CreatedAt),
	)
	return err
}

// Notify journals n, logging instead of failing so notification delivery
// never depends on the disk.
func (r *Repository) Notify(ctx context.Context, n notify.Notification) {
	if err := r.InsertNotification(ctx, n); err != nil && r.logger != nil {
		r.logger.Warn("journal notification failed", "notification_id", n.ID, "err", err)
	}
}

// ListNotifications returns notifications newest first.
func (r *Repository) ListNotifications(ctx context.Context, filter NotificationFilter) ([]notify.Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, level, operation, device_id, message, created_at FROM notifications`
	args := []any{}
	if filter.DeviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, filter.DeviceID.String())
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []notify.Notification{}
	for rows.Next() {
		var (
			n                   notify.Notification
			level, createdAt    string
			operation, deviceID sql.NullString
		)
		if err := rows.Scan(&n.ID, &level, &operation, &deviceID, &n.Message, &createdAt); err != nil {
			return nil, err
		}
		n.Level = notify.Level(level)
		n.Operation = nullString(operation)
		n.DeviceID = model.DeviceID(nullString(deviceID))
		n.CreatedAt = parseTime(createdAt)
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *Repository) GetNotification(ctx context.Context, id string) (notify.Notification, error) {
	var (
		n                   notify.Notification
		level, createdAt    string
		operation, deviceID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, level, operation, device_id, message, created_at
		FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &level, &operation, &deviceID, &n.Message, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, ErrNotFound
	}
	if err != nil {
		return notify.Notification{}, err
	}
	n.Level = notify.Level(level)
	n.Operation = nullString(operation)
	n.DeviceID = model.DeviceID(nullString(deviceID))
	n.CreatedAt = parseTime(createdAt)
	return n, nil
}

// RecordTransition implements transport.TransitionRecorder.
func (r *Repository) RecordTransition(ctx context.Context, t transport.Transition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_transitions (from_mode, to_mode, attempts, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(t.From), string(t.To), t.Attempts, toNull(t.Reason), formatTime(t.At),
	)
	return err
}

// TransitionRecord is a journaled transition.
type TransitionRecord struct {
	ID       int64  `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
	At       string `json:"at"`
}

// ListTransitions returns the most recent transitions, newest first.
func (r *Repository) ListTransitions(ctx context.Context, limit int) ([]TransitionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_mode, to_mode, attempts, reason, created_at
		FROM channel_transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []TransitionRecord{}
	for rows.Next() {
		var (
			item   TransitionRecord
			reason sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.From, &item.To, &item.Attempts, &reason, &item.At); err != nil {
			return nil, err
		}
		item.Reason = nullString(reason)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Prune keeps the newest keep rows of each journal table.
func (r *Repository) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notifications WHERE rowid NOT IN (
			SELECT rowid FROM notifications ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM channel_transitions WHERE id NOT IN (
			SELECT id FROM channel_transitions ORDER BY id DESC LIMIT ?
		)`, keep); err != nil {
		return err
	}
	return tx.Commit()
}
