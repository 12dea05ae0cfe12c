// Package notify carries user-facing notifications from the synchronizer to
// whatever surface shows them.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/transmission-sync/internal/model"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the user.
type Notification struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Operation string         `json:"operation,omitempty"`
	DeviceID  model.DeviceID `json:"device_id,omitempty"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
}

// New stamps a notification with an id and time.
func New(level Level, operation string, device model.DeviceID, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Operation: operation,
		DeviceID:  device,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Multi fans out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) {
	if l.Logger == nil {
		return
	}
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.Logger.Log(ctx, level, n.Message,
		"notification_id", n.ID,
		"operation", n.Operation,
		"device_id", n.DeviceID.String(),
	)
}

// Ring keeps the most recent notifications in memory for interactive views.
type Ring struct {
	mu    sync.Mutex
	size  int
	items []Notification
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 50
	}
	return &Ring{size: size}
}

func (r *Ring) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.size {
		r.items = r.items[len(r.items)-r.size:]
	}
}

// Recent returns up to limit notifications, newest first.
func (r *Ring) Recent(limit int) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.items) {
		limit = len(r.items)
	}
	out := make([]Notification, 0, limit)
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.items[i])
	}
	return out
}
