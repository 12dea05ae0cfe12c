package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
	"github.com/micro-ha/transmission-sync/internal/storage"
	"github.com/micro-ha/transmission-sync/internal/transmission"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

// Agent owns the bound device controllers.
type Agent interface {
	Devices() []*transmission.Controller
	Device(id model.DeviceID) (*transmission.Controller, bool)
	OpenDevice(id model.DeviceID) (*transmission.Controller, error)
	CloseDevice(id model.DeviceID) bool
	ExportHistory(ctx context.Context, id model.DeviceID, format string) (string, error)
}

// Channel exposes the transport channel state.
type Channel interface {
	State() transport.ChannelState
}

// History lists server-side transmission history.
type History interface {
	History(ctx context.Context, id model.DeviceID, limit int) ([]model.HistoryEntry, error)
}

// Journal reads the local diagnostics journal.
type Journal interface {
	ListNotifications(ctx context.Context, filter storage.NotificationFilter) ([]notify.Notification, error)
	ListTransitions(ctx context.Context, limit int) ([]storage.TransitionRecord, error)
}

// API groups HTTP handlers and dependencies.
type API struct {
	agent   Agent
	channel Channel
	history History
	journal Journal
	logger  *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(agent Agent, channel Channel, history History, journal Journal, logger *slog.Logger) *API {
	return &API{
		agent:   agent,
		channel: channel,
		history: history,
		journal: journal,
		logger:  logger,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness and the transport mode.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	state := a.channel.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"mode":    state.Mode,
		"devices": len(a.agent.Devices()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
