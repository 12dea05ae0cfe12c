package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/storage"
)

// Channel reports the transport channel state.
func (a *API) Channel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.channel.State())
}

// ListTransitions returns recent channel mode changes.
func (a *API) ListTransitions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	items, err := a.journal.ListTransitions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ListNotifications returns journaled notifications, newest first.
func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter := storage.NotificationFilter{
		DeviceID: model.DeviceID(strings.TrimSpace(r.URL.Query().Get("device_id"))),
		Limit:    limit,
	}
	items, err := a.journal.ListNotifications(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
