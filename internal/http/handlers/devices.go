package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/transmission"
)

// ListDevices returns the view of every bound device.
func (a *API) ListDevices(w http.ResponseWriter, _ *http.Request) {
	controllers := a.agent.Devices()
	items := make([]transmission.View, 0, len(controllers))
	for _, ctrl := range controllers {
		items = append(items, ctrl.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDevice returns one bound device.
func (a *API) GetDevice(w http.ResponseWriter, _ *http.Request, id string) {
	ctrl, ok := a.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.View())
}

// OpenDevice binds a controller to the device.
func (a *API) OpenDevice(w http.ResponseWriter, _ *http.Request, id string) {
	ctrl, err := a.agent.OpenDevice(model.DeviceID(id))
	if err != nil {
		writeError(w, http.StatusBadRequest, "open_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.View())
}

// CloseDevice unbinds the device.
func (a *API) CloseDevice(w http.ResponseWriter, _ *http.Request, id string) {
	if !a.agent.CloseDevice(model.DeviceID(id)) {
		writeError(w, http.StatusNotFound, "not_found", "Device not bound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshDevice fetches the device state now and returns the result.
func (a *API) RefreshDevice(w http.ResponseWriter, r *http.Request, id string) {
	ctrl, ok := a.lookup(w, id)
	if !ok {
		return
	}
	if err := ctrl.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "refresh_failed", client.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, ctrl.View())
}

// RunAction triggers a transmission action. stop needs ?confirm=true.
func (a *API) RunAction(w http.ResponseWriter, r *http.Request, id string, name string) {
	action, known := model.ParseAction(name)
	if !known {
		writeError(w, http.StatusNotFound, "unknown_action", "Unknown action "+strconv.Quote(name))
		return
	}
	ctrl, ok := a.lookup(w, id)
	if !ok {
		return
	}

	ctx := r.Context()
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); confirmed {
		ctx = transmission.WithConsent(ctx)
	}

	err := ctrl.Do(ctx, action)
	var pre *transmission.PreconditionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ctrl.View())
	case errors.As(err, &pre):
		writeError(w, http.StatusConflict, "precondition_failed", pre.Reason)
	case client.IsBusiness(err):
		writeError(w, http.StatusUnprocessableEntity, "rejected", client.Message(err))
	default:
		writeError(w, http.StatusBadGateway, "upstream_unavailable", client.Message(err))
	}
}

// DeviceHistory proxies the server's transmission history.
func (a *API) DeviceHistory(w http.ResponseWriter, r *http.Request, id string) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = value
	}
	entries, err := a.history.History(r.Context(), model.DeviceID(id), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "history_failed", client.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// ExportHistory saves the device history to the export directory.
func (a *API) ExportHistory(w http.ResponseWriter, r *http.Request, id string) {
	path, err := a.agent.ExportHistory(r.Context(), model.DeviceID(id), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "export_failed", client.Message(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": path})
}

func (a *API) lookup(w http.ResponseWriter, id string) (*transmission.Controller, bool) {
	ctrl, ok := a.agent.Device(model.DeviceID(id))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Device not bound")
		return nil, false
	}
	return ctrl, true
}
