// Package fakeserver is an in-process transmission server. It follows the
// real server's state rules and emits the matching events over websocket and
// the polling queue, for tests and local demos.
package fakeserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/micro-ha/transmission-sync/internal/events"
	"github.com/micro-ha/transmission-sync/internal/model"
)

const maxQueued = 100

// Options seeds the server.
type Options struct {
	Devices     []int64
	Connections []int64
	Rows        int64
	Interval    time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

type device struct {
	id               int64
	state            model.TransmissionState
	connectionID     int64
	row              int64
	rows             int64
	lastTransmission *time.Time
}

type historyRow struct {
	ID               int64   `json:"id"`
	DeviceID         int64   `json:"device_id"`
	ConnectionID     int64   `json:"connection_id"`
	TransmissionType string  `json:"transmission_type"`
	DataSent         string  `json:"data_sent"`
	RowIndex         *int64  `json:"row_index"`
	Status           string  `json:"status"`
	ErrorMessage     *string `json:"error_message"`
	TransmissionTime string  `json:"transmission_time"`
	Timestamp        string  `json:"timestamp"`
}

type failure struct {
	remaining int
	status    int
}

// Server holds all fake state behind one mutex.
type Server struct {
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	devices     map[int64]*device
	connections map[int64]bool
	history     map[int64][]historyRow
	nextHistory int64
	queue       []json.RawMessage
	clients     map[*wsClient]struct{}
	failures    map[string]*failure
}

// New creates a server with every device INACTIVE.
func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	rows := opts.Rows
	if rows <= 0 {
		rows = 10
	}

	s := &Server{
		interval:    interval,
		now:         now,
		logger:      logger.With("component", "fakeserver"),
		devices:     make(map[int64]*device),
		connections: make(map[int64]bool),
		history:     make(map[int64][]historyRow),
		clients:     make(map[*wsClient]struct{}),
		failures:    make(map[string]*failure),
	}
	for _, id := range opts.Devices {
		s.devices[id] = &device{id: id, state: model.StateInactive, rows: rows}
	}
	for _, id := range opts.Connections {
		s.connections[id] = true
	}
	return s
}

// Handler builds the HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.injectFailures)

	r.Get("/ws/transmissions", s.serveWebsocket)
	r.Route("/api", func(api chi.Router) {
		api.Get("/transmissions/updates", s.updates)
		api.Route("/devices/{id}", func(dev chi.Router) {
			dev.Get("/transmission-state", s.transmissionState)
			dev.Post("/transmit", s.transmit)
			dev.Post("/start-transmission/{connectionID}", s.start)
			dev.Post("/pause", s.pause)
			dev.Post("/pause-transmission", s.pause)
			dev.Post("/resume", s.resume)
			dev.Post("/resume-transmission", s.resume)
			dev.Post("/stop", s.stop)
			dev.Post("/stop-transmission", s.stop)
			dev.Get("/transmission-history", s.historyList)
			dev.Get("/transmission-history/export", s.historyExport)
		})
	})
	return r
}

// FailNext makes the next n requests to path answer status with no body.
func (s *Server) FailNext(path string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{remaining: n, status: status}
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f := s.failures[r.URL.Path]
		status := 0
		if f != nil && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetState forces a device into state, e.g. MANUAL for an in-flight run.
func (s *Server) SetState(id int64, state model.TransmissionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		d.state = state
	}
}

// State returns the device state, INACTIVE for unknown devices.
func (s *Server) State(id int64) model.TransmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		return d.state
	}
	return model.StateInactive
}

// Emit publishes an event to live clients and the polling queue.
func (s *Server) Emit(topic events.Topic, payload any) {
	raw, err := events.Marshal(topic, payload)
	if err != nil {
		s.logger.Error("marshal event failed", "topic", topic.String(), "err", err)
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, raw)
	if len(s.queue) > maxQueued {
		s.queue = s.queue[len(s.queue)-maxQueued:]
	}
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.write(raw); err != nil {
			s.logger.Debug("dropping websocket client", "err", err)
			s.removeClient(c)
		}
	}
}

// Tick runs one scheduled transmission for every ACTIVE device.
func (s *Server) Tick() {
	s.mu.Lock()
	var active []*device
	for _, d := range s.devices {
		if d.state == model.StateActive {
			active = append(active, d)
		}
	}
	s.mu.Unlock()

	for _, d := range active {
		s.transmitRow(d.id, d.connectionID, "automatic")
	}
}

func (s *Server) updates(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()
	if queued == nil {
		queued = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, queued)
}

func (s *Server) transmissionState(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	d, found := s.devices[id]
	var body map[string]any
	if found {
		body = s.stateBodyLocked(d)
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// State names go out lowercase, as the real server sends them.
func (s *Server) stateBodyLocked(d *device) map[string]any {
	body := map[string]any{
		"device_id":         d.id,
		"current_state":     strings.ToLower(string(d.state)),
		"available_actions": model.DeriveActions(d.state),
		"last_transmission": nil,
		"next_scheduled":    nil,
	}
	if d.lastTransmission != nil {
		body["last_transmission"] = d.lastTransmission.UTC().Format(time.RFC3339)
	}
	if d.state == model.StateActive {
		body["next_scheduled"] = s.now().Add(s.interval).UTC().Format(time.RFC3339)
	}
	if d.rows > 0 {
		body["progress"] = model.Progress{
			Current:    d.row,
			Total:      d.rows,
			Percentage: float64(d.row) * 100 / float64(d.rows),
		}
	}
	return body
}

func (s *Server) transmit(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var body struct {
		ConnectionID json.RawMessage `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Request must be JSON")
		return
	}
	connectionID, err := parseLooseInt(body.ConnectionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	d, found := s.devices[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.state != model.StateInactive && d.state != model.StatePaused {
		state := d.state
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         "Cannot execute manual transmission while another manual transmission is in progress",
			"current_state": strings.ToLower(string(state)),
		})
		return
	}
	if !s.connections[connectionID] {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	original := d.state
	d.state = model.StateManual
	s.mu.Unlock()

	row := s.transmitRow(id, connectionID, "manual")

	s.mu.Lock()
	d.state = original
	last := d.lastTransmission
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "Manual transmission completed",
		"current_row_index": row,
		"last_transmission": last,
		"success":           true,
	})
}

// transmitRow records one sent row and emits started/completed events.
func (s *Server) transmitRow(id, connectionID int64, kind string) int64 {
	s.Emit(events.TopicTransmissionStarted, map[string]any{"device_id": id, "connection_id": connectionID, "transmission_type": kind})

	s.mu.Lock()
	d := s.devices[id]
	now := s.now().UTC()
	row := d.row
	d.row = (d.row + 1) % d.rows
	next := d.row
	d.lastTransmission = &now
	s.nextHistory++
	entry := historyRow{
		ID:               s.nextHistory,
		DeviceID:         id,
		ConnectionID:     connectionID,
		TransmissionType: kind,
		DataSent:         fmt.Sprintf(`{"row":%d}`, row),
		RowIndex:         &row,
		Status:           "SUCCESS",
		TransmissionTime: now.Format(time.RFC3339),
		Timestamp:        now.Format(time.RFC3339),
	}
	s.history[id] = append(s.history[id], entry)
	s.mu.Unlock()

	s.Emit(events.TopicTransmissionCompleted, map[string]any{"device_id": id, "connection_id": connectionID, "row_index": row})
	return next
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	connectionID, err := strconv.ParseInt(chi.URLParam(r, "connectionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}

	s.mu.Lock()
	d, found := s.devices[id]
	switch {
	case !found:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Device not found")
		return
	case !s.connections[connectionID]:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	case d.state != model.StateInactive:
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Cannot start transmission")
		return
	}
	d.state = model.StateActive
	d.connectionID = connectionID
	body := map[string]any{
		"message":              "Automatic transmission started",
		"current_state":        strings.ToLower(string(d.state)),
		"transmission_enabled": true,
		"next_scheduled":       s.now().Add(s.interval).UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	s.Emit(events.TopicTransmissionStarted, map[string]any{"device_id": id, "connection_id": connectionID, "transmission_type": "automatic"})
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, transitionRule{
		from:    []model.TransmissionState{model.StateActive},
		to:      model.StatePaused,
		topic:   events.TopicTransmissionPaused,
		message: "Transmission paused",
		failure: "Cannot pause transmission",
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, transitionRule{
		from:    []model.TransmissionState{model.StatePaused},
		to:      model.StateActive,
		topic:   events.TopicTransmissionResumed,
		message: "Transmission resumed",
		failure: "Cannot resume transmission",
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, transitionRule{
		from:    []model.TransmissionState{model.StateActive, model.StatePaused},
		to:      model.StateInactive,
		topic:   events.TopicDeviceStatusChanged,
		message: "Transmission stopped",
		failure: "Cannot stop transmission",
	})
}

type transitionRule struct {
	from    []model.TransmissionState
	to      model.TransmissionState
	topic   events.Topic
	message string
	failure string
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, rule transitionRule) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	d, found := s.devices[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	allowed := false
	for _, state := range rule.from {
		allowed = allowed || d.state == state
	}
	if !allowed {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, rule.failure)
		return
	}
	d.state = rule.to
	if rule.to == model.StateInactive {
		d.connectionID = 0
	}
	row := d.row
	s.mu.Unlock()

	s.Emit(rule.topic, map[string]any{"device_id": id, "state": strings.ToLower(string(rule.to))})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           rule.message,
		"current_state":     strings.ToLower(string(rule.to)),
		"current_row_index": row,
	})
}

func (s *Server) historyList(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, s.recentHistory(id, limit))
}

func (s *Server) recentHistory(id int64, limit int) []historyRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.history[id]
	out := make([]historyRow, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out
}

func deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Device not found")
		return 0, false
	}
	return id, true
}

func parseLooseInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("connection_id is required")
	}
	var id model.DeviceID
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return 0, fmt.Errorf("connection_id is required")
	}
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("connection_id must be a valid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// RunScheduler ticks ACTIVE devices every interval until ctx is done.
func (s *Server) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
