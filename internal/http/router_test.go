package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/config"
	"github.com/micro-ha/transmission-sync/internal/fakeserver"
	"github.com/micro-ha/transmission-sync/internal/http/handlers"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/transmission"
)

type fixture struct {
	fake   *fakeserver.Server
	agent  *app.App
	router http.Handler
}

func newFixture(t *testing.T, opts RouterOptions) *fixture {
	t.Helper()
	fake := fakeserver.New(fakeserver.Options{Devices: []int64{42}, Connections: []int64{7}})
	upstream := httptest.NewServer(fake.Handler())
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Server.URL = upstream.URL
	cfg.DataDir = t.TempDir()
	cfg.Devices = []model.DeviceID{"42"}
	cfg.ConnectionID = "7"
	cfg.TransportMode = config.TransportPolling
	cfg.UpdatesPollInterval = 10 * time.Millisecond
	cfg.StatePollInterval = time.Hour
	cfg.RequestRetryBase = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agent, err := app.New(ctx, app.Options{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: upstream.Client(),
		Confirmer:  transmission.ConsentConfirmer,
	})
	require.NoError(t, err)
	require.NoError(t, agent.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = agent.Close()
	})

	ctrl, _ := agent.Device("42")
	require.Eventually(t, func() bool { return ctrl.View().Loaded }, 2*time.Second, 5*time.Millisecond)

	api := handlers.New(agent, agent.Transport(), agent.Client(), agent.Journal(), logger)
	return &fixture{fake: fake, agent: agent, router: NewRouter(api, opts)}
}

func (f *fixture) do(t *testing.T, method, path string, header http.Header) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func errorCode(body map[string]any) string {
	problem, _ := body["error"].(map[string]any)
	code, _ := problem["code"].(string)
	return code
}

func TestHealthAndChannel(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	status, body := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["devices"])

	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/channel", nil)
		return body["mode"] == "POLLING"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDeviceViewsAndActions(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	status, body := f.do(t, http.MethodGet, "/api/devices/42", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "INACTIVE", body["current_state"])

	status, body = f.do(t, http.MethodGet, "/api/devices/99", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", errorCode(body))

	status, body = f.do(t, http.MethodPost, "/api/devices/42/actions/start", nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, model.StateActive, f.fake.State(42))

	status, body = f.do(t, http.MethodPost, "/api/devices/42/actions/stop", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "precondition_failed", errorCode(body))
	require.Equal(t, model.StateActive, f.fake.State(42))

	status, _ = f.do(t, http.MethodPost, "/api/devices/42/actions/stop?confirm=true", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.StateInactive, f.fake.State(42))

	status, body = f.do(t, http.MethodPost, "/api/devices/42/actions/launch", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "unknown_action", errorCode(body))

	status, body = f.do(t, http.MethodGet, "/api/notifications?device_id=42", nil)
	require.Equal(t, http.StatusOK, status)
	items, _ := body["items"].([]any)
	require.Len(t, items, 3)
}

func TestServerRejectionMapsToUnprocessable(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.fake.SetState(42, model.StatePaused)

	status, body := f.do(t, http.MethodPost, "/api/devices/42/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "PAUSED", body["current_state"])

	// The server moves on before the click reaches it.
	f.fake.SetState(42, model.StateManual)

	status, body = f.do(t, http.MethodPost, "/api/devices/42/actions/transmit_now", nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "rejected", errorCode(body))
	problem := body["error"].(map[string]any)
	require.Equal(t, "Cannot execute manual transmission while another manual transmission is in progress", problem["message"])
}

func TestOpenCloseAndHistory(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.fake.SetState(42, model.StateActive)
	f.fake.Tick()

	status, body := f.do(t, http.MethodGet, "/api/devices/42/history?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 1)

	status, _ = f.do(t, http.MethodGet, "/api/devices/42/history?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPost, "/api/devices/42/export", nil)
	require.Equal(t, http.StatusCreated, status)
	require.Contains(t, body["path"], "device_42_history.csv")

	status, _ = f.do(t, http.MethodDelete, "/api/devices/42", nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodDelete, "/api/devices/42", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPut, "/api/devices/42", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "42", body["device_id"])
}

func TestIngressPrefixAndRateLimit(t *testing.T) {
	f := newFixture(t, RouterOptions{RequestLimit: 2, Window: time.Minute})
	header := http.Header{"X-Ingress-Path": []string{"/api/hassio_ingress/abc"}}

	status, _ := f.do(t, http.MethodGet, "/api/hassio_ingress/abc/api/devices", header)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "rate_limited", errorCode(body))

	status, _ = f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
}
