package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/micro-ha/transmission-sync/internal/config"
	"github.com/micro-ha/transmission-sync/internal/fakeserver"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
	"github.com/micro-ha/transmission-sync/internal/session"
	"github.com/micro-ha/transmission-sync/internal/storage"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func testConfig(t *testing.T, serverURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.URL = serverURL
	cfg.DataDir = t.TempDir()
	cfg.Devices = []model.DeviceID{"42"}
	cfg.ConnectionID = "7"
	cfg.TransportMode = config.TransportPolling
	cfg.UpdatesPollInterval = 10 * time.Millisecond
	cfg.StatePollInterval = 20 * time.Millisecond
	cfg.RequestRetryBase = time.Millisecond
	cfg.RateLimit = 0
	return cfg
}

func startFake(t *testing.T) (*fakeserver.Server, *httptest.Server) {
	t.Helper()
	fake := fakeserver.New(fakeserver.Options{Devices: []int64{42, 43}, Connections: []int64{7}})
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func TestAgentSyncsDeviceAndJournalsNotifications(t *testing.T) {
	_, srv := startFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{Config: testConfig(t, srv.URL), HTTPClient: srv.Client()})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	ctrl, ok := a.Device("42")
	require.True(t, ok)
	require.Eventually(t, func() bool { return ctrl.View().Loaded }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, model.StateInactive, ctrl.View().State)
	require.Eventually(t, func() bool { return a.Transport().State().Mode == transport.ModePolling }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.TransmitNow(ctx))

	recent := a.Notifications().Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, notify.LevelSuccess, recent[0].Level)

	journaled, err := a.Journal().ListNotifications(ctx, storage.NotificationFilter{DeviceID: "42"})
	require.NoError(t, err)
	require.NotEmpty(t, journaled)
	require.Equal(t, recent[0].ID, journaled[0].ID)

	require.Eventually(t, func() bool {
		transitions, err := a.Journal().ListTransitions(ctx, 10)
		return err == nil && len(transitions) > 0 && transitions[0].To == string(transport.ModePolling)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpenAndCloseDevices(t *testing.T) {
	_, srv := startFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{Config: testConfig(t, srv.URL), HTTPClient: srv.Client()})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	second, err := a.OpenDevice("43")
	require.NoError(t, err)
	again, err := a.OpenDevice("43")
	require.NoError(t, err)
	require.Same(t, second, again)

	ids := make([]model.DeviceID, 0, 2)
	for _, ctrl := range a.Devices() {
		ids = append(ids, ctrl.DeviceID())
	}
	require.Equal(t, []model.DeviceID{"42", "43"}, ids)
	require.Eventually(t, func() bool { return second.View().Loaded }, 2*time.Second, 5*time.Millisecond)

	require.True(t, a.CloseDevice("43"))
	require.True(t, second.Closed())
	require.False(t, a.CloseDevice("43"))

	_, err = a.OpenDevice("4/3")
	require.Error(t, err)
}

func TestSecondAgentOnSameDataDirIsRejected(t *testing.T) {
	_, srv := startFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, srv.URL)
	first, err := New(ctx, Options{Config: cfg, HTTPClient: srv.Client()})
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	cfg.DBPath = filepath.Join(t.TempDir(), "other.db")
	second, err := New(ctx, Options{Config: cfg, HTTPClient: srv.Client()})
	require.NoError(t, err)
	require.ErrorIs(t, second.Start(ctx), session.ErrHeld)
	require.NoError(t, second.Close())

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	_, err = first.OpenDevice("42")
	require.ErrorIs(t, err, ErrClosed)
}

func TestExportHistoryWritesFile(t *testing.T) {
	fake, srv := startFake(t)
	fake.SetState(42, model.StateActive)
	fake.Tick()

	ctx := context.Background()
	cfg := testConfig(t, srv.URL)
	a, err := New(ctx, Options{Config: cfg, HTTPClient: srv.Client()})
	require.NoError(t, err)
	defer a.Close()

	path, err := a.ExportHistory(ctx, "42", "csv")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.DataDir, "exports", "device_42_history.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "automatic")

	_, err = a.ExportHistory(ctx, "42", "xlsx")
	require.Error(t, err)
	require.Equal(t, notify.LevelError, a.Notifications().Recent(1)[0].Level)
}
