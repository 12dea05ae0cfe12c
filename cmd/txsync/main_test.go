package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/micro-ha/transmission-sync/internal/fakeserver"
	"github.com/micro-ha/transmission-sync/internal/model"
)

type cliEnv struct {
	fake    *fakeserver.Server
	dataDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	fake := fakeserver.New(fakeserver.Options{Devices: []int64{42}, Connections: []int64{7}})
	upstream := httptest.NewServer(fake.Handler())
	t.Cleanup(upstream.Close)

	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TXSYNC_CONFIG", "")
	t.Setenv("TXSYNC_SERVER_URL", upstream.URL)
	t.Setenv("TXSYNC_DATA_DIR", dataDir)
	t.Setenv("TXSYNC_DEVICES", "42")
	t.Setenv("TXSYNC_CONNECTION_ID", "7")
	t.Setenv("TXSYNC_TRANSPORT", "polling")
	t.Setenv("TXSYNC_REQUEST_RETRY_BASE", "1ms")
	t.Setenv("TXSYNC_LOG_LEVEL", "error")
	return &cliEnv{fake: fake, dataDir: dataDir}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStateCommand(t *testing.T) {
	newCLIEnv(t)

	out, err := runCLI(t, "", "state")
	require.NoError(t, err)
	require.Contains(t, out, "42")
	require.Contains(t, out, "INACTIVE")
	require.Contains(t, out, "start")

	_, err = runCLI(t, "", "state", "99")
	require.ErrorContains(t, err, "99")
}

func TestActionCommandRunsAndReports(t *testing.T) {
	env := newCLIEnv(t)

	out, err := runCLI(t, "", "action", "42", "start")
	require.NoError(t, err, out)
	require.Contains(t, out, "✓")
	require.Contains(t, out, "Device 42 is now ACTIVE")
	require.Equal(t, model.StateActive, env.fake.State(42))

	_, err = runCLI(t, "", "action", "42", "launch")
	require.ErrorContains(t, err, "unknown action")
}

func TestActionCommandStopPrompts(t *testing.T) {
	env := newCLIEnv(t)
	env.fake.SetState(42, model.StateActive)

	out, err := runCLI(t, "n\n", "action", "42", "stop")
	require.ErrorIs(t, err, errSilent)
	require.Contains(t, out, "Stop transmission for device 42? [y/N]")
	require.Contains(t, out, "stop was not confirmed")
	require.Equal(t, model.StateActive, env.fake.State(42))

	out, err = runCLI(t, "y\n", "action", "42", "stop")
	require.NoError(t, err, out)
	require.Equal(t, model.StateInactive, env.fake.State(42))

	env.fake.SetState(42, model.StatePaused)
	_, err = runCLI(t, "", "action", "42", "stop", "--yes")
	require.NoError(t, err)
	require.Equal(t, model.StateInactive, env.fake.State(42))
}

func TestActionCommandLocalRejection(t *testing.T) {
	env := newCLIEnv(t)
	env.fake.SetState(42, model.StateManual)

	// Refreshed state is MANUAL, so no request is sent.
	out, err := runCLI(t, "", "action", "42", "transmit_now")
	require.ErrorIs(t, err, errSilent)
	require.Contains(t, out, "a manual transmission is already in progress")
}

func TestHistoryAndExportCommands(t *testing.T) {
	env := newCLIEnv(t)

	out, err := runCLI(t, "", "history", "42")
	require.NoError(t, err)
	require.Contains(t, out, "No transmissions yet.")

	env.fake.SetState(42, model.StateActive)
	env.fake.Tick()
	env.fake.Tick()

	out, err = runCLI(t, "", "history", "42", "--limit", "1")
	require.NoError(t, err)
	require.Contains(t, out, "SUCCESS")
	require.Equal(t, 1, strings.Count(out, "automatic"))

	out, err = runCLI(t, "", "export", "42")
	require.NoError(t, err, out)
	require.Contains(t, out, "History exported to")

	path := filepath.Join(env.dataDir, "exports", "device_42_history.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "id,device_id,connection_id"))

	_, err = runCLI(t, "", "export", "42", "--format", "xlsx")
	require.ErrorIs(t, err, errSilent)
}

func TestNotificationsCommandReadsJournal(t *testing.T) {
	newCLIEnv(t)

	out, err := runCLI(t, "", "notifications")
	require.NoError(t, err)
	require.Contains(t, out, "No notifications.")

	_, err = runCLI(t, "", "action", "42", "start")
	require.NoError(t, err)

	out, err = runCLI(t, "", "notifications", "--device", "42")
	require.NoError(t, err)
	require.Contains(t, out, "start")

	out, err = runCLI(t, "", "notifications", "--device", "7")
	require.NoError(t, err)
	require.Contains(t, out, "No notifications.")
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList(" 1, 2,,3 ")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	_, err = parseIDList("1,x")
	require.Error(t, err)
	_, err = parseIDList("0")
	require.Error(t, err)
}

func TestParseDevices(t *testing.T) {
	fallback := []model.DeviceID{"1"}
	require.Equal(t, fallback, parseDevices(nil, fallback))
	require.Equal(t, []model.DeviceID{"4", "5", "6"}, parseDevices([]string{"4,5", " 6 "}, fallback))
}
