package model

import (
	"encoding/json"
	"testing"
)

func TestDeriveActionsNeverAllowsStopWhenInactive(t *testing.T) {
	t.Helper()

	for _, state := range AllStates() {
		actions := DeriveActions(state)
		stop := actions.Get(ActionStop)
		if state == StateInactive && stop.Enabled {
			t.Fatalf("stop must be disabled for %s", state)
		}
		if state == StateManual && actions.Get(ActionTransmitNow).Enabled {
			t.Fatalf("transmit_now must be disabled while a manual transmission runs")
		}
		for _, action := range AllActions() {
			if _, ok := actions[action]; !ok {
				t.Fatalf("state %s is missing flags for %s", state, action)
			}
		}
	}
}

func TestDeriveActionsMatchesStateTable(t *testing.T) {
	t.Helper()

	tests := []struct {
		state   TransmissionState
		enabled []Action
	}{
		{state: StateInactive, enabled: []Action{ActionTransmitNow, ActionStart}},
		{state: StateActive, enabled: []Action{ActionPause, ActionStop}},
		{state: StatePaused, enabled: []Action{ActionTransmitNow, ActionResume, ActionStop}},
		{state: StateManual, enabled: nil},
	}

	for _, tc := range tests {
		actions := DeriveActions(tc.state)
		want := map[Action]bool{}
		for _, action := range tc.enabled {
			want[action] = true
		}
		for _, action := range AllActions() {
			if got := actions.Get(action).Enabled; got != want[action] {
				t.Fatalf("%s/%s enabled=%v, want %v", tc.state, action, got, want[action])
			}
		}
	}
}

func TestSnapshotDecodesLowercaseStateAndNumericIDs(t *testing.T) {
	t.Helper()

	body := []byte(`{
		"device_id": 42,
		"current_state": "paused",
		"available_actions": {"resume": {"enabled": true, "visible": true}},
		"progress": {"current": 3, "total": 10, "percentage": 30}
	}`)
	var snapshot TransmissionSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.DeviceID != "42" {
		t.Fatalf("unexpected device id %q", snapshot.DeviceID)
	}
	if snapshot.CurrentState != StatePaused {
		t.Fatalf("unexpected state %q", snapshot.CurrentState)
	}
	if !snapshot.AvailableActions.Get(ActionResume).Enabled {
		t.Fatalf("expected resume to be enabled")
	}
	if snapshot.AvailableActions.Get(ActionStop).Visible {
		t.Fatalf("absent action must decode as hidden")
	}
	if snapshot.Progress == nil || snapshot.Progress.Total != 10 {
		t.Fatalf("unexpected progress %+v", snapshot.Progress)
	}
}

func TestSnapshotRejectsUnknownState(t *testing.T) {
	t.Helper()

	var snapshot TransmissionSnapshot
	if err := json.Unmarshal([]byte(`{"current_state":"EXPLODED"}`), &snapshot); err == nil {
		t.Fatalf("expected unknown state to fail decoding")
	}
}

func TestDeviceIDValid(t *testing.T) {
	t.Helper()

	if !DeviceID("42").Valid() {
		t.Fatalf("expected numeric id to be valid")
	}
	for _, bad := range []DeviceID{"", "4/2", "42?x", "a b"} {
		if bad.Valid() {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
