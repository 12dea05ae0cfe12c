package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DeviceID identifies a device. The server encodes ids as JSON numbers in
// payloads and as path segments in URLs; both decode into the same value.
type DeviceID string

func (id *DeviceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = DeviceID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	*id = DeviceID(n.String())
	return nil
}

func (id DeviceID) String() string { return string(id) }

// Valid reports whether id is a non-empty path-safe identifier.
func (id DeviceID) Valid() bool {
	if id == "" {
		return false
	}
	for _, r := range string(id) {
		if r == '/' || r == '?' || r == '#' || r == ' ' {
			return false
		}
	}
	return true
}

// TransmissionState is the authoritative per-device job state.
type TransmissionState string

const (
	StateInactive TransmissionState = "INACTIVE"
	StateActive   TransmissionState = "ACTIVE"
	StatePaused   TransmissionState = "PAUSED"
	StateManual   TransmissionState = "MANUAL"
)

// AllStates lists every transmission state.
func AllStates() []TransmissionState {
	return []TransmissionState{StateInactive, StateActive, StatePaused, StateManual}
}

// ParseTransmissionState accepts any letter case, since servers report both
// "inactive" and "INACTIVE".
func ParseTransmissionState(raw string) (TransmissionState, error) {
	state := TransmissionState(strings.ToUpper(strings.TrimSpace(raw)))
	switch state {
	case StateInactive, StateActive, StatePaused, StateManual:
		return state, nil
	default:
		return "", fmt.Errorf("unknown transmission state %q", raw)
	}
}

func (s *TransmissionState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseTransmissionState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Action is a user-triggerable transition.
type Action string

const (
	ActionTransmitNow Action = "transmit_now"
	ActionStart       Action = "start"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionStop        Action = "stop"
)

// AllActions lists actions in display order.
func AllActions() []Action {
	return []Action{ActionTransmitNow, ActionStart, ActionPause, ActionResume, ActionStop}
}

// ParseAction maps a wire name to an Action.
func ParseAction(raw string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllActions() {
		if action == known {
			return action, true
		}
	}
	return "", false
}

// ActionFlags is the server-provided capability of one action.
type ActionFlags struct {
	Enabled bool `json:"enabled"`
	Visible bool `json:"visible"`
}

// AvailableActions maps every action to its flags.
type AvailableActions map[Action]ActionFlags

// Get returns the flags for action, hidden and disabled when absent.
func (a AvailableActions) Get(action Action) ActionFlags {
	if a == nil {
		return ActionFlags{}
	}
	return a[action]
}

// DeriveActions is the capability table servers apply to a state. The client
// never calls it to decide what is legal; it exists for servers and fakes.
func DeriveActions(state TransmissionState) AvailableActions {
	running := state == StateActive || state == StatePaused
	return AvailableActions{
		ActionTransmitNow: {Enabled: state == StateInactive || state == StatePaused, Visible: true},
		ActionStart:       {Enabled: state == StateInactive, Visible: state == StateInactive},
		ActionPause:       {Enabled: state == StateActive, Visible: state == StateActive},
		ActionResume:      {Enabled: state == StatePaused, Visible: state == StatePaused},
		ActionStop:        {Enabled: running, Visible: running},
	}
}

// Progress reports how far an in-flight transmission has advanced.
type Progress struct {
	Current    int64   `json:"current"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// TransmissionSnapshot is the body of the transmission-state endpoint.
type TransmissionSnapshot struct {
	DeviceID         DeviceID          `json:"device_id,omitempty"`
	CurrentState     TransmissionState `json:"current_state"`
	AvailableActions AvailableActions  `json:"available_actions"`
	Progress         *Progress         `json:"progress,omitempty"`
	LastTransmission *string           `json:"last_transmission,omitempty"`
	NextScheduled    *string           `json:"next_scheduled,omitempty"`
}

// HistoryEntry is one row of a device's transmission history.
type HistoryEntry struct {
	ID               int64    `json:"id"`
	DeviceID         DeviceID `json:"device_id"`
	ConnectionID     DeviceID `json:"connection_id"`
	TransmissionType string   `json:"transmission_type"`
	RowIndex         *int64   `json:"row_index,omitempty"`
	Status           string   `json:"status"`
	ErrorMessage     *string  `json:"error_message,omitempty"`
	Timestamp        string   `json:"timestamp"`
}

// EventPayload is the common shape of device-scoped event payloads.
type EventPayload struct {
	DeviceID     DeviceID          `json:"device_id"`
	ConnectionID DeviceID          `json:"connection_id,omitempty"`
	State        TransmissionState `json:"state,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// FormatID renders a numeric id as a DeviceID.
func FormatID(n int64) DeviceID {
	return DeviceID(strconv.FormatInt(n, 10))
}
