package client

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/micro-ha/transmission-sync/internal/model"
)

const defaultHistoryLimit = 20

// ActionResult is the body servers return for a mutating call.
type ActionResult struct {
	Message      string                  `json:"message"`
	CurrentState model.TransmissionState `json:"current_state,omitempty"`
}

// Blob is a downloaded file.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
}

func devicePath(id model.DeviceID, suffix string) string {
	return "/api/devices/" + url.PathEscape(id.String()) + suffix
}

// TransmissionState fetches the authoritative snapshot for device id.
func (c *Client) TransmissionState(ctx context.Context, id model.DeviceID) (model.TransmissionSnapshot, error) {
	var snapshot model.TransmissionSnapshot
	resp, err := c.Request(ctx, devicePath(id, "/transmission-state"), Options{})
	if err != nil {
		return snapshot, err
	}
	if err := resp.Decode(&snapshot); err != nil {
		return snapshot, err
	}
	if snapshot.CurrentState == "" {
		return snapshot, fmt.Errorf("transmission state for device %s: missing current_state", id)
	}
	if snapshot.DeviceID == "" {
		snapshot.DeviceID = id
	}
	return snapshot, nil
}

// Transmit requests an immediate manual transmission on connectionID.
func (c *Client) Transmit(ctx context.Context, id, connectionID model.DeviceID) (ActionResult, error) {
	body := map[string]string{"connection_id": connectionID.String()}
	return c.mutate(ctx, devicePath(id, "/transmit"), Options{Method: http.MethodPost, Body: body})
}

// StartTransmission starts scheduled transmission on connectionID.
func (c *Client) StartTransmission(ctx context.Context, id, connectionID model.DeviceID) (ActionResult, error) {
	endpoint := devicePath(id, "/start-transmission/"+url.PathEscape(connectionID.String()))
	return c.mutate(ctx, endpoint, Options{Method: http.MethodPost})
}

// Pause, Resume and Stop set a target state, so repeating them is harmless.
func (c *Client) Pause(ctx context.Context, id model.DeviceID) (ActionResult, error) {
	return c.mutate(ctx, devicePath(id, "/pause"), Options{Method: http.MethodPost, Idempotent: true})
}

func (c *Client) Resume(ctx context.Context, id model.DeviceID) (ActionResult, error) {
	return c.mutate(ctx, devicePath(id, "/resume"), Options{Method: http.MethodPost, Idempotent: true})
}

func (c *Client) Stop(ctx context.Context, id model.DeviceID) (ActionResult, error) {
	return c.mutate(ctx, devicePath(id, "/stop"), Options{Method: http.MethodPost, Idempotent: true})
}

func (c *Client) mutate(ctx context.Context, endpoint string, opts Options) (ActionResult, error) {
	var result ActionResult
	resp, err := c.Request(ctx, endpoint, opts)
	if err != nil {
		return result, err
	}
	// The acknowledgement body is informational; an odd shape is not a failure.
	_ = resp.Decode(&result)
	return result, nil
}

// Updates returns the raw envelopes queued since the last poll, in order.
func (c *Client) Updates(ctx context.Context) ([]json.RawMessage, error) {
	resp, err := c.Request(ctx, "/api/transmissions/updates", Options{})
	if err != nil {
		return nil, err
	}
	var envelopes []json.RawMessage
	if err := resp.Decode(&envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// History lists the most recent transmissions of device id.
func (c *Client) History(ctx context.Context, id model.DeviceID, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	endpoint := devicePath(id, fmt.Sprintf("/transmission-history?limit=%d", limit))
	resp, err := c.Request(ctx, endpoint, Options{})
	if err != nil {
		return nil, err
	}
	var entries []model.HistoryEntry
	if err := resp.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportHistory downloads the history of device id in format (csv by default).
func (c *Client) ExportHistory(ctx context.Context, id model.DeviceID, format string) (Blob, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	endpoint := devicePath(id, "/transmission-history/export?format="+url.QueryEscape(format))
	resp, err := c.Request(ctx, endpoint, Options{As: AsBlob})
	if err != nil {
		return Blob{}, err
	}
	blob := Blob{
		Data:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    fmt.Sprintf("transmission-history-%s.%s", id, format),
	}
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			blob.Filename = params["filename"]
		}
	}
	return blob, nil
}
