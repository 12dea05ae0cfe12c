package model

import (
	"net/url"
	"strings"
	"time"
)

// ServerConfig describes the transmission server the client talks to.
type ServerConfig struct {
	URL             string `json:"url"`
	Token           string `json:"-"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

func (c ServerConfig) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSec) * time.Second
	if interval < time.Second {
		return 5 * time.Second
	}
	return interval
}

// BaseURL returns the normalized http(s) origin without a trailing slash.
func (c ServerConfig) BaseURL() string {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return "http://localhost:5000"
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(c.URL), "http://"), "https://")
		return "http://" + strings.Trim(host, "/")
	}

	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		scheme = "http"
	}
	path := strings.TrimSuffix(strings.TrimSpace(parsed.Path), "/")
	// A pasted API root keeps working; endpoints are always joined onto the origin.
	path = strings.TrimSuffix(path, "/api")
	return scheme + "://" + parsed.Host + path
}

// WebsocketURL returns the live channel endpoint derived from BaseURL.
func (c ServerConfig) WebsocketURL() string {
	base := c.BaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/transmissions"
}
