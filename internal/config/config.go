// Package config manages persistent client preferences for an AOO node.
// Settings are stored as JSON at os.UserConfigDir()/aoo/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all persistent client preferences: audio device selection,
// the negotiated stream tuning that seeds the jitter buffer and resend
// scheduler, and the list of known rendezvous servers.
type Config struct {
	Username       string  `json:"username"`
	DefaultGroup   string  `json:"default_group"`
	InputDeviceID  int     `json:"input_device_id"`
	OutputDeviceID int     `json:"output_device_id"`
	Volume         float64 `json:"volume"`

	JitterBufferMs  float64 `json:"jitter_buffer_ms"`
	ResendBufferMs  float64 `json:"resend_buffer_ms"`
	ResendIntervalMs int    `json:"resend_interval_ms"`
	Redundancy      int     `json:"redundancy"`

	QueryIntervalMs int `json:"query_interval_ms"`
	QueryTimeoutMs  int `json:"query_timeout_ms"`

	Servers []ServerEntry `json:"servers"`
}

// ServerEntry is a saved rendezvous server shown in the server browser.
type ServerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// Default returns a Config populated with sensible defaults, matching the
// defaults named in the peer path and stream engine design (100 ms query
// interval, 5 s query timeout, redundancy 1).
func Default() Config {
	return Config{
		InputDeviceID:    -1,
		OutputDeviceID:   -1,
		Volume:           1.0,
		JitterBufferMs:   60,
		ResendBufferMs:   1000,
		ResendIntervalMs: 20,
		Redundancy:       1,
		QueryIntervalMs:  100,
		QueryTimeoutMs:   5000,
		Servers: []ServerEntry{
			{Name: "Local Dev", Addr: "localhost:7704"},
		},
	}
}

// QueryInterval returns the handshake ping cadence as a time.Duration.
func (c Config) QueryInterval() time.Duration {
	return time.Duration(c.QueryIntervalMs) * time.Millisecond
}

// QueryTimeout returns the handshake give-up deadline as a time.Duration.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// ResendInterval returns the jitter buffer's base retransmit interval.
func (c Config) ResendInterval() time.Duration {
	return time.Duration(c.ResendIntervalMs) * time.Millisecond
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "aoo", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error, since a
// missing config on first run is the expected case, not a failure.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
