// Package config handles loading and validation of the gateway's JSON
// configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Backend   BackendConfig   `json:"backend"`
	Sessions  SessionsConfig  `json:"sessions"`
	Media     MediaConfig     `json:"media"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Events    EventsConfig    `json:"events"`
	Store     StoreConfig     `json:"store"`
	Alerts    AlertsConfig    `json:"alerts"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Addr   string `json:"addr"`   // default ":3000"
	Secret string `json:"secret"` // compared against the Authorization header
}

// BackendConfig is where canonical events are posted.
type BackendConfig struct {
	URL     string   `json:"url"`
	Secret  string   `json:"secret"`
	Timeout Duration `json:"timeout"` // default 15s
}

// SessionsConfig selects the auth state store.
type SessionsConfig struct {
	Driver     string `json:"driver"` // "sqlite3" (default) or "postgres"
	Dir        string `json:"dir"`    // sqlite3: one subdirectory per account
	DSN        string `json:"dsn"`    // postgres
	DeviceName string `json:"deviceName"`
}

type MediaConfig struct {
	Dir     string `json:"dir"`
	MaxSize int64  `json:"maxSize"` // bytes accepted from media_url, default 64 MiB
}

type ReconnectConfig struct {
	Delay Duration `json:"delay"` // default 3s
}

type EventsConfig struct {
	// ProcessAppend forwards history-sync messages as well as live ones.
	ProcessAppend bool `json:"processAppend"`
}

// StoreConfig is the media index used by download-attachment.
type StoreConfig struct {
	Path      string   `json:"path"`
	Retention Duration `json:"retention"` // default 7 days
}

type AlertsConfig struct {
	SlackWebhookURL string `json:"slackWebhookURL,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level"`
	BufferSize int    `json:"bufferSize"`
}

// Duration is a time.Duration written as a string ("3s", "15m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
