package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "wagateway.json"

const envPrefix = "WAGATEWAY_"

// envVarPattern matches ${VAR_NAME} references in string values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path, resolves ${VAR} references, applies defaults and
// environment overrides, and validates the result. A missing file is not an
// error: the gateway can be configured from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		resolved := resolveEnvVars(string(data))
		if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// resolveEnvVars replaces all ${VAR_NAME} patterns in s with the
// corresponding environment variable values. Unset variables resolve to "".
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1] // strip ${ and }
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = Duration(15 * time.Second)
	}
	if cfg.Sessions.Driver == "" {
		cfg.Sessions.Driver = "sqlite3"
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = "sessions"
	}
	if cfg.Sessions.DeviceName == "" {
		cfg.Sessions.DeviceName = "wagateway"
	}
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = "media"
	}
	if cfg.Media.MaxSize == 0 {
		cfg.Media.MaxSize = 64 << 20
	}
	if cfg.Reconnect.Delay == 0 {
		cfg.Reconnect.Delay = Duration(3 * time.Second)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "wagateway.db"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = Duration(7 * 24 * time.Hour)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.BufferSize == 0 {
		cfg.Log.BufferSize = 500
	}
}

// applyEnv overrides file values from the environment. The short names are
// the ones deployments of the gateway have always used.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Server.Addr = ":" + v
	}
	str(&cfg.Server.Addr, envPrefix+"ADDR")
	str(&cfg.Server.Secret, envPrefix+"SECRET", "API_SECRET")
	str(&cfg.Backend.URL, envPrefix+"BACKEND_URL", "BACKEND_URL")
	str(&cfg.Backend.Secret, envPrefix+"BACKEND_SECRET", "BACKEND_SECRET")
	str(&cfg.Sessions.Driver, envPrefix+"SESSIONS_DRIVER")
	str(&cfg.Sessions.Dir, envPrefix+"SESSIONS_DIR")
	str(&cfg.Sessions.DSN, envPrefix+"SESSIONS_DSN")
	str(&cfg.Media.Dir, envPrefix+"MEDIA_DIR")
	str(&cfg.Store.Path, envPrefix+"STORE_PATH")
	str(&cfg.Alerts.SlackWebhookURL, envPrefix+"SLACK_WEBHOOK_URL")
	str(&cfg.Log.Level, envPrefix+"LOG_LEVEL")

	if v, ok := lookup(envPrefix + "RECONNECT_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRECONNECT_DELAY: %w", envPrefix, err)
		}
		cfg.Reconnect.Delay = Duration(d)
	}
	if v, ok := lookup(envPrefix + "PROCESS_APPEND"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sPROCESS_APPEND: %w", envPrefix, err)
		}
		cfg.Events.ProcessAppend = b
	}
	return nil
}

// validate checks that all required fields are present.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Secret == "" {
		errs = append(errs, "server.secret is required")
	}
	if cfg.Backend.URL == "" {
		errs = append(errs, "backend.url is required")
	}
	if cfg.Backend.Secret == "" {
		errs = append(errs, "backend.secret is required")
	}
	switch cfg.Sessions.Driver {
	case "sqlite3":
	case "postgres":
		if cfg.Sessions.DSN == "" {
			errs = append(errs, "sessions.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("sessions.driver %q is not one of sqlite3, postgres", cfg.Sessions.Driver))
	}
	if cfg.Reconnect.Delay <= 0 {
		errs = append(errs, "reconnect.delay must be positive")
	}
	if cfg.Backend.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid fields:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
