package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORT", "API_SECRET", "BACKEND_URL", "BACKEND_SECRET",
		envPrefix + "ADDR", envPrefix + "SECRET", envPrefix + "BACKEND_URL", envPrefix + "BACKEND_SECRET",
		envPrefix + "SESSIONS_DRIVER", envPrefix + "SESSIONS_DIR", envPrefix + "SESSIONS_DSN",
		envPrefix + "MEDIA_DIR", envPrefix + "STORE_PATH", envPrefix + "SLACK_WEBHOOK_URL",
		envPrefix + "LOG_LEVEL", envPrefix + "RECONNECT_DELAY", envPrefix + "PROCESS_APPEND",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_API_SECRET", "from-env")

	cfg, err := Load("testdata/valid.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Server.Secret != "from-env" {
		t.Errorf("Secret = %q, want the resolved ${TEST_API_SECRET}", cfg.Server.Secret)
	}
	if cfg.Backend.Timeout.Std() != 5*time.Second {
		t.Errorf("Backend.Timeout = %v, want 5s", cfg.Backend.Timeout.Std())
	}
	if cfg.Sessions.Dir != "/var/lib/wagateway/sessions" || cfg.Sessions.DeviceName != "Acme Support" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Reconnect.Delay.Std() != 10*time.Second {
		t.Errorf("Reconnect.Delay = %v, want 10s", cfg.Reconnect.Delay.Std())
	}
	if !cfg.Events.ProcessAppend {
		t.Error("ProcessAppend = false, want true")
	}
	if cfg.Alerts.SlackWebhookURL == "" {
		t.Error("SlackWebhookURL not loaded")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("testdata/minimal.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":3000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Sessions.Driver != "sqlite3" || cfg.Sessions.Dir != "sessions" || cfg.Sessions.DeviceName != "wagateway" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Reconnect.Delay.Std() != 3*time.Second {
		t.Errorf("Reconnect.Delay = %v, want 3s", cfg.Reconnect.Delay.Std())
	}
	if cfg.Store.Retention.Std() != 7*24*time.Hour {
		t.Errorf("Store.Retention = %v", cfg.Store.Retention.Std())
	}
	if cfg.Media.MaxSize != 64<<20 || cfg.Log.BufferSize != 500 {
		t.Errorf("Media.MaxSize = %d, Log.BufferSize = %d", cfg.Media.MaxSize, cfg.Log.BufferSize)
	}
	if cfg.Events.ProcessAppend {
		t.Error("ProcessAppend defaults to true")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("API_SECRET", "s")
	t.Setenv("BACKEND_URL", "http://backend")
	t.Setenv("BACKEND_SECRET", "b")
	t.Setenv(envPrefix+"RECONNECT_DELAY", "1s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.Secret != "s" || cfg.Backend.URL != "http://backend" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.Delay.Std() != time.Second {
		t.Errorf("Reconnect.Delay = %v", cfg.Reconnect.Delay.Std())
	}
}

func TestApplyEnv_PrefixedNameWins(t *testing.T) {
	env := map[string]string{
		"BACKEND_URL":             "http://short",
		envPrefix + "BACKEND_URL": "http://prefixed",
		"PORT":                    "1",
		envPrefix + "ADDR":        "127.0.0.1:2",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	var cfg Config
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Backend.URL != "http://prefixed" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Server.Addr != "127.0.0.1:2" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	for _, name := range []string{envPrefix + "RECONNECT_DELAY", envPrefix + "PROCESS_APPEND"} {
		lookup := func(k string) (string, bool) {
			if k == name {
				return "nope", true
			}
			return "", false
		}
		if err := applyEnv(&Config{}, lookup); err == nil || !strings.Contains(err.Error(), name) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"sessions": {"driver": "postgres"}, "reconnect": {"delay": "-1s"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() = nil error, want validation failure")
	}
	for _, want := range []string{
		"server.secret is required",
		"backend.url is required",
		"backend.secret is required",
		"sessions.dsn is required",
		"reconnect.delay must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestLoad_UnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"SESSIONS_DRIVER", "mysql")
	t.Setenv("API_SECRET", "s")
	t.Setenv("BACKEND_URL", "http://b")
	t.Setenv("BACKEND_SECRET", "b")

	_, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err == nil || !strings.Contains(err.Error(), `"mysql"`) {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"reconnect": {"delay": 3}}`), 0o644)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("err = %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("CB_TEST_SET", "value")
	got := resolveEnvVars(`{"a":"${CB_TEST_SET}","b":"${CB_TEST_UNSET_XYZ}"}`)
	if got != `{"a":"value","b":""}` {
		t.Errorf("resolveEnvVars = %s", got)
	}
}
