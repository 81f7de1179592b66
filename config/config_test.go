package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Query.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Query.MaxRetries)
	}
	if cfg.Query.Markers.CaptchaRejected != "驗證碼錯誤" {
		t.Errorf("captcha marker = %q", cfg.Query.Markers.CaptchaRejected)
	}
	if cfg.Trello.TriggerKeyword != DefaultTriggerKeyword {
		t.Errorf("trigger keyword = %q", cfg.Trello.TriggerKeyword)
	}
	if cfg.Location().String() != "Asia/Taipei" {
		t.Errorf("location = %s", cfg.Location())
	}
	if cfg.DBPath() != filepath.Join("data", "agentcheck.db") {
		t.Errorf("db path = %s", cfg.DBPath())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentcheck.yaml")
	yml := `
server:
  port: "9090"
  debug_routes: true
browser:
  headless: false
  remote_url: ws://chrome:9222/devtools/browser/x
query:
  max_retries: 8
  captcha_delay: 1500ms
  markers:
    no_data: 查無此人
  max_concurrent: 2
ocr:
  endpoint: http://ocr:9898/ocr
queue:
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" || !cfg.Server.DebugRoutes {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Browser.Headless || cfg.Browser.RemoteURL == "" {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Query.MaxRetries != 8 || cfg.Query.MaxConcurrent != 2 {
		t.Errorf("query retries=%d concurrent=%d", cfg.Query.MaxRetries, cfg.Query.MaxConcurrent)
	}
	if cfg.Query.CaptchaDelay != 1500*time.Millisecond {
		t.Errorf("captcha_delay = %v", cfg.Query.CaptchaDelay)
	}
	if cfg.Query.Markers.NoData != "查無此人" {
		t.Errorf("no_data marker = %q", cfg.Query.Markers.NoData)
	}
	// Unset keys keep their defaults.
	if cfg.Query.Markers.CaptchaRejected != "驗證碼錯誤" {
		t.Errorf("captcha marker lost: %q", cfg.Query.Markers.CaptchaRejected)
	}
	if cfg.Query.SettleDelay != time.Second {
		t.Errorf("settle_delay = %v", cfg.Query.SettleDelay)
	}
	if cfg.Queue.MaxAttempts != 5 || cfg.Queue.Visibility != 10*time.Minute || cfg.Queue.RetryBackoff != time.Minute {
		t.Errorf("queue = %+v", cfg.Queue)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %s", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                   "7000",
		"HEADLESS":               "false",
		"CHROME_REMOTE_URL":      "ws://remote",
		"OCR_URL":                "http://ocr/solve",
		"MAX_RETRIES":            "10",
		"MAX_CONCURRENT_QUERIES": "3",
		"TRELLO_API_KEY":         "key",
		"TRELLO_TOKEN":           "tok",
		"TRIGGER_KEYWORD":        "申請",
		"TIMEZONE":               "UTC",
	}
	cfg := Default()
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7000" || cfg.Browser.Headless || cfg.Browser.RemoteURL != "ws://remote" {
		t.Errorf("server/browser not applied: %+v %+v", cfg.Server, cfg.Browser)
	}
	if cfg.OCR.Endpoint != "http://ocr/solve" {
		t.Errorf("ocr = %s", cfg.OCR.Endpoint)
	}
	if cfg.Query.MaxRetries != 10 || cfg.Query.MaxConcurrent != 3 {
		t.Errorf("query = %d/%d", cfg.Query.MaxRetries, cfg.Query.MaxConcurrent)
	}
	if cfg.Trello.APIKey != "key" || cfg.Trello.Token != "tok" || cfg.Trello.TriggerKeyword != "申請" {
		t.Errorf("trello = %+v", cfg.Trello)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"non-numeric retries": {"MAX_RETRIES": "many"},
		"zero retries":        {"MAX_RETRIES": "0"},
		"bad bool":            {"HEADLESS": "sometimes"},
		"bad timezone":        {"TIMEZONE": "Mars/Olympus"},
		"bad level":           {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := cfg.applyEnv(func(k string) string { return env[k] })
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil || !strings.Contains(err.Error(), "trace") {
		t.Errorf("expected unknown level error, got %v", err)
	}
}
