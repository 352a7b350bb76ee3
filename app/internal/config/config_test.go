package config

import (
	"os"
	"path/filepath"
	"testing"

	"keepwatch/app/internal/models"
)

// Env vars the loader consults; cleared so outer shells cannot leak values
// into the tests.
var loaderEnv = []string{
	"SERVICE_NAME", "BASE_URL", "DB_PATH",
	"TIMEOUT_SECONDS", "CHECK_INTERVAL_SECONDS",
	"REPORT_SCHEDULE", "DOWN_THRESHOLD_CYCLES",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD",
	"FROM_EMAIL", "ALERT_EMAIL",
	"WEBHOOK_URL", "WEBHOOK_SECRET", "WEBHOOK_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range loaderEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "https://example.onrender.com/")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BaseURL != "https://example.onrender.com" {
		t.Errorf("trailing slash not trimmed: %q", cfg.BaseURL)
	}
	if cfg.TimeoutSeconds != 10 || cfg.CheckIntervalSeconds != 60 {
		t.Errorf("timing defaults: timeout=%d interval=%d", cfg.TimeoutSeconds, cfg.CheckIntervalSeconds)
	}
	if cfg.ReportSchedule != "00:00" || cfg.DownThresholdCycles != 1 {
		t.Errorf("schedule=%q threshold=%d", cfg.ReportSchedule, cfg.DownThresholdCycles)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[0].Path != "/ping" || cfg.Endpoints[1].Path != "/api/health" {
		t.Errorf("default endpoints: %+v", cfg.Endpoints)
	}
	if !cfg.Alerts.OnDown || !cfg.Alerts.OnRecovered || cfg.Alerts.OnDegraded {
		t.Errorf("alert policy defaults: %+v", cfg.Alerts)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
service_name: Campus Connect
base_url: https://campus.example.com
timeout_seconds: 5
check_interval_seconds: 300
report_schedule: "06:30"
down_threshold_cycles: 3
endpoints:
  - path: /ping
    methods: [GET, HEAD]
  - path: status/live
    methods: [get, post]
smtp:
  host: smtp.gmail.com
  port: 465
  user: monitor@example.com
  to: oncall@example.com
webhook:
  enabled: true
  url: https://hooks.example.com/keepwatch
  secret: abc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServiceName != "Campus Connect" || cfg.TimeoutSeconds != 5 {
		t.Errorf("service=%q timeout=%d", cfg.ServiceName, cfg.TimeoutSeconds)
	}
	if cfg.DownThresholdCycles != 3 || cfg.ReportSchedule != "06:30" {
		t.Errorf("threshold=%d schedule=%q", cfg.DownThresholdCycles, cfg.ReportSchedule)
	}
	if !cfg.SMTP.Configured() || cfg.SMTP.Port != 465 {
		t.Errorf("smtp: %+v", cfg.SMTP)
	}
	if cfg.SMTP.From != "monitor@example.com" {
		t.Errorf("From should default to User, got %q", cfg.SMTP.From)
	}
	if !cfg.Webhook.Enabled || cfg.Webhook.Secret != "abc" {
		t.Errorf("webhook: %+v", cfg.Webhook)
	}

	// status/live had no leading slash and a POST that must be dropped.
	ep := cfg.Endpoints[1]
	if ep.Path != "/status/live" {
		t.Errorf("path=%q", ep.Path)
	}
	if len(ep.Methods) != 1 || ep.Methods[0] != "GET" {
		t.Errorf("methods=%v, want [GET]", ep.Methods)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
base_url: https://from-file.example.com
timeout_seconds: 5
`)
	t.Setenv("BASE_URL", "https://from-env.example.com")
	t.Setenv("TIMEOUT_SECONDS", "20")
	t.Setenv("ALERT_EMAIL", "oncall@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://from-env.example.com" {
		t.Errorf("env must win over file, got %q", cfg.BaseURL)
	}
	if cfg.TimeoutSeconds != 20 {
		t.Errorf("timeout=%d", cfg.TimeoutSeconds)
	}
	if cfg.SMTP.To != "oncall@example.com" {
		t.Errorf("smtp.to=%q", cfg.SMTP.To)
	}
}

func TestLoad_MissingBaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("base_url is required")
	}
}

func TestLoad_InvalidReportSchedule(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "https://example.com")
	for _, bad := range []string{"midnight", "25:00", "12:61", "12"} {
		t.Setenv("REPORT_SCHEDULE", bad)
		if _, err := Load(""); err == nil {
			t.Errorf("schedule %q should be rejected", bad)
		}
	}
}

func TestReportTime(t *testing.T) {
	cfg := &Config{ReportSchedule: "06:30"}
	h, m, err := cfg.ReportTime()
	if err != nil || h != 6 || m != 30 {
		t.Errorf("got %d:%d err=%v", h, m, err)
	}
}

func TestNormalizeEndpoints_EmptyMethodsFallBackToGet(t *testing.T) {
	eps := normalizeEndpoints([]models.Endpoint{{Path: "/ping"}})
	if len(eps[0].Methods) != 1 || eps[0].Methods[0] != "GET" {
		t.Errorf("methods=%v", eps[0].Methods)
	}
}
