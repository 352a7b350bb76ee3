package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"keepwatch/app/internal/models"
)

// SMTP holds mail delivery settings for alerts and reports.
type SMTP struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// Configured reports whether SMTP delivery can be attempted.
func (s SMTP) Configured() bool {
	return s.Host != "" && s.To != ""
}

// Webhook holds generic webhook delivery settings.
type Webhook struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// AlertPolicy controls which aggregate transitions produce notifications.
type AlertPolicy struct {
	OnDown      bool `yaml:"on_down"`
	OnRecovered bool `yaml:"on_recovered"`
	OnDegraded  bool `yaml:"on_degraded"`
}

// Config holds all application configuration. Values come from an optional
// YAML file with environment variables taking precedence.
type Config struct {
	ServiceName          string            `yaml:"service_name"`
	BaseURL              string            `yaml:"base_url"`
	Endpoints            []models.Endpoint `yaml:"endpoints"`
	TimeoutSeconds       int               `yaml:"timeout_seconds"`
	CheckIntervalSeconds int               `yaml:"check_interval_seconds"`
	ReportSchedule       string            `yaml:"report_schedule"`
	DownThresholdCycles  int               `yaml:"down_threshold_cycles"`
	DBPath               string            `yaml:"db_path"`
	SMTP                 SMTP              `yaml:"smtp"`
	Webhook              Webhook           `yaml:"webhook"`
	Alerts               AlertPolicy       `yaml:"alerts"`
}

// Timeout is the per-probe timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CheckInterval is the cycle interval in continuous mode.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// ReportTime parses the "HH:MM" report schedule (UTC).
func (c *Config) ReportTime() (hour, minute int, err error) {
	parts := strings.SplitN(c.ReportSchedule, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid report_schedule %q, want HH:MM", c.ReportSchedule)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid report_schedule hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid report_schedule minute %q", parts[1])
	}
	return hour, minute, nil
}

// Load reads configuration from the YAML file at path (if present) and
// applies environment overrides. A missing file is not an error; missing
// required fields are.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is not configured (set it in %s or BASE_URL)", path)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if _, _, err := cfg.ReportTime(); err != nil {
		return nil, err
	}
	cfg.Endpoints = normalizeEndpoints(cfg.Endpoints)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServiceName:          "Monitored Service",
		TimeoutSeconds:       10,
		CheckIntervalSeconds: 60,
		ReportSchedule:       "00:00",
		DownThresholdCycles:  1,
		DBPath:               "./keepwatch.db",
		SMTP:                 SMTP{Port: 587},
		Alerts:               AlertPolicy{OnDown: true, OnRecovered: true},
	}
}

func applyEnv(cfg *Config) {
	cfg.ServiceName = getenv("SERVICE_NAME", cfg.ServiceName)
	cfg.BaseURL = getenv("BASE_URL", cfg.BaseURL)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.TimeoutSeconds = envInt("TIMEOUT_SECONDS", cfg.TimeoutSeconds)
	cfg.CheckIntervalSeconds = envInt("CHECK_INTERVAL_SECONDS", cfg.CheckIntervalSeconds)
	cfg.ReportSchedule = getenv("REPORT_SCHEDULE", cfg.ReportSchedule)
	cfg.DownThresholdCycles = envInt("DOWN_THRESHOLD_CYCLES", cfg.DownThresholdCycles)

	cfg.SMTP.Host = getenv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = envInt("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.User = getenv("SMTP_USER", cfg.SMTP.User)
	cfg.SMTP.Password = getenv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getenv("FROM_EMAIL", cfg.SMTP.From)
	cfg.SMTP.To = getenv("ALERT_EMAIL", cfg.SMTP.To)

	cfg.Webhook.URL = getenv("WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = getenv("WEBHOOK_SECRET", cfg.Webhook.Secret)
	if v := os.Getenv("WEBHOOK_ENABLED"); v != "" {
		cfg.Webhook.Enabled = envBool("WEBHOOK_ENABLED", cfg.Webhook.Enabled)
	}
}

func fillDefaults(cfg *Config) {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.CheckIntervalSeconds <= 0 {
		cfg.CheckIntervalSeconds = 60
	}
	if cfg.DownThresholdCycles <= 0 {
		cfg.DownThresholdCycles = 1
	}
	if cfg.ReportSchedule == "" {
		cfg.ReportSchedule = "00:00"
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []models.Endpoint{
			{Path: "/ping", Methods: []string{"GET", "HEAD"}},
			{Path: "/api/health", Methods: []string{"GET", "HEAD"}},
		}
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
}

// normalizeEndpoints upper-cases methods, drops anything but GET/HEAD and
// guarantees every endpoint probes at least one method.
func normalizeEndpoints(eps []models.Endpoint) []models.Endpoint {
	out := make([]models.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if !strings.HasPrefix(ep.Path, "/") {
			ep.Path = "/" + ep.Path
		}
		methods := make([]string, 0, len(ep.Methods))
		for _, m := range ep.Methods {
			switch strings.ToUpper(strings.TrimSpace(m)) {
			case "GET":
				methods = append(methods, "GET")
			case "HEAD":
				methods = append(methods, "HEAD")
			}
		}
		if len(methods) == 0 {
			methods = []string{"GET"}
		}
		ep.Methods = methods
		out = append(out, ep)
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(os.Getenv(k))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
