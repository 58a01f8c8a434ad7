// Package config provides configuration loading for vpsd.
// It supports loading from properties/INI files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds all configuration options for the vpsd daemon.
type Config struct {
	Port string

	// State persistence. Backend is "file" (JSON state file) or
	// "sqlite" (the vps table in DBPath).
	StateBackend string
	StateFile    string
	DBPath       string

	// Lifecycle policy.
	MaxVPSPerUser int
	MaxContainers int
	DefaultImage  string
	DockerNetwork string
	DeniedImages  []string

	// Authorization.
	AdminIDs  []string
	AdminRole string

	// Branding injected into every created container.
	Watermark      string
	WelcomeMessage string

	// Runtime worker bound.
	MaxRuntimeCalls int64

	// Background jobs.
	BackupInterval    time.Duration
	ReconcileInterval time.Duration

	// Telemetry (disabled when endpoint is empty).
	OTELEndpoint     string
	OTELInsecure     bool
	OTELPushInterval time.Duration

	LogFile      string
	DebugEnabled bool
}

// defaultConfig returns a Config with hardcoded defaults.
func defaultConfig() *Config {
	return &Config{
		Port:              "8780",
		StateBackend:      "file",
		StateFile:         "/var/lib/vpsd/state.json",
		DBPath:            "/var/lib/vpsd/vpsd.db",
		MaxVPSPerUser:     3,
		MaxContainers:     100,
		DefaultImage:      "ubuntu:22.04",
		DockerNetwork:     "bridge",
		Watermark:         "EagleNode Host VPS Service",
		WelcomeMessage:    "Welcome To EagleNode Host! Get Started With Us!",
		MaxRuntimeCalls:   8,
		BackupInterval:    10 * time.Minute,
		ReconcileInterval: 5 * time.Minute,
		OTELPushInterval:  time.Minute,
		LogFile:           "/var/log/vpsd/vpsd.log",
	}
}

// LoadConfig loads configuration from the specified file path.
// Environment variables override file values.
// Precedence: environment variables > config file > defaults
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			iniFile, err := ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			applySection(cfg, iniFile.Section(""))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot access config file %s: %w", path, err)
		}
		// If file doesn't exist, just use defaults (no error)
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadConfigWithDefaults tries to load configuration from default locations.
// It checks locations in order:
// 1. /etc/vpsd/vpsd.conf
// 2. ./vpsd.conf (current directory)
// 3. Hardcoded defaults
//
// Environment variables override file values.
func LoadConfigWithDefaults() (*Config, error) {
	defaultPaths := []string{
		"/etc/vpsd/vpsd.conf",
		"./vpsd.conf",
	}

	for _, path := range defaultPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}

	return LoadConfig("")
}

func applySection(cfg *Config, section *ini.Section) {
	setString := func(key string, dst *string) {
		if section.HasKey(key) {
			*dst = section.Key(key).String()
		}
	}
	setString("port", &cfg.Port)
	setString("state_backend", &cfg.StateBackend)
	setString("state_file", &cfg.StateFile)
	setString("db_path", &cfg.DBPath)
	setString("default_image", &cfg.DefaultImage)
	setString("docker_network", &cfg.DockerNetwork)
	setString("admin_role", &cfg.AdminRole)
	setString("watermark", &cfg.Watermark)
	setString("welcome_message", &cfg.WelcomeMessage)
	setString("otel_endpoint", &cfg.OTELEndpoint)
	setString("log_file", &cfg.LogFile)

	if section.HasKey("max_vps_per_user") {
		if v, err := section.Key("max_vps_per_user").Int(); err == nil {
			cfg.MaxVPSPerUser = v
		}
	}
	if section.HasKey("max_containers") {
		if v, err := section.Key("max_containers").Int(); err == nil {
			cfg.MaxContainers = v
		}
	}
	if section.HasKey("max_runtime_calls") {
		if v, err := section.Key("max_runtime_calls").Int64(); err == nil {
			cfg.MaxRuntimeCalls = v
		}
	}
	if section.HasKey("denied_images") {
		cfg.DeniedImages = splitList(section.Key("denied_images").String())
	}
	if section.HasKey("admin_ids") {
		cfg.AdminIDs = splitList(section.Key("admin_ids").String())
	}
	if section.HasKey("backup_interval") {
		if d, err := time.ParseDuration(section.Key("backup_interval").String()); err == nil {
			cfg.BackupInterval = d
		}
	}
	if section.HasKey("reconcile_interval") {
		if d, err := time.ParseDuration(section.Key("reconcile_interval").String()); err == nil {
			cfg.ReconcileInterval = d
		}
	}
	if section.HasKey("otel_push_interval") {
		if d, err := time.ParseDuration(section.Key("otel_push_interval").String()); err == nil {
			cfg.OTELPushInterval = d
		}
	}
	if section.HasKey("otel_insecure") {
		cfg.OTELInsecure = isTruthy(section.Key("otel_insecure").String())
	}
	if section.HasKey("debug_enabled") {
		cfg.DebugEnabled = isTruthy(section.Key("debug_enabled").String())
	}
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("STATE_BACKEND", &cfg.StateBackend)
	setString("STATE_FILE", &cfg.StateFile)
	setString("DB_PATH", &cfg.DBPath)
	setString("DEFAULT_OS_IMAGE", &cfg.DefaultImage)
	setString("DOCKER_NETWORK", &cfg.DockerNetwork)
	setString("ADMIN_ROLE", &cfg.AdminRole)
	setString("WATERMARK", &cfg.Watermark)
	setString("WELCOME_MESSAGE", &cfg.WelcomeMessage)
	setString("OTEL_ENDPOINT", &cfg.OTELEndpoint)
	setString("LOG_FILE", &cfg.LogFile)

	if v := os.Getenv("MAX_VPS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxVPSPerUser = n
		}
	}
	if v := os.Getenv("MAX_CONTAINERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxContainers = n
		}
	}
	if v := os.Getenv("MAX_RUNTIME_CALLS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxRuntimeCalls = n
		}
	}
	if v := os.Getenv("DENIED_IMAGES"); v != "" {
		cfg.DeniedImages = splitList(v)
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		cfg.AdminIDs = splitList(v)
	}
	if v := os.Getenv("BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BackupInterval = d
		}
	}
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconcileInterval = d
		}
	}
	if v := os.Getenv("OTEL_PUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OTELPushInterval = d
		}
	}
	if v := os.Getenv("OTEL_INSECURE"); v != "" {
		cfg.OTELInsecure = isTruthy(v)
	}
	if v := os.Getenv("DEBUG_ENABLED"); v != "" {
		cfg.DebugEnabled = isTruthy(v)
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTruthy(value string) bool {
	value = strings.ToLower(value)
	return value == "true" || value == "1" || value == "yes"
}
