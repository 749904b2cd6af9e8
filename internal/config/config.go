package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for hookchat.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Webhook  WebhookConfig  `json:"webhook"`
	Channels ChannelsConfig `json:"channels"`
	History  HistoryConfig  `json:"history"`
	Insights InsightsConfig `json:"insights"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path, rotated
}

// WebhookConfig describes the single upstream endpoint every submission goes to.
type WebhookConfig struct {
	URL              string            `json:"url"`
	TimeoutSeconds   int               `json:"timeoutSeconds"`
	Secret           string            `json:"secret,omitempty"` // HMAC-SHA256 signing key
	Headers          map[string]string `json:"headers,omitempty"`
	MaxResponseBytes int64             `json:"maxResponseBytes"`

	// RatePerMinute throttles outbound calls across all sessions; 0 disables it.
	RatePerMinute float64 `json:"ratePerMinute"`
	Burst         int     `json:"burst"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Auth           WebAuth  `json:"auth"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"` // CORS; empty disables it
	MaxUploadBytes int64    `json:"maxUploadBytes"`

	// Per-session limit on submissions; 0 disables it.
	RateLimitPerMinute float64 `json:"rateLimitPerMinute"`
	RateLimitBurst     int     `json:"rateLimitBurst"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex SHA-256
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// HistoryConfig bounds the per-session exchange table and the optional
// SQLite exchange log.
type HistoryConfig struct {
	Size              int    `json:"size"`
	PageSize          int    `json:"pageSize"`
	Persist           bool   `json:"persist"`
	DBPath            string `json:"dbPath"`
	SessionTTLMinutes int    `json:"sessionTTLMinutes"`
}

type InsightsConfig struct {
	DelayMillis    int `json:"delayMillis"`
	MaxSuggestions int `json:"maxSuggestions"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.hookchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hookchat"
	}
	return filepath.Join(home, ".hookchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so the struct's json tags
// stay the single source of field names.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or as YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config as yaml: %w", err)
		}
	}

	// May hold the webhook secret and the bot token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "webhook.url must be an absolute http(s) URL")
	}
	if cfg.Webhook.TimeoutSeconds < 1 || cfg.Webhook.TimeoutSeconds > 600 {
		errs = append(errs, "webhook.timeoutSeconds must be between 1 and 600")
	}
	if cfg.Webhook.MaxResponseBytes < 1 {
		errs = append(errs, "webhook.maxResponseBytes must be >= 1")
	}
	if cfg.Webhook.RatePerMinute < 0 {
		errs = append(errs, "webhook.ratePerMinute must be >= 0")
	} else if cfg.Webhook.RatePerMinute > 0 && cfg.Webhook.Burst < 1 {
		errs = append(errs, "webhook.burst must be >= 1 when ratePerMinute is set")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.MaxUploadBytes < 1 {
		errs = append(errs, "channels.web.maxUploadBytes must be >= 1")
	}
	if cfg.Channels.Web.RateLimitPerMinute < 0 {
		errs = append(errs, "channels.web.rateLimitPerMinute must be >= 0")
	} else if cfg.Channels.Web.RateLimitPerMinute > 0 && cfg.Channels.Web.RateLimitBurst < 1 {
		errs = append(errs, "channels.web.rateLimitBurst must be >= 1 when rateLimitPerMinute is set")
	}
	if a := cfg.Channels.Web.Auth; a.Enabled && (a.Username == "" || a.PasswordHash == "") {
		errs = append(errs, "channels.web.auth requires username and passwordHash when enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.History.Size < 1 || cfg.History.Size > 1000 {
		errs = append(errs, "history.size must be between 1 and 1000")
	}
	if cfg.History.PageSize < 1 {
		errs = append(errs, "history.pageSize must be >= 1")
	}
	if cfg.History.Persist && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history.persist is on")
	}
	if cfg.History.SessionTTLMinutes < 1 {
		errs = append(errs, "history.sessionTTLMinutes must be >= 1")
	}

	if cfg.Insights.DelayMillis < 0 {
		errs = append(errs, "insights.delayMillis must be >= 0")
	}
	if cfg.Insights.MaxSuggestions < 1 || cfg.Insights.MaxSuggestions > 3 {
		errs = append(errs, "insights.maxSuggestions must be between 1 and 3")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
