package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toMap round-trips cfg through JSON so paths follow the json tags.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "webhook.url").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. String values that
// look like bools, numbers or JSON arrays/objects are converted first, so
// "channels.web.allowedOrigins" accepts `["https://a.example"]`. Missing
// intermediate maps are created; this is how webhook.headers.<Name> is set.
// The result is validated before cfg is changed.
func SetByPath(cfg *Config, path string, value any) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = childMap
	}
	last := parts[len(parts)-1]
	parent[last] = parseValue(value)

	next, err := fromMap(m)
	if err != nil {
		// A numeric-looking secret or a literal "true" name: keep it a string.
		parent[last] = value
		if next, err = fromMap(m); err != nil {
			return fmt.Errorf("invalid value for %s: %w", path, err)
		}
	}
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = *next
	return nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		var j any
		if err := json.Unmarshal([]byte(t), &j); err == nil {
			return j
		}
	}
	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	if out.Webhook.Secret != "" {
		out.Webhook.Secret = maskString(out.Webhook.Secret)
	}
	for k, v := range out.Webhook.Headers {
		out.Webhook.Headers[k] = maskString(v)
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = maskString(out.Channels.Telegram.Token)
	}
	if out.Channels.Web.Auth.PasswordHash != "" {
		out.Channels.Web.Auth.PasswordHash = "***"
	}
	return &out
}

// RestoreMasked puts back the secrets of current wherever next still holds
// the masked form Sanitize would produce for them. A config read from the
// API and sent back unchanged therefore keeps its real secrets.
func RestoreMasked(next, current *Config) {
	keep := func(dst *string, cur, masked string) {
		if cur != "" && *dst == masked {
			*dst = cur
		}
	}
	keep(&next.Webhook.Secret, current.Webhook.Secret, maskString(current.Webhook.Secret))
	keep(&next.Channels.Telegram.Token, current.Channels.Telegram.Token, maskString(current.Channels.Telegram.Token))
	keep(&next.Channels.Web.Auth.PasswordHash, current.Channels.Web.Auth.PasswordHash, "***")
	for k, v := range next.Webhook.Headers {
		if cur, ok := current.Webhook.Headers[k]; ok {
			keep(&v, cur, maskString(cur))
			next.Webhook.Headers[k] = v
		}
	}
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flatten("", m, result)
	return result
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(cfg *Config) []string {
	paths := ListPaths(cfg)
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(path, sub, result)
			continue
		}
		result[path] = v
	}
}
