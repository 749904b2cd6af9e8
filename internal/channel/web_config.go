package channel

import (
	"encoding/json"
	"io"
	"net/http"

	"hookchat/internal/config"
)

// handleGetConfig returns the running config with secrets masked. With
// ?path= it returns a single value instead.
func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()

	sanitized := config.Sanitize(w.cfg)
	if path := r.URL.Query().Get("path"); path != "" {
		v, err := config.GetByPath(sanitized, path)
		if err != nil {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"path": path, "value": v})
		return
	}
	writeJSON(rw, http.StatusOK, sanitized)
}

// handleUpdateConfig applies a single-path or full update in memory.
// Changes that need a restart (listen address, webhook URL) take effect on
// the next start; use /api/config/save to persist them.
func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	// { "path": "webhook.timeoutSeconds", "value": 30 }
	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &partial); err == nil && partial.Path != "" {
		if isMaskedEcho(w.cfg, partial.Path, partial.Value) {
			// The masked placeholder came back; the real value stays.
			writeJSON(rw, http.StatusOK, map[string]string{"status": "unchanged", "path": partial.Path})
			return
		}
		if err := config.SetByPath(w.cfg, partial.Path, partial.Value); err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		w.logger.Info("config updated via path", "path", partial.Path)
		writeJSON(rw, http.StatusOK, map[string]string{"status": "updated", "path": partial.Path})
		return
	}

	// Full updates start from defaults so omitted sections stay sane.
	candidate := config.Defaults()
	if err := json.Unmarshal(body, candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	config.RestoreMasked(candidate, w.cfg)
	if err := config.Validate(candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
		return
	}
	*w.cfg = *candidate

	w.logger.Info("config updated (full)")
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated"})
}

// isMaskedEcho reports whether value is the masked form of a secret at path.
func isMaskedEcho(cfg *config.Config, path string, value any) bool {
	got, ok := value.(string)
	if !ok {
		return false
	}
	masked, err := config.GetByPath(config.Sanitize(cfg), path)
	if err != nil {
		return false
	}
	current, _ := config.GetByPath(cfg, path)
	m, _ := masked.(string)
	c, _ := current.(string)
	return m != c && got == m
}

// handleSaveConfig persists the in-memory config to disk.
func (w *Web) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()

	if w.cfgPath == "" {
		writeError(rw, http.StatusServiceUnavailable, "config path not set")
		return
	}
	if err := config.Save(w.cfgPath, w.cfg); err != nil {
		writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
		return
	}

	w.logger.Info("config saved to disk", "path", w.cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": w.cfgPath})
}
