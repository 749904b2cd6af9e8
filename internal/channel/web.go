package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hookchat/internal/config"
	"hookchat/internal/conversation"
	"hookchat/internal/domain"
	"hookchat/internal/insights"
	"hookchat/internal/render"
	"hookchat/internal/webhook"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

const (
	maxBodySize       = 1 << 20 // 1MB, JSON bodies
	sessionCookieName = "hookchat_session"
	sessionMaxAge     = 86400 * 30 // 30 days
)

//go:embed web_templates/*.html
var templateFS embed.FS

//go:embed web_assets/*
var assetsFS embed.FS

// Web implements domain.Channel for the browser UI.
type Web struct {
	host     string
	port     int
	logger   *slog.Logger
	server   *http.Server
	tmpl     *htmltemplate.Template
	version  string
	sessions *conversation.Manager
	insights *insights.Generator
	render   *render.Renderer

	maxUpload int64
	pageSize  int
	origins   []string

	metricsPath    string
	metricsHandler http.Handler

	limiter *submitLimiter // nil when unlimited

	// Config reference for settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	// Auth settings
	authEnabled  bool
	authUser     string
	authPassHash string

	handlerOnce sync.Once
	handler     http.Handler
}

type WebConfig struct {
	Host       string
	Port       int
	Logger     *slog.Logger
	Config     *config.Config
	ConfigPath string
	Version    string

	Sessions *conversation.Manager
	Insights *insights.Generator
	Renderer *render.Renderer

	// Metrics is mounted at Config.Metrics.Endpoint when metrics are enabled.
	Metrics http.Handler
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Config == nil {
		cfg.Config = config.Defaults()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}
	if cfg.Insights == nil {
		cfg.Insights = insights.NewGenerator(insights.GeneratorConfig{Logger: cfg.Logger})
	}

	w := &Web{
		host:      cfg.Host,
		port:      cfg.Port,
		logger:    cfg.Logger,
		version:   cfg.Version,
		sessions:  cfg.Sessions,
		insights:  cfg.Insights,
		render:    cfg.Renderer,
		cfg:       cfg.Config,
		cfgPath:   cfg.ConfigPath,
		maxUpload: cfg.Config.Channels.Web.MaxUploadBytes,
		pageSize:  cfg.Config.History.PageSize,
		origins:   cfg.Config.Channels.Web.AllowedOrigins,
	}
	if w.maxUpload <= 0 {
		w.maxUpload = conversation.DefaultMaxAttachmentBytes
	}
	w.limiter = newSubmitLimiter(cfg.Config.Channels.Web.RateLimitPerMinute, cfg.Config.Channels.Web.RateLimitBurst)
	if cfg.Config.Metrics.Enabled && cfg.Metrics != nil {
		w.metricsPath = cfg.Config.Metrics.Endpoint
		w.metricsHandler = cfg.Metrics
	}
	w.tmpl = htmltemplate.Must(htmltemplate.New("").Funcs(w.templateFuncs()).ParseFS(templateFS, "web_templates/*.html"))

	if a := cfg.Config.Channels.Web.Auth; a.Enabled {
		w.authEnabled = true
		w.authUser = a.Username
		w.authPassHash = a.PasswordHash
	}

	return w
}

func (w *Web) Name() string { return "web" }

// Handler returns the complete HTTP handler, built once.
func (w *Web) Handler() http.Handler {
	w.handlerOnce.Do(func() { w.handler = w.buildHandler() })
	return w.handler
}

func (w *Web) buildHandler() http.Handler {
	mux := http.NewServeMux()

	// Static assets served from embedded web_assets/
	assetsHandler := http.FileServer(http.FS(assetsFS))
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.URL.Path = "web_assets/" + r.URL.Path
		rw.Header().Set("Cache-Control", "public, max-age=86400")
		assetsHandler.ServeHTTP(rw, r)
	})))

	mux.HandleFunc("GET /{$}", w.requireAuth(w.handleChat))
	mux.HandleFunc("GET /form", w.requireAuth(w.handleForm))
	mux.HandleFunc("POST /chat/send", w.requireAuth(w.limitSubmits(w.handleSend)))
	mux.HandleFunc("POST /chat/clear", w.requireAuth(w.handleClear))
	mux.HandleFunc("POST /chat/draft", w.requireAuth(w.handleDraft))
	mux.HandleFunc("GET /chat/history", w.requireAuth(w.handleChatHistory))
	mux.HandleFunc("POST /form/submit", w.requireAuth(w.limitSubmits(w.handleFormSubmit)))
	mux.HandleFunc("GET /history", w.requireAuth(w.handleHistory))
	mux.HandleFunc("POST /insights", w.requireAuth(w.handleInsights))
	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint

	// Settings API (always behind auth when auth is on)
	mux.HandleFunc("GET /api/config", w.requireAuth(w.handleGetConfig))
	mux.HandleFunc("PUT /api/config", w.requireAuth(w.handleUpdateConfig))
	mux.HandleFunc("POST /api/config/save", w.requireAuth(w.handleSaveConfig))

	if w.metricsHandler != nil {
		mux.Handle("GET "+w.metricsPath, w.metricsHandler)
	}

	var h http.Handler = securityHeaders(mux)
	if len(w.origins) == 0 {
		return h
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   w.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})(h)
}

// Start serves until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web UI started", "addr", "http://"+addr, "auth", w.authEnabled, "cors", len(w.origins) > 0)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="hookchat"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored SHA-256 hex.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(w.authPassHash))) == 1
}

// sessionID returns the session ID from the cookie, issuing a new one when
// the cookie is missing or malformed.
func (w *Web) sessionID(rw http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.logger.Info("new web session created", "session", id)
	return id
}

func (w *Web) session(rw http.ResponseWriter, r *http.Request) *conversation.Session {
	return w.sessions.Get(w.sessionID(rw, r))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// entryView is an Entry as the browser sees it. Bot text is also rendered
// from Markdown to sanitized HTML.
type entryView struct {
	Type    domain.EntryType  `json:"type"`
	Content string            `json:"content"`
	HTML    htmltemplate.HTML `json:"html,omitempty"`
	Image   htmltemplate.URL  `json:"image,omitempty"`
}

func (w *Web) views(entries []domain.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{Type: e.Speaker(), Content: e.Text()}
		if v.Type == domain.EntryBot {
			v.HTML = w.render.HTML(v.Content)
		}
		if strings.HasPrefix(e.Image, "data:image/") {
			v.Image = htmltemplate.URL(e.Image)
		}
		out = append(out, v)
	}
	return out
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	s := w.session(rw, r)
	if err := w.tmpl.ExecuteTemplate(rw, "chat.html", map[string]any{
		"Title":   "hookchat",
		"Page":    "chat",
		"Entries": w.views(s.Conversation.Entries()),
		"Busy":    s.Conversation.Busy(),
		"Draft":   s.Conversation.Draft(),
		"Accept":  "image/*",
	}); err != nil {
		w.logger.Error("template error", "template", "chat", "err", err)
	}
}

func (w *Web) handleForm(rw http.ResponseWriter, r *http.Request) {
	s := w.session(rw, r)
	if err := w.tmpl.ExecuteTemplate(rw, "form.html", map[string]any{
		"Title":      "hookchat: submit a task",
		"Page":       "form",
		"Priorities": []domain.Priority{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh},
		"Default":    domain.PriorityMedium,
		"History":    s.History.Page(1, w.pageSize),
	}); err != nil {
		w.logger.Error("template error", "template", "form", "err", err)
	}
}

// handleSend accepts multipart or urlencoded input with "message" and an
// optional "file" part and runs one conversation exchange.
func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, w.maxUpload+maxBodySize)
	if err := parseForm(r, w.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(rw, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(rw, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	att, err := readAttachment(r, "file")
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	s := w.session(rw, r)
	res, err := s.Conversation.Submit(r.Context(), r.FormValue("message"), att)
	switch {
	case errors.Is(err, conversation.ErrEmptySubmission):
		writeError(rw, http.StatusBadRequest, "empty message")
		return
	case errors.Is(err, conversation.ErrBusy):
		writeError(rw, http.StatusConflict, "a request is already in progress")
		return
	case errors.Is(err, conversation.ErrReset):
		writeError(rw, http.StatusConflict, "conversation was reset")
		return
	case err != nil:
		// Attachment and webhook failures are already in the log as entries.
		w.logger.Info("exchange finished with error", "session", s.ID, "err", err)
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"entries": w.views(res.Entries),
		"busy":    s.Conversation.Busy(),
	})
}

func (w *Web) handleClear(rw http.ResponseWriter, r *http.Request) {
	id := w.sessionID(rw, r)
	w.sessions.Reset(id)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "cleared"})
}

func (w *Web) handleDraft(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid form")
		return
	}
	w.session(rw, r).Conversation.SetDraft(r.FormValue("draft"))
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Web) handleChatHistory(rw http.ResponseWriter, r *http.Request) {
	s := w.session(rw, r)
	writeJSON(rw, http.StatusOK, map[string]any{
		"entries": w.views(s.Conversation.Entries()),
		"busy":    s.Conversation.Busy(),
		"draft":   s.Conversation.Draft(),
		"state":   s.Conversation.State().String(),
	})
}

// handleFormSubmit accepts the structured form as JSON or as form fields.
func (w *Web) handleFormSubmit(rw http.ResponseWriter, r *http.Request) {
	form, err := w.decodeForm(rw, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(rw, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	id := w.sessionID(rw, r)
	resp, err := w.sessions.SubmitForm(r.Context(), id, form)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeJSON(rw, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": ve.Fields,
			})
			return
		}
		w.logger.Warn("form submission failed", "session", id, "err", err)
		writeError(rw, http.StatusBadGateway, webhook.UserMessage(err))
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"response": resp})
}

func (w *Web) decodeForm(rw http.ResponseWriter, r *http.Request) (domain.FormData, error) {
	var form domain.FormData
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		// A JSON body may carry a data URI, so it gets the upload allowance.
		r.Body = http.MaxBytesReader(rw, r.Body, w.maxUpload*2+maxBodySize)
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			return form, fmt.Errorf("invalid JSON: %w", err)
		}
		if form.FileDataURI == "" {
			form.FileName, form.FileMimeType = "", ""
			return form, nil
		}
		att, err := conversation.DecodeDataURI(form.FileName, form.FileDataURI, w.maxUpload)
		if err != nil {
			return form, err
		}
		enc, err := conversation.EncodeAttachment(att, w.maxUpload)
		if err != nil {
			return form, err
		}
		enc.ApplyTo(&form)
		return form, nil
	}

	r.Body = http.MaxBytesReader(rw, r.Body, w.maxUpload+maxBodySize)
	if err := parseForm(r, w.maxUpload); err != nil {
		return form, fmt.Errorf("invalid form: %w", err)
	}
	form.AgentName = r.FormValue("agentName")
	form.TaskDescription = r.FormValue("taskDescription")
	form.Priority = domain.Priority(r.FormValue("priority"))

	att, err := readAttachment(r, "file")
	if err != nil {
		return form, err
	}
	if att != nil {
		enc, err := conversation.EncodeAttachment(att, w.maxUpload)
		if err != nil {
			return form, err
		}
		enc.ApplyTo(&form)
	}
	return form, nil
}

func (w *Web) handleHistory(rw http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = w.pageSize
	}
	s := w.session(rw, r)
	writeJSON(rw, http.StatusOK, s.History.Page(page, size))
}

func (w *Web) handleInsights(rw http.ResponseWriter, r *http.Request) {
	s := w.session(rw, r)
	suggestions, err := w.insights.Suggest(r.Context(), s.History.List())
	if err != nil {
		// Client went away during the delay; nothing useful to send.
		w.logger.Debug("insights cancelled", "session", s.ID, "err", err)
		writeError(rw, http.StatusServiceUnavailable, "insights cancelled")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  w.version,
		"time":     time.Now().Format(time.RFC3339),
		"sessions": w.sessions.Len(),
	})
}

func (w *Web) templateFuncs() htmltemplate.FuncMap {
	return htmltemplate.FuncMap{
		"markdown": w.render.HTML,
		"priorityClass": func(p domain.Priority) string {
			if p.Valid() {
				return "badge-" + string(p)
			}
			return "badge-none"
		},
		"statusIcon": func(s domain.Status) string {
			switch s {
			case domain.StatusProcessed:
				return "✔"
			case domain.StatusError:
				return "✖"
			case domain.StatusPending:
				return "…"
			}
			return "?"
		},
		"when": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
		"shorten": shortText,
	}
}

var _ domain.Channel = (*Web)(nil)
