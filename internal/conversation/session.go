package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"hookchat/internal/domain"
	"hookchat/internal/history"
	"hookchat/internal/metrics"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 24 * time.Hour

// Session pairs a conversation with its exchange history.
type Session struct {
	ID           string
	Conversation *Conversation
	History      *history.Ring

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Sender             Sender
	HistorySize        int
	MaxAttachmentBytes int64
	TTL                time.Duration
	// Store, when set, receives every successful exchange.
	Store  domain.ExchangeStore
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager maps session IDs (web cookie, Telegram chat, CLI) to sessions.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) *Session {
	now := m.cfg.Now()

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch(now)
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.touch(now)
		return s
	}
	s = m.newSession(id)
	s.lastSeen = now
	m.sessions[id] = s
	metrics.ActiveSessions.Inc()
	m.logger.Debug("session created", "session", id)
	return s
}

// Lookup returns the session for id without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) newSession(id string) *Session {
	s := &Session{ID: id, History: history.New(m.cfg.HistorySize)}
	s.Conversation = New(Config{
		Sender:             m.cfg.Sender,
		MaxAttachmentBytes: m.cfg.MaxAttachmentBytes,
		OnExchange:         func(resp domain.WebhookResponse) { m.record(s, resp) },
		Logger:             m.logger.With("session", id),
	})
	return s
}

func (m *Manager) record(s *Session, resp domain.WebhookResponse) {
	s.History.Add(resp)
	if m.cfg.Store == nil {
		return
	}
	// The request context may already be gone; the log write is best effort.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cfg.Store.RecordExchange(ctx, s.ID, resp); err != nil {
		m.logger.Warn("failed to record exchange", "session", s.ID, "err", err)
	}
}

// SubmitForm validates a structured form, sends it and records the
// response in the session history. It does not touch the chat log.
func (m *Manager) SubmitForm(ctx context.Context, id string, form domain.FormData) (*domain.WebhookResponse, error) {
	form.Normalize()
	if err := form.ValidateForm(); err != nil {
		return nil, err
	}
	s := m.Get(id)
	metrics.FormSubmissions.Inc()
	resp, err := m.cfg.Sender.Send(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("send form: %w", err)
	}
	m.record(s, *resp)
	return resp, nil
}

// Reset starts a new chat in the session. History is kept.
func (m *Manager) Reset(id string) {
	if s, ok := m.Lookup(id); ok {
		s.Conversation.NewChat()
	}
}

// Drop removes the session entirely.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Dec()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle longer than the TTL. Busy sessions are kept.
func (m *Manager) Sweep() int {
	cutoff := m.cfg.Now().Add(-m.cfg.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && !s.Conversation.Busy() {
			delete(m.sessions, id)
			metrics.ActiveSessions.Dec()
			n++
		}
	}
	if n > 0 {
		m.logger.Info("swept idle sessions", "count", n)
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}
