package domain

import (
	"context"
	"time"
)

// ExchangeStore persists completed webhook exchanges. It is optional; the
// in-memory history is the source of truth for the UI.
type ExchangeStore interface {
	RecordExchange(ctx context.Context, sessionID string, resp WebhookResponse) error
	RecentExchanges(ctx context.Context, limit int) ([]ExchangeRecord, error)
	ClearExchanges(ctx context.Context) (int64, error)
	Close() error
}

// ExchangeRecord is a persisted exchange as read back from the store.
type ExchangeRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	AgentName   string    `json:"agent_name,omitempty"`
	Task        string    `json:"task"`
	Priority    Priority  `json:"priority,omitempty"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	HasFile     bool      `json:"has_file"`
	FileName    string    `json:"file_name,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	CreatedAt   time.Time `json:"created_at"`
}
