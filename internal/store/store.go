// Package store keeps an optional on-disk log of completed webhook
// exchanges. The web UI never reads from it; the history command does.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hookchat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ExchangeStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ExchangeStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// RecordExchange stores resp. Recording the same response ID twice keeps
// the first row.
func (s *SQLiteStore) RecordExchange(ctx context.Context, sessionID string, resp domain.WebhookResponse) error {
	form := resp.ReceivedData
	extra := ""
	if len(form.Extra) > 0 {
		b, err := json.Marshal(form.Extra)
		if err != nil {
			return fmt.Errorf("encode extra fields: %w", err)
		}
		extra = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO exchanges
		 (id, session_id, agent_name, task, priority, status, message, has_file, file_name, extra, processed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, sessionID, form.AgentName, form.TaskDescription, string(form.Priority),
		string(resp.Status), resp.Message, form.HasAttachment(), form.FileName, extra,
		resp.ProcessedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, limit int) ([]domain.ExchangeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, agent_name, task, priority, status, message, has_file, file_name, processed_at, created_at
		 FROM exchanges ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []domain.ExchangeRecord
	for rows.Next() {
		var (
			r         domain.ExchangeRecord
			priority  string
			status    string
			message   sql.NullString
			processed sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.AgentName, &r.Task, &priority, &status,
			&message, &r.HasFile, &r.FileName, &processed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		r.Priority = domain.Priority(priority)
		r.Status = domain.Status(status)
		r.Message = message.String
		if processed.Valid {
			r.ProcessedAt = processed.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClearExchanges deletes every row and reports how many were removed.
func (s *SQLiteStore) ClearExchanges(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges`)
	if err != nil {
		return 0, fmt.Errorf("clear exchanges: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection. Used by the doctor command.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
