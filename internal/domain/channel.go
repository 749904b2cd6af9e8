package domain

import "context"

// Channel is the interface for user-facing front ends (Web, CLI, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
