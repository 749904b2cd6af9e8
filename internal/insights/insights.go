// Package insights produces the workflow suggestions shown next to the
// history table. The generator is a stand-in: it waits, then returns a
// prefix of a fixed list without looking at the exchanges.
package insights

import (
	"context"
	"io"
	"log/slog"
	"time"

	"hookchat/internal/domain"
	"hookchat/internal/metrics"
)

const (
	DefaultDelay          = 1500 * time.Millisecond
	DefaultMaxSuggestions = 3
)

var catalog = []domain.Suggestion{
	{
		ID:          "s1",
		Title:       "Automate High-Priority Task Routing",
		Description: "Consider creating a dedicated workflow to automatically route tasks marked as 'high' priority to senior agents or a specialized queue.",
		Category:    domain.CategoryAutomation,
	},
	{
		ID:          "s2",
		Title:       "Standardize Task Descriptions",
		Description: "Encourage agents to use consistent templates for task descriptions to improve data quality and enable better automated processing.",
		Category:    domain.CategoryOptimization,
	},
	{
		ID:          "s3",
		Title:       "Batch Low-Priority Updates",
		Description: "For 'low' priority tasks involving system updates, explore batching them to run during off-peak hours to reduce system load.",
		Category:    domain.CategoryEfficiency,
	},
}

// GeneratorConfig configures a Generator. Zero values take the defaults;
// a negative Delay disables the wait.
type GeneratorConfig struct {
	Delay          time.Duration
	MaxSuggestions int
	Logger         *slog.Logger
}

// Generator returns canned suggestions after a fixed delay.
type Generator struct {
	delay time.Duration
	max   int
	log   *slog.Logger
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.MaxSuggestions <= 0 || cfg.MaxSuggestions > len(catalog) {
		cfg.MaxSuggestions = min(DefaultMaxSuggestions, len(catalog))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{delay: cfg.Delay, max: cfg.MaxSuggestions, log: cfg.Logger}
}

// Suggest waits for the configured delay and returns the first
// min(max, len(history)) catalog entries. The returned slice is never nil.
func (g *Generator) Suggest(ctx context.Context, history []domain.WebhookResponse) ([]domain.Suggestion, error) {
	metrics.InsightRuns.Inc()

	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	n := min(g.max, len(history))
	out := make([]domain.Suggestion, n)
	copy(out, catalog[:n])
	g.log.Debug("insights generated", "history", len(history), "suggestions", n)
	return out, nil
}
