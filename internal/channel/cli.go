package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hookchat/internal/conversation"
	"hookchat/internal/domain"
	"hookchat/internal/insights"
)

const cliSessionID = "cli:direct"

const cliHelp = `Commands:
  /new                    start a new conversation
  /attach <path> [text]   send an image with optional text
  /history                recent exchanges
  /insights               workflow suggestions
  /quit                   exit`

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	sessions *conversation.Manager
	insights *insights.Generator
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	spinner  bool

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Sessions *conversation.Manager
	Insights *insights.Generator
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	// Spinner animates a "waiting" line while the webhook is called.
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Insights == nil {
		cfg.Insights = insights.NewGenerator(insights.GeneratorConfig{Logger: cfg.Logger})
	}
	return &CLI{
		sessions: cfg.Sessions,
		insights: cfg.Insights,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		spinner:  cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx cancellation.
func (c *CLI) Start(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "hookchat CLI. Type a message and press Enter. Type /help for commands.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}
		if strings.HasPrefix(line, "/") {
			c.handleCommand(ctx, line)
		} else {
			c.exchange(ctx, line, nil)
		}
		c.prompt()
	}
}

func (c *CLI) prompt() { _, _ = fmt.Fprint(c.out, "You> ") }

func (c *CLI) session() *conversation.Session { return c.sessions.Get(cliSessionID) }

func (c *CLI) handleCommand(ctx context.Context, line string) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/help":
		_, _ = fmt.Fprintln(c.out, cliHelp)
	case "/new", "/clear":
		c.sessions.Reset(cliSessionID)
		_, _ = fmt.Fprintln(c.out, "Started a new conversation.")
	case "/attach":
		path, text, _ := strings.Cut(rest, " ")
		if path == "" {
			_, _ = fmt.Fprintln(c.out, "usage: /attach <path> [text]")
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(c.out, "System: cannot read %s: %v\n", path, err)
			return
		}
		c.exchange(ctx, text, &conversation.Attachment{Name: filepath.Base(path), Data: data})
	case "/history":
		_, _ = fmt.Fprintln(c.out, formatHistory(c.session().History.List(), c.session().History.Cap()))
	case "/insights":
		c.startThinking()
		suggestions, err := c.insights.Suggest(ctx, c.session().History.List())
		c.stopThinking()
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(c.out, formatSuggestions(suggestions))
	default:
		_, _ = fmt.Fprintf(c.out, "Unknown command %s. Type /help for commands.\n", cmd)
	}
}

func (c *CLI) exchange(ctx context.Context, text string, att *conversation.Attachment) {
	c.startThinking()
	res, err := c.session().Conversation.Submit(ctx, text, att)
	c.stopThinking()

	if errors.Is(err, conversation.ErrEmptySubmission) || errors.Is(err, conversation.ErrReset) {
		return
	}
	if errors.Is(err, conversation.ErrBusy) {
		_, _ = fmt.Fprintln(c.out, "System: still waiting for the previous reply.")
		return
	}
	// The user entry is what was just typed; print the rest.
	for _, e := range res.Entries {
		switch e.Speaker() {
		case domain.EntryBot:
			_, _ = fmt.Fprintln(c.out, "--- Bot ---")
			_, _ = fmt.Fprintln(c.out, e.Text())
			_, _ = fmt.Fprintln(c.out, "-----------")
		case domain.EntrySystem:
			_, _ = fmt.Fprintln(c.out, "System: "+e.Text())
		}
	}
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				_, _ = fmt.Fprint(c.out, "\r\033[K") // clear spinner line
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Waiting for the workflow...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
