// Package conversation holds the chat state machine: an append-only list
// of entries with a busy flag that admits one webhook request at a time.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"hookchat/internal/domain"
	"hookchat/internal/metrics"
	"hookchat/internal/webhook"
)

var (
	ErrEmptySubmission = errors.New("nothing to send")
	ErrBusy            = errors.New("a request is already in progress")
	// ErrReset is returned when NewChat ran while the request was in flight.
	// The reply is dropped.
	ErrReset = errors.New("conversation was reset before the reply arrived")
)

// Sender delivers a payload to the webhook. *webhook.Client implements it.
type Sender interface {
	Send(ctx context.Context, form domain.FormData) (*domain.WebhookResponse, error)
}

// State reports whether the conversation has anything in it.
type State int

const (
	StateEmpty State = iota
	StateHasEntries
)

func (s State) String() string {
	if s == StateHasEntries {
		return "has-entries"
	}
	return "empty"
}

// Config configures a Conversation.
type Config struct {
	Sender             Sender
	MaxAttachmentBytes int64
	// OnExchange is called with every successful webhook response, after the
	// bot entry has been appended. It runs outside the conversation lock.
	OnExchange func(domain.WebhookResponse)
	Logger     *slog.Logger
}

// Conversation is safe for concurrent use.
type Conversation struct {
	sender     Sender
	maxAttach  int64
	onExchange func(domain.WebhookResponse)
	logger     *slog.Logger

	mu      sync.Mutex
	entries []domain.Entry
	draft   string
	busy    bool
	gen     uint64 // bumped by NewChat
}

func New(cfg Config) *Conversation {
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Conversation{
		sender:     cfg.Sender,
		maxAttach:  cfg.MaxAttachmentBytes,
		onExchange: cfg.OnExchange,
		logger:     cfg.Logger,
	}
}

// Result lists what a single Submit appended.
type Result struct {
	Entries  []domain.Entry
	Response *domain.WebhookResponse // nil unless the webhook call succeeded
}

// Submit runs one exchange. Empty input and submissions while busy are
// rejected without touching state. An attachment that cannot be encoded
// leaves a user entry and a system entry and returns *AttachmentError. A
// webhook failure leaves an "Error - <reason>" bot entry and returns the
// wrapped *webhook.Failure alongside the result.
func (c *Conversation) Submit(ctx context.Context, text string, att *Attachment) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return Result{}, ErrEmptySubmission
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.Inc()
		return Result{}, ErrBusy
	}
	c.busy = true
	c.draft = ""
	gen := c.gen
	c.mu.Unlock()
	metrics.Submissions.Inc()

	form := domain.FormData{TaskDescription: text}
	user := domain.Entry{Type: domain.EntryUser, Content: text}
	var attErr error
	if att != nil {
		enc, err := EncodeAttachment(att, c.maxAttach)
		if err != nil {
			attErr = err
		} else {
			enc.ApplyTo(&form)
			user.Image = enc.DataURI
		}
		if user.Content == "" {
			user.Content = att.Name
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return Result{}, ErrReset
	}
	c.entries = append(c.entries, user)
	if attErr != nil {
		sys := domain.Entry{Type: domain.EntrySystem, Content: attErr.Error()}
		c.entries = append(c.entries, sys)
		c.busy = false
		c.mu.Unlock()
		c.logger.Info("attachment rejected", "err", attErr)
		return Result{Entries: []domain.Entry{user, sys}}, attErr
	}
	c.mu.Unlock()

	resp, sendErr := c.sender.Send(ctx, form)

	bot := domain.Entry{Type: domain.EntryBot}
	if sendErr != nil {
		bot.Content = "Error - " + webhook.UserMessage(sendErr)
	} else {
		bot.Content = resp.Message
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("dropping reply for a reset conversation")
		return Result{}, ErrReset
	}
	c.entries = append(c.entries, bot)
	c.busy = false
	c.mu.Unlock()

	if sendErr != nil {
		return Result{Entries: []domain.Entry{user, bot}}, fmt.Errorf("send to webhook: %w", sendErr)
	}
	if c.onExchange != nil {
		c.onExchange(*resp)
	}
	return Result{Entries: []domain.Entry{user, bot}, Response: resp}, nil
}

// NewChat discards every entry and the draft and returns to idle. A
// request still in flight finishes with ErrReset.
func (c *Conversation) NewChat() {
	c.mu.Lock()
	c.entries = nil
	c.draft = ""
	c.busy = false
	c.gen++
	c.mu.Unlock()
}

func (c *Conversation) SetDraft(s string) {
	c.mu.Lock()
	c.draft = s
	c.mu.Unlock()
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Entries returns a copy of the log in append order.
func (c *Conversation) Entries() []domain.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return StateEmpty
	}
	return StateHasEntries
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}
