package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hookchat/internal/conversation"
	"hookchat/internal/domain"
	"hookchat/internal/insights"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramHistoryRows    = 5
)

// telegramSender is the part of *tgbotapi.BotAPI the channel needs after
// connecting.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel for a Telegram bot. Each chat gets its
// own conversation session.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string
	version   string

	sessions *conversation.Manager
	insights *insights.Generator

	bot    telegramSender
	self   string
	logger *slog.Logger
	sleep  func(time.Duration)

	wg sync.WaitGroup
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Version   string
	Sessions  *conversation.Manager
	Insights  *insights.Generator
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Insights == nil {
		cfg.Insights = insights.NewGenerator(insights.GeneratorConfig{Logger: cfg.Logger})
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		version:   cfg.Version,
		sessions:  cfg.Sessions,
		insights:  cfg.Insights,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.self = bot.Self.UserName
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")
	defer t.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates runs when Start's context ends and
// panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) sessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		if update.Message.Photo != nil || update.Message.Document != nil {
			t.sendMessage(chatID, "Attachments are only supported in the web UI. Send text here.")
		}
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	// Replies can take as long as the webhook timeout; keep polling meanwhile.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.exchange(ctx, chatID, text)
	}()
}

// exchange runs one conversation turn and posts the bot (or system) entry.
func (t *Telegram) exchange(ctx context.Context, chatID int64, text string) {
	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	s := t.sessions.Get(t.sessionID(chatID))
	res, err := s.Conversation.Submit(ctx, text, nil)
	switch {
	case errors.Is(err, conversation.ErrBusy):
		t.sendMessage(chatID, "Still waiting for the previous reply.")
		return
	case errors.Is(err, conversation.ErrReset):
		return
	}
	if len(res.Entries) == 0 {
		return
	}
	t.sendMessage(chatID, res.Entries[len(res.Entries)-1].Text())
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	id := t.sessionID(chatID)
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "Send me a message and I'll forward it to the workflow.\n\n"+
			"Commands:\n/new - Start a new conversation\n/history - Recent exchanges\n"+
			"/insights - Workflow suggestions\n/status - Bot status\n/help - Show this message")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("hookchat %s\n\nBot: @%s\nYour ID: %d\nChat ID: %d",
			t.version, t.self, msg.From.ID, chatID))
	case "new", "clear":
		t.sessions.Reset(id)
		t.sendMessage(chatID, "Started a new conversation.")
	case "history":
		t.sendMessage(chatID, formatHistory(t.sessions.Get(id).History.List(), telegramHistoryRows))
	case "insights":
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			suggestions, err := t.insights.Suggest(ctx, t.sessions.Get(id).History.List())
			if err != nil {
				return
			}
			t.sendMessage(chatID, formatSuggestions(suggestions))
		}()
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of each chunk. Hard cuts land on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk. A Markdown parse error falls back to plain
// text; rate limits and other errors are retried with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			t.sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			if _, err2 := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			t.sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}

// formatHistory lists the newest n exchanges, one per line.
func formatHistory(items []domain.WebhookResponse, n int) string {
	if len(items) == 0 {
		return "No exchanges yet."
	}
	if len(items) > n {
		items = items[:n]
	}
	var b strings.Builder
	b.WriteString("Recent exchanges:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n%s  %s  %s", it.ProcessedAt.Local().Format("01-02 15:04"), it.Status,
			shortText(it.ReceivedData.TaskDescription, 48))
	}
	return b.String()
}

func formatSuggestions(s []domain.Suggestion) string {
	if len(s) == 0 {
		return "No suggestions yet. Send a few messages first."
	}
	var b strings.Builder
	for i, sg := range s {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s\n%s", sg.Category, sg.Title, sg.Description)
	}
	return b.String()
}

func shortText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
