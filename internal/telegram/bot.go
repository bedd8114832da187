package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/parleyhq/parley/internal/canned"
	"github.com/parleyhq/parley/internal/respond"
	"github.com/parleyhq/parley/internal/store"
)

// typingInterval is how often the typing indicator is refreshed while
// a completion is in flight. Telegram expires the indicator after ~5s.
const typingInterval = 4 * time.Second

// BotConfig holds the bot's runtime settings.
type BotConfig struct {
	ProjectName     string // shown in the /start greeting
	PollTimeoutSec  int    // server-side getUpdates hold time
	MaxConcurrency  int    // simultaneous message handlers
	HistoryLookback int    // exchanges shown by /history
	PersonaRole     string
	PersonaPrompt   string
}

// Bot drives the long-poll loop and dispatches inbound messages.
type Bot struct {
	api       *Client
	responder *respond.Responder
	store     *store.Store
	canned    *canned.Table
	cfg       BotConfig
	logger    *slog.Logger
	sem       chan struct{}
}

// NewBot wires the bot together. Zero-value config fields get sane
// defaults.
func NewBot(api *Client, responder *respond.Responder, st *store.Store, table *canned.Table, cfg BotConfig, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeoutSec <= 0 {
		cfg.PollTimeoutSec = 30
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.HistoryLookback <= 0 {
		cfg.HistoryLookback = 5
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "Parley"
	}
	return &Bot{
		api:       api,
		responder: responder,
		store:     st,
		canned:    table,
		cfg:       cfg,
		logger:    logger.With("component", "bot"),
		sem:       make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run polls for updates until ctx is cancelled. Each message is
// handled on its own goroutine, bounded by MaxConcurrency.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	b.logger.Info("bot online", "username", me.Username, "id", me.ID)

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The poll ctx outlives the server hold time so a healthy
		// long poll is never cut short.
		pollCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.PollTimeoutSec+10)*time.Second)
		updates, err := b.api.GetUpdates(pollCtx, offset, b.cfg.PollTimeoutSec)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("poll failed", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.api.logUpdate(ctx, u)
			msg := u.Message
			if msg == nil || msg.Text == "" || msg.From == nil || msg.From.IsBot {
				continue
			}

			select {
			case b.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			go func(m Message) {
				defer func() { <-b.sem }()
				b.handleMessage(ctx, m)
			}(*msg)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg Message) {
	text := strings.TrimSpace(msg.Text)
	logger := b.logger.With("chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	switch {
	case text == "/start" || strings.HasPrefix(text, "/start "):
		b.handleStart(ctx, msg, logger)
	case text == "/help":
		b.reply(ctx, msg.Chat.ID, helpText, logger)
	case text == "/history":
		b.handleHistory(ctx, msg, logger)
	case text == "/ask" || strings.HasPrefix(text, "/ask "):
		question := strings.TrimSpace(strings.TrimPrefix(text, "/ask"))
		if question == "" {
			b.reply(ctx, msg.Chat.ID, "Usage: /ask <question>", logger)
			return
		}
		b.handleChat(ctx, msg, question, logger)
	case strings.HasPrefix(text, "/"):
		b.reply(ctx, msg.Chat.ID, "Unknown command. Try /help.", logger)
	default:
		b.handleChat(ctx, msg, text, logger)
	}
}

const helpText = `I relay your messages to an AI assistant.

Just send me a message and I'll answer. Commands:
/start — introduce yourself
/ask <question> — ask explicitly
/history — show your recent exchanges
/help — this text`

func (b *Bot) handleStart(ctx context.Context, msg Message, logger *slog.Logger) {
	u, err := b.upsertUser(ctx, msg)
	if err != nil {
		logger.Error("register user", "error", err)
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.", logger)
		return
	}
	greeting := fmt.Sprintf("Hello, %s! Welcome to %s.\n\n%s",
		u.DisplayName(), b.cfg.ProjectName, helpText)
	b.reply(ctx, msg.Chat.ID, greeting, logger)
}

func (b *Bot) handleHistory(ctx context.Context, msg Message, logger *slog.Logger) {
	u, err := b.upsertUser(ctx, msg)
	if err != nil {
		logger.Error("register user", "error", err)
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.", logger)
		return
	}

	convs, err := b.store.RecentConversations(ctx, u.ID, b.cfg.HistoryLookback)
	if err != nil {
		logger.Error("load history", "error", err)
		b.reply(ctx, msg.Chat.ID, "Could not load your history.", logger)
		return
	}
	if len(convs) == 0 {
		b.reply(ctx, msg.Chat.ID, "No conversations yet. Send me a message!", logger)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Your last %d exchange(s):\n\n", len(convs)))
	for _, c := range convs {
		sb.WriteString(fmt.Sprintf("<b>You:</b> %s\n<b>AI:</b> %s\n\n",
			html.EscapeString(truncate(c.Message, 200)),
			html.EscapeString(truncate(c.Response, 200))))
	}
	if err := b.api.SendMessage(ctx, msg.Chat.ID, sb.String()); err != nil {
		logger.Error("send history", "error", err)
	}
}

// handleChat is the main path: canned replies first, otherwise the AI.
func (b *Bot) handleChat(ctx context.Context, msg Message, text string, logger *slog.Logger) {
	if reply, ok := b.canned.Match(text); ok {
		logger.Info("canned reply")
		b.reply(ctx, msg.Chat.ID, reply, logger)
		return
	}

	u, err := b.upsertUser(ctx, msg)
	if err != nil {
		logger.Error("register user", "error", err)
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.", logger)
		return
	}

	persona, err := b.store.GetOrCreatePersona(ctx, u.ID, b.cfg.PersonaRole, b.cfg.PersonaPrompt)
	if err != nil {
		logger.Error("load persona", "error", err)
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.", logger)
		return
	}

	stopTyping := b.startTyping(ctx, msg.Chat.ID)
	result, err := b.responder.Generate(ctx, text, persona.Prompt, "")
	stopTyping()

	if err != nil {
		var rerr *respond.Error
		if errors.As(err, &rerr) {
			b.reply(ctx, msg.Chat.ID, rerr.UserMessage(), logger)
		} else {
			b.reply(ctx, msg.Chat.ID, "An unexpected error occurred. Please try again.", logger)
		}
		return
	}

	// Persist only completed exchanges; failures above never reach
	// the conversation log.
	if _, err := b.store.AppendConversation(ctx, store.Conversation{
		UserID:     u.ID,
		Message:    text,
		Response:   result.Text,
		TokensUsed: result.TokensUsed,
		Model:      result.Model,
		Role:       persona.RoleName,
	}); err != nil {
		logger.Error("persist conversation", "error", err)
	}

	if err := b.api.SendMessage(ctx, msg.Chat.ID, RenderHTML(result.Text)); err != nil {
		logger.Error("send reply", "error", err)
	}
}

// startTyping keeps the typing indicator alive until the returned stop
// function is called.
func (b *Bot) startTyping(ctx context.Context, chatID int64) (stop func()) {
	done := make(chan struct{})
	go func() {
		b.api.SendTyping(ctx, chatID)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.api.SendTyping(ctx, chatID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

func (b *Bot) upsertUser(ctx context.Context, msg Message) (*store.User, error) {
	return b.store.GetOrCreateUser(ctx, msg.From.ID,
		msg.From.Username, msg.From.FirstName, msg.From.LastName, msg.From.LanguageCode)
}

// reply sends plain text (HTML-escaped) to a chat.
func (b *Bot) reply(ctx context.Context, chatID int64, text string, logger *slog.Logger) {
	if err := b.api.SendMessage(ctx, chatID, html.EscapeString(text)); err != nil {
		logger.Error("send reply", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
