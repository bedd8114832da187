// Package telegram is a minimal Bot API client plus the long-poll
// loop that drives the bot. Only the methods the bot needs are
// implemented: getMe, getUpdates, sendMessage, and sendChatAction.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/httpkit"
)

const defaultBaseURL = "https://api.telegram.org"

// maxMessageLen is the Bot API limit on sendMessage text.
const maxMessageLen = 4096

// Client calls the Telegram Bot API for one bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Bot API client. baseURL may be empty to use the
// public endpoint.
func NewClient(token, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	// Long polls hold the connection open for the poll timeout, so the
	// transport must not cut the response headers off early. Deadlines
	// come from ctx per call.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 90 * time.Second

	return &Client{
		token:   token,
		baseURL: baseURL,
		logger:  logger.With("component", "telegram"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// call POSTs a Bot API method and decodes the result envelope into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("%s failed: %s (code %d)", method, env.Description, env.ErrorCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own account, verifying the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates long-polls for updates after offset. timeoutSec is the
// server-side hold time; the ctx deadline should exceed it.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends HTML-formatted text to a chat, splitting messages
// over the API length limit into chunks.
func (c *Client) SendMessage(ctx context.Context, chatID int64, html string) error {
	for _, chunk := range splitMessage(html, maxMessageLen) {
		params := map[string]any{
			"chat_id":    chatID,
			"text":       chunk,
			"parse_mode": "HTML",
		}
		if err := c.call(ctx, "sendMessage", params, nil); err != nil {
			// Malformed HTML gets a 400; retry the chunk as plain text
			// rather than losing the reply.
			c.logger.Warn("HTML send failed, retrying as plain text", "chat_id", chatID, "error", err)
			plain := map[string]any{"chat_id": chatID, "text": chunk}
			if err := c.call(ctx, "sendMessage", plain, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// SendTyping shows the "typing…" indicator in a chat. Best effort.
func (c *Client) SendTyping(ctx context.Context, chatID int64) {
	params := map[string]any{"chat_id": chatID, "action": "typing"}
	if err := c.call(ctx, "sendChatAction", params, nil); err != nil {
		c.logger.Debug("sendChatAction failed", "chat_id", chatID, "error", err)
	}
}

// splitMessage cuts text into chunks of at most limit bytes, breaking
// on newlines where possible.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		if i := lastNewlineBefore(text, limit); i > 0 {
			cut = i
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		if len(text) > 0 && text[0] == '\n' {
			text = text[1:]
		}
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewlineBefore(text string, limit int) int {
	for i := limit - 1; i > 0; i-- {
		if text[i] == '\n' {
			return i
		}
	}
	return -1
}

// logUpdate traces a raw inbound update.
func (c *Client) logUpdate(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	c.logger.Log(ctx, config.LevelTrace, "update received",
		"update_id", u.UpdateID,
		"chat_id", u.Message.Chat.ID,
		"text_len", len(u.Message.Text),
	)
}
