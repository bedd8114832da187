package telegram

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/internal/canned"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/respond"
	"github.com/parleyhq/parley/internal/store"
)

// fakeSink records messages sent through a fake Bot API server.
type fakeSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSink) add(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type staticProvider struct {
	resp *llm.Response
	err  error
}

func (p *staticProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *staticProvider) Ping(ctx context.Context) error { return nil }

type wordCounter struct{}

func (wordCounter) Count(text, model string) int { return len(strings.Fields(text)) }

func setupBot(t *testing.T, provider llm.Provider) (*Bot, *fakeSink) {
	t.Helper()

	sink := &fakeSink{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			var params map[string]any
			json.NewDecoder(r.Body).Decode(&params)
			sink.add(params["text"].(string))
		}
		raw, _ := json.Marshal(Message{MessageID: 1})
		json.NewEncoder(w).Encode(apiResponse{OK: true, Result: raw})
	}))
	t.Cleanup(srv.Close)

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	responder := respond.NewResponder(provider, wordCounter{}, respond.DefaultBudget(4000), "gpt-3.5-turbo", nil)

	bot := NewBot(
		NewClient("test-token", srv.URL, nil),
		responder,
		st,
		canned.NewTable(nil),
		BotConfig{
			ProjectName:   "Parley",
			PersonaRole:   "helpful_assistant",
			PersonaPrompt: "You are a helpful AI assistant.",
		},
		nil,
	)
	return bot, sink
}

func inbound(text string) Message {
	return Message{
		MessageID: 10,
		From:      &User{ID: 12345, Username: "alice", FirstName: "Alice", LanguageCode: "en"},
		Chat:      Chat{ID: 12345, Type: "private"},
		Text:      text,
	}
}

func TestHandleMessage_Start(t *testing.T) {
	bot, sink := setupBot(t, &staticProvider{})
	ctx := context.Background()

	bot.handleMessage(ctx, inbound("/start"))

	texts := sink.all()
	if len(texts) != 1 {
		t.Fatalf("texts = %q, want one greeting", texts)
	}
	// Greeting names the user and the project and lists the commands.
	for _, want := range []string{"alice", "Parley", "/history", "/ask"} {
		if !strings.Contains(texts[0], want) {
			t.Errorf("greeting %q missing %q", texts[0], want)
		}
	}

	// /start registered the user with their locale.
	u, err := bot.store.GetOrCreateUser(ctx, 12345, "alice", "Alice", "", "en")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if u.Language != "en" {
		t.Errorf("Language = %q, want en", u.Language)
	}
}

func TestHandleMessage_CannedSkipsProvider(t *testing.T) {
	p := &staticProvider{err: &llm.Error{Kind: llm.KindUnavailable}}
	bot, sink := setupBot(t, p)

	bot.handleMessage(context.Background(), inbound("who made you?"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "Parley") {
		t.Errorf("texts = %q, want canned reply", texts)
	}
}

func TestHandleMessage_ChatPersistsExchange(t *testing.T) {
	p := &staticProvider{resp: &llm.Response{
		Text:        "It depends on the observer.",
		Choices:     1,
		TotalTokens: 55,
		Model:       "gpt-3.5-turbo",
	}}
	bot, sink := setupBot(t, p)
	ctx := context.Background()

	bot.handleMessage(ctx, inbound("Explain quantum physics"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "observer") {
		t.Fatalf("texts = %q, want AI reply", texts)
	}

	u, err := bot.store.GetOrCreateUser(ctx, 12345, "alice", "Alice", "", "en")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	convs, err := bot.store.RecentConversations(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].TokensUsed != 55 || convs[0].Message != "Explain quantum physics" {
		t.Errorf("conversation = %+v", convs[0])
	}
	if convs[0].Role != "helpful_assistant" {
		t.Errorf("Role = %q, want helpful_assistant", convs[0].Role)
	}
}

func TestHandleMessage_ProviderFailureNotPersisted(t *testing.T) {
	p := &staticProvider{err: &llm.Error{Kind: llm.KindRateLimited, Status: 429}}
	bot, sink := setupBot(t, p)
	ctx := context.Background()

	bot.handleMessage(ctx, inbound("Explain quantum physics"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "overloaded") {
		t.Fatalf("texts = %q, want overloaded notice", texts)
	}

	u, err := bot.store.GetOrCreateUser(ctx, 12345, "alice", "Alice", "", "en")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	convs, err := bot.store.RecentConversations(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("failed exchange was persisted: %+v", convs)
	}
}

func TestHandleMessage_AskCommand(t *testing.T) {
	p := &staticProvider{resp: &llm.Response{
		Text: "42.", Choices: 1, TotalTokens: 5, Model: "gpt-3.5-turbo",
	}}
	bot, sink := setupBot(t, p)

	bot.handleMessage(context.Background(), inbound("/ask what is the answer?"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "42") {
		t.Errorf("texts = %q, want AI reply", texts)
	}
}

func TestHandleMessage_AskWithoutBody(t *testing.T) {
	bot, sink := setupBot(t, &staticProvider{})

	bot.handleMessage(context.Background(), inbound("/ask"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "Usage: /ask") {
		t.Errorf("texts = %q, want usage hint", texts)
	}
}

func TestHandleMessage_HistoryEmpty(t *testing.T) {
	bot, sink := setupBot(t, &staticProvider{})

	bot.handleMessage(context.Background(), inbound("/history"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "No conversations yet") {
		t.Errorf("texts = %q", texts)
	}
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	bot, sink := setupBot(t, &staticProvider{})

	bot.handleMessage(context.Background(), inbound("/frobnicate"))

	texts := sink.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "/help") {
		t.Errorf("texts = %q", texts)
	}
}
