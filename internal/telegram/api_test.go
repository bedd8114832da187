package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", srv.URL, nil)
}

func ok(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(apiResponse{OK: true, Result: raw})
}

func TestGetMe(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/getMe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		ok(w, User{ID: 7, IsBot: true, Username: "parley_bot"})
	})

	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.Username != "parley_bot" {
		t.Errorf("Username = %q", me.Username)
	}
}

func TestGetUpdates(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		if params["offset"].(float64) != 100 {
			t.Errorf("offset = %v, want 100", params["offset"])
		}
		if params["timeout"].(float64) != 30 {
			t.Errorf("timeout = %v, want 30", params["timeout"])
		}
		ok(w, []Update{
			{UpdateID: 100, Message: &Message{Text: "hello", Chat: Chat{ID: 1}}},
			{UpdateID: 101, Message: &Message{Text: "world", Chat: Chat{ID: 1}}},
		})
	})

	updates, err := c.GetUpdates(context.Background(), 100, 30)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[1].Message.Text != "world" {
		t.Errorf("Text = %q", updates[1].Message.Text)
	}
}

func TestSendMessage_Chunks(t *testing.T) {
	var texts []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		texts = append(texts, params["text"].(string))
		if params["parse_mode"] != "HTML" {
			t.Errorf("parse_mode = %v", params["parse_mode"])
		}
		ok(w, Message{MessageID: 1})
	})

	long := strings.Repeat("line of text\n", 600) // > 4096 bytes
	if err := c.SendMessage(context.Background(), 42, long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(texts) < 2 {
		t.Fatalf("sent %d chunks, want at least 2", len(texts))
	}
	for i, chunk := range texts {
		if len(chunk) > maxMessageLen {
			t.Errorf("chunk %d is %d bytes, over limit", i, len(chunk))
		}
	}
}

func TestSendMessage_FallsBackToPlainText(t *testing.T) {
	var calls int
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		if _, hasParseMode := params["parse_mode"]; hasParseMode {
			json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 400, Description: "can't parse entities"})
			return
		}
		ok(w, Message{MessageID: 1})
	})

	if err := c.SendMessage(context.Background(), 42, "<unclosed"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want HTML attempt then plain retry", calls)
	}
}

func TestCall_APIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 401, Description: "Unauthorized"})
	})

	_, err := c.GetMe(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("err = %v, want Unauthorized", err)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		limit  int
		chunks int
	}{
		{"short", "hello", 10, 1},
		{"exact", "0123456789", 10, 1},
		{"split on newline", "aaaa\nbbbb\ncccc", 10, 2},
		{"no newline", strings.Repeat("x", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitMessage(tt.text, tt.limit)
			if len(chunks) != tt.chunks {
				t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, tt.chunks)
			}
			var total int
			for _, c := range chunks {
				if len(c) > tt.limit {
					t.Errorf("chunk %q over limit", c)
				}
				total += len(c)
			}
			// Nothing but separator newlines may be dropped.
			if total < len(tt.text)-len(chunks) {
				t.Errorf("lost content: total %d of %d", total, len(tt.text))
			}
		})
	}
}
