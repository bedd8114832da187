// Package store persists users, personas, and conversation exchanges
// in SQLite. Conversation rows are append-only; users and personas are
// upserted idempotently. All public methods are safe for concurrent
// use (SQLite serializes writes).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// User is a chat user known to the bot.
type User struct {
	ID        string
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
	Language  string // IETF language tag from the chat client, may be empty
	CreatedAt time.Time
}

// DisplayName returns the best available name for the user:
// username, then full name, then the numeric ID.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return fmt.Sprintf("user %d", u.ChatID)
	}
}

// Persona is a named system prompt assigned to a user.
type Persona struct {
	ID        string
	UserID    string
	RoleName  string
	Prompt    string
	CreatedAt time.Time
}

// Conversation is one completed message/response exchange. Role is
// the persona role name that served the exchange.
type Conversation struct {
	ID         string
	UserID     string
	Message    string
	Response   string
	TokensUsed int
	Model      string
	Role       string
	CreatedAt  time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open database and applies the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Open opens (creating if needed) the database at path and returns a
// migrated store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		chat_id    INTEGER NOT NULL UNIQUE,
		username   TEXT,
		first_name TEXT,
		last_name  TEXT,
		language   TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS personas (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		role_name  TEXT NOT NULL,
		prompt     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, role_name)
	);
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id),
		message     TEXT NOT NULL,
		response    TEXT NOT NULL,
		tokens_used INTEGER NOT NULL,
		model       TEXT NOT NULL,
		role_used   TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ID: %w", err)
	}
	return id.String(), nil
}

// GetOrCreateUser returns the user for chatID, creating it on first
// contact. Profile fields are refreshed on every call so renames are
// picked up.
func (s *Store) GetOrCreateUser(ctx context.Context, chatID int64, username, firstName, lastName, language string) (*User, error) {
	u, err := s.userByChatID(ctx, chatID)
	if err == nil {
		if u.Username != username || u.FirstName != firstName || u.LastName != lastName || u.Language != language {
			_, err = s.db.ExecContext(ctx,
				`UPDATE users SET username = ?, first_name = ?, last_name = ?, language = ? WHERE chat_id = ?`,
				username, firstName, lastName, language, chatID)
			if err != nil {
				return nil, fmt.Errorf("update user profile: %w", err)
			}
			u.Username, u.FirstName, u.LastName, u.Language = username, firstName, lastName, language
		}
		return u, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, chat_id, username, first_name, last_name, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, chatID, username, firstName, lastName, language, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{
		ID:        id,
		ChatID:    chatID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		Language:  language,
		CreatedAt: now,
	}, nil
}

func (s *Store) userByChatID(ctx context.Context, chatID int64) (*User, error) {
	var u User
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, first_name, last_name, COALESCE(language, ''), created_at
		 FROM users WHERE chat_id = ?`, chatID).
		Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName, &u.Language, &created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

// GetOrCreatePersona returns the persona named roleName for the user,
// creating it with prompt on first use. An existing persona's prompt
// is left untouched.
func (s *Store) GetOrCreatePersona(ctx context.Context, userID, roleName, prompt string) (*Persona, error) {
	var p Persona
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, role_name, prompt, created_at
		 FROM personas WHERE user_id = ? AND role_name = ?`, userID, roleName).
		Scan(&p.ID, &p.UserID, &p.RoleName, &p.Prompt, &created)
	if err == nil {
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("look up persona: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (id, user_id, role_name, prompt, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, userID, roleName, prompt, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert persona: %w", err)
	}
	return &Persona{
		ID:        id,
		UserID:    userID,
		RoleName:  roleName,
		Prompt:    prompt,
		CreatedAt: now,
	}, nil
}

// AppendConversation records one completed exchange.
func (s *Store) AppendConversation(ctx context.Context, c Conversation) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, message, response, tokens_used, model, role_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.UserID, c.Message, c.Response, c.TokensUsed, c.Model, c.Role,
		c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// RecentConversations returns up to limit exchanges for the user,
// newest first.
func (s *Store) RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, tokens_used, model, role_used, created_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Message, &c.Response, &c.TokensUsed, &c.Model, &c.Role, &created); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TokensUsedSince sums tokens spent by the user in conversations at or
// after cutoff.
func (s *Store) TokensUsedSince(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens_used), 0) FROM conversations
		 WHERE user_id = ? AND created_at >= ?`,
		userID, cutoff.UTC().Format(time.RFC3339)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum tokens: %w", err)
	}
	return total, nil
}
