package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("not found")

const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one stored chat turn
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Feedback is one stored rating
type Feedback struct {
	ID             string
	ConversationID string
	Rating         int
	Description    string
	CreatedAt      time.Time
}

// Store persists conversations, messages and feedback in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	chatbot_id TEXT NOT NULL,
	start_time DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT,
	role TEXT,
	content TEXT,
	timestamp DATETIME,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);
CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	conversation_id TEXT,
	rating INTEGER,
	description TEXT,
	created_at DATETIME,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);`

// OpenStore opens (creating if needed) the database at path
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation records a new conversation for chatbotID
func (s *Store) CreateConversation(ctx context.Context, id, chatbotID string, start time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, chatbot_id, start_time) VALUES (?, ?, ?)",
		id, chatbotID, start,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// ConversationChatbot returns the chatbot a conversation belongs to, or ErrNotFound.
func (s *Store) ConversationChatbot(ctx context.Context, id string) (string, error) {
	var chatbotID string
	err := s.db.QueryRowContext(ctx, "SELECT chatbot_id FROM conversations WHERE id = ?", id).Scan(&chatbotID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}
	return chatbotID, nil
}

// AppendMessages stores msgs for a conversation in one transaction
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs ...Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
			conversationID, msg.Role, msg.Content, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Messages returns a conversation's history, oldest first
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveFeedback stores a rating
func (s *Store) SaveFeedback(ctx context.Context, fb Feedback) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO feedback (id, conversation_id, rating, description, created_at) VALUES (?, ?, ?, ?, ?)",
		fb.ID, fb.ConversationID, fb.Rating, fb.Description, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// FeedbackFor returns every rating left on a conversation
func (s *Store) FeedbackFor(ctx context.Context, conversationID string) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, rating, description, created_at FROM feedback WHERE conversation_id = ? ORDER BY created_at",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(&fb.ID, &fb.ConversationID, &fb.Rating, &fb.Description, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
