// Package templates stores message templates and renders them for delivery.
// SMS/voice/WhatsApp templates use single-brace {token} substitution; email
// templates go through the Liquid engine for richer personalization.
package templates

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MessageType selects the delivery channel a template is written for.
type MessageType string

const (
	MessageSMS      MessageType = "sms"
	MessageVoice    MessageType = "voice"
	MessageWhatsApp MessageType = "whatsapp"
	MessageEmail    MessageType = "email"
)

// Template is a stored message body with its target channel.
type Template struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Content     string      `json:"content" db:"content"`
	MessageType MessageType `json:"message_type" db:"message_type"`
	IsActive    bool        `json:"is_active" db:"is_active"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Store provides database operations for templates.
type Store struct {
	db *sql.DB
}

// NewStore creates a new template store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetTemplate retrieves a template by ID. Returns (nil, nil) when not found
// or inactive.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	t := &Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, message_type, is_active, created_at, updated_at
		FROM message_templates
		WHERE id = $1 AND is_active = TRUE`, id,
	).Scan(&t.ID, &t.Name, &t.Content, &t.MessageType, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTemplate inserts a new template.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.MessageType == "" {
		t.MessageType = MessageSMS
	}
	t.IsActive = true
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_templates (id, name, content, message_type, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Content, t.MessageType, t.IsActive, t.CreatedAt, t.UpdatedAt)
	return err
}
