// ABOUTME: Store interface and data types for daybreak persistence
// ABOUTME: Defines Session, Message, Provider structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session that already exists
var ErrDuplicateSession = errors.New("session already exists")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamingStatus values for a message. A user message is born StatusCompleted.
// An assistant message is born StatusStreaming and settles into exactly one of
// StatusCompleted or StatusInterrupted.
const (
	StatusStreaming   = "streaming"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Session represents a chat conversation owned by a user
type Session struct {
	ID           string
	UserID       string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a single message within a session.
// Content and Thinking grow append-only while a generation job runs.
type Message struct {
	ID              string
	SessionID       string
	Role            string // "user" or "assistant"
	Content         string
	Thinking        string // reasoning-channel text, empty if the model emitted none
	Usage           string // JSON-encoded token usage, empty until finalized
	StreamingStatus string // "streaming", "completed", "interrupted"
	CreatedAt       time.Time
}

// Provider categories distinguish what a provider row is configured for.
const (
	CategoryText  = "text"
	CategoryImage = "image"
)

// Provider holds the configuration for one upstream text-generation endpoint.
// APIKey is sealed at rest; the store returns it decrypted.
type Provider struct {
	ID          string
	UserID      string
	Name        string
	Category    string // "text" or "image"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store defines the interface for session, message, and provider persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	// CompleteExchange bumps the session's message count by two (one user
	// message, one assistant message) and refreshes its activity timestamp.
	CompleteExchange(ctx context.Context, id string) error

	// Messages
	SaveUserMessage(ctx context.Context, msg *Message) error
	CreatePlaceholder(ctx context.Context, sessionID string) (*Message, error)
	AppendDelta(ctx context.Context, messageID, content, thinking string) error
	FinalizeMessage(ctx context.Context, messageID, status, usage string) (bool, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	ListSettledMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	FindStreaming(ctx context.Context, sessionID string) (*Message, error)
	FindInterrupted(ctx context.Context, sessionID string) (*Message, error)

	// Providers
	SaveProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, id string) (*Provider, error)
	GetActiveProvider(ctx context.Context, userID, category string) (*Provider, error)
	ListProviders(ctx context.Context, userID string) ([]*Provider, error)
	SetActiveProvider(ctx context.Context, userID, id string) error
	DeleteProvider(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
