// Package history persists question/answer turns per conversation so
// follow-up questions can be grounded in prior exchanges.
package history

import (
	"context"
	"time"
)

type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Question       string    `json:"question"`
	SQL            string    `json:"sql,omitempty"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	// Append records one completed turn. Failures here must not fail the
	// request that produced the turn.
	Append(ctx context.Context, entry Entry) error

	// Recent returns the newest turns of a conversation, oldest first, up
	// to limit.
	Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error)

	// Conversation returns every turn of a conversation, oldest first.
	Conversation(ctx context.Context, conversationID string) ([]Entry, error)

	Close() error
}

// Noop discards history; used when no store is configured.
type Noop struct{}

func (Noop) Append(context.Context, Entry) error { return nil }

func (Noop) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (Noop) Conversation(context.Context, string) ([]Entry, error) { return nil, nil }

func (Noop) Close() error { return nil }
