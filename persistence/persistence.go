// Package persistence provides the injected durable side channel for
// memory items. The engine treats persisters as best effort: failures
// are logged by the caller and never propagated as store failures.
package persistence

import (
	"context"
	"time"
)

// Record is the durable snapshot of one memory item. Payload carries the
// full item as JSON so schema evolution stays inside the core.
type Record struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Persister serializes items to durable storage.
type Persister interface {
	// SaveItem upserts one record.
	SaveItem(ctx context.Context, rec Record) error

	// DeleteItem removes the record with the given id. Deleting an
	// unknown id is not an error.
	DeleteItem(ctx context.Context, id string) error

	// LoadAll returns every persisted record.
	LoadAll(ctx context.Context) ([]Record, error)

	// Close releases backing resources.
	Close() error
}
