package memory

import (
	"context"
	"time"
)

// TurnRecord stores one completed exchange of a call: what the caller said and what was answered.
type TurnRecord struct {
	ID          string    `json:"id"`
	CallSID     string    `json:"call_sid"`
	TurnID      string    `json:"turn_id"`
	Transcript  string    `json:"transcript"`
	Reply       string    `json:"reply"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves per-call conversation history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentContext returns up to limit exchanges of the call in chronological order.
	RecentContext(ctx context.Context, callSID string, limit int) ([]TurnRecord, error)
	// Forget drops everything recorded for the call.
	Forget(ctx context.Context, callSID string) error
	Close() error
}
