// Package idempotency tracks processing status per event and per
// (event, handler) pair so at-least-once transports never re-run work that
// already succeeded. Records are TTL-bounded: a consumer that disappears
// leaves nothing behind forever.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Status is the processing state of an idempotency record.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Record is a durable marker for one event or one (event, handler) pair.
type Record struct {
	Status         Status            `json:"status"`
	ProcessedAt    time.Time         `json:"processed_at"`
	HandlerResults map[string]string `json:"handler_results,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// HandlerKey builds the per-(event, handler) record key.
func HandlerKey(eventID, handlerName string) string {
	return eventID + "::" + handlerName
}

// ErrEmptyID is returned when an operation receives an empty record id.
var ErrEmptyID = errors.New("idempotency record id cannot be empty")

// Store is the idempotency record store. Implementations must refresh the
// record TTL on every write.
type Store interface {
	// BeginProcessing transitions a missing or FAILED record to PROCESSING.
	// Returns true iff the transition happened; false when the record is
	// already SUCCESS or PROCESSING.
	BeginProcessing(ctx context.Context, id string) (bool, error)

	// MarkSuccess overwrites the record to SUCCESS with optional per-handler results.
	MarkSuccess(ctx context.Context, id string, results map[string]string) error

	// MarkFailed overwrites the record to FAILED with the error message.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Status returns the current record, or nil when none exists.
	Status(ctx context.Context, id string) (*Record, error)

	// CleanupExpired removes records older than the configured TTL and
	// returns how many were deleted. Implementations must iterate with a
	// cursor rather than scanning the whole keyspace at once.
	CleanupExpired(ctx context.Context) (int, error)
}
