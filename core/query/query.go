package query

import (
	"time"

	"github.com/google/uuid"

	"github.com/sodaframework/soda/core/runctx"
)

// Query represents a side-effect-free read intent. It carries the same
// envelope as a command minus the hop count, which only state mutation
// chains accumulate.
type Query struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   any             `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Meta      runctx.Metadata `json:"meta"`
}

// New creates a Query with an auto-generated ID and timestamp. The query
// name is derived from the payload type.
func New(payload any) *Query {
	return &Query{
		ID:        uuid.New().String(),
		Name:      getQueryNameFromInstance(payload),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
