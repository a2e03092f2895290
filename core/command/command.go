package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/sodaframework/soda/core/runctx"
)

// Command represents a state-mutating intent with metadata and payload.
// Commands are immutable after submission except for context enrichment
// performed by the dispatch pipeline (request identity and hop stamping).
type Command struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   any             `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Meta      runctx.Metadata `json:"meta"`
}

// New creates a Command with an auto-generated ID and timestamp. The command
// name is derived from the payload type.
//
// Example:
//
//	type PlaceOrder struct {
//	    OrderID string
//	}
//
//	cmd := command.New(PlaceOrder{OrderID: "o-1"})
//	// cmd.Name == "PlaceOrder"
func New(payload any) *Command {
	return &Command{
		ID:        uuid.New().String(),
		Name:      getCommandNameFromInstance(payload),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
