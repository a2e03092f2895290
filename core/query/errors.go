package query

import "errors"

var (
	// ErrNilQuery is returned when a nil query is sent.
	ErrNilQuery = errors.New("query cannot be nil")

	// ErrNilHandler is raised when registering a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNoHandler is returned when a query has no registered handler.
	ErrNoHandler = errors.New("no handler registered for query")

	// ErrDuplicateHandler is raised when registering a second handler for a query.
	ErrDuplicateHandler = errors.New("handler already registered for query")
)
