package command

import "errors"

var (
	// ErrNilCommand is returned when a nil command is sent.
	ErrNilCommand = errors.New("command cannot be nil")

	// ErrNilHandler is raised when registering a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNoHandler is returned when a command has no registered handler.
	ErrNoHandler = errors.New("no handler registered for command")

	// ErrDuplicateHandler is raised when registering a second handler for a command.
	ErrDuplicateHandler = errors.New("handler already registered for command")

	// ErrAsyncRecursionTooDeep is returned when a send would exceed the
	// command->event->command hop ceiling.
	ErrAsyncRecursionTooDeep = errors.New("async command recursion too deep")
)
