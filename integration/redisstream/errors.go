package redisstream

import "errors"

var (
	// ErrNilClient is raised when constructing the bus without a Redis client.
	ErrNilClient = errors.New("redis client cannot be nil")

	// ErrNilHandlers is raised when constructing the bus without a handler registry.
	ErrNilHandlers = errors.New("handler registry cannot be nil")

	// ErrAlreadyRunning is returned when starting a bus that is already consuming.
	ErrAlreadyRunning = errors.New("stream bus already running")

	// ErrMissingEventField is returned when a stream entry has no event payload.
	ErrMissingEventField = errors.New("stream message missing event field")
)

// deadLetterReasonMaxRetries is the reason recorded on DLQ entries after the
// retry budget is exhausted.
const deadLetterReasonMaxRetries = "Max retries exceeded"

// deadLetterReasonInterrupted marks messages dead-lettered because shutdown
// interrupted their retry cycle.
const deadLetterReasonInterrupted = "Retry interrupted"
