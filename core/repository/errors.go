package repository

import "errors"

var (
	// ErrNilRepository is raised when decorating a nil repository.
	ErrNilRepository = errors.New("repository cannot be nil")

	// ErrNilPublisher is raised when decorating with a nil event publisher.
	ErrNilPublisher = errors.New("event publisher cannot be nil")

	// ErrNoTransaction is returned when registering an after-commit hook
	// outside a transaction scope.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrOperateUnsupported is returned when Operate is called on a
	// repository that does not implement Operator.
	ErrOperateUnsupported = errors.New("inner repository does not support operate")
)
