package soda

import "errors"

var (
	// ErrCommandRecursionTooDeep is returned when synchronous command
	// nesting exceeds the configured ceiling. The message carries the
	// breadcrumb trail of command names.
	ErrCommandRecursionTooDeep = errors.New("synchronous command recursion too deep")
)
