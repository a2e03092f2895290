package command

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// commandNameCache caches reflection results for command name lookups.
var commandNameCache sync.Map

// getCommandName derives the command name from a reflect.Type, unwrapping
// pointers. Results are cached to avoid repeated reflection overhead.
func getCommandName(t reflect.Type) string {
	if name, ok := commandNameCache.Load(t); ok {
		return name.(string)
	}

	original := t
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var name string
	if t.Name() != "" {
		name = t.Name()
	} else {
		name = t.String()
	}

	commandNameCache.Store(original, name)
	return name
}

func getCommandNameFromInstance(cmd any) string {
	if cmd == nil {
		return ""
	}
	return getCommandName(reflect.TypeOf(cmd))
}

// chainMiddleware applies middleware in order: the first middleware in the
// slice is the outermost and executes first.
func chainMiddleware(send SendFunc, middleware []Middleware) SendFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		send = middleware[i](send)
	}
	return send
}

// safeHandle executes a handler with panic recovery, converting panics to
// errors at the dispatch boundary.
func safeHandle(handler Handler, ctx context.Context, cmd *Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler %s panicked: %v", handler.Name(), r)
		}
	}()
	return handler.Handle(ctx, cmd.Payload)
}
