package event

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// eventNameCache caches reflection results for event name lookups.
var eventNameCache sync.Map

// getEventName derives the event name from a reflect.Type, unwrapping
// pointers. Returns the bare type name without package path: event names are
// wire-stable identifiers, and distinct types must use distinct names.
func getEventName(t reflect.Type) string {
	if name, ok := eventNameCache.Load(t); ok {
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

	eventNameCache.Store(original, name)
	return name
}

func getEventNameFromInstance(v any) string {
	if v == nil {
		return ""
	}
	return getEventName(reflect.TypeOf(v))
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// unmarshalPayload attempts to convert payload to type T. Handles pre-typed
// payloads, raw JSON bytes, and map payloads produced by decoding into `any`.
func unmarshalPayload[T any](payload any) (T, error) {
	var zero T

	if v, ok := payload.(T); ok {
		return v, nil
	}

	if data, ok := payload.([]byte); ok {
		var evt T
		if err := json.Unmarshal(data, &evt); err != nil {
			return zero, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		return evt, nil
	}

	if m, ok := payload.(map[string]any); ok {
		data, err := json.Marshal(m)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal map payload: %w", err)
		}
		var evt T
		if err := json.Unmarshal(data, &evt); err != nil {
			return zero, fmt.Errorf("failed to unmarshal map payload: %w", err)
		}
		return evt, nil
	}

	return zero, fmt.Errorf("unexpected payload type: %T", payload)
}

// safeHandle executes a handler with panic recovery so one misbehaving
// handler cannot take down the dispatch loop.
func safeHandle(handler Handler, ctx context.Context, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", handler.HandlerName(), r)
		}
	}()
	return handler.Handle(ctx, payload)
}
