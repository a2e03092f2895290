// Package codec marshals event payloads for the wire with explicit handling
// of cyclic and self-referential object graphs. Aggregates routinely hold
// back-references (order -> line -> order); the policy decides whether such
// cycles are dropped, rejected, or preserved with identity markers.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// CircularPolicy selects how cyclic references in payloads are encoded.
type CircularPolicy string

const (
	// CircularIgnore encodes a repeated reference on the path as null.
	CircularIgnore CircularPolicy = "IGNORE"

	// CircularError rejects payloads containing reference cycles.
	CircularError CircularPolicy = "ERROR"

	// CircularRetain preserves object identity: the first visit of a shared
	// pointer gains an "$id" field, later visits encode as {"$ref": id}.
	CircularRetain CircularPolicy = "RETAIN"
)

var (
	// ErrCircularReference is returned under CircularError when a payload
	// contains a reference cycle.
	ErrCircularReference = errors.New("payload contains a circular reference")

	// ErrSelfReference is returned when a value directly references itself
	// and fail-on-self-references is enabled.
	ErrSelfReference = errors.New("payload contains a self reference")
)

// Marshaler serializes payloads to JSON under a circular-reference policy.
// The zero value uses CircularIgnore.
type Marshaler struct {
	policy              CircularPolicy
	failOnSelfReference bool
}

// Option configures a Marshaler.
type Option func(*Marshaler)

// WithPolicy sets the circular-reference policy.
func WithPolicy(p CircularPolicy) Option {
	return func(m *Marshaler) {
		if p != "" {
			m.policy = p
		}
	}
}

// WithFailOnSelfReference makes direct self references an error regardless of
// the cycle policy.
func WithFailOnSelfReference(fail bool) Option {
	return func(m *Marshaler) {
		m.failOnSelfReference = fail
	}
}

// New creates a Marshaler.
func New(opts ...Option) *Marshaler {
	m := &Marshaler{policy: CircularIgnore}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Marshal serializes v to JSON applying the configured policy.
func (m *Marshaler) Marshal(v any) ([]byte, error) {
	if m.policy == CircularError && !m.failOnSelfReference {
		// The stdlib encoder already rejects pointer cycles.
		data, err := json.Marshal(v)
		if err != nil && strings.Contains(err.Error(), "encountered a cycle") {
			return nil, fmt.Errorf("%w: %v", ErrCircularReference, err)
		}
		return data, err
	}

	w := &walker{
		policy:              m.policy,
		failOnSelfReference: m.failOnSelfReference,
		onPath:              make(map[uintptr]bool),
		ids:                 make(map[uintptr]int),
	}
	tree, err := w.walk(reflect.ValueOf(v), 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

type walker struct {
	policy              CircularPolicy
	failOnSelfReference bool
	onPath              map[uintptr]bool
	ids                 map[uintptr]int
	nextID              int
	parent              uintptr
}

var jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func (w *walker) walk(v reflect.Value, depth int) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	// Types with custom encoders (time.Time, uuid.UUID) are treated as
	// leaves: they cannot participate in reference cycles we care about.
	if v.Type().Implements(jsonMarshalerType) && v.Kind() != reflect.Pointer {
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return w.walk(v.Elem(), depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		addr := v.Pointer()

		if w.onPath[addr] {
			if addr == w.parent && w.failOnSelfReference {
				return nil, ErrSelfReference
			}
			switch w.policy {
			case CircularError:
				return nil, ErrCircularReference
			case CircularRetain:
				return map[string]any{"$ref": w.ids[addr]}, nil
			default:
				return nil, nil
			}
		}

		w.onPath[addr] = true
		prevParent := w.parent
		w.parent = addr
		if w.policy == CircularRetain {
			w.nextID++
			w.ids[addr] = w.nextID
		}

		out, err := w.walk(v.Elem(), depth+1)
		delete(w.onPath, addr)
		w.parent = prevParent
		if err != nil {
			return nil, err
		}

		if w.policy == CircularRetain {
			if obj, ok := out.(map[string]any); ok {
				obj["$id"] = w.ids[addr]
				return obj, nil
			}
		}
		return out, nil

	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			name := field.Name
			omitEmpty := false
			if tag, ok := field.Tag.Lookup("json"); ok {
				parts := strings.Split(tag, ",")
				if parts[0] == "-" && len(parts) == 1 {
					continue
				}
				if parts[0] != "" {
					name = parts[0]
				}
				for _, p := range parts[1:] {
					if p == "omitempty" {
						omitEmpty = true
					}
				}
			}

			fv := v.Field(i)
			if omitEmpty && fv.IsZero() {
				continue
			}

			if field.Anonymous && field.Tag.Get("json") == "" {
				// Embedded structs flatten like encoding/json does.
				inner, err := w.walk(fv, depth+1)
				if err != nil {
					return nil, err
				}
				if obj, ok := inner.(map[string]any); ok {
					for k, val := range obj {
						if _, exists := out[k]; !exists {
							out[k] = val
						}
					}
					continue
				}
			}

			val, err := w.walk(fv, depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, err := w.walk(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = val
		}
		return out, nil

	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface(), nil // []byte encodes as base64 via stdlib
		}
		return w.walkSeq(v, depth)

	case reflect.Array:
		return w.walkSeq(v, depth)

	default:
		return v.Interface(), nil
	}
}

func (w *walker) walkSeq(v reflect.Value, depth int) (any, error) {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		val, err := w.walk(v.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}
