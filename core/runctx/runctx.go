package runctx

import "context"

// Metadata is the per-unit-of-work envelope carried by commands, queries, and
// events. It travels across synchronous nesting on the context and across
// transport hops embedded in the event payload.
type Metadata struct {
	RequestID   string            `json:"request_id,omitempty"`
	UserName    string            `json:"user_name,omitempty"`
	Authorities []string          `json:"authorities,omitempty"`
	TokenID     string            `json:"token_id,omitempty"`
	CallerUID   string            `json:"caller_uid,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Extension   map[string]string `json:"extension,omitempty"`
	HopCount    int               `json:"hop_count,omitempty"`
}

// IsZero reports whether no identity field is set. HopCount alone does not
// make metadata non-zero.
func (m Metadata) IsZero() bool {
	return m.RequestID == "" && m.UserName == "" && len(m.Authorities) == 0 &&
		m.TokenID == "" && m.CallerUID == "" && m.TenantID == "" && len(m.Extension) == 0
}

// Merge fills empty fields of m from other. Fields already set on m win.
func (m Metadata) Merge(other Metadata) Metadata {
	if m.RequestID == "" {
		m.RequestID = other.RequestID
	}
	if m.UserName == "" {
		m.UserName = other.UserName
	}
	if len(m.Authorities) == 0 {
		m.Authorities = other.Authorities
	}
	if m.TokenID == "" {
		m.TokenID = other.TokenID
	}
	if m.CallerUID == "" {
		m.CallerUID = other.CallerUID
	}
	if m.TenantID == "" {
		m.TenantID = other.TenantID
	}
	if len(m.Extension) == 0 {
		m.Extension = other.Extension
	}
	if m.HopCount == 0 {
		m.HopCount = other.HopCount
	}
	return m
}

type metadataCtx struct{}

// WithMetadata attaches execution metadata to the context.
func WithMetadata(ctx context.Context, m Metadata) context.Context {
	return context.WithValue(ctx, metadataCtx{}, m)
}

// FromContext extracts execution metadata from the context.
// The second return value reports whether metadata was present.
func FromContext(ctx context.Context) (Metadata, bool) {
	if m, ok := ctx.Value(metadataCtx{}).(Metadata); ok {
		return m, true
	}
	return Metadata{}, false
}

// ClearMetadata returns a context without execution metadata. Worker pools
// call this before reusing a context so stale identity never leaks between
// work items.
func ClearMetadata(ctx context.Context) context.Context {
	return context.WithValue(ctx, metadataCtx{}, nil)
}

// HopCount returns the hop depth recorded in the context, 0 when absent.
func HopCount(ctx context.Context) int {
	m, _ := FromContext(ctx)
	return m.HopCount
}

type streamConsumerCtx struct{}

// MarkStreamConsumer flags the context as belonging to a stream consumer
// goroutine. The in-process event bus uses this to permit local dispatch
// while a persistent transport is attached.
func MarkStreamConsumer(ctx context.Context) context.Context {
	return context.WithValue(ctx, streamConsumerCtx{}, true)
}

// IsStreamConsumer reports whether the context belongs to a stream consumer.
func IsStreamConsumer(ctx context.Context) bool {
	v, _ := ctx.Value(streamConsumerCtx{}).(bool)
	return v
}

type frameCtx struct{}

// frames is the synchronous command-nesting breadcrumb trail.
type frames []string

// PushFrame records a synchronous command dispatch on the context and returns
// the new depth (1 for the outermost command). The trail accumulates command
// names for recursion diagnostics.
func PushFrame(ctx context.Context, name string) (context.Context, int) {
	prev, _ := ctx.Value(frameCtx{}).(frames)
	next := make(frames, 0, len(prev)+1)
	next = append(next, prev...)
	next = append(next, name)
	return context.WithValue(ctx, frameCtx{}, next), len(next)
}

// Depth returns the current synchronous command nesting depth.
func Depth(ctx context.Context) int {
	f, _ := ctx.Value(frameCtx{}).(frames)
	return len(f)
}

// Trail returns the synchronous command breadcrumb trail, outermost first.
func Trail(ctx context.Context) []string {
	f, _ := ctx.Value(frameCtx{}).(frames)
	out := make([]string, len(f))
	copy(out, f)
	return out
}

// Detach returns a context carrying only the execution metadata and
// stream-consumer flag of ctx, with deadlines, cancellation, and the
// synchronous frame trail stripped. The async pool uses it to hand work to
// another goroutine: hop depth survives the boundary, sync depth does not.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if m, ok := FromContext(ctx); ok {
		out = WithMetadata(out, m)
	}
	if IsStreamConsumer(ctx) {
		out = MarkStreamConsumer(out)
	}
	return out
}
