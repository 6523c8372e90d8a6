// Package dispatch is the explicit handler table for the processing
// stage: destination prefixes mapped to application handler functions,
// resolved once at startup. No runtime reflection or annotation
// scanning.
package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/framehub/framehub/internal/frame"
)

// Emitter lets a handler produce new frames. Emitted frames are
// re-submitted into the pipeline, never executed synchronously on the
// worker running the handler.
type Emitter interface {
	Emit(f *frame.Frame)
}

// HandlerFunc is an application handler for inbound SEND frames.
// identity is the sender's logical user ("" for anonymous sessions),
// passed explicitly rather than pulled from ambient state.
type HandlerFunc func(ctx context.Context, identity string, f *frame.Frame, out Emitter)

type binding struct {
	prefix  string
	handler HandlerFunc
}

// Table maps destination prefixes to handlers. Register all handlers
// before Dispatch is first called; the table is not safe for concurrent
// mutation.
type Table struct {
	bindings []binding
	sealed   atomic.Bool

	invoked atomic.Int64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Register binds a destination prefix to a handler. Longest prefix wins
// when several match; ties keep registration order.
func (t *Table) Register(prefix string, h HandlerFunc) {
	if t.sealed.Load() {
		panic("dispatch: Register after first Dispatch")
	}
	t.bindings = append(t.bindings, binding{prefix: prefix, handler: h})
	sort.SliceStable(t.bindings, func(i, j int) bool {
		return len(t.bindings[i].prefix) > len(t.bindings[j].prefix)
	})
}

// Dispatch invokes the handler for f's destination, at most once per
// frame. Frames with no matching handler pass through untouched; routing
// does not depend on a handler existing.
func (t *Table) Dispatch(ctx context.Context, identity string, f *frame.Frame, out Emitter) bool {
	t.sealed.Store(true)
	dest := f.Destination()
	for _, b := range t.bindings {
		if strings.HasPrefix(dest, b.prefix) {
			t.invoked.Add(1)
			b.handler(ctx, identity, f, out)
			return true
		}
	}
	return false
}

// Invoked returns the number of handler invocations.
func (t *Table) Invoked() int64 {
	return t.invoked.Load()
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(f *frame.Frame)

// Emit calls the function.
func (fn EmitterFunc) Emit(f *frame.Frame) { fn(f) }
