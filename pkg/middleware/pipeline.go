// Package middleware implements the pipelined-invocation composition
// primitive and the standard middleware stack (spec §4.7): enrich-context,
// resolve, deadline, policy, input/output validate, telemetry. Handler is
// Go's idiomatic expression of the base spec's
// "next: (envelope, cancelSignal) → Result" shape, folding cancelSignal into
// ctx context.Context the way every other blocking operation in this
// module already does.
package middleware

import (
	"context"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

// Handler executes (or continues) an invocation against an envelope.
type Handler func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error)

// Middleware wraps a Handler with a new Handler of the same shape.
type Middleware func(next Handler) Handler

// BuildPipeline composes middlewares right-to-left around core so that
// middlewares[0] is outermost: it runs first on entry and last on return
// (spec §4.7, §5: "Middleware composition preserves entry order going in,
// reverses order coming out").
func BuildPipeline(middlewares []Middleware, core Handler) Handler {
	handler := core
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
