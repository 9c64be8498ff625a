package middleware

import (
	"context"

	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/resolution"
)

// Resolver is the narrow surface this middleware needs from
// resolution.Client.
type Resolver interface {
	Resolve(ctx context.Context, input resolution.Input) (resolution.Output, error)
}

// Resolve fills envelope.Resolved via the resolution client when it is not
// already set (spec §4.7, "Resolve"): "if resolved.subject and
// resolved.natsUrl are both set, pass through. Else call resolution client."
func Resolve(resolver Resolver) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			if !envelope.Resolved.Empty() {
				return next(ctx, envelope)
			}

			input := resolution.Input{Cap: envelope.Capability, Version: envelope.Version}
			if envelope.Ctx != nil {
				input.TenantID = envelope.Ctx.TenantID
				input.Env = envelope.Ctx.Env
			}

			out, err := resolver.Resolve(ctx, input)
			if err != nil {
				return nil, err
			}

			envelope.Resolved = &capsdk.ResolvedCapability{
				NatsUrl: out.NatsUrl,
				Subject: out.Subject,
				Version: out.ResolvedVersion,
			}
			return next(ctx, envelope)
		}
	}
}
