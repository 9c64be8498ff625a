package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

// TokenProvider fetches an access token for an invocation. A static
// provider simply returns a constant string.
type TokenProvider func(ctx context.Context) (string, error)

// EnrichConfig configures the enrich-context middleware.
type EnrichConfig struct {
	DefaultTenantID string
	TokenProvider   TokenProvider
}

// EnrichContext fills requestId when absent (random UUID), fills tenantId
// from the configured default, and fetches an access token via the
// configured provider (spec §4.7, "Enrich context").
func EnrichContext(cfg EnrichConfig) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			if envelope.Ctx == nil {
				envelope.Ctx = &capsdk.InvocationContext{}
			}
			if envelope.Ctx.RequestID == "" {
				envelope.Ctx.RequestID = uuid.NewString()
			}
			if envelope.Ctx.TenantID == "" {
				envelope.Ctx.TenantID = cfg.DefaultTenantID
			}
			if envelope.Ctx.AccessToken == "" && cfg.TokenProvider != nil {
				token, err := cfg.TokenProvider(ctx)
				if err != nil {
					return nil, capsdk.NewError(capsdk.CodeUnauthorized, "failed to obtain access token: "+err.Error())
				}
				envelope.Ctx.AccessToken = token
			}
			return next(ctx, envelope)
		}
	}
}
