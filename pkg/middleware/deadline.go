package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

// Deadline derives an effective cancellation signal from the invocation
// context's deadlineUnixMs/timeoutMs (spec §4.7, "Deadline"; spec §5:
// "every pipeline stage receives a cancel signal derived from the caller's
// signal composed (logical OR) with a deadline-driven signal"). Go already
// composes cancellation via context.Context, so this stage derives a
// sub-context with context.WithDeadline/WithTimeout and classifies the
// outcome as TIMEOUT (deadline-driven) or CANCELLED (caller-initiated).
func Deadline() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			if envelope.Ctx == nil {
				return next(ctx, envelope)
			}

			if envelope.Ctx.DeadlineUnixMs > 0 {
				deadline := time.UnixMilli(envelope.Ctx.DeadlineUnixMs)
				if time.Now().After(deadline) {
					return nil, capsdk.NewError(capsdk.CodeTimeout, "deadline already passed")
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithDeadline(ctx, deadline)
				defer cancel()
			} else if envelope.Ctx.TimeoutMs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(envelope.Ctx.TimeoutMs)*time.Millisecond)
				defer cancel()
			}

			result, err := next(ctx, envelope)
			if err == nil {
				return result, nil
			}

			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return nil, capsdk.NewRetryableError(capsdk.CodeTimeout, "invocation timed out")
			case errors.Is(ctx.Err(), context.Canceled):
				return nil, capsdk.NewError(capsdk.CodeCancelled, "invocation cancelled")
			default:
				return result, err
			}
		}
	}
}
