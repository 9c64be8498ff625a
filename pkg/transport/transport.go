// Package transport implements the transport core of the invocation
// pipeline (spec §4.8): serializes the wire payload, issues a request-reply
// over a pooled bus connection, and decodes the structured reply. It
// generalizes the teacher's pkg/commsutil codec helpers
// (EncodePayload/DecodePayload, plain json.Marshal/Unmarshal) into the
// client side of the same wire contract the dispatcher speaks on the
// server.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/morezero/capability-sdk/pkg/bus"
	"github.com/morezero/capability-sdk/pkg/capsdk"
)

const logPrefix = "transport:core"

// ConnGetter resolves a bus.Conn for a given URL, satisfied by
// *connpool.Pool.
type ConnGetter interface {
	Get(ctx context.Context, url string) (bus.Conn, error)
}

// Config configures the transport core.
type Config struct {
	DefaultTimeout time.Duration // used when ctx.timeoutMs is unset
	IncludeTiming  bool
}

// Core is the innermost pipeline handler: it issues the actual bus
// request-reply (spec §4.8).
type Core struct {
	pool ConnGetter
	cfg  Config
}

// New creates a transport Core.
func New(pool ConnGetter, cfg Config) *Core {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	return &Core{pool: pool, cfg: cfg}
}

// Invoke implements the spec §4.8 algorithm.
func (c *Core) Invoke(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
	if envelope.Resolved == nil || envelope.Resolved.Subject == "" {
		return nil, capsdk.NewError(capsdk.CodeUnknownSubject, "envelope has no resolved subject")
	}
	if envelope.Resolved.NatsUrl == "" {
		return nil, capsdk.NewError(capsdk.CodeInternalError, "envelope has no resolved bus url")
	}

	conn, err := c.pool.Get(ctx, envelope.Resolved.NatsUrl)
	if err != nil {
		return nil, capsdk.NewRetryableError(capsdk.CodeUpstreamError, fmt.Sprintf("%s - failed to acquire connection: %v", logPrefix, err))
	}

	startedAt := time.Now()

	payload := capsdk.WirePayload{
		Capability: envelope.Capability,
		Version:    envelope.Resolved.Version,
		Method:     envelope.Method,
		Params:     envelope.Params,
		Ctx:        envelope.Ctx,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("%s - failed to marshal wire payload: %v", logPrefix, err))
	}

	timeout := c.cfg.DefaultTimeout
	if envelope.Ctx != nil && envelope.Ctx.TimeoutMs > 0 {
		timeout = time.Duration(envelope.Ctx.TimeoutMs) * time.Millisecond
	}

	reply, err := conn.Request(ctx, envelope.Resolved.Subject, data, timeout)
	endedAt := time.Now()
	if err != nil {
		code := capsdk.CodeUpstreamError
		if ctx.Err() != nil {
			code = capsdk.CodeTimeout
		}
		return nil, capsdk.NewRetryableError(code, fmt.Sprintf("%s - request failed: %v", logPrefix, err))
	}

	var decoded struct {
		Ok     bool                  `json:"ok"`
		Data   json.RawMessage       `json:"data,omitempty"`
		Result json.RawMessage       `json:"result,omitempty"`
		Error  *capsdk.InvocationErr `json:"error,omitempty"`
	}
	if err := json.Unmarshal(reply, &decoded); err != nil {
		return nil, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("%s - invalid reply JSON: %v", logPrefix, err))
	}

	meta := c.buildMeta(startedAt, endedAt)

	if !decoded.Ok {
		invErr := decoded.Error
		if invErr == nil {
			invErr = capsdk.NewError(capsdk.CodeInternalError, "Unknown server error")
		} else if invErr.Message == "" {
			invErr.Message = "Unknown server error"
		}
		return &capsdk.Result{Ok: false, Error: invErr, Meta: meta}, nil
	}

	data2 := decoded.Data
	if len(data2) == 0 {
		data2 = decoded.Result
	}
	if len(data2) == 0 {
		data2 = reply
	}
	return &capsdk.Result{Ok: true, Data: data2, Meta: meta}, nil
}

func (c *Core) buildMeta(startedAt, endedAt time.Time) capsdk.ResultMeta {
	meta := capsdk.ResultMeta{
		StartedAtUnixMs: startedAt.UnixMilli(),
		EndedAtUnixMs:   endedAt.UnixMilli(),
	}
	if c.cfg.IncludeTiming {
		meta.DurationMs = endedAt.Sub(startedAt).Milliseconds()
	}
	return meta
}
