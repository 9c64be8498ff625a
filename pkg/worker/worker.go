// Package worker implements the symmetric worker-side consumer (spec
// §4.10): for each configured capability it creates concurrentWorkers
// independent queue-group subscriptions on the capability's resolved
// subject, decodes and validates incoming envelopes, dispatches to a
// registered handler, and replies with the result. It generalizes the
// teacher's pkg/dispatcher.Dispatcher (method-name switch producing a
// RegistryResponse) into capability-name dispatch producing a
// capsdk.Result, and its pkg/events subscription-lifecycle shape
// (subscribe/unsubscribe pairs, unsubscribe before resubscribe) into the
// pool's hot-reload support.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/morezero/capability-sdk/pkg/bus"
	"github.com/morezero/capability-sdk/pkg/capsdk"
)

const logPrefix = "worker:pool"

// envelopeSchemaDoc is the structural schema every inbound message is
// validated against before dispatch (spec §4.10 step 3: "validate against
// the Invocation Envelope schema").
var envelopeSchemaDoc = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"capability", "method"},
	"properties": map[string]interface{}{
		"capability": map[string]interface{}{"type": "string", "minLength": 1},
		"method":     map[string]interface{}{"type": "string", "minLength": 1},
		"version":    map[string]interface{}{"type": "string"},
		"params":     map[string]interface{}{},
		"ctx":        map[string]interface{}{"type": []interface{}{"object", "null"}},
	},
}

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	const id = "capsdk://invocation-envelope"
	if err := c.AddResource(id, envelopeSchemaDoc); err != nil {
		return nil, fmt.Errorf("failed to register envelope schema: %w", err)
	}
	return c.Compile(id)
}

// HandlerArgs is what a capability handler receives (spec §4.10 step 3:
// "invoke handler({envelope, sandboxEnv})").
type HandlerArgs struct {
	Envelope   *capsdk.Envelope
	SandboxEnv map[string]string
}

// Handler processes one invocation and returns its result data, or an error.
// A returned *capsdk.InvocationErr reaches the caller with its own code;
// any other error surfaces as INTERNAL_ERROR, retryable.
type Handler func(ctx context.Context, args HandlerArgs) (interface{}, error)

// EchoHandler is the default handler used when no capability-specific
// handler is registered: it returns the params it received unmodified
// (spec §4.10 step 3, "default is an echo handler").
func EchoHandler(_ context.Context, args HandlerArgs) (interface{}, error) {
	var params interface{}
	if len(args.Envelope.Params) > 0 {
		if err := json.Unmarshal(args.Envelope.Params, &params); err != nil {
			return nil, capsdk.NewError(capsdk.CodeInvalidArgument, "failed to decode params: "+err.Error())
		}
	}
	return params, nil
}

// CapabilityConfig is one entry of a worker pool configuration's
// capabilities list, carrying the subject it was resolved to (spec §4.10
// step 1: "resolve each capability name to a subject via a provided
// bootstrap").
type CapabilityConfig struct {
	Name    string
	Subject string
	NatsUrl string
}

// PoolConfig mirrors the worker pool configuration shape named in spec
// §4.10: "{id, sandboxId, capabilities[], concurrentWorkers, consumerGroup}".
type PoolConfig struct {
	ID                string
	SandboxID         string
	Capabilities      []CapabilityConfig
	ConcurrentWorkers int
	ConsumerGroup     string
	SandboxEnv        map[string]string
}

// ConnGetter resolves a bus.Conn for a given URL, satisfied by
// *connpool.Pool.
type ConnGetter interface {
	Get(ctx context.Context, url string) (bus.Conn, error)
}

// Pool is a running worker pool: concurrentWorkers independent
// subscriptions per capability subject, all sharing one consumer group so
// the bus delivers each message to exactly one subscriber (spec §4.10
// step 2).
type Pool struct {
	getter ConnGetter
	logger *slog.Logger

	envelopeSchema *jsonschema.Schema

	mu       sync.RWMutex
	cfg      PoolConfig
	handlers map[string]Handler
	subs     []bus.Subscription
}

// New creates a worker Pool. Call Start to subscribe.
func New(getter ConnGetter, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	return &Pool{
		getter:         getter,
		logger:         logger,
		envelopeSchema: schema,
		handlers:       make(map[string]Handler),
	}, nil
}

// RegisterHandler binds a handler to a capability name. Capabilities with
// no registered handler fall back to EchoHandler.
func (p *Pool) RegisterHandler(capability string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[capability] = h
}

func (p *Pool) handlerFor(capability string) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.handlers[capability]; ok {
		return h
	}
	return EchoHandler
}

// Start subscribes concurrentWorkers times per capability subject, all on
// cfg.ConsumerGroup (spec §4.10 step 2).
func (p *Pool) Start(ctx context.Context, cfg PoolConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.ConcurrentWorkers <= 0 {
		cfg.ConcurrentWorkers = 1
	}

	var subs []bus.Subscription
	for _, capCfg := range cfg.Capabilities {
		conn, err := p.getter.Get(ctx, capCfg.NatsUrl)
		if err != nil {
			unsubscribeAll(subs)
			return fmt.Errorf("%s - failed to acquire connection for %s: %w", logPrefix, capCfg.Name, err)
		}

		for i := 0; i < cfg.ConcurrentWorkers; i++ {
			capCfg := capCfg
			sandboxEnv := cfg.SandboxEnv
			sub, err := conn.Subscribe(capCfg.Subject, cfg.ConsumerGroup, func(msg bus.Message) {
				p.handleMessage(ctx, conn, capCfg, sandboxEnv, msg)
			})
			if err != nil {
				unsubscribeAll(subs)
				return fmt.Errorf("%s - failed to subscribe worker %d for %s: %w", logPrefix, i, capCfg.Name, err)
			}
			subs = append(subs, sub)
		}
	}

	p.cfg = cfg
	p.subs = subs
	p.logger.Info(fmt.Sprintf("%s - pool %s started: %d capabilities x %d workers", logPrefix, cfg.ID, len(cfg.Capabilities), cfg.ConcurrentWorkers))
	return nil
}

// Reconfigure implements hot-reload: it unsubscribes every current
// subscription and then subscribes again with cfg. It does not wait for
// messages already being handled to finish before resubscribing.
func (p *Pool) Reconfigure(ctx context.Context, cfg PoolConfig) error {
	if err := p.drain(); err != nil {
		return fmt.Errorf("%s - failed to drain before reconfigure: %w", logPrefix, err)
	}
	return p.Start(ctx, cfg)
}

// Stop unsubscribes every subscription, tearing the pool down for good. It
// does not wait for messages already being handled to finish.
func (p *Pool) Stop() error {
	return p.drain()
}

func (p *Pool) drain() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func unsubscribeAll(subs []bus.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// handleMessage implements spec §4.10 step 3: decode, validate, dispatch,
// reply. Handler errors that are not an *capsdk.InvocationErr, and handler
// panics, surface as INTERNAL_ERROR, retryable.
func (p *Pool) handleMessage(ctx context.Context, conn bus.Conn, capCfg CapabilityConfig, sandboxEnv map[string]string, msg bus.Message) {
	var envelope capsdk.Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		p.reply(conn, msg, errorResult(capsdk.NewError(capsdk.CodeInvalidRequest, "malformed envelope: "+err.Error())))
		return
	}

	if err := p.validateEnvelope(msg.Data); err != nil {
		p.reply(conn, msg, errorResult(capsdk.NewError(capsdk.CodeInvalidArgument, "envelope failed schema validation: "+err.Error())))
		return
	}

	handler := p.handlerFor(capCfg.Name)
	data, err := p.invokeHandler(ctx, handler, HandlerArgs{Envelope: &envelope, SandboxEnv: sandboxEnv})
	if err != nil {
		invErr, ok := err.(*capsdk.InvocationErr)
		if !ok {
			invErr = capsdk.NewRetryableError(capsdk.CodeInternalError, err.Error())
		}
		p.reply(conn, msg, errorResult(invErr))
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		p.reply(conn, msg, errorResult(capsdk.NewError(capsdk.CodeInternalError, "failed to marshal handler result: "+err.Error())))
		return
	}
	p.reply(conn, msg, &capsdk.Result{Ok: true, Data: raw})
}

// invokeHandler isolates the handler call so a panicking handler surfaces
// as an INTERNAL_ERROR reply instead of taking the subscription down (spec
// §4.10 step 3: "uncaught handler exceptions surface as INTERNAL_ERROR with
// retryable=true").
func (p *Pool) invokeHandler(ctx context.Context, handler Handler, args HandlerArgs) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(fmt.Sprintf("%s - handler panicked: %v", logPrefix, r))
			err = capsdk.NewRetryableError(capsdk.CodeInternalError, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return handler(ctx, args)
}

func (p *Pool) validateEnvelope(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return p.envelopeSchema.Validate(doc)
}

func (p *Pool) reply(conn bus.Conn, msg bus.Message, result *capsdk.Result) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		p.logger.Error(fmt.Sprintf("%s - failed to marshal result for reply: %v", logPrefix, err))
		return
	}
	if err := conn.Reply(msg.Reply, data); err != nil {
		p.logger.Warn(fmt.Sprintf("%s - failed to send reply on %s: %v", logPrefix, msg.Reply, err))
	}
}

func errorResult(err *capsdk.InvocationErr) *capsdk.Result {
	return &capsdk.Result{Ok: false, Error: err}
}
