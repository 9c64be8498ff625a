// Package client implements the Client Facade (spec §4.9): owns the
// resolution/discovery clients, connection pool, and invalidation
// subscriber, orchestrates Init (bootstrap fetch + pipeline build), and
// exposes Invoke/InvokeSubject/Close. It generalizes the teacher's
// pkg/bootstrap.BootstrapConfig/BootstrapCapability shape (subject, natsUrl,
// major, version, status, methods, ttlSeconds) into the client-side
// bootstrap reply this package decodes over the wire instead of loading
// from a file.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/capability-sdk/pkg/bus"
	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/connpool"
	"github.com/morezero/capability-sdk/pkg/invalidation"
	"github.com/morezero/capability-sdk/pkg/middleware"
	"github.com/morezero/capability-sdk/pkg/resolution"
	"github.com/morezero/capability-sdk/pkg/transport"
	"github.com/morezero/capability-sdk/pkg/ttlcache"
)

const logPrefix = "client:facade"

// bootstrapCapability is the client-side counterpart of the teacher's
// bootstrap.BootstrapCapability, trimmed to the fields the reply on
// "system.registry.bootstrap" actually carries (spec §4.9 step 3).
type bootstrapCapability struct {
	CanonicalIdentity string                  `json:"canonicalIdentity"`
	Subject           string                  `json:"subject"`
	NatsUrl           string                  `json:"natsUrl,omitempty"`
	Major             int                     `json:"major,omitempty"`
	ResolvedVersion   string                  `json:"resolvedVersion,omitempty"`
	Status            string                  `json:"status,omitempty"`
	TTLSeconds        int                     `json:"ttlSeconds,omitempty"`
	Etag              string                  `json:"etag,omitempty"`
	Methods           []resolution.MethodInfo `json:"methods,omitempty"`
}

type bootstrapReply struct {
	Capabilities map[string]bootstrapCapability `json:"capabilities"`
}

// Config configures a Client.
type Config struct {
	DefaultBusURL       string
	DefaultTenantID     string
	RegistryCap         string // default "system.registry"
	BootstrapSubject    string // default "system.registry.bootstrap"
	ChangeSubjectPrefix string // default "registry.changed"
	DialOptions         bus.DialOptions
	Connector           bus.Connector
	Credentials         connpool.CredentialProvider
	FallbackMappings    map[string]string
	TokenProvider       middleware.TokenProvider
	ExtraMiddleware     []middleware.Middleware
	RequestTimeout      time.Duration
	Logger              *slog.Logger
}

// Client is the facade described in spec §4.9.
type Client struct {
	cfg    Config
	logger *slog.Logger

	pool       *connpool.Pool
	resolution *resolution.Client
	discovery  *resolution.DiscoveryClient
	subscriber *invalidation.Subscriber
	pipeline   middleware.Handler
	core       *transport.Core

	registryCap      string
	bootstrapSubject string
}

// New constructs a Client without connecting; call Init before Invoke.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RegistryCap == "" {
		cfg.RegistryCap = capsdk.DefaultRegistryCapability
	}
	if cfg.BootstrapSubject == "" {
		cfg.BootstrapSubject = capsdk.DefaultBootstrapSubject
	}
	if cfg.ChangeSubjectPrefix == "" {
		cfg.ChangeSubjectPrefix = capsdk.DefaultChangeSubject
	}
	return &Client{
		cfg:              cfg,
		logger:           logger,
		registryCap:      cfg.RegistryCap,
		bootstrapSubject: cfg.BootstrapSubject,
	}
}

// Init performs the spec §4.9 initialization algorithm. Idempotent: calling
// Init twice is a no-op after the first successful call.
func (c *Client) Init(ctx context.Context) error {
	if c.pool != nil {
		return nil
	}

	c.pool = connpool.New(connpool.Config{
		DefaultURL:  c.cfg.DefaultBusURL,
		Connector:   c.cfg.Connector,
		Credentials: c.cfg.Credentials,
	})

	defaultConn, err := c.pool.Default(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to default bus: %w", logPrefix, err)
	}

	resolutionCache := ttlcache.New[resolution.Output](ttlcache.Config{
		DefaultTTL:  5 * time.Minute,
		NegativeTTL: 30 * time.Second,
		StaleWindow: time.Minute,
	})

	bootstrap, err := c.fetchBootstrap(ctx, defaultConn)
	if err != nil {
		return err
	}

	c.resolution = resolution.New(resolutionCache, c, resolution.Config{
		DefaultBusUrl:    c.cfg.DefaultBusURL,
		FallbackMappings: c.cfg.FallbackMappings,
		Logger:           c.logger,
	})
	for capRef, entry := range bootstrap.Capabilities {
		natsURL := entry.NatsUrl
		if natsURL == "" {
			natsURL = c.cfg.DefaultBusURL
		}
		identity := entry.CanonicalIdentity
		if identity == "" {
			identity = capRef
		}
		c.resolution.Seed(capRef, resolution.Output{
			CanonicalIdentity: identity,
			NatsUrl:           natsURL,
			Subject:           entry.Subject,
			Major:             entry.Major,
			ResolvedVersion:   entry.ResolvedVersion,
			Status:            entry.Status,
			TTLSeconds:        entry.TTLSeconds,
			Etag:              entry.Etag,
			Methods:           entry.Methods,
		}, ttlcache.WithInfiniteTTL())
	}

	c.discovery = resolution.NewDiscoveryClient(c, resolution.DiscoveryConfig{})

	c.subscriber = invalidation.New(defaultConn, invalidation.Config{
		SubjectPrefix: c.cfg.ChangeSubjectPrefix,
		Logger:        c.logger,
	})
	c.subscriber.OnChange(func(event capsdk.RegistryChangedEvent) {
		c.resolution.InvalidateCapability(event.App, event.Capability)
		c.discovery.InvalidateAll()
	})
	if err := c.subscriber.Start(); err != nil {
		return fmt.Errorf("%s - failed to start invalidation subscriber: %w", logPrefix, err)
	}

	c.core = transport.New(c.pool, transport.Config{
		DefaultTimeout: c.requestTimeout(),
		IncludeTiming:  true,
	})

	mws := []middleware.Middleware{
		middleware.EnrichContext(middleware.EnrichConfig{
			DefaultTenantID: c.cfg.DefaultTenantID,
			TokenProvider:   c.cfg.TokenProvider,
		}),
		middleware.Resolve(c.resolution),
	}
	mws = append(mws, c.cfg.ExtraMiddleware...)
	c.pipeline = middleware.BuildPipeline(mws, c.core.Invoke)

	return nil
}

func (c *Client) requestTimeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return 10 * time.Second
}

// fetchBootstrap implements spec §4.9 step 3.
func (c *Client) fetchBootstrap(ctx context.Context, conn bus.Conn) (*bootstrapReply, error) {
	reply, err := conn.Request(ctx, c.cfg.BootstrapSubject, []byte("{}"), c.requestTimeout())
	if err != nil {
		return nil, fmt.Errorf("%s - bootstrap fetch failed: %w", logPrefix, err)
	}

	var parsed bootstrapReply
	if err := json.Unmarshal(reply, &parsed); err != nil {
		return nil, fmt.Errorf("%s - failed to decode bootstrap reply: %w", logPrefix, err)
	}
	if len(parsed.Capabilities) == 0 {
		return nil, fmt.Errorf("%s - bootstrap reply contained zero valid entries", logPrefix)
	}
	return &parsed, nil
}

// Call implements resolution.RegistryCaller (spec §4.9 step 5,
// "remoteCall"): resolve the registry subject, issue a RegistryRequest, and
// decode the RegistryResponse.
func (c *Client) Call(ctx context.Context, method string, params interface{}, ictx *capsdk.InvocationContext) (json.RawMessage, error) {
	out, err := c.resolution.Resolve(ctx, resolution.Input{Cap: c.registryCap})
	if err != nil {
		return nil, err
	}

	conn, err := c.pool.Get(ctx, out.NatsUrl)
	if err != nil {
		return nil, capsdk.NewRetryableError(capsdk.CodeRegistryUnavailable, "failed to acquire registry connection: "+err.Error())
	}

	req := capsdk.RegistryRequest{
		ID:     uuid.NewString(),
		Type:   "invoke",
		Cap:    c.registryCap,
		Method: method,
		Params: params,
		Ctx:    ictx,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, capsdk.NewError(capsdk.CodeInternalError, "failed to marshal registry request: "+err.Error())
	}

	reply, err := conn.Request(ctx, out.Subject, data, c.requestTimeout())
	if err != nil {
		return nil, capsdk.NewRetryableError(capsdk.CodeRegistryUnavailable, "registry request failed: "+err.Error())
	}

	var resp capsdk.RegistryResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, capsdk.NewError(capsdk.CodeInternalError, "failed to decode registry response: "+err.Error())
	}
	if !resp.Ok {
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, capsdk.NewError(capsdk.CodeInternalError, "registry call failed with no error detail")
	}
	return resp.Result, nil
}

// Invoke builds an envelope and passes it through the pipeline (spec §4.9).
func (c *Client) Invoke(ctx context.Context, capability, version, method string, params interface{}, invCtx *capsdk.InvocationContext) (*capsdk.Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, capsdk.NewError(capsdk.CodeInvalidArgument, "failed to marshal params: "+err.Error())
	}
	envelope := &capsdk.Envelope{
		Capability: capability,
		Version:    version,
		Method:     method,
		Params:     raw,
		Ctx:        invCtx,
	}
	return c.runPipeline(ctx, envelope)
}

// InvokeSubject is the same as Invoke but with Resolved pre-populated,
// bypassing resolution (spec §4.9).
func (c *Client) InvokeSubject(ctx context.Context, resolved capsdk.ResolvedCapability, method string, params interface{}, invCtx *capsdk.InvocationContext) (*capsdk.Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, capsdk.NewError(capsdk.CodeInvalidArgument, "failed to marshal params: "+err.Error())
	}
	envelope := &capsdk.Envelope{
		Capability: resolved.Subject,
		Version:    resolved.Version,
		Resolved:   &resolved,
		Method:     method,
		Params:     raw,
		Ctx:        invCtx,
	}
	return c.runPipeline(ctx, envelope)
}

// runPipeline converts any error surfacing out of the pipeline into an
// InvocationErr result (spec §4.9: "Any thrown exception ... is converted
// to an InvocationErr with INTERNAL_ERROR unless it was a structured
// capability error, in which case its code/retryable/details survive").
func (c *Client) runPipeline(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
	if c.pipeline == nil {
		return nil, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("%s - client not initialized, call Init first", logPrefix))
	}

	result, err := c.pipeline(ctx, envelope)
	if err == nil {
		return result, nil
	}

	invErr := capsdk.AsInvocationErr(err)
	return &capsdk.Result{Ok: false, Error: invErr}, nil
}

// Resolve exposes the resolution client for callers that want to resolve a
// capability without invoking it.
func (c *Client) Resolve(ctx context.Context, input resolution.Input) (resolution.Output, error) {
	return c.resolution.Resolve(ctx, input)
}

// Discover exposes the discovery client.
func (c *Client) Discover(ctx context.Context, input resolution.DiscoverInput) (resolution.DiscoverOutput, error) {
	return c.discovery.Discover(ctx, input)
}

// Describe exposes the discovery client.
func (c *Client) Describe(ctx context.Context, input resolution.DescribeInput) (resolution.DescribeOutput, error) {
	return c.discovery.Describe(ctx, input)
}

// Close stops the invalidation subscriber and closes all pooled
// connections including the default one (spec §4.9, "Close").
func (c *Client) Close() error {
	if c.subscriber != nil {
		if err := c.subscriber.Stop(); err != nil {
			c.logger.Warn(fmt.Sprintf("%s - error stopping invalidation subscriber: %v", logPrefix, err))
		}
	}
	if c.pool != nil {
		c.pool.CloseAll()
	}
	return nil
}
