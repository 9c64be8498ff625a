package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/dedup"
	"github.com/morezero/capability-sdk/pkg/ttlcache"
)

const logPrefix = "resolution:client"

// RegistryCaller is the narrow surface the resolution client needs from the
// client facade's registry RPC helper (spec §4.9 step 5, "remoteCall").
type RegistryCaller interface {
	Call(ctx context.Context, method string, params interface{}, ictx *capsdk.InvocationContext) (json.RawMessage, error)
}

// Config configures a Client.
type Config struct {
	DefaultBusUrl    string
	FallbackMappings map[string]string // cap -> subject, e.g. "cap.unknown.v2"
	KeyConfig        KeyConfig
	Logger           *slog.Logger
}

// Client is the resolution client described in spec §4.4.
type Client struct {
	cache  *ttlcache.Cache[Output]
	dedup  *dedup.Group[Output]
	caller RegistryCaller
	cfg    Config
	logger *slog.Logger
}

// New creates a resolution Client sharing the given cache (so bootstrap
// seeding and invalidation both act on the same store the facade holds).
func New(cache *ttlcache.Cache[Output], caller RegistryCaller, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cache:  cache,
		dedup:  dedup.New[Output](),
		caller: caller,
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) buildKey(input Input) string {
	return BuildKey(KeyInput{
		Cap:      input.Cap,
		Version:  input.Version,
		TenantID: input.TenantID,
		Env:      input.Env,
	}, c.cfg.KeyConfig)
}

// Resolve implements the algorithm in spec §4.4.
func (c *Client) Resolve(ctx context.Context, input Input) (Output, error) {
	key := c.buildKey(input)

	res := c.cache.Get(key)
	if res.Found && !res.IsStale {
		if res.IsNegative {
			return Output{}, capsdk.NewError(capsdk.CodeNotFound, fmt.Sprintf("capability not found: %s", input.Cap))
		}
		return res.Value, nil
	}

	if res.Found && res.IsStale && !res.IsNegative {
		c.revalidateInBackground(input, key)
		return res.Value, nil
	}

	out, err := c.dedup.GetOrCreate(key, func() (Output, error) {
		return c.callResolve(ctx, input)
	})
	if err != nil {
		if subject, ok := c.cfg.FallbackMappings[input.Cap]; ok {
			fallback := c.synthesizeFallback(input.Cap, subject)
			c.cache.Set(key, fallback, ttlcache.WithTTL(60*time.Second), ttlcache.WithEtag(fallback.Etag))
			return fallback, nil
		}
		c.cache.SetNegative(key)
		return Output{}, err
	}

	c.cache.Set(key, out, ttlFor(out.TTLSeconds), ttlcache.WithEtag(out.Etag))
	return out, nil
}

// ttlFor converts a TTLSeconds hint from the registry into a SetOption; 0
// means the registry did not specify a TTL and the cache's own default
// applies (spec §4.1: "defaultTtlMs applied when ttlMs omitted").
func ttlFor(ttlSeconds int) ttlcache.SetOption {
	if ttlSeconds <= 0 {
		return func(*ttlcache.SetOptions) {}
	}
	return ttlcache.WithTTL(time.Duration(ttlSeconds) * time.Second)
}

// revalidateInBackground fires a detached resolve call and refreshes the
// cache on success. Failures are logged and discarded (spec §5, §7:
// "Background tasks ... failures are logged and discarded; they never
// surface").
func (c *Client) revalidateInBackground(input Input, key string) {
	go func() {
		out, err := c.dedup.GetOrCreate(key, func() (Output, error) {
			return c.callResolve(context.Background(), input)
		})
		if err != nil {
			c.logger.Warn(fmt.Sprintf("%s - background revalidation failed for %s: %v", logPrefix, key, err))
			return
		}
		c.cache.Set(key, out, ttlFor(out.TTLSeconds), ttlcache.WithEtag(out.Etag))
	}()
}

func (c *Client) callResolve(ctx context.Context, input Input) (Output, error) {
	params := map[string]interface{}{
		"cap":            input.Cap,
		"ver":            input.Version,
		"includeMethods": input.IncludeMethods,
		"includeSchemas": input.IncludeSchemas,
	}
	raw, err := c.caller.Call(ctx, "resolve", params, nil)
	if err != nil {
		return Output{}, err
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Output{}, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("failed to decode resolve result: %v", err))
	}
	return out, nil
}

// synthesizeFallback builds a ResolveOutput from a fallbackMappings entry
// per spec §4.4 step 4: "parse major from last subject segment (strip
// leading v), build canonical identity cap:@main/<cap>@<major>.0.0, use the
// default bus URL, 60s TTL, etag fallback".
func (c *Client) synthesizeFallback(cap, subject string) Output {
	major := 0
	if idx := strings.LastIndex(subject, "."); idx >= 0 {
		last := strings.TrimPrefix(subject[idx+1:], "v")
		if parsed, err := strconv.Atoi(last); err == nil {
			major = parsed
		}
	}
	version := fmt.Sprintf("%d.0.0", major)
	return Output{
		CanonicalIdentity: fmt.Sprintf("cap:@main/%s@%s", cap, version),
		NatsUrl:           c.cfg.DefaultBusUrl,
		Subject:           subject,
		Major:             major,
		ResolvedVersion:   version,
		Status:            "active",
		TTLSeconds:        60,
		Etag:              "fallback",
	}
}

// MultipleResult pairs a resolve outcome with the capability it was for.
type MultipleResult struct {
	Cap    string
	Output Output
	Err    error
}

// ResolveMultiple runs Resolve for every input in parallel (spec §4.4).
func (c *Client) ResolveMultiple(ctx context.Context, inputs []Input) []MultipleResult {
	results := make([]MultipleResult, len(inputs))
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for i, in := range inputs {
		go func(i int, in Input) {
			defer wg.Done()
			out, err := c.Resolve(ctx, in)
			results[i] = MultipleResult{Cap: in.Cap, Output: out, Err: err}
		}(i, in)
	}
	wg.Wait()
	return results
}

// InvalidateCapability removes every cache entry whose key prefix matches
// "<app>.<name>" (spec §4.4). As flagged by the base spec's Open Questions
// (§9): cache keys are canonical identities ("cap:@alias/app/cap@version")
// when known, so a plain "<app>.<name>" prefix match can miss entries keyed
// by canonical identity. DESIGN.md records the decision taken here.
func (c *Client) InvalidateCapability(app, name string) {
	prefix := app + "." + name
	canonicalSuffix := "/" + app + "/" + name + "@"
	c.cache.InvalidateMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix) || strings.Contains(key, canonicalSuffix)
	})
}

// Cache exposes the underlying cache. The facade seeds bootstrap entries
// through Seed, not through this accessor.
func (c *Client) Cache() *ttlcache.Cache[Output] {
	return c.cache
}

// Seed pre-populates the cache for a capability reference the way a
// bootstrap reply does (spec §4.9 step 4: "seed the resolution cache from
// the bootstrap response"), using the identical key construction Resolve
// itself uses so the seeded entry is actually reachable on lookup.
func (c *Client) Seed(cap string, out Output, opts ...ttlcache.SetOption) {
	key := c.buildKey(Input{Cap: cap})
	c.cache.Set(key, out, opts...)
}
