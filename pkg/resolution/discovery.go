package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/ttlcache"
)

// DiscoveryConfig configures a DiscoveryClient.
type DiscoveryConfig struct {
	TTL time.Duration // defaults to 30s if zero
}

// DiscoveryClient caches discover/describe lookups against the registry.
// Unlike the resolution Client it has no dedup group, fallback mappings, or
// stale-while-revalidate window: discover/describe results back catalog
// browsing UIs rather than the hot invocation path, so a plain short-TTL
// cache matching the teacher's Discover/Describe read patterns is enough.
type DiscoveryClient struct {
	cache  *ttlcache.Cache[json.RawMessage]
	caller RegistryCaller
	ttl    time.Duration
}

// NewDiscoveryClient creates a DiscoveryClient.
func NewDiscoveryClient(caller RegistryCaller, cfg DiscoveryConfig) *DiscoveryClient {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DiscoveryClient{
		cache:  ttlcache.New[json.RawMessage](ttlcache.Config{DefaultTTL: ttl, NegativeTTL: ttl}),
		caller: caller,
		ttl:    ttl,
	}
}

func discoverKey(input DiscoverInput) string {
	return fmt.Sprintf("discover|app:%s|tags:%v|q:%s|status:%s|method:%s|t:%s|e:%s|p:%d|l:%d",
		input.App, input.Tags, input.Query, input.Status, input.SupportsMethod, input.TenantID, input.Env, input.Page, input.Limit)
}

func describeKey(input DescribeInput) string {
	major := "latest"
	if input.Major != nil {
		major = fmt.Sprintf("%d", *input.Major)
	}
	return fmt.Sprintf("describe|cap:%s|major:%s|ver:%s", input.Cap, major, input.Version)
}

// Discover lists capabilities matching filters, caching results by the
// filter set for DiscoveryConfig.TTL.
func (d *DiscoveryClient) Discover(ctx context.Context, input DiscoverInput) (DiscoverOutput, error) {
	key := discoverKey(input)
	if res := d.cache.Get(key); res.Found {
		var out DiscoverOutput
		if err := json.Unmarshal(res.Value, &out); err != nil {
			return DiscoverOutput{}, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("failed to decode cached discover result: %v", err))
		}
		return out, nil
	}

	params := map[string]interface{}{
		"app":            input.App,
		"tags":           input.Tags,
		"query":          input.Query,
		"status":         input.Status,
		"supportsMethod": input.SupportsMethod,
		"tenantId":       input.TenantID,
		"env":            input.Env,
		"page":           input.Page,
		"limit":          input.Limit,
	}
	raw, err := d.caller.Call(ctx, "discover", params, nil)
	if err != nil {
		return DiscoverOutput{}, err
	}

	var out DiscoverOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return DiscoverOutput{}, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("failed to decode discover result: %v", err))
	}
	d.cache.Set(key, raw)
	return out, nil
}

// Describe fetches the method catalog for a capability, caching by cap +
// major/version.
func (d *DiscoveryClient) Describe(ctx context.Context, input DescribeInput) (DescribeOutput, error) {
	key := describeKey(input)
	if res := d.cache.Get(key); res.Found {
		var out DescribeOutput
		if err := json.Unmarshal(res.Value, &out); err != nil {
			return DescribeOutput{}, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("failed to decode cached describe result: %v", err))
		}
		return out, nil
	}

	params := map[string]interface{}{
		"cap":     input.Cap,
		"major":   input.Major,
		"version": input.Version,
	}
	raw, err := d.caller.Call(ctx, "describe", params, nil)
	if err != nil {
		return DescribeOutput{}, err
	}

	var out DescribeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return DescribeOutput{}, capsdk.NewError(capsdk.CodeInternalError, fmt.Sprintf("failed to decode describe result: %v", err))
	}
	d.cache.Set(key, raw)
	return out, nil
}

// InvalidateAll clears the discovery cache. The client facade calls it on
// every registry-changed event, whatever capability the event names.
func (d *DiscoveryClient) InvalidateAll() {
	d.cache.Clear()
}
