package resolution

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

type discoverStubCaller struct {
	calls        int32
	discoverResp DiscoverOutput
	describeResp DescribeOutput
	err          error
}

func (s *discoverStubCaller) Call(ctx context.Context, method string, params interface{}, ictx *capsdk.InvocationContext) (json.RawMessage, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	switch method {
	case "discover":
		return json.Marshal(s.discoverResp)
	case "describe":
		return json.Marshal(s.describeResp)
	}
	return nil, capsdk.NewError(capsdk.CodeInternalError, "unexpected method "+method)
}

func TestDiscoveryClient_DiscoverCachesByFilterSet(t *testing.T) {
	caller := &discoverStubCaller{discoverResp: DiscoverOutput{
		Capabilities: []DiscoveredCapability{{Cap: "billing.charge", App: "billing", Name: "charge"}},
		Pagination:   Pagination{Page: 1, Limit: 20, Total: 1, TotalPages: 1},
	}}
	d := NewDiscoveryClient(caller, DiscoveryConfig{})

	out, err := d.Discover(context.Background(), DiscoverInput{App: "billing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Capabilities) != 1 {
		t.Fatalf("expected 1 capability, got %d", len(out.Capabilities))
	}

	if _, err := d.Discover(context.Background(), DiscoverInput{App: "billing"}); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if calls := atomic.LoadInt32(&caller.calls); calls != 1 {
		t.Fatalf("expected 1 registry call, got %d", calls)
	}

	if _, err := d.Discover(context.Background(), DiscoverInput{App: "shipping"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := atomic.LoadInt32(&caller.calls); calls != 2 {
		t.Fatalf("expected a distinct filter set to miss the cache, got %d calls", calls)
	}
}

func TestDiscoveryClient_DescribeCachesByCapAndMajor(t *testing.T) {
	caller := &discoverStubCaller{describeResp: DescribeOutput{Cap: "billing.charge", Major: 1, Version: "1.2.0"}}
	d := NewDiscoveryClient(caller, DiscoveryConfig{})

	major := 1
	out, err := d.Describe(context.Background(), DescribeInput{Cap: "billing.charge", Major: &major})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Version != "1.2.0" {
		t.Fatalf("unexpected version: %s", out.Version)
	}

	if _, err := d.Describe(context.Background(), DescribeInput{Cap: "billing.charge", Major: &major}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := atomic.LoadInt32(&caller.calls); calls != 1 {
		t.Fatalf("expected describe cache hit, got %d calls", calls)
	}
}

func TestDiscoveryClient_InvalidateAllClearsCache(t *testing.T) {
	caller := &discoverStubCaller{discoverResp: DiscoverOutput{}}
	d := NewDiscoveryClient(caller, DiscoveryConfig{})

	if _, err := d.Discover(context.Background(), DiscoverInput{App: "billing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.InvalidateAll()
	if _, err := d.Discover(context.Background(), DiscoverInput{App: "billing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := atomic.LoadInt32(&caller.calls); calls != 2 {
		t.Fatalf("expected invalidation to force a re-fetch, got %d calls", calls)
	}
}

func TestDiscoveryClient_PropagatesRegistryError(t *testing.T) {
	caller := &discoverStubCaller{err: capsdk.NewError(capsdk.CodeRegistryUnavailable, "down")}
	d := NewDiscoveryClient(caller, DiscoveryConfig{})

	if _, err := d.Discover(context.Background(), DiscoverInput{App: "billing"}); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
