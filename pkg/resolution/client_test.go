package resolution

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/ttlcache"
)

type stubCaller struct {
	calls  int32
	result Output
	err    error
	delay  time.Duration
	onCall func(method string, params interface{})
}

func (s *stubCaller) Call(ctx context.Context, method string, params interface{}, ictx *capsdk.InvocationContext) (json.RawMessage, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.onCall != nil {
		s.onCall(method, params)
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return json.Marshal(s.result)
}

func newTestClient(caller RegistryCaller, cacheCfg ttlcache.Config, cfg Config) *Client {
	return New(ttlcache.New[Output](cacheCfg), caller, cfg)
}

func TestResolve_CacheMissThenHit(t *testing.T) {
	caller := &stubCaller{result: Output{CanonicalIdentity: "cap:@main/billing/charge@1.0.0", TTLSeconds: 60}}
	c := newTestClient(caller, ttlcache.DefaultConfig(), Config{})

	out, err := c.Resolve(context.Background(), Input{Cap: "billing.charge", Version: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CanonicalIdentity != "cap:@main/billing/charge@1.0.0" {
		t.Fatalf("unexpected identity: %s", out.CanonicalIdentity)
	}

	if _, err := c.Resolve(context.Background(), Input{Cap: "billing.charge", Version: "1"}); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if atomic.LoadInt32(&caller.calls) != 1 {
		t.Fatalf("expected exactly one registry call, got %d", caller.calls)
	}
}

func TestResolve_ConcurrentMissesDedupToOneCall(t *testing.T) {
	caller := &stubCaller{
		result: Output{CanonicalIdentity: "cap:@main/billing/charge@1.0.0", TTLSeconds: 60},
		delay:  20 * time.Millisecond,
	}
	c := newTestClient(caller, ttlcache.DefaultConfig(), Config{})

	const n = 25
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Resolve(context.Background(), Input{Cap: "billing.charge", Version: "1"})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if atomic.LoadInt32(&caller.calls) != 1 {
		t.Fatalf("expected dedup to collapse to one registry call, got %d", caller.calls)
	}
}

func TestResolve_StaleServesImmediatelyAndRevalidatesInBackground(t *testing.T) {
	caller := &stubCaller{result: Output{CanonicalIdentity: "cap:@main/billing/charge@1.0.0", TTLSeconds: 0}}
	cacheCfg := ttlcache.Config{DefaultTTL: 10 * time.Millisecond, NegativeTTL: 10 * time.Millisecond, StaleWindow: time.Second}
	c := newTestClient(caller, cacheCfg, Config{})

	if _, err := c.Resolve(context.Background(), Input{Cap: "billing.charge"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := atomic.LoadInt32(&caller.calls); calls != 1 {
		t.Fatalf("expected 1 call after initial resolve, got %d", calls)
	}

	time.Sleep(20 * time.Millisecond) // entry now stale, still within stale window

	out, err := c.Resolve(context.Background(), Input{Cap: "billing.charge"})
	if err != nil {
		t.Fatalf("unexpected error on stale read: %v", err)
	}
	if out.CanonicalIdentity == "" {
		t.Fatalf("expected stale value to still be served")
	}

	// background revalidation should fire eventually
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&caller.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&caller.calls) < 2 {
		t.Fatalf("expected background revalidation to re-call the registry")
	}
}

func TestResolve_FallbackMappingOnRegistryFailure(t *testing.T) {
	caller := &stubCaller{err: capsdk.NewError(capsdk.CodeRegistryUnavailable, "no route")}
	cfg := Config{
		DefaultBusUrl:    "nats://bus.fallback:4222",
		FallbackMappings: map[string]string{"billing.charge": "cap.billing.charge.v2"},
	}
	c := newTestClient(caller, ttlcache.DefaultConfig(), cfg)

	out, err := c.Resolve(context.Background(), Input{Cap: "billing.charge"})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if out.Major != 2 {
		t.Fatalf("expected major 2 parsed from subject, got %d", out.Major)
	}
	if out.ResolvedVersion != "2.0.0" {
		t.Fatalf("expected resolved version 2.0.0, got %s", out.ResolvedVersion)
	}
	if out.CanonicalIdentity != "cap:@main/billing.charge@2.0.0" {
		t.Fatalf("unexpected canonical identity: %s", out.CanonicalIdentity)
	}
	if out.NatsUrl != cfg.DefaultBusUrl {
		t.Fatalf("expected default bus url, got %s", out.NatsUrl)
	}
	if out.Etag != "fallback" {
		t.Fatalf("expected fallback etag, got %s", out.Etag)
	}
}

func TestResolve_NegativeCachingWithoutFallback(t *testing.T) {
	caller := &stubCaller{err: capsdk.NewError(capsdk.CodeNotFound, "no such capability")}
	c := newTestClient(caller, ttlcache.DefaultConfig(), Config{})

	_, err := c.Resolve(context.Background(), Input{Cap: "billing.unknown"})
	if err == nil {
		t.Fatalf("expected error from registry failure")
	}

	_, err = c.Resolve(context.Background(), Input{Cap: "billing.unknown"})
	if err == nil {
		t.Fatalf("expected negative cache hit to still return an error")
	}
	invErr := capsdk.AsInvocationErr(err)
	if invErr.Code != capsdk.CodeNotFound {
		t.Fatalf("expected NOT_FOUND from negative cache, got %s", invErr.Code)
	}
	if atomic.LoadInt32(&caller.calls) != 1 {
		t.Fatalf("expected negative cache to prevent a second registry call, got %d calls", caller.calls)
	}
}

func TestResolveMultiple_RunsInParallel(t *testing.T) {
	caller := &stubCaller{result: Output{CanonicalIdentity: "cap:@main/billing/charge@1.0.0"}}
	c := newTestClient(caller, ttlcache.DefaultConfig(), Config{})

	inputs := []Input{{Cap: "billing.charge"}, {Cap: "billing.refund"}, {Cap: "billing.invoice"}}
	results := c.ResolveMultiple(context.Background(), inputs)
	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Cap != inputs[i].Cap {
			t.Fatalf("result %d cap mismatch: %s != %s", i, r.Cap, inputs[i].Cap)
		}
		if r.Err != nil {
			t.Fatalf("unexpected error for %s: %v", r.Cap, r.Err)
		}
	}
}

func TestInvalidateCapability_RemovesMatchingEntries(t *testing.T) {
	c := newTestClient(&stubCaller{}, ttlcache.DefaultConfig(), Config{})

	c.Cache().Set("billing.charge|v:1", Output{CanonicalIdentity: "cap:@main/billing/charge@1.0.0"})
	c.Cache().Set("cap:@main/billing/charge@2.0.0", Output{CanonicalIdentity: "cap:@main/billing/charge@2.0.0"})
	c.Cache().Set("shipping.label|v:1", Output{CanonicalIdentity: "cap:@main/shipping/label@1.0.0"})

	c.InvalidateCapability("billing", "charge")

	if c.Cache().Has("billing.charge|v:1") {
		t.Fatalf("expected prefix-keyed entry to be invalidated")
	}
	if c.Cache().Has("cap:@main/billing/charge@2.0.0") {
		t.Fatalf("expected canonical-identity-keyed entry to be invalidated")
	}
	if !c.Cache().Has("shipping.label|v:1") {
		t.Fatalf("did not expect unrelated entry to be invalidated")
	}
}

func TestSynthesizeFallback_ParsesVersionlessSubject(t *testing.T) {
	c := newTestClient(&stubCaller{}, ttlcache.DefaultConfig(), Config{})
	out := c.synthesizeFallback("weird.cap", "cap.weird.nover")
	if out.Major != 0 {
		t.Fatalf("expected major 0 for unparseable segment, got %d", out.Major)
	}
	if out.ResolvedVersion != "0.0.0" {
		t.Fatalf("expected 0.0.0, got %s", out.ResolvedVersion)
	}
}
