package ttlcache

import (
	"testing"
	"time"
)

func newTestCache(cfg Config) (*Cache[string], *fakeClock) {
	c := New[string](cfg)
	fc := &fakeClock{t: time.Unix(0, 0)}
	c.now = fc.Now
	return c, fc
}

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestCache_FreshThenExpired(t *testing.T) {
	c, clock := newTestCache(Config{DefaultTTL: time.Second})
	c.Set("k", "v1")

	res := c.Get("k")
	if !res.Found || res.IsStale || res.Value != "v1" {
		t.Fatalf("ttlcache:cache_test - expected fresh hit, got %+v", res)
	}

	clock.Advance(2 * time.Second)
	res = c.Get("k")
	if res.Found {
		t.Fatalf("ttlcache:cache_test - expected miss after expiry, got %+v", res)
	}
}

func TestCache_StaleWhileRevalidate(t *testing.T) {
	c, clock := newTestCache(Config{DefaultTTL: time.Second, StaleWindow: 5 * time.Second})
	c.Set("k", "v1")

	clock.Advance(1500 * time.Millisecond)
	res := c.Get("k")
	if !res.Found || !res.IsStale || res.Value != "v1" {
		t.Fatalf("ttlcache:cache_test - expected stale hit, got %+v", res)
	}

	// Still within the stale window.
	clock.Advance(3 * time.Second)
	res = c.Get("k")
	if !res.Found || !res.IsStale {
		t.Fatalf("ttlcache:cache_test - expected still-stale hit, got %+v", res)
	}

	// Past staleAt entirely.
	clock.Advance(10 * time.Second)
	res = c.Get("k")
	if res.Found {
		t.Fatalf("ttlcache:cache_test - expected miss past stale window, got %+v", res)
	}
}

func TestCache_NegativeEntry(t *testing.T) {
	c, clock := newTestCache(Config{DefaultTTL: time.Minute, NegativeTTL: time.Second})
	c.SetNegative("missing")

	res := c.Get("missing")
	if !res.Found || !res.IsNegative {
		t.Fatalf("ttlcache:cache_test - expected negative hit, got %+v", res)
	}

	clock.Advance(2 * time.Second)
	res = c.Get("missing")
	if res.Found {
		t.Fatalf("ttlcache:cache_test - expected negative entry to expire, got %+v", res)
	}
}

func TestCache_InfiniteTTL(t *testing.T) {
	c, clock := newTestCache(Config{DefaultTTL: time.Millisecond})
	c.Set("bootstrap", "v1", WithInfiniteTTL())

	clock.Advance(365 * 24 * time.Hour)
	res := c.Get("bootstrap")
	if !res.Found || res.Value != "v1" {
		t.Fatalf("ttlcache:cache_test - expected infinite TTL entry to survive, got %+v", res)
	}
}

func TestCache_MaxEntriesEvictsOldest(t *testing.T) {
	c, _ := newTestCache(Config{DefaultTTL: time.Minute, MaxEntries: 2})
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3") // should evict "a"

	if c.Has("a") {
		t.Error("ttlcache:cache_test - expected 'a' to be evicted")
	}
	if !c.Has("b") || !c.Has("c") {
		t.Error("ttlcache:cache_test - expected 'b' and 'c' to survive")
	}
	if c.Size() != 2 {
		t.Errorf("ttlcache:cache_test - expected size 2, got %d", c.Size())
	}
}

func TestCache_InvalidateMatching(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Set("app.cap1", "v")
	c.Set("app.cap2", "v")
	c.Set("other.cap", "v")

	c.InvalidateMatching(func(key string) bool {
		return len(key) >= 3 && key[:3] == "app"
	})

	if c.Has("app.cap1") || c.Has("app.cap2") {
		t.Error("ttlcache:cache_test - expected app.* entries invalidated")
	}
	if !c.Has("other.cap") {
		t.Error("ttlcache:cache_test - expected other.cap to survive")
	}
}

func TestCache_EtagRoundTrip(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Set("k", "v", WithEtag("e1"))

	etag, ok := c.GetEtag("k")
	if !ok || etag != "e1" {
		t.Fatalf("ttlcache:cache_test - expected etag e1, got %q ok=%v", etag, ok)
	}
}

func TestCache_HasFalseForStale(t *testing.T) {
	c, clock := newTestCache(Config{DefaultTTL: time.Second, StaleWindow: 5 * time.Second})
	c.Set("k", "v")
	clock.Advance(2 * time.Second)
	if c.Has("k") {
		t.Error("ttlcache:cache_test - Has should be false for a stale (non-fresh) entry")
	}
}
