package connpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/capability-sdk/pkg/bus"
	"github.com/morezero/capability-sdk/pkg/capsdk"
)

type fakeConn struct {
	url       string
	connected int32
	closed    int32
}

func (f *fakeConn) Request(context.Context, string, []byte, time.Duration) ([]byte, error) {
	return nil, nil
}
func (f *fakeConn) Publish(string, []byte) error { return nil }
func (f *fakeConn) Subscribe(string, string, func(bus.Message)) (bus.Subscription, error) {
	return nil, nil
}
func (f *fakeConn) Reply(string, []byte) error { return nil }
func (f *fakeConn) IsConnected() bool          { return atomic.LoadInt32(&f.connected) == 1 }
func (f *fakeConn) Drain() error               { return nil }
func (f *fakeConn) Close()                     { atomic.StoreInt32(&f.connected, 0); atomic.StoreInt32(&f.closed, 1) }
func (f *fakeConn) ConnectedUrl() string       { return f.url }

func newFakeConnector(dialCount *int32) bus.Connector {
	return func(_ context.Context, url, _ string) (bus.Conn, error) {
		atomic.AddInt32(dialCount, 1)
		return &fakeConn{url: url, connected: 1}, nil
	}
}

func TestPool_DefaultConnectionDialedOnceAndReused(t *testing.T) {
	var dials int32
	p := New(Config{DefaultURL: "nats://default:4222", Connector: newFakeConnector(&dials)})
	defer p.CloseAll()

	c1, err := p.Default(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c2, err := p.Default(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same default connection instance")
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}
}

func TestPool_GetReusesLiveConnectionForSameURL(t *testing.T) {
	var dials int32
	p := New(Config{DefaultURL: "nats://default:4222", Connector: newFakeConnector(&dials)})
	defer p.CloseAll()

	url := "nats://sandbox-a:4222"
	if _, err := p.Get(context.Background(), url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Get(context.Background(), url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected connection reuse, got %d dials", dials)
	}
	if p.Size() != 1 {
		t.Fatalf("expected 1 pooled connection, got %d", p.Size())
	}
}

func TestPool_ExpiredCredentialsTriggerRedial(t *testing.T) {
	var dials int32
	callCount := 0
	p := New(Config{
		DefaultURL: "nats://default:4222",
		Connector:  newFakeConnector(&dials),
		Credentials: func(_ context.Context, _ string) (capsdk.Credentials, error) {
			callCount++
			if callCount == 1 {
				return capsdk.Credentials{Token: "t1", ExpiresAt: time.Now().UnixMilli() - 1}, nil
			}
			return capsdk.Credentials{Token: "t2", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}, nil
		},
	})
	defer p.CloseAll()

	url := "nats://sandbox-b:4222"
	if _, err := p.Get(context.Background(), url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Get(context.Background(), url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != 2 {
		t.Fatalf("expected redial after expired credentials, got %d dials", dials)
	}
}

func TestPool_MaxConnsEvictsLeastRecentlyUsed(t *testing.T) {
	var dials int32
	p := New(Config{DefaultURL: "nats://default:4222", Connector: newFakeConnector(&dials), MaxConns: 2})
	defer p.CloseAll()

	ctx := context.Background()
	if _, err := p.Get(ctx, "nats://a:4222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Get(ctx, "nats://b:4222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// third distinct URL should evict the least-recently-used (a)
	if _, err := p.Get(ctx, "nats://c:4222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 2 {
		t.Fatalf("expected pool capped at 2 connections, got %d", p.Size())
	}

	dialsBefore := dials
	if _, err := p.Get(ctx, "nats://a:4222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != dialsBefore+1 {
		t.Fatalf("expected evicted URL to require a redial")
	}
}

func TestPool_IdleReaperClosesStaleConnections(t *testing.T) {
	var dials int32
	p := New(Config{
		DefaultURL:   "nats://default:4222",
		Connector:    newFakeConnector(&dials),
		IdleTimeout:  10 * time.Millisecond,
		ReapInterval: 5 * time.Millisecond,
	})
	defer p.CloseAll()

	if _, err := p.Get(context.Background(), "nats://idle:4222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for p.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Size() != 0 {
		t.Fatalf("expected idle connection to be reaped, pool size is %d", p.Size())
	}
}

func TestPool_GetWithEmptyURLReturnsDefault(t *testing.T) {
	var dials int32
	p := New(Config{DefaultURL: "nats://default:4222", Connector: newFakeConnector(&dials)})
	defer p.CloseAll()

	def, err := p.Default(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := p.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != def {
		t.Fatalf("expected Get with empty URL to return the default connection")
	}
}

func TestPool_CloseAllClosesDefaultAndPooled(t *testing.T) {
	var dials int32
	p := New(Config{DefaultURL: "nats://default:4222", Connector: newFakeConnector(&dials)})

	def, _ := p.Default(context.Background())
	pooled, _ := p.Get(context.Background(), "nats://sandbox:4222")

	p.CloseAll()

	if def.(*fakeConn).closed != 1 {
		t.Fatalf("expected default connection to be closed")
	}
	if pooled.(*fakeConn).closed != 1 {
		t.Fatalf("expected pooled connection to be closed")
	}
	if p.Size() != 0 {
		t.Fatalf("expected pool size 0 after CloseAll, got %d", p.Size())
	}
}
