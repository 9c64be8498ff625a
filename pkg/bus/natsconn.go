package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "bus:natsconn"

// DialOptions configures a NATS dial, mirroring the teacher's
// pkg/commsutil.Connect (same timeouts, same reconnect policy).
type DialOptions struct {
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	// Token, User, Pass, Jwt, NkeySeed configure auth for callers of Dial.
	// The connection pool's default Connector dials with
	// DefaultDialOptions and does not set them.
	Token    string
	User     string
	Pass     string
	Jwt      string
	NkeySeed string
}

// DefaultDialOptions mirrors the teacher's Connect() defaults.
func DefaultDialOptions(name string) DialOptions {
	return DialOptions{
		Name:          name,
		Timeout:       10 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
	}
}

// Dial connects to url using the given options, logging the way the
// teacher's commsutil.Connect does.
func Dial(url string, opts DialOptions) (Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to bus at %s as %s", logPrefix, url, opts.Name))

	natsOpts := []comms.Option{
		comms.Name(opts.Name),
		comms.Timeout(nonZero(opts.Timeout, 10*time.Second)),
		comms.ReconnectWait(nonZero(opts.ReconnectWait, 2*time.Second)),
		comms.MaxReconnects(opts.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - bus disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - bus reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - bus connection closed", logPrefix))
		}),
	}

	if opts.Token != "" {
		natsOpts = append(natsOpts, comms.Token(opts.Token))
	} else if opts.User != "" {
		natsOpts = append(natsOpts, comms.UserInfo(opts.User, opts.Pass))
	}
	// jwt+nkeySeed auth is reserved (spec §4.6 step 9): accepted here but not
	// yet wired to a concrete comms.Option, since the teacher's NATS version
	// needs a signing callback keyed off the nkey seed that the base spec
	// does not specify the shape of.

	nc, err := comms.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to bus at %s: %w", logPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to bus at %s", logPrefix, nc.ConnectedUrl()))
	return &natsConn{nc: nc}, nil
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type natsConn struct {
	nc *comms.Conn
}

func (c *natsConn) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	reqCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject, queue string, handler func(Message)) (Subscription, error) {
	cb := func(msg *comms.Msg) {
		handler(Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	}

	var sub *comms.Subscription
	var err error
	if queue != "" {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (c *natsConn) Reply(replyTo string, data []byte) error {
	if replyTo == "" {
		return fmt.Errorf("%s - no reply subject to respond on", logPrefix)
	}
	return c.nc.Publish(replyTo, data)
}

func (c *natsConn) IsConnected() bool {
	return c.nc.IsConnected()
}

func (c *natsConn) Drain() error {
	return c.nc.Drain()
}

func (c *natsConn) Close() {
	c.nc.Close()
}

func (c *natsConn) ConnectedUrl() string {
	return c.nc.ConnectedUrl()
}

type natsSubscription struct {
	sub *comms.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
