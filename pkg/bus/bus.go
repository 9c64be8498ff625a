// Package bus defines the narrow message-bus abstraction this SDK needs
// (spec §9, "Bus-client abstraction"): connect, request-reply, queue-group
// subscribe, publish, drain, close. Concrete implementations plug in the
// chosen bus client behind this interface; NATSConn (natsconn.go) wraps
// github.com/nats-io/nats.go the way the teacher's pkg/commsutil does.
package bus

import (
	"context"
	"time"
)

// Message is a single delivered bus message.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Subscription is a live subscription that can be torn down.
type Subscription interface {
	// Unsubscribe cancels delivery. Safe to call more than once.
	Unsubscribe() error
}

// Conn is the narrow bus-client contract this SDK depends on.
type Conn interface {
	// Request sends data on subject and waits up to timeout for a reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
	// Publish fires-and-forgets data on subject.
	Publish(subject string, data []byte) error
	// Subscribe delivers every message on subject to handler. queue is empty
	// for a plain subscription or a queue-group name for load-balanced
	// delivery (spec §4.10: "the bus delivers each message to exactly one
	// subscriber across the pool").
	Subscribe(subject, queue string, handler func(Message)) (Subscription, error)
	// Reply sends data as a reply to a received message's ReplyTo subject.
	Reply(replyTo string, data []byte) error
	// IsConnected reports current connectivity.
	IsConnected() bool
	// Drain flushes in-flight work and unsubscribes everything, without
	// fully closing the underlying connection's ability to publish replies
	// already in flight.
	Drain() error
	// Close tears the connection down. Not safe to use afterward.
	Close()
	// ConnectedUrl returns the URL actually connected to (post-redirect/
	// cluster-resolution), for logging.
	ConnectedUrl() string
}

// Connector dials a bus connection for a given URL, analogous to the
// teacher's commsutil.Connect(url, name string).
type Connector func(ctx context.Context, url, name string) (Conn, error)
