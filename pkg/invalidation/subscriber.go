// Package invalidation subscribes to registry change events on the bus and
// dispatches them to handlers (spec §4.5, "Invalidation Subscriber"). It
// generalizes the teacher's pkg/events.CommsPublisher/BuildChangeSubject
// (which publishes to a granular subject plus a global subject) into a
// consumer that listens on both a capability-specific wildcard and the
// global subject and decodes the same RegistryChangedEvent shape.
package invalidation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/capability-sdk/pkg/bus"
	"github.com/morezero/capability-sdk/pkg/capsdk"
)

const logPrefix = "invalidation:subscriber"

// Handler is called for every decoded change event.
type Handler func(event capsdk.RegistryChangedEvent)

// Config configures a Subscriber.
type Config struct {
	// SubjectPrefix is the base subject change events are published under
	// (subscribes to subjectPrefix and the wildcard subjectPrefix.>). The
	// teacher's equivalent constant is commsutil.SubjectChangeEvent,
	// "registry.changed".
	SubjectPrefix string
	Logger        *slog.Logger
}

// Subscriber listens for registry change events on a bus.Conn and fans them
// out to registered handlers.
type Subscriber struct {
	conn   bus.Conn
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	handlers []Handler
	subs     []bus.Subscription
	stopped  bool
}

// New creates a Subscriber bound to conn. Call Start to begin receiving.
func New(conn bus.Conn, cfg Config) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = capsdk.DefaultChangeSubject
	}
	return &Subscriber{conn: conn, cfg: cfg, logger: logger}
}

// OnChange registers a handler invoked for every event received. Handlers
// registered after Start has begun receiving still see subsequent events.
func (s *Subscriber) OnChange(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start subscribes to SubjectPrefix and SubjectPrefix.> (the global subject
// and every granular per-capability subject beneath it, such as
// "registry.changed.billing.charge", which the teacher's
// CommsPublisher.PublishChanged always publishes to).
func (s *Subscriber) Start() error {
	wildcard := s.cfg.SubjectPrefix + ".>"

	sub1, err := s.conn.Subscribe(s.cfg.SubjectPrefix, "", s.dispatch)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.cfg.SubjectPrefix, err)
	}
	sub2, err := s.conn.Subscribe(wildcard, "", s.dispatch)
	if err != nil {
		_ = sub1.Unsubscribe()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, wildcard, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub1, sub2)
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("%s - listening on %s and %s", logPrefix, s.cfg.SubjectPrefix, wildcard))
	return nil
}

func (s *Subscriber) dispatch(msg bus.Message) {
	var event capsdk.RegistryChangedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Warn(fmt.Sprintf("%s - failed to decode change event on %s: %v", logPrefix, msg.Subject, err))
		return
	}

	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Stop unsubscribes from all subjects. Safe to call more than once or
// before Start.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}
