// Package hub fans incident events out to live subscribers.
//
// The hub is an explicit handle created at startup and closed at shutdown.
// Registration changes and the publish snapshot share one mutex. Each
// subscription owns an unbounded queue plus a one-slot wake-up channel, so a
// publish never blocks on a slow consumer and no lock is held across I/O.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

var (
	// ErrHubClosed is returned by Subscribe after Close.
	ErrHubClosed = errors.New("event hub closed")
	// ErrSubscriptionClosed is returned by Next once the subscription is removed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// EventHub keeps the set of active subscriptions.
type EventHub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// New creates an empty hub.
func New(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{logger: logger, subs: make(map[string]*Subscription)}
}

// Subscribe registers a new subscription that receives every later publish.
func (h *EventHub) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	metrics.SetSubscribers(count)
	h.logger.Debug("subscriber registered", slog.String("subscriber", sub.id), slog.Int("subscribers", count))
	return sub, nil
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *EventHub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	count := len(h.subs)
	h.mu.Unlock()

	sub.close()
	if ok {
		metrics.SetSubscribers(count)
		h.logger.Debug("subscriber removed", slog.String("subscriber", sub.id), slog.Int("subscribers", count))
	}
}

// Publish enqueues event on every subscription registered at call time and
// returns how many received it.
func (h *EventHub) Publish(event models.Event) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if sub.enqueue(event) {
			delivered++
		}
	}
	metrics.EventPublished(string(event.Type))
	return delivered
}

// Count returns the number of active subscriptions.
func (h *EventHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches every subscription and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.SetSubscribers(0)
	h.logger.Info("event hub closed", slog.Int("detached", len(subs)))
}

// Subscription is one subscriber's private queue.
type Subscription struct {
	id     string
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  []models.Event
	closed bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Done is closed when the subscription is removed from the hub.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next blocks until an event is queued, ctx ends, or the subscription closes.
// Events queued before the close are still returned.
func (s *Subscription) Next(ctx context.Context) (models.Event, error) {
	for {
		if event, ok := s.pop(); ok {
			return event, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			if event, ok := s.pop(); ok {
				return event, nil
			}
			return models.Event{}, ErrSubscriptionClosed
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(event models.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pop() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return models.Event{}, false
	}
	event := s.queue[0]
	s.queue[0] = models.Event{}
	s.queue = s.queue[1:]
	return event, true
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
