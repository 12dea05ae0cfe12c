// Package events implements the in-process pub/sub that fans server events
// out to interested components.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/micro-ha/transmission-sync/internal/metrics"
)

// Handler receives the payload of one published event.
type Handler func(payload json.RawMessage)

// Dispatcher is a topic registry with isolated, synchronous delivery.
// Delivery order across subscribers of one topic is unspecified.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[Topic]map[string]*Subscription
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		subs:   make(map[Topic]map[string]*Subscription),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers h for topic. Unknown topics yield an inert
// subscription instead of an error so new server topics never break callers.
func (d *Dispatcher) Subscribe(topic Topic, h Handler) *Subscription {
	return d.SubscribeKeyed(topic, uuid.NewString(), h)
}

// SubscribeKeyed registers h under a caller-chosen key. Subscribing again with
// the same topic and key replaces the earlier handler, so re-adding is
// idempotent.
func (d *Dispatcher) SubscribeKeyed(topic Topic, key string, h Handler) *Subscription {
	if !topic.Known() || h == nil {
		d.logger.Debug("ignoring subscription", "topic", topic.String())
		return &Subscription{disposed: true}
	}
	sub := &Subscription{id: key, topic: topic, handler: h, dispatcher: d}

	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[topic]
	if !ok {
		set = make(map[string]*Subscription)
		d.subs[topic] = set
	}
	if previous, exists := set[key]; exists {
		previous.markDisposed()
	}
	set[key] = sub
	return sub
}

// Publish invokes every handler currently registered for topic. A panicking
// handler is logged and does not stop delivery to the rest.
func (d *Dispatcher) Publish(topic Topic, payload json.RawMessage) {
	d.mu.RLock()
	handlers := make([]*Subscription, 0, len(d.subs[topic]))
	for _, sub := range d.subs[topic] {
		handlers = append(handlers, sub)
	}
	d.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(topic.String()).Inc()
	for _, sub := range handlers {
		d.invoke(topic, sub, payload)
	}
}

// PublishValue marshals payload and publishes it.
func (d *Dispatcher) PublishValue(topic Topic, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	d.Publish(topic, body)
	return nil
}

func (d *Dispatcher) invoke(topic Topic, sub *Subscription, payload json.RawMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.HandlerPanicsTotal.WithLabelValues(topic.String()).Inc()
			d.logger.Error("event handler panicked", "topic", topic.String(), "subscription", sub.id, "panic", fmt.Sprint(recovered))
		}
	}()
	if sub.isDisposed() {
		return
	}
	sub.handler(payload)
}

// Route runs one raw inbound message through the shared decode path and
// publishes it. Decode failures are logged and returned; nothing is published.
func (d *Dispatcher) Route(raw []byte) error {
	env, topic, err := Decode(raw)
	if err != nil {
		reason := ReasonMalformed
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			reason = decodeErr.Reason
		}
		metrics.EnvelopesDroppedTotal.WithLabelValues(reason).Inc()
		d.logger.Warn("dropping inbound envelope", "reason", reason, "err", err)
		return err
	}
	d.Publish(topic, env.Payload)
	return nil
}

// SubscriberCount returns the number of live subscriptions for topic.
func (d *Dispatcher) SubscriberCount(topic Topic) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[topic])
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.subs[sub.topic]
	if current, ok := set[sub.id]; ok && current == sub {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(d.subs, sub.topic)
		}
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id         string
	topic      Topic
	handler    Handler
	dispatcher *Dispatcher

	mu       sync.Mutex
	disposed bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Dispose removes exactly this subscription. Calls after the first are no-ops.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()
	if s.dispatcher != nil {
		s.dispatcher.remove(s)
	}
}

// Disposed reports whether the subscription no longer receives events.
func (s *Subscription) Disposed() bool {
	return s.isDisposed()
}

func (s *Subscription) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Subscription) markDisposed() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}
