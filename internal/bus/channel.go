// Package bus carries screening events (submissions in, scored results
// and alerts out) between the API, the async worker and downstream
// consumers.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensense-health/kestrel/internal/domain"
)

// ChannelBus is the Community-tier bus: every clinic on a single process
// exchanges screening events over buffered Go channels. Delivery is
// at-most-once; a subscriber that falls behind its buffer loses events
// (logged, never blocks the publisher — scoring latency must not depend
// on consumers).
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	// subscriptions by clinic, then topic. Events never cross clinics.
	clinics map[string]map[string][]*channelSubscription
	closed  bool
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	msgCh    chan *domain.Message
	cancel   context.CancelFunc
	bus      *ChannelBus
}

// NewChannelBus creates an in-process bus. bufferSize bounds each
// subscriber's backlog of undelivered screening events.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		clinics:    make(map[string]map[string][]*channelSubscription),
	}
}

// Publish delivers a payload to every subscriber of the clinic's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.clinics[tenantID][topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber backlog full, event dropped",
				"tenant_id", tenantID,
				"topic", topic,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a clinic's topic. The handler runs on
// its own goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		msgCh:    make(chan *domain.Message, b.bufferSize),
		cancel:   cancel,
		bus:      b,
	}

	go sub.deliver(subCtx)

	if b.clinics[tenantID] == nil {
		b.clinics[tenantID] = make(map[string][]*channelSubscription)
	}
	b.clinics[tenantID][topic] = append(b.clinics[tenantID][topic], sub)

	return sub, nil
}

// Ping reports bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, topics := range b.clinics {
		for _, subs := range topics {
			for _, sub := range subs {
				sub.cancel()
			}
		}
	}
	b.clinics = make(map[string]map[string][]*channelSubscription)
	return nil
}

// remove drops a subscription from the registry so publishes stop
// enqueueing to it.
func (b *ChannelBus) remove(target *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.clinics[target.tenantID][target.topic]
	for i, sub := range subs {
		if sub.id == target.id {
			b.clinics[target.tenantID][target.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (s *channelSubscription) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgCh:
			if msg != nil {
				_ = s.handler(ctx, msg)
			}
		}
	}
}

// Unsubscribe stops delivery and deregisters the subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
