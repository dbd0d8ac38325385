package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
)

// MemoryBus is a deterministic, in-process Bus implementation used by tests
// and offline operation: a hand-written double satisfying the same
// interface and delivery semantics as the networked backend.
type MemoryBus struct {
	cfg     Config
	metrics *metricsCollector

	mu        sync.Mutex
	connected bool
	queues    map[string][]memMsg
	dlq       []DLQEntry
	subs      map[string][]*memorySubscription
}

type memMsg struct {
	frame        frame.Frame
	numDelivered int
	publishedAt  time.Time
}

// DLQEntry is a dead-lettered message as retained by MemoryBus, exposing the
// same headers the NATS backend attaches.
type DLQEntry struct {
	OriginalSubject string
	Error           string
	DeadLetteredAt  int64
	NumDelivered    int
	Frame           frame.Frame
}

// NewMemoryBus constructs an in-memory bus with the given config.
func NewMemoryBus(cfg Config) *MemoryBus {
	return &MemoryBus{
		cfg:     cfg,
		metrics: newMetricsCollector(nil, "sentor_mem"),
		queues:  make(map[string][]memMsg),
		subs:    make(map[string][]*memorySubscription),
	}
}

// Connect implements Bus.
func (b *MemoryBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect implements Bus.
func (b *MemoryBus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// Emit implements Bus.
func (b *MemoryBus) Emit(ctx context.Context, topic string, f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}

	b.metrics.published.Add(1)

	msg := memMsg{frame: f, publishedAt: time.Now()}
	subs := b.subs[topic]
	if len(subs) == 0 {
		b.queues[topic] = append(b.queues[topic], msg)
		return nil
	}
	// Fan out to every durable consumer independently; each durable keeps
	// its own cursor.
	for _, s := range subs {
		s.deliver(msg)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, durableName string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	sub := &memorySubscription{
		bus:     b,
		topic:   topic,
		ch:      make(chan Delivery, b.cfg.MaxAckPending),
		closeCh: make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	// Deliver anything queued before this consumer subscribed.
	backlog := b.queues[topic]
	b.queues[topic] = nil
	for _, m := range backlog {
		sub.deliver(m)
	}
	return sub, nil
}

// Metrics implements Bus.
func (b *MemoryBus) Metrics() Snapshot { return b.metrics.snapshot() }

// DLQ returns the dead-lettered entries currently retained, for assertions
// in tests.
func (b *MemoryBus) DLQ() []DLQEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DLQEntry, len(b.dlq))
	copy(out, b.dlq)
	return out
}

type memorySubscription struct {
	bus     *MemoryBus
	topic   string
	ch      chan Delivery
	closeCh chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (s *memorySubscription) deliver(m memMsg) {
	m.numDelivered++
	s.bus.metrics.consumed.Add(1)
	if m.numDelivered > 1 {
		s.bus.metrics.redeliveries.Add(1)
	}

	d := Delivery{
		Frame:        m.frame,
		NumDelivered: m.numDelivered,
		Subject:      Subject(s.topic),
		ack: func(ctx context.Context) error {
			s.bus.metrics.acked.Add(1)
			if !m.publishedAt.IsZero() {
				s.bus.metrics.observeLatencyMs(float64(time.Since(m.publishedAt).Milliseconds()))
			}
			return nil
		},
		nak: func(ctx context.Context, delay time.Duration) error {
			if m.numDelivered >= s.bus.cfg.MaxDeliver {
				s.bus.deadLetter(s.topic, m, fmt.Errorf("max_deliver exceeded"))
				return nil
			}
			s.bus.metrics.naked.Add(1)
			// Redeliver immediately; the backoff curve is a scheduling
			// concern the in-memory double does not simulate with real
			// timers — callers that want to observe backoff use Policy.Delay
			// directly.
			go s.deliver(m)
			return nil
		},
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.ch <- d:
	case <-s.closeCh:
	}
}

func (b *MemoryBus) deadLetter(topic string, m memMsg, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	errMsg := cause.Error()
	if len(errMsg) > maxErrorHeaderLen {
		errMsg = errMsg[:maxErrorHeaderLen]
	}
	b.dlq = append(b.dlq, DLQEntry{
		OriginalSubject: Subject(topic),
		Error:           errMsg,
		DeadLetteredAt:  time.Now().UnixMilli(),
		NumDelivered:    m.numDelivered,
		Frame:           m.frame,
	})
	b.metrics.deadLettered.Add(1)
}

// Deliveries implements Subscription.
func (s *memorySubscription) Deliveries() <-chan Delivery { return s.ch }

// Close implements Subscription.
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return nil
}
