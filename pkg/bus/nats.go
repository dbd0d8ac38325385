package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/retryutil"
)

// DLQ header names.
const (
	HeaderOriginalSubject = "CS-Original-Subject"
	HeaderError           = "CS-Error"
	HeaderDeadLetteredAt  = "CS-Dead-Lettered-At"
	HeaderNumDelivered    = "CS-Num-Delivered"

	dlqSubject    = "cs.dlq"
	dlqStreamName = "CS_DLQ"

	maxErrorHeaderLen = 256
)

// NATSBus is the JetStream-backed durable bus.
type NATSBus struct {
	url     string
	cfg     Config
	codec   frame.Codec
	reg     prometheus.Registerer
	metrics *metricsCollector

	mu   sync.Mutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSBus builds a bus client. Connect must be called before use.
func NewNATSBus(url string, cfg Config, codec frame.Codec, reg prometheus.Registerer) *NATSBus {
	return &NATSBus{
		url:     url,
		cfg:     cfg,
		codec:   codec,
		reg:     reg,
		metrics: newMetricsCollector(reg, "sentor"),
	}
}

// Connect implements Bus. Idempotent: creates the main stream (subjects
// "cs.*") and the DLQ stream on first call.
func (b *NATSBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && b.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(b.url)
	if err != nil {
		return fmt.Errorf("%w: connect: %v", ErrBackendFailure, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: jetstream: %v", ErrBackendFailure, err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.cfg.StreamName,
		Subjects: []string{"cs.*"},
		Storage:  jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: create stream: %v", ErrBackendFailure, err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     dlqStreamName,
		Subjects: []string{dlqSubject},
		Storage:  jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: create dlq stream: %v", ErrBackendFailure, err)
	}

	b.conn = conn
	b.js = js
	return nil
}

// Disconnect implements Bus. Idempotent.
func (b *NATSBus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	b.conn.Close()
	b.conn = nil
	b.js = nil
	return nil
}

func (b *NATSBus) jetStream() (jetstream.JetStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.js == nil {
		return nil, ErrNotConnected
	}
	return b.js, nil
}

// Emit implements Bus. Returns only after the server acknowledges a
// sequence number.
func (b *NATSBus) Emit(ctx context.Context, topic string, f frame.Frame) error {
	js, err := b.jetStream()
	if err != nil {
		return err
	}

	if err := f.Validate(); err != nil {
		return err
	}

	payload, err := b.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrBackendFailure, err)
	}

	msg := &nats.Msg{Subject: Subject(topic), Data: payload}
	msg.Header = nats.Header{}
	msg.Header.Set("CS-Published-At", fmt.Sprintf("%d", time.Now().UnixMilli()))

	if _, err := js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrBackendFailure, err)
	}

	b.metrics.published.Add(1)
	return nil
}

// Subscribe implements Bus. Creates (or reuses) a durable pull consumer
// bound to topic's subject.
func (b *NATSBus) Subscribe(ctx context.Context, topic, durableName string) (Subscription, error) {
	js, err := b.jetStream()
	if err != nil {
		return nil, err
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, b.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: Subject(topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: b.cfg.MaxAckPending,
		MaxDeliver:    b.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create consumer: %v", ErrBackendFailure, err)
	}

	sub := &natsSubscription{
		bus:     b,
		topic:   topic,
		cons:    cons,
		ch:      make(chan Delivery, b.cfg.MaxAckPending),
		closeCh: make(chan struct{}),
	}
	sub.start(ctx)
	return sub, nil
}

// Metrics implements Bus.
func (b *NATSBus) Metrics() Snapshot { return b.metrics.snapshot() }

type natsSubscription struct {
	bus     *NATSBus
	topic   string
	cons    jetstream.Consumer
	ch      chan Delivery
	closeCh chan struct{}
	once    sync.Once
	consCtx jetstream.ConsumeContext
}

func (s *natsSubscription) start(ctx context.Context) {
	cc, err := s.cons.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		slog.Error("bus: failed to start consumer", "topic", s.topic, "error", err)
		close(s.ch)
		return
	}
	s.consCtx = cc
}

func (s *natsSubscription) handle(ctx context.Context, msg jetstream.Msg) {
	meta, err := msg.Metadata()
	numDelivered := 1
	if err == nil {
		numDelivered = int(meta.NumDelivered)
		s.bus.metrics.recordLag(int64(meta.NumPending))
	}
	if numDelivered > 1 {
		s.bus.metrics.redeliveries.Add(1)
	}

	f, err := s.bus.codec.Decode(msg.Data())
	if err != nil {
		// Unparseable payloads are poison; route straight to the DLQ rather
		// than let a bad frame stall the stream forever.
		s.deadLetter(ctx, msg, numDelivered, err)
		return
	}

	d := Delivery{
		Frame:        f,
		NumDelivered: numDelivered,
		Subject:      msg.Subject(),
		ack: func(ctx context.Context) error {
			if err := msg.Ack(); err != nil {
				return fmt.Errorf("%w: ack: %v", ErrBackendFailure, err)
			}
			s.bus.metrics.acked.Add(1)
			if published := msg.Headers().Get("CS-Published-At"); published != "" {
				if ms, perr := strconv.ParseInt(published, 10, 64); perr == nil {
					s.bus.metrics.observeLatencyMs(float64(time.Now().UnixMilli() - ms))
				}
			}
			return nil
		},
		nak: func(ctx context.Context, delay time.Duration) error {
			if numDelivered >= s.bus.cfg.MaxDeliver {
				s.deadLetter(ctx, msg, numDelivered, fmt.Errorf("max_deliver exceeded"))
				return nil
			}
			if delay <= 0 {
				b := s.bus.cfg.Backoff
				delay = retryutil.Policy{Base: b.Base, Factor: b.Factor, Cap: b.Cap}.Delay(numDelivered)
			}
			if err := msg.NakWithDelay(delay); err != nil {
				return fmt.Errorf("%w: nak: %v", ErrBackendFailure, err)
			}
			s.bus.metrics.naked.Add(1)
			return nil
		},
	}

	s.bus.metrics.consumed.Add(1)
	select {
	case s.ch <- d:
	case <-s.closeCh:
	}
}

// deadLetter republishes msg's body to cs.dlq with the CS-* headers,
// then acks it on the main stream to remove it.
func (s *natsSubscription) deadLetter(ctx context.Context, msg jetstream.Msg, numDelivered int, cause error) {
	js, err := s.bus.jetStream()
	if err != nil {
		slog.Error("bus: cannot dead-letter, not connected", "error", err)
		return
	}

	errMsg := cause.Error()
	if len(errMsg) > maxErrorHeaderLen {
		errMsg = errMsg[:maxErrorHeaderLen]
	}

	dlq := &nats.Msg{Subject: dlqSubject, Data: msg.Data()}
	dlq.Header = nats.Header{}
	dlq.Header.Set(HeaderOriginalSubject, msg.Subject())
	dlq.Header.Set(HeaderError, errMsg)
	dlq.Header.Set(HeaderDeadLetteredAt, fmt.Sprintf("%d", time.Now().UnixMilli()))
	dlq.Header.Set(HeaderNumDelivered, fmt.Sprintf("%d", numDelivered))

	if _, err := js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("bus: failed to publish to dlq", "error", err)
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("bus: failed to ack dead-lettered message", "error", err)
		return
	}
	s.bus.metrics.deadLettered.Add(1)
}

// Deliveries implements Subscription.
func (s *natsSubscription) Deliveries() <-chan Delivery { return s.ch }

// Close implements Subscription. Stops fetching; unacked messages are
// redelivered by JetStream per the consumer's ack policy.
func (s *natsSubscription) Close() error {
	s.once.Do(func() {
		close(s.closeCh)
		if s.consCtx != nil {
			s.consCtx.Stop()
		}
	})
	return nil
}
