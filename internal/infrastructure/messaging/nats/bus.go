// Package nats carries envelopes over core NATS. Consumers join a queue
// group so horizontal replicas split the work, and redelivery is counted in
// a message header: a failed handler republishes the envelope with the count
// incremented until it exceeds the ceiling, after which the message moves to
// the topic's dead-letter subject.
package nats

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/concurrency"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const (
	component = "event_bus"

	// retryHeader counts redeliveries. Absent on first delivery.
	retryHeader     = "X-Retry-Count"
	maxRedeliveries = 3
	dlqSuffix       = ".dlq"

	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
	drainTimeout    = 30 * time.Second
)

// msgPublisher is the slice of *nats.Conn the publish paths use.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Bus implements ports.EventBus over a core NATS connection. Deliveries are
// dispatched onto a bounded worker pool owned by the bus; the pool must be
// distinct from the indexing pool, because handlers submit work there and a
// shared queue would let a full pool deadlock against itself. When the
// dispatch pool is saturated, Subscribe callbacks block, which stalls the
// NATS dispatcher goroutine. That stall is the backpressure contract.
type Bus struct {
	conn       *nats.Conn
	pub        msgPublisher
	queueGroup string
	pool       *concurrency.WorkerPool
	logger     *zap.Logger
	metrics    *observability.Collector
}

var _ ports.EventBus = (*Bus)(nil)

// Connect dials the broker with unlimited reconnects. Subscriptions survive
// a reconnect; publishes during an outage fail and surface to the caller.
func Connect(cfg config.Events, logger *zap.Logger) (*nats.Conn, error) {
	log := logger.Named(component)
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.SourceComponent),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.NewInternal("nats connect failed", err).
			WithComponent(component).
			WithDetail("url", cfg.URL)
	}
	return conn, nil
}

// NewBus wraps an established connection. The pool is started and stopped
// by the bus itself.
func NewBus(conn *nats.Conn, queueGroup string, pool *concurrency.WorkerPool, logger *zap.Logger, metrics *observability.Collector) *Bus {
	pool.Start()
	return &Bus{
		conn:       conn,
		pub:        conn,
		queueGroup: queueGroup,
		pool:       pool,
		logger:     logger.Named(component),
		metrics:    metrics,
	}
}

// Publish marshals the envelope and sends it, retrying transient broker
// failures with a short linear backoff.
func (b *Bus) Publish(ctx context.Context, topic string, envelope domain.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.NewInternal("failed to marshal envelope", err).WithComponent(component)
	}

	msg := nats.NewMsg(topic)
	msg.Data = data

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if lastErr = b.pub.PublishMsg(msg); lastErr == nil {
			b.metrics.EventsPublished.WithLabelValues(topic).Inc()
			return nil
		}
		if attempt == publishAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishBackoff * time.Duration(attempt+1)):
		}
	}
	return errors.NewInternal("event publish failed", lastErr).
		WithComponent(component).
		WithDetail("topic", topic)
}

// Subscribe joins the queue group on a topic. The returned subscription is
// live immediately; deliveries run on the dispatch pool.
func (b *Bus) Subscribe(topic string, handler ports.EventHandler) (ports.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(topic, b.queueGroup, func(msg *nats.Msg) {
		b.dispatch(topic, handler, msg)
	})
	if err != nil {
		return nil, errors.NewInternal("subscribe failed", err).
			WithComponent(component).
			WithDetail("topic", topic)
	}
	b.logger.Info("subscribed",
		zap.String("topic", topic),
		zap.String("queue_group", b.queueGroup))
	return sub, nil
}

// Close drains the connection so no new deliveries arrive, then stops the
// dispatch pool, waiting out handlers that are still running.
func (b *Bus) Close() error {
	var first error
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Drain(); err != nil {
			first = err
			b.conn.Close()
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := b.pool.Stop(stopCtx); err != nil && first == nil {
		first = err
	}

	if first != nil {
		return errors.NewInternal("event bus shutdown incomplete", first).WithComponent(component)
	}
	return nil
}

// Ping verifies the connection with a broker round trip.
func (b *Bus) Ping(ctx context.Context) error {
	if b.conn == nil || b.conn.Status() != nats.CONNECTED {
		return errors.NewInternal("nats connection is not established", nil).WithComponent(component)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return errors.NewInternal("nats flush failed", err).WithComponent(component)
	}
	return nil
}

// dispatch decodes one delivery and hands it to the pool. Submit blocks
// while the queue is full; the enclosing NATS callback holds the dispatcher
// until space frees up.
func (b *Bus) dispatch(topic string, handler ports.EventHandler, msg *nats.Msg) {
	var envelope domain.Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		// Not an envelope. Redelivering junk would loop forever.
		b.metrics.EventsConsumed.WithLabelValues(topic, "malformed").Inc()
		b.logger.Error("dropping malformed envelope",
			zap.String("topic", topic),
			zap.Int("bytes", len(msg.Data)),
			zap.Error(err))
		return
	}

	deliveries := retryCount(msg)
	task := concurrency.Task{
		ID: topic + ":" + envelope.CorrelationID,
		Execute: func(ctx context.Context) error {
			if err := handler(ctx, envelope); err != nil {
				b.metrics.EventsConsumed.WithLabelValues(topic, "failed").Inc()
				b.redeliver(topic, msg, deliveries, err)
				return err
			}
			b.metrics.EventsConsumed.WithLabelValues(topic, "handled").Inc()
			return nil
		},
	}

	if err := b.pool.Submit(context.Background(), task); err != nil {
		// Only happens once the pool has stopped, i.e. during shutdown.
		b.metrics.EventsConsumed.WithLabelValues(topic, "dropped").Inc()
		b.logger.Warn("delivery dropped, dispatch pool stopped",
			zap.String("topic", topic),
			zap.String("correlation_id", envelope.CorrelationID))
	}
}

// redeliver republishes a failed message with the retry header incremented,
// or moves it to the dead-letter subject once the ceiling is exceeded. The
// payload bytes are forwarded untouched either way.
func (b *Bus) redeliver(topic string, msg *nats.Msg, deliveries int, cause error) {
	next := deliveries + 1
	if next > maxRedeliveries {
		dlq := nats.NewMsg(topic + dlqSuffix)
		dlq.Data = msg.Data
		dlq.Header.Set(retryHeader, strconv.Itoa(deliveries))
		if err := b.pub.PublishMsg(dlq); err != nil {
			b.logger.Error("dead-letter publish failed",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		b.metrics.EventsPublished.WithLabelValues(topic + dlqSuffix).Inc()
		b.logger.Warn("message dead-lettered",
			zap.String("topic", topic),
			zap.Int("redeliveries", deliveries),
			zap.Error(cause))
		return
	}

	retry := nats.NewMsg(topic)
	retry.Data = msg.Data
	retry.Header.Set(retryHeader, strconv.Itoa(next))
	if err := b.pub.PublishMsg(retry); err != nil {
		b.logger.Error("redelivery publish failed",
			zap.String("topic", topic),
			zap.Int("attempt", next),
			zap.Error(err))
		return
	}
	b.logger.Info("redelivering failed message",
		zap.String("topic", topic),
		zap.Int("attempt", next),
		zap.Error(cause))
}

// retryCount reads the redelivery counter, treating a missing or mangled
// header as a first delivery.
func retryCount(msg *nats.Msg) int {
	raw := msg.Header.Get(retryHeader)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
