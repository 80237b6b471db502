package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/metrics"
)

// ErrBrokerUnavailable is returned without dialing while the publisher
// waits out the pause that follows a failed dial.
var ErrBrokerUnavailable = errors.New("rabbitmq unavailable")

// Publisher sends domain events to RabbitMQ through the default exchange,
// one durable queue per event kind.  The connection is opened lazily and
// re-opened after the broker drops it.  Dials are bounded by
// cfg.DialTimeout and, after a failure, not retried for cfg.RetryAfter, so
// an unreachable broker costs callers at most one dial timeout.  Publishing
// errors are logged and returned so callers can decide to ignore them.
type Publisher struct {
	cfg    config.EventsConfig
	logger *slog.Logger
	dial   func(url string) (*amqp.Connection, error)
	now    func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

// NewPublisher returns a Publisher for cfg.  No connection is made until
// the first event is published.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	timeout := cfg.DialTimeout
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "event-publisher"),
		dial: func(url string) (*amqp.Connection, error) {
			return amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
		},
		now: time.Now,
	}
}

// PublishRequestStatusChanged publishes ev to the request status queue.
func (p *Publisher) PublishRequestStatusChanged(ctx context.Context, ev RequestStatusChanged) error {
	return p.publish(ctx, p.cfg.RequestQueue, TypeRequestStatusChanged, ev)
}

// PublishGearImageReleased publishes ev to the image release queue.
func (p *Publisher) PublishGearImageReleased(ctx context.Context, ev GearImageReleased) error {
	return p.publish(ctx, p.cfg.ImageQueue, TypeGearImageReleased, ev)
}

func (p *Publisher) publish(ctx context.Context, queue, eventType string, event any) (err error) {
	defer func() { metrics.IncEventPublished(eventType, err == nil) }()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(queue)
	if err != nil {
		p.logger.WarnContext(ctx, "rabbitmq unavailable", "error", err, "type", eventType)
		return err
	}
	if err = ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.logger.WarnContext(ctx, "publish failed", "error", err, "type", eventType)
		p.reset()
		return err
	}
	p.logger.DebugContext(ctx, "event published", "type", eventType, "message_id", msg.MessageId)
	return nil
}

// channel returns an open channel with queue declared, dialing the broker
// when needed.  Callers hold p.mu.
func (p *Publisher) channel(queue string) (*amqp.Channel, error) {
	if p.ch == nil || p.ch.IsClosed() || p.conn == nil || p.conn.IsClosed() {
		p.reset()
		if p.now().Before(p.nextDial) {
			return nil, ErrBrokerUnavailable
		}
		conn, err := p.dial(p.cfg.URL)
		if err != nil {
			p.nextDial = p.now().Add(p.cfg.RetryAfter)
			return nil, fmt.Errorf("dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("channel open: %w", err)
		}
		p.conn, p.ch = conn, ch
	}
	// Declaring is idempotent; durable so messages survive broker restarts.
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.reset()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return p.ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
