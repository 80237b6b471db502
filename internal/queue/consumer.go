package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/gear-rental/internal/config"
)

// eventLogName is the file, under the configured log directory, that the
// consumer appends one line per request status change to.
const eventLogName = "rental.log"

// Consumer drains the domain event queues.  Status changes are appended
// to an audit log file; released images are removed from the upload
// directory.
type Consumer struct {
	cfg       config.EventsConfig
	uploadDir string
	logger    *slog.Logger
}

// NewConsumer returns a Consumer for cfg.  Released images are only ever
// deleted from inside uploadDir.
func NewConsumer(cfg config.EventsConfig, uploadDir string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, uploadDir: uploadDir, logger: logger.With("component", "event-consumer")}
}

// Run connects to RabbitMQ and consumes until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
// Messages that cannot be handled are rejected without requeue so that a
// poison message cannot stall the queue.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to dial broker", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "consumer stopped")
			return
		}
		c.logger.WarnContext(ctx, "consume loop ended; reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.WarnContext(ctx, "set QoS failed", "error", err)
	}

	// done releases the forwarders when this connection's loop ends, so
	// none of them outlives it blocked on deliveries.
	done := make(chan struct{})
	defer close(done)
	deliveries := make(chan amqp.Delivery)
	for _, q := range []string{c.cfg.RequestQueue, c.cfg.ImageQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		go forward(q, msgs, deliveries, done)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d := <-deliveries:
			if err := c.handleMessage(d.Type, d.RoutingKey, d.Body); err != nil {
				c.logger.ErrorContext(ctx, "handle message failed", "error", err, "type", d.Type, "message_id", d.MessageId)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// forward copies msgs to out, tagging each delivery with queue q, until
// msgs is closed or done is.
func forward(q string, msgs <-chan amqp.Delivery, out chan<- amqp.Delivery, done <-chan struct{}) {
	for d := range msgs {
		if d.RoutingKey == "" {
			d.RoutingKey = q
		}
		select {
		case out <- d:
		case <-done:
			return
		}
	}
}

// handleMessage dispatches on the message type, falling back to the queue
// it arrived on for publishers that do not set one.
func (c *Consumer) handleMessage(eventType, queue string, body []byte) error {
	if eventType == "" {
		switch queue {
		case c.cfg.RequestQueue:
			eventType = TypeRequestStatusChanged
		case c.cfg.ImageQueue:
			eventType = TypeGearImageReleased
		}
	}
	switch eventType {
	case TypeRequestStatusChanged:
		var ev RequestStatusChanged
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return c.appendStatusLine(ev)
	case TypeGearImageReleased:
		var ev GearImageReleased
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return c.removeImage(ev)
	}
	return fmt.Errorf("unknown event type %q", eventType)
}

func (c *Consumer) appendStatusLine(ev RequestStatusChanged) error {
	if err := os.MkdirAll(c.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.cfg.LogDir, eventLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Request %s -> %s | request_id=%d | user_id=%d | email=%q | trip=%q | dates=%s..%s | actor_id=%d | gear=[%s]",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.From, ev.To, ev.RequestID, ev.UserID, ev.UserEmail,
		ev.TripName, ev.StartDate, ev.EndDate, ev.ActorID, strings.Join(ev.GearNames, ","))
	if ev.Notes != "" {
		line += fmt.Sprintf(" | notes=%q", ev.Notes)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func (c *Consumer) removeImage(ev GearImageReleased) error {
	path, ok := resolveUpload(c.uploadDir, ev.ImageURL)
	if !ok {
		c.logger.Info("released image is not a local upload; nothing to remove",
			"gear_id", ev.GearItemID, "image_url", ev.ImageURL)
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	c.logger.Info("released image removed", "gear_id", ev.GearItemID, "path", path)
	return nil
}

// resolveUpload maps an image reference to a file inside dir.  References
// are paths relative to dir, optionally prefixed with "/uploads/".
// Absolute URLs and paths escaping dir are rejected.
func resolveUpload(dir, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if dir == "" || ref == "" {
		return "", false
	}
	if u, err := url.Parse(ref); err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	rel := strings.TrimPrefix(ref, "/")
	rel = strings.TrimPrefix(rel, "uploads/")
	if rel == "" {
		return "", false
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	full := filepath.Join(base, filepath.FromSlash(rel))
	inside, err := filepath.Rel(base, full)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
