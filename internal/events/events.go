// Package events announces finished extractions to other services.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

const TypeTicketParsed = "ticket.parsed"

// TicketParsed is published once a job reaches PARSED.
type TicketParsed struct {
	Type        string        `json:"type"`
	JobID       string        `json:"jobId,omitempty"`
	TicketID    string        `json:"ticketId,omitempty"`
	Source      string        `json:"source"`
	Policy      string        `json:"policy"`
	NeedsReview bool          `json:"needsReview"`
	Ticket      ticket.Record `json:"ticket"`
	OccurredAt  time.Time     `json:"occurredAt"`
}

type Publisher interface {
	PublishTicketParsed(ctx context.Context, ev TicketParsed) error
}

// AMQPPublisher publishes JSON events to a durable queue via the default
// exchange. An amqp.Channel is not safe for concurrent use, hence mu.
type AMQPPublisher struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
}

func NewAMQPPublisher(url, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("events.amqp.dial_failed", "error", err)
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("events.amqp.ok", "queue", q.Name)
	return &AMQPPublisher{conn: conn, ch: ch, queue: q.Name, logger: logger}, nil
}

func (p *AMQPPublisher) PublishTicketParsed(ctx context.Context, ev TicketParsed) error {
	if ev.Type == "" {
		ev.Type = TypeTicketParsed
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         ev.Type,
			MessageId:    ev.JobID,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Warn("events.publish.failed", "job_id", ev.JobID, "error", err)
		return err
	}
	p.logger.Debug("events.publish.ok", "job_id", ev.JobID, "type", ev.Type)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishTicketParsed(context.Context, TicketParsed) error { return nil }

// Recorder keeps events in memory; useful in tests and single-process setups.
type Recorder struct {
	mu     sync.Mutex
	events []TicketParsed
}

func (r *Recorder) PublishTicketParsed(_ context.Context, ev TicketParsed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []TicketParsed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TicketParsed(nil), r.events...)
}
