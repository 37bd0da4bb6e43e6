// Package queue_publisher publishes booking events to RabbitMQ.  Errors are
// logged and returned so callers can ignore failures without interrupting
// the booking flow.
package queue_publisher

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/model"
	q "github.com/iliyamo/repost-scheduler/internal/queue"
)

// Publisher sends booking events to the broker at URL.  A connection is
// opened per publish; booking volume is low enough that a pooled channel
// is not needed.
type Publisher struct {
	URL string
	Log zerolog.Logger
}

// New returns a Publisher for the given broker URL.
func New(url string, log zerolog.Logger) *Publisher {
	return &Publisher{URL: url, Log: log.With().Str("component", "publisher").Logger()}
}

// BookingCommitted publishes a BookingCommittedEvent to "booking.committed".
func (p *Publisher) BookingCommitted(ctx context.Context, b model.ScheduleBooking) error {
	return p.publish(ctx, q.BookingCommittedQueue, q.CommittedEvent(b))
}

// BookingCancelled publishes a BookingCancelledEvent to "booking.cancelled".
func (p *Publisher) BookingCancelled(ctx context.Context, b model.ScheduleBooking) error {
	return p.publish(ctx, q.BookingCancelledQueue, q.CancelledEvent(b))
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	log := p.Log.With().Str("queue", queue).Logger()

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("rabbitmq: marshal event failed")
		return err
	}

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		log.Error().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Declare is idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		log.Error().Err(err).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
