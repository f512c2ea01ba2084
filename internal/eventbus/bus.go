package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"ordersaga/internal/events"
	"ordersaga/internal/tracelog"
)

// Delivery is one message as seen by a handler.
type Delivery struct {
	EventType     string
	Body          []byte
	MessageID     string
	CorrelationID string
	Attempt       int
}

// Handler processes one delivery. A non-nil error triggers redelivery per
// the bus retry policy; after the policy is exhausted the message goes to
// the consumer's dead-letter queue.
type Handler func(ctx context.Context, d Delivery) error

type Options struct {
	Service           string
	Retry             RetryPolicy
	ProcessingTimeout time.Duration
	Sink              tracelog.Sink
	Logger            zerolog.Logger
}

// Bus is the RabbitMQ transport: one durable fanout exchange per event
// type, one durable queue per (consumer group, event type). Messages on a
// queue are consumed in order by a single goroutine; distinct queues run in
// parallel.
type Bus struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	service string
	retry   RetryPolicy
	timeout time.Duration
	sink    tracelog.Sink
	log     zerolog.Logger
}

func NewBus(url string, opts Options) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetry
	}
	if opts.ProcessingTimeout == 0 {
		opts.ProcessingTimeout = 30 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = tracelog.Nop{}
	}
	return &Bus{
		conn:    conn,
		ch:      ch,
		service: opts.Service,
		retry:   opts.Retry,
		timeout: opts.ProcessingTimeout,
		sink:    opts.Sink,
		log:     opts.Logger,
	}, nil
}

func (b *Bus) Close() {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

func exchangeName(eventType string) string { return "evt." + eventType }

func queueName(group, eventType string) string { return group + "." + eventType }

func dlqName(group, eventType string) string { return group + "." + eventType + ".dlq" }

// Publish fans the event out to every bound consumer group. An empty
// correlationID gets a fresh UUID; an empty messageID too (the outbox relay
// passes the outbox row id so redelivered publications keep their identity).
func (b *Bus) Publish(ctx context.Context, eventType string, body []byte, correlationID, messageID string) error {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if err := b.ch.ExchangeDeclare(exchangeName(eventType), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", eventType, err)
	}
	err := b.ch.PublishWithContext(ctx, exchangeName(eventType), "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Headers:      amqp.Table{events.HeaderRequestID: correlationID},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	b.sink.Log(ctx, correlationID, b.service, "publish "+eventType, tracelog.SeverityInfo)
	return nil
}

// Subscribe binds a durable queue for the consumer group and starts one
// worker goroutine for it. The queue survives restarts; unacked messages
// are redelivered by the broker on reconnect.
func (b *Bus) Subscribe(ctx context.Context, group, eventType string, h Handler) error {
	ex := exchangeName(eventType)
	q := queueName(group, eventType)
	if err := b.ch.ExchangeDeclare(ex, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", eventType, err)
	}
	if _, err := b.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q, err)
	}
	if _, err := b.ch.QueueDeclare(dlqName(group, eventType), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", dlqName(group, eventType), err)
	}
	if err := b.ch.QueueBind(q, "", ex, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q, err)
	}
	msgs, err := b.ch.Consume(q, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					b.log.Warn().Str("queue", q).Msg("consumer channel closed")
					return
				}
				b.handle(ctx, group, eventType, h, m)
			}
		}
	}()
	return nil
}

func (b *Bus) handle(ctx context.Context, group, eventType string, h Handler, m amqp.Delivery) {
	d := Delivery{
		EventType:     eventType,
		Body:          m.Body,
		MessageID:     m.MessageId,
		CorrelationID: headerString(m.Headers, events.HeaderRequestID),
	}
	if d.MessageID == "" {
		d.MessageID = uuid.NewString()
	}
	if d.CorrelationID == "" {
		d.CorrelationID = uuid.NewString()
	}
	b.sink.Log(ctx, d.CorrelationID, b.service, "consume "+eventType, tracelog.SeverityInfo)

	err := dispatch(ctx, b.retry, b.timeout, time.Sleep, h, d)
	if err == nil {
		_ = m.Ack(false)
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave the message unacked for redelivery.
		_ = m.Nack(false, true)
		return
	}

	// Attempts exhausted: dead-letter and ack the original so the queue
	// keeps moving. Operator intervention from here on.
	b.log.Error().Err(err).
		Str("queue", queueName(group, eventType)).
		Str("message_id", d.MessageID).
		Msg("handler failed permanently, dead-lettering")
	b.sink.Log(ctx, d.CorrelationID, b.service, "dead-letter "+eventType, tracelog.SeverityError)

	dlqErr := b.ch.PublishWithContext(ctx, "", dlqName(group, eventType), false, false, amqp.Publishing{
		ContentType:  m.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageID,
		Headers: amqp.Table{
			events.HeaderRequestID: d.CorrelationID,
			"x-last-error":         err.Error(),
		},
		Body: m.Body,
	})
	if dlqErr != nil {
		b.log.Error().Err(dlqErr).Msg("dead-letter publish failed, requeueing original")
		_ = m.Nack(false, true)
		return
	}
	_ = m.Ack(false)
}

func headerString(t amqp.Table, key string) string {
	if t == nil {
		return ""
	}
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}
