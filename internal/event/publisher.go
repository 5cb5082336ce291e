// Package event publishes session lifecycle events to RabbitMQ.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// RoutingKeySessionSubmitted is the topic for submitted sessions.
const RoutingKeySessionSubmitted = "exam.session.submitted"

// Publisher is the sink for submission events.
type Publisher interface {
	PublishSubmitted(ctx context.Context, e *model.SessionSubmitted) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
// With an empty URL it is disabled and every publish is a no-op.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	enabled  bool
	log      zerolog.Logger
}

// NewAMQPPublisher connects and declares the exchange.
func NewAMQPPublisher(url, exchange string, log zerolog.Logger) (*AMQPPublisher, error) {
	log = log.With().Str("component", "event_publisher").Logger()

	if url == "" {
		log.Warn().Msg("AMQP_URL is empty, event publishing is disabled")
		return &AMQPPublisher{exchange: exchange, log: log}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchange).Msg("Event publisher initialized")

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		enabled:  true,
		log:      log,
	}, nil
}

func (p *AMQPPublisher) PublishSubmitted(ctx context.Context, e *model.SessionSubmitted) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,                 // exchange
		RoutingKeySessionSubmitted, // routing key
		false,                      // mandatory
		false,                      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.EventID,
			Timestamp:    time.Now(),
			Body:         body,
			Headers: amqp.Table{
				"exam_id":      e.ExamID.String(),
				"session_id":   e.SessionID.String(),
				"candidate_id": e.CandidateID,
				"trigger":      string(e.Trigger),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.log.Debug().
		Str("session_id", e.SessionID.String()).
		Msg("Published session submitted event")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishSubmitted(context.Context, *model.SessionSubmitted) error { return nil }
func (NopPublisher) Close() error                                                    { return nil }
