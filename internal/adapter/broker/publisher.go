// Package broker publishes session events to RabbitMQ for downstream consumers.
package broker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/xiaot623/prism/internal/domain"
)

// Publisher defines the interface for publishing messages to an exchange.
type Publisher interface {
	Publish(exchange string, body []byte) error
}

// AMQPPublisher publishes to fanout exchanges over a single channel.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

// NewAMQPPublisher connects to RabbitMQ and opens a channel.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

// Publish declares the durable fanout exchange on first use and publishes body to it.
func (p *AMQPPublisher) Publish(exchange string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange,
			"fanout",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
		p.declared[exchange] = true
	}
	return p.channel.Publish(
		exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// EventRecord is the message body published for each session event.
type EventRecord struct {
	Type      domain.EventType         `json:"type"`
	SessionID string                   `json:"session_id"`
	UserID    string                   `json:"user_id,omitempty"`
	Message   string                   `json:"message"`
	Ts        int64                    `json:"ts"`
	Artifacts *domain.SessionArtifacts `json:"artifacts,omitempty"`
}

// EventPublisher is a domain.Emitter that forwards events to an exchange.
// Publish failures are logged; they never affect the session flow.
type EventPublisher struct {
	pub      Publisher
	exchange string
	log      logrus.FieldLogger
}

var _ domain.Emitter = (*EventPublisher)(nil)

// NewEventPublisher creates an emitter publishing to exchange.
func NewEventPublisher(pub Publisher, exchange string, log logrus.FieldLogger) *EventPublisher {
	return &EventPublisher{pub: pub, exchange: exchange, log: log}
}

// Emit publishes evt as an EventRecord.
func (e *EventPublisher) Emit(evt domain.Event) {
	body, err := json.Marshal(EventRecord{
		Type:      evt.Type,
		SessionID: evt.SessionID,
		UserID:    evt.UserID,
		Message:   evt.Message,
		Ts:        time.Now().UnixMilli(),
		Artifacts: evt.Artifacts,
	})
	if err != nil {
		e.log.WithError(err).Error("failed to encode event")
		return
	}
	if err := e.pub.Publish(e.exchange, body); err != nil {
		e.log.WithFields(logrus.Fields{
			"session_id": evt.SessionID,
			"event":      evt.Type,
		}).WithError(err).Warn("failed to publish event")
	}
}
