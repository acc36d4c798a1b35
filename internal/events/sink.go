// Package events is an optional side channel publishing processing events
// for external inspection. Disabled deployments get the no-op sink.
package events

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Event is one processing event.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Detail    interface{} `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink publishes processing events. Publishing is best-effort: a failing
// sink never affects message processing.
type Sink interface {
	Publish(eventType, sessionID string, detail interface{})
	Close()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(string, string, interface{}) {}
func (NopSink) Close()                              {}

// AMQPSink publishes events to a fanout exchange.
type AMQPSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPSink connects to RabbitMQ and declares the fanout exchange.
func NewAMQPSink(amqpURL, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish implements Sink.
func (s *AMQPSink) Publish(eventType, sessionID string, detail interface{}) {
	body, err := json.Marshal(Event{
		Type:      eventType,
		SessionID: sessionID,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if err != nil {
		logrus.Errorf("Failed to marshal event: %v", err)
		return
	}
	err = s.channel.Publish(s.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		logrus.Errorf("Failed to publish event: %v", err)
	}
}

// Close closes the RabbitMQ connection and channel.
func (s *AMQPSink) Close() {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
