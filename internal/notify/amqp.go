package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes reservation events as JSON to a topic exchange.
type AMQPPublisher struct {
	exchange   string
	routingKey string
	bus        *logbus.Bus

	mu   sync.Mutex
	conn *amqp.Connection
	ch   Channel
}

// DialAMQP connects to the broker and declares the configured exchange.
func DialAMQP(cfg config.AMQPConfig, bus *logbus.Bus) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p := NewAMQPPublisher(ch, cfg.Exchange, cfg.RoutingKey, bus)
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher wraps an already open channel.
func NewAMQPPublisher(ch Channel, exchange, routingKey string, bus *logbus.Bus) *AMQPPublisher {
	return &AMQPPublisher{exchange: exchange, routingKey: routingKey, bus: bus, ch: ch}
}

func (p *AMQPPublisher) NotifyReservation(ctx context.Context, evt ReservationEvent) {
	if err := p.Publish(ctx, evt); err != nil && p.bus != nil {
		p.bus.Log("warn", "event publish failed", map[string]any{
			"taskId": evt.TaskID,
			"error":  err.Error(),
		})
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt ReservationEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.At,
		Type:         "reservation.created",
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
