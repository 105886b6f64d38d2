// README: Kafka publisher for order status changes and payment collection requests.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

// StatusEvent is the wire form of an order status change.
type StatusEvent struct {
	OrderID       types.ID            `json:"order_id"`
	CustomerID    types.ID            `json:"customer_id"`
	From          order.Status        `json:"from"`
	To            order.Status        `json:"to"`
	ActorRole     order.Role          `json:"actor_role"`
	ActorID       types.ID            `json:"actor_id,omitempty"`
	Total         types.Money         `json:"total"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
	At            time.Time           `json:"at"`
}

// PaymentRequest asks the payment subsystem to settle a delivered order.
type PaymentRequest struct {
	OrderID       types.ID            `json:"order_id"`
	Method        order.PaymentMethod `json:"method"`
	Amount        types.Money         `json:"amount"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
	DeliveredAt   *time.Time          `json:"delivered_at,omitempty"`
}

// KafkaPublisher writes events keyed by order id so all events of one order
// land on one partition in order. Sends are queued on an async producer and
// never wait for the broker; delivery failures are logged.
type KafkaPublisher struct {
	producer     sarama.AsyncProducer
	statusTopic  string
	paymentTopic string
	logger       *slog.Logger
	drained      chan struct{}
}

func NewKafkaPublisher(producer sarama.AsyncProducer, statusTopic, paymentTopic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaPublisher{
		producer:     producer,
		statusTopic:  statusTopic,
		paymentTopic: paymentTopic,
		logger:       logger.With("component", "kafka_publisher"),
		drained:      make(chan struct{}),
	}
	go p.drainErrors()
	return p
}

func (p *KafkaPublisher) drainErrors() {
	defer close(p.drained)
	for perr := range p.producer.Errors() {
		var topic, key string
		if perr.Msg != nil {
			topic = perr.Msg.Topic
			if perr.Msg.Key != nil {
				b, _ := perr.Msg.Key.Encode()
				key = string(b)
			}
		}
		p.logger.Error("kafka delivery failed", "topic", topic, "order_id", key, "error", perr.Err)
	}
}

func (p *KafkaPublisher) OrderStatusChanged(ctx context.Context, c order.StatusChange) {
	ev := StatusEvent{
		OrderID:       c.Order.ID,
		CustomerID:    c.Order.CustomerID,
		From:          c.From,
		To:            c.To,
		ActorRole:     c.Actor.Role,
		ActorID:       c.Actor.ID,
		Total:         c.Order.Total,
		PaymentStatus: c.Order.PaymentStatus,
		At:            c.At,
	}
	if err := p.send(ctx, p.statusTopic, c.Order.ID, ev); err != nil {
		p.logger.ErrorContext(ctx, "publish status event", "order_id", c.Order.ID, "to", c.To, "error", err)
	}
}

func (p *KafkaPublisher) PaymentCollectionRequested(ctx context.Context, o *order.Order) {
	req := PaymentRequest{
		OrderID:       o.ID,
		Method:        o.PaymentMethod,
		Amount:        o.Total,
		PaymentStatus: o.PaymentStatus,
		DeliveredAt:   o.DeliveredAt,
	}
	if err := p.send(ctx, p.paymentTopic, o.ID, req); err != nil {
		p.logger.ErrorContext(ctx, "publish payment request", "order_id", o.ID, "error", err)
	}
}

func (p *KafkaPublisher) send(ctx context.Context, topic string, key types.ID, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s event: %w", topic, ctx.Err())
	}
}

// Close flushes queued messages and waits for pending delivery errors to be
// logged.
func (p *KafkaPublisher) Close() error {
	p.producer.AsyncClose()
	<-p.drained
	return nil
}
