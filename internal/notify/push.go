// README: FCM push notifications to chef, delivery and customer devices on status changes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

const (
	ChefTopic     = "chefs"
	DeliveryTopic = "delivery"
	sendTimeout   = 5 * time.Second
)

// Sender is satisfied by *messaging.Client.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// CustomerTopic is the FCM topic a customer app subscribes to for one order.
func CustomerTopic(orderID types.ID) string {
	return "order_" + string(orderID)
}

// Pusher sends FCM data messages. Sends run in the background so a slow push
// never holds the order lock.
type Pusher struct {
	sender Sender
	logger *slog.Logger
}

func NewPusher(sender Sender, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{sender: sender, logger: logger.With("component", "fcm_pusher")}
}

func (p *Pusher) OrderStatusChanged(_ context.Context, c order.StatusChange) {
	for _, msg := range Messages(c) {
		go p.send(msg)
	}
}

func (p *Pusher) send(msg *messaging.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		p.logger.Warn("fcm send failed", "topic", msg.Topic, "order_id", msg.Data["order_id"], "error", err)
		return
	}
	p.logger.Debug("fcm sent", "topic", msg.Topic, "message_id", id)
}

// Messages builds the pushes for one status change: the customer always
// hears about it, chefs about new or cancelled work, agents about food
// ready for pickup.
func Messages(c order.StatusChange) []*messaging.Message {
	data := map[string]string{
		"type":     "order_status",
		"order_id": string(c.Order.ID),
		"from":     string(c.From),
		"to":       string(c.To),
		"total":    fmt.Sprintf("%d", c.Order.Total.Amount),
	}
	msgs := []*messaging.Message{newMessage(CustomerTopic(c.Order.ID), data, customerText(c.To))}
	switch c.To {
	case order.StatusPlaced, order.StatusCancelled:
		msgs = append(msgs, newMessage(ChefTopic, data, "Order "+string(c.To)))
	case order.StatusReady:
		msgs = append(msgs, newMessage(DeliveryTopic, data, "Order ready for pickup"))
	}
	return msgs
}

func newMessage(topic string, data map[string]string, body string) *messaging.Message {
	return &messaging.Message{
		Topic: topic,
		Data:  data,
		Notification: &messaging.Notification{
			Title: "Order update",
			Body:  body,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
}

func customerText(s order.Status) string {
	switch s {
	case order.StatusPlaced:
		return "We received your order"
	case order.StatusConfirmed:
		return "Your order was confirmed"
	case order.StatusPreparing:
		return "Your food is being prepared"
	case order.StatusReady:
		return "Your food is ready and waiting for a rider"
	case order.StatusPickedUp:
		return "Your order is on the way"
	case order.StatusDelivered:
		return "Your order was delivered"
	case order.StatusCancelled:
		return "Your order was cancelled"
	}
	return "Order status: " + string(s)
}
