package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// notificationConsumer is the outbound leg: it relays order notifications
// from the orders service to the customer's chat.
type notificationConsumer struct {
	sender  ChatSender
	metrics *metrics.BrokerMetrics
	logger  *slog.Logger
}

func NewNotificationConsumer(sender ChatSender, m *metrics.BrokerMetrics, logger *slog.Logger) *notificationConsumer {
	return &notificationConsumer{sender: sender, metrics: m, logger: logger}
}

func (c *notificationConsumer) Listen(ch *amqp.Channel) error {
	if err := broker.EnsureQueue(ch, broker.ClientNotificationQueue, broker.DispatchExchange, broker.NotifyClientRoutingKey); err != nil {
		return err
	}

	deliveries, err := ch.Consume(broker.ClientNotificationQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for d := range deliveries {
		c.handleNotification(d)
	}
	return nil
}

// handleNotification sends the message and acks either way: the event is a
// best-effort courtesy, not something worth dead-letter churn.
func (c *notificationConsumer) handleNotification(d amqp.Delivery) {
	var ev broker.ClientNotificationEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("dropping malformed client notification", slog.Any("error", err))
		c.metrics.MessagesConsumed.WithLabelValues(broker.ClientNotificationQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	body := strings.TrimSpace(ev.MensajeParaCliente)
	if body == "" || ev.IDClienteExterno == "" {
		c.metrics.MessagesConsumed.WithLabelValues(broker.ClientNotificationQueue, "dropped").Inc()
		d.Ack(false)
		return
	}
	if runes := []rune(body); len(runes) > maxReplyLen {
		body = string(runes[:maxReplyLen])
	}

	if err := c.sender.Send(context.Background(), ev.IDClienteExterno, body); err != nil {
		c.logger.Warn("failed to deliver client notification",
			slog.String("id_pedido", ev.IDPedido),
			slog.String("to", ev.IDClienteExterno),
			slog.Any("error", err))
	} else {
		c.logger.Info("client notified",
			slog.String("id_pedido", ev.IDPedido),
			slog.String("estado", ev.EstadoActualPedido))
	}

	c.metrics.MessagesConsumed.WithLabelValues(broker.ClientNotificationQueue, "ok").Inc()
	d.Ack(false)
}
