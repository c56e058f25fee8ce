package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// channelPublisher adapts an AMQP channel to the Publisher interface so the
// service can be tested against a fake.
type channelPublisher struct {
	ch *amqp.Channel
}

func (p *channelPublisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	return broker.Publish(ctx, p.ch, exchange, routingKey, payload)
}

type consumer struct {
	service *service
	metrics *metrics.BrokerMetrics
	logger  *slog.Logger
}

func NewConsumer(service *service, m *metrics.BrokerMetrics, logger *slog.Logger) *consumer {
	return &consumer{service: service, metrics: m, logger: logger}
}

// Listen declares the queues this service consumes and starts one goroutine
// per queue. It returns once both delivery streams close, which happens when
// the underlying connection drops; the caller decides whether to redial.
func (c *consumer) Listen(ch *amqp.Channel) error {
	if err := broker.EnsureQueue(ch, broker.PedidosQueue, broker.PedidosExchange, broker.PedidosRoutingKey); err != nil {
		return err
	}
	if err := broker.EnsureQueue(ch, broker.OrderUpdatesQueue, broker.DispatchExchange, broker.OrderUpdateRoutingKey); err != nil {
		return err
	}
	// Declared here so the notification publish never races the bot's
	// consumer setup; messages published before the bind would be lost.
	if err := broker.EnsureQueue(ch, broker.ClientNotificationQueue, broker.DispatchExchange, broker.NotifyClientRoutingKey); err != nil {
		return err
	}

	newOrders, err := ch.Consume(broker.PedidosQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	updates, err := ch.Consume(broker.OrderUpdatesQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for d := range newOrders {
			c.handleNewOrder(ch, d)
		}
	}()
	go func() {
		defer wg.Done()
		for d := range updates {
			c.handleUpdate(ch, d)
		}
	}()
	wg.Wait()
	return nil
}

func (c *consumer) handleNewOrder(ch *amqp.Channel, d amqp.Delivery) {
	ctx := broker.ExtractTraceContext(context.Background(), d.Headers)
	ctx, span := otel.Tracer("orders").Start(ctx, "consume.pedido.nuevo")
	defer span.End()

	var payload broker.OrderPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		// Malformed JSON can never succeed on redelivery.
		c.logger.Warn("dropping malformed order payload", slog.String("error", err.Error()))
		c.metrics.MessagesConsumed.WithLabelValues(broker.PedidosQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	order, err := c.service.CreateOrder(ctx, &payload)
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			c.logger.Warn("dropping unprocessable order payload",
				slog.String("id_cliente", payload.IDClienteExterno),
				slog.String("error", err.Error()))
			c.metrics.MessagesConsumed.WithLabelValues(broker.PedidosQueue, "dropped").Inc()
			d.Ack(false)
			return
		}

		c.logger.Error("failed to process new order", slog.String("error", err.Error()))
		c.metrics.MessagesConsumed.WithLabelValues(broker.PedidosQueue, "retried").Inc()
		if err := broker.HandleRetry(ch, &d); err != nil {
			c.logger.Error("failed to retry message", slog.String("error", err.Error()))
			c.metrics.MessagesDeadLettered.WithLabelValues(broker.PedidosQueue).Inc()
		}
		return
	}

	c.logger.Info("order created",
		slog.String("id_pedido", order.ID),
		slog.String("tipo_servicio", order.TipoServicio),
		slog.String("estado", order.EstadoPedido))
	c.metrics.MessagesConsumed.WithLabelValues(broker.PedidosQueue, "ok").Inc()
	d.Ack(false)
}

func (c *consumer) handleUpdate(ch *amqp.Channel, d amqp.Delivery) {
	ctx := broker.ExtractTraceContext(context.Background(), d.Headers)
	ctx, span := otel.Tracer("orders").Start(ctx, "consume.pedido.conductor_acepto")
	defer span.End()

	var ev broker.AcceptEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("dropping malformed accept event", slog.String("error", err.Error()))
		c.metrics.MessagesConsumed.WithLabelValues(broker.OrderUpdatesQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	err := c.service.ApplyAcceptEvent(ctx, &ev)
	switch {
	case err == nil:
		c.metrics.MessagesConsumed.WithLabelValues(broker.OrderUpdatesQueue, "ok").Inc()
		d.Ack(false)
	case errors.Is(err, ErrTransitionNotAllowed),
		errors.Is(err, ErrTransitionConflict),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrInvalidStatus):
		// Losing drivers and stale updates are expected under contention.
		// Retrying cannot change the outcome, so ack and move on.
		c.logger.Info("accept event not applied",
			slog.String("id_pedido", ev.IDPedido),
			slog.String("id_conductor", ev.IDConductorQueAcepto),
			slog.String("nuevo_estado", ev.NuevoEstadoParaPedido),
			slog.String("reason", err.Error()))
		c.metrics.MessagesConsumed.WithLabelValues(broker.OrderUpdatesQueue, "rejected").Inc()
		d.Ack(false)
	default:
		c.logger.Error("failed to apply accept event",
			slog.String("id_pedido", ev.IDPedido),
			slog.String("error", err.Error()))
		c.metrics.MessagesConsumed.WithLabelValues(broker.OrderUpdatesQueue, "retried").Inc()
		if err := broker.HandleRetry(ch, &d); err != nil {
			c.logger.Error("failed to retry message", slog.String("error", err.Error()))
			c.metrics.MessagesDeadLettered.WithLabelValues(broker.OrderUpdatesQueue).Inc()
		}
	}
}
