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

const candidateLimit = 1000

// channelPublisher adapts an AMQP channel to the Publisher interface.
type channelPublisher struct {
	ch *amqp.Channel
}

func (p *channelPublisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	return broker.Publish(ctx, p.ch, exchange, routingKey, payload)
}

// dispatchPush is the frame pushed to every candidate driver.
type dispatchPush struct {
	Type string               `json:"type"`
	Data broker.DispatchEvent `json:"data"`
}

type consumer struct {
	store           DriversStore
	registry        *pushRegistry
	watchdog        *watchdog
	brokerMetrics   *metrics.BrokerMetrics
	dispatchMetrics *metrics.DispatchMetrics
	logger          *slog.Logger
}

func NewConsumer(store DriversStore, registry *pushRegistry, wd *watchdog, bm *metrics.BrokerMetrics, dm *metrics.DispatchMetrics, logger *slog.Logger) *consumer {
	return &consumer{
		store:           store,
		registry:        registry,
		watchdog:        wd,
		brokerMetrics:   bm,
		dispatchMetrics: dm,
		logger:          logger,
	}
}

func (c *consumer) Listen(ch *amqp.Channel) error {
	if err := broker.EnsureQueue(ch, broker.MototaxiDispatchQueue, broker.DispatchExchange, broker.MototaxiDispatchRoutingKey); err != nil {
		return err
	}
	// The watchdog's assignment confirmations ride the same routing key the
	// bot consumes for client notifications, on a queue of our own.
	if err := broker.EnsureQueue(ch, broker.AssignmentConfirmationQueue, broker.DispatchExchange, broker.NotifyClientRoutingKey); err != nil {
		return err
	}

	dispatches, err := ch.Consume(broker.MototaxiDispatchQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	confirmations, err := ch.Consume(broker.AssignmentConfirmationQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for d := range dispatches {
			c.handleDispatch(ch, d)
		}
	}()
	go func() {
		defer wg.Done()
		for d := range confirmations {
			c.handleConfirmation(d)
		}
	}()
	wg.Wait()
	return nil
}

// handleDispatch fans a new service out to every connected candidate. A
// driver without a live connection is skipped silently; the offer stays
// valid and acceptance is first-come-first-served regardless of who saw it.
func (c *consumer) handleDispatch(ch *amqp.Channel, d amqp.Delivery) {
	ctx := broker.ExtractTraceContext(context.Background(), d.Headers)
	ctx, span := otel.Tracer("drivers").Start(ctx, "consume.pedido.requiere_mototaxi")
	defer span.End()

	var ev broker.DispatchEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("dropping malformed dispatch event", slog.Any("error", err))
		c.brokerMetrics.MessagesConsumed.WithLabelValues(broker.MototaxiDispatchQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	candidates, err := c.store.ListCandidates(ctx, candidateLimit)
	if err != nil {
		c.logger.Error("failed to list candidate drivers", slog.Any("error", err))
		c.brokerMetrics.MessagesConsumed.WithLabelValues(broker.MototaxiDispatchQueue, "retried").Inc()
		if err := broker.HandleRetry(ch, &d); err != nil {
			c.logger.Error("failed to retry message", slog.Any("error", err))
			c.brokerMetrics.MessagesDeadLettered.WithLabelValues(broker.MototaxiDispatchQueue).Inc()
		}
		return
	}

	payload, err := json.Marshal(dispatchPush{Type: "nuevo_servicio_disponible", Data: ev})
	if err != nil {
		c.logger.Error("failed to marshal dispatch push", slog.Any("error", err))
		d.Ack(false)
		return
	}

	pushed := 0
	for _, driver := range candidates {
		if err := c.registry.Send(driver.ID, payload); err != nil {
			if !errors.Is(err, ErrDriverNotConnected) {
				c.logger.Warn("failed to push dispatch",
					slog.String("id_conductor", driver.ID),
					slog.Any("error", err))
			}
			continue
		}
		pushed++
		c.dispatchMetrics.DispatchPushes.Inc()
	}

	if pushed == 0 {
		c.dispatchMetrics.DispatchSkipped.Inc()
		c.logger.Warn("no connected candidates for dispatch",
			slog.String("id_pedido", ev.IDPedido),
			slog.Int("candidates", len(candidates)))
	} else {
		c.logger.Info("dispatch fanned out",
			slog.String("id_pedido", ev.IDPedido),
			slog.Int("pushed", pushed))
	}

	c.brokerMetrics.MessagesConsumed.WithLabelValues(broker.MototaxiDispatchQueue, "ok").Inc()
	d.Ack(false)
}

// handleConfirmation records that an assignment completed end to end, so
// the watchdog leaves that driver alone.
func (c *consumer) handleConfirmation(d amqp.Delivery) {
	var ev broker.ClientNotificationEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("dropping malformed assignment confirmation", slog.Any("error", err))
		c.brokerMetrics.MessagesConsumed.WithLabelValues(broker.AssignmentConfirmationQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	if ev.IDConductorAsignado != "" {
		c.watchdog.Confirm(ev.IDConductorAsignado)
	}
	c.brokerMetrics.MessagesConsumed.WithLabelValues(broker.AssignmentConfirmationQueue, "ok").Inc()
	d.Ack(false)
}
