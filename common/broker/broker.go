package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange / queue / routing key names shared by all services.
// Both publisher and consumer must use the exact same names, so they are
// declared once here instead of per service.
const (
	IncomingMessagesExchange   = "incoming_messages_exchange"
	IncomingMessagesQueue      = "incoming_messages"
	IncomingMessagesRoutingKey = "message.incoming"

	PedidosExchange   = "pedidos_exchange"
	PedidosQueue      = "cola_pedidos_nuevos"
	PedidosRoutingKey = "pedido.nuevo"

	DispatchExchange = "dispatch_exchange"

	MototaxiDispatchQueue      = "cola_despacho_mototaxis"
	MototaxiDispatchRoutingKey = "pedido.requiere_mototaxi"

	OrderUpdatesQueue     = "cola_actualizaciones_pedido"
	OrderUpdateRoutingKey = "pedido.conductor_acepto"

	ClientNotificationQueue     = "cola_notificaciones_cliente_bot"
	NotifyClientRoutingKey      = "pedido.asignado_notificar_cliente"
	AssignmentConfirmationQueue = "cola_asignaciones_confirmadas"
)

// MaxRetryCount bounds message redeliveries before the DLX takes over.
const MaxRetryCount = 3

// Connect dials RabbitMQ and opens a channel. The returned close function
// shuts down the channel before the connection.
func Connect(user, pass, host, port string) (*amqp.Channel, func() error, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	closeFn := func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}

	return ch, closeFn, nil
}

// ConnectWithRetry dials RabbitMQ with capped exponential backoff. Services
// call this at startup so a broker that is still booting does not kill them.
func ConnectWithRetry(ctx context.Context, user, pass, host, port string, maxElapsed time.Duration) (*amqp.Channel, func() error, error) {
	type result struct {
		channel *amqp.Channel
		close   func() error
	}

	op := func() (result, error) {
		ch, closeFn, err := Connect(user, pass, host, port)
		if err != nil {
			return result{}, err
		}
		return result{channel: ch, close: closeFn}, nil
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}
	return res.channel, res.close, nil
}

// DialFunc opens a broker channel. ConsumeLoop redials through it between
// consumer sessions.
type DialFunc func(ctx context.Context) (*amqp.Channel, func() error, error)

// Dialer returns a DialFunc that connects with the standard startup backoff.
func Dialer(user, pass, host, port string) DialFunc {
	return func(ctx context.Context) (*amqp.Channel, func() error, error) {
		return ConnectWithRetry(ctx, user, pass, host, port, time.Minute)
	}
}

// ConsumeLoop keeps a consumer alive across broker outages. Each consumer
// gets its own connection: dial, hand the channel to listen, and when listen
// returns (deliveries stop when the connection drops) close the connection
// and redial. Returns when ctx is cancelled.
func ConsumeLoop(ctx context.Context, dial DialFunc, name string, logger *slog.Logger, listen func(*amqp.Channel) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		ch, closeFn, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("consumer could not reach broker, retrying",
				slog.String("consumer", name),
				slog.Any("error", err))
			continue
		}

		err = listen(ch)
		closeFn()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("consumer channel closed, reconnecting",
			slog.String("consumer", name),
			slog.Any("error", err))
	}
}

// DLXName returns the dead-letter exchange paired with a primary exchange.
func DLXName(exchange string) string { return exchange + "_dlx" }

// DLQName returns the dead-letter queue paired with a primary queue.
func DLQName(queue string) string { return queue + "_dlx" }

// DeadRoutingKey returns the routing key dead-lettered messages carry.
func DeadRoutingKey(routingKey string) string { return routingKey + ".dead" }

// EnsureQueue declares the exchange, queue, binding, and the dead-letter
// pair for one (exchange, queue, routing key) tuple. Declarations are
// idempotent and must happen before the first publish or consume. Messages
// nacked without requeue land on the DLX for inspection instead of looping.
func EnsureQueue(ch *amqp.Channel, queue, exchange, routingKey string) error {
	dlx := DLXName(exchange)
	dlq := DLQName(queue)
	deadRK := DeadRoutingKey(routingKey)

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, deadRK, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s: %w", dlq, err)
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": deadRK,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	return nil
}

// Publish marshals payload to JSON and publishes it as a persistent message
// with the current trace context injected into the headers.
func Publish(ctx context.Context, ch *amqp.Channel, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      InjectTraceContext(ctx),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// HandleRetry tracks the retry count in message headers and republishes up
// to MaxRetryCount times with linear backoff. At the cap the message is
// nacked without requeue so the queue's DLX configuration routes it to the
// dead-letter queue.
func HandleRetry(ch *amqp.Channel, d *amqp.Delivery) error {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}

	retryCount, ok := d.Headers["x-retry-count"].(int64)
	if !ok {
		retryCount = 0
	}
	retryCount++
	d.Headers["x-retry-count"] = retryCount

	if retryCount >= MaxRetryCount {
		return d.Nack(false, false)
	}

	time.Sleep(time.Second * time.Duration(retryCount))

	return ch.PublishWithContext(
		context.Background(),
		d.Exchange,
		d.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      d.Headers,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
