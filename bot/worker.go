package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// channelPublisher adapts an AMQP channel to the Publisher interface.
type channelPublisher struct {
	ch *amqp.Channel
}

func (p *channelPublisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	return broker.Publish(ctx, p.ch, exchange, routingKey, payload)
}

// worker runs the dialogue engine over the incoming-message queue.
type worker struct {
	sessions  SessionStore
	audio     *audioHandler
	analyzer  Analyzer
	sender    ChatSender
	publisher Publisher
	pool      *workPool
	metrics   *metrics.BrokerMetrics
	logger    *slog.Logger
}

func NewWorker(sessions SessionStore, audio *audioHandler, analyzer Analyzer, sender ChatSender, publisher Publisher, pool *workPool, m *metrics.BrokerMetrics, logger *slog.Logger) *worker {
	return &worker{
		sessions:  sessions,
		audio:     audio,
		analyzer:  analyzer,
		sender:    sender,
		publisher: publisher,
		pool:      pool,
		metrics:   m,
		logger:    logger,
	}
}

func (w *worker) Listen(ch *amqp.Channel) error {
	if err := broker.EnsureQueue(ch, broker.IncomingMessagesQueue, broker.IncomingMessagesExchange, broker.IncomingMessagesRoutingKey); err != nil {
		return err
	}

	deliveries, err := ch.Consume(broker.IncomingMessagesQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for d := range deliveries {
		w.handleDelivery(ch, d)
	}
	return nil
}

func (w *worker) handleDelivery(ch *amqp.Channel, d amqp.Delivery) {
	ctx := broker.ExtractTraceContext(context.Background(), d.Headers)
	ctx, span := otel.Tracer("bot").Start(ctx, "consume.message.incoming")
	defer span.End()

	var msg broker.IncomingMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.SenderNumber == "" {
		w.logger.Warn("dropping malformed incoming message", slog.Any("error", err))
		w.metrics.MessagesConsumed.WithLabelValues(broker.IncomingMessagesQueue, "dropped").Inc()
		d.Ack(false)
		return
	}

	if err := w.processMessage(ctx, &msg); err != nil {
		w.logger.Error("failed to process message",
			slog.String("sender", msg.SenderNumber),
			slog.Any("error", err))
		w.metrics.MessagesConsumed.WithLabelValues(broker.IncomingMessagesQueue, "retried").Inc()
		if err := broker.HandleRetry(ch, &d); err != nil {
			w.logger.Error("failed to retry message", slog.Any("error", err))
			w.metrics.MessagesDeadLettered.WithLabelValues(broker.IncomingMessagesQueue).Inc()
		}
		return
	}

	w.metrics.MessagesConsumed.WithLabelValues(broker.IncomingMessagesQueue, "ok").Inc()
	d.Ack(false)
}

// processMessage runs one dialogue turn. A nil return means the turn is
// finished from the queue's point of view (including turns that ended in a
// user-facing error reply); a non-nil return asks for redelivery.
func (w *worker) processMessage(ctx context.Context, msg *broker.IncomingMessage) error {
	sender := msg.SenderNumber

	if !w.sessions.TryAcquireProcessing(ctx, sender) {
		// Another turn for this sender is mid-flight; the lock is the
		// serialization point.
		w.reply(ctx, sender, processingMessage)
		return nil
	}
	defer w.sessions.ReleaseProcessing(ctx, sender)

	session, err := w.sessions.Get(ctx, sender)
	if err != nil {
		return err
	}
	dlg := newDialogue(session, msg.ProfileName)

	welcomed := false
	if session.ShouldSendWelcome(msg.ReceivedAt) {
		w.reply(ctx, sender, dlg.welcomeMessage())
		welcomed = true
	}

	text, done := w.resolveText(ctx, msg, dlg, welcomed)
	if done {
		return nil
	}

	var extracted *ExtractedData
	err = w.pool.Do(ctx, func() error {
		var extractErr error
		extracted, extractErr = w.analyzer.Extract(ctx, text)
		return extractErr
	})
	if err != nil {
		w.logger.Warn("extraction failed",
			slog.String("sender", sender),
			slog.Any("error", err))
		w.reply(ctx, sender, dlg.errorMessage("ai_error"))
		return nil
	}

	dlg.mergeExtracted(extracted)

	complete, prompt := dlg.nextPrompt()
	if !complete {
		w.reply(ctx, sender, prompt)
		return w.sessions.Save(ctx, sender, session)
	}

	payload := dlg.buildOrderPayload(sender)
	if err := w.publisher.Publish(ctx, broker.PedidosExchange, broker.PedidosRoutingKey, payload); err != nil {
		// Keep the filled slots so the user can just try again.
		w.logger.Error("failed to publish order",
			slog.String("sender", sender),
			slog.Any("error", err))
		w.reply(ctx, sender, dlg.errorMessage("order_failed"))
		return w.sessions.Save(ctx, sender, session)
	}

	w.reply(ctx, sender, dlg.confirmationMessage(payload.TipoServicio))
	dlg.clearOrder()
	return w.sessions.Save(ctx, sender, session)
}

// resolveText turns the incoming message into analyzable text. done=true
// means the turn already ended with a reply (or silence) and there is
// nothing to analyze.
func (w *worker) resolveText(ctx context.Context, msg *broker.IncomingMessage, dlg *dialogue, welcomed bool) (string, bool) {
	sender := msg.SenderNumber

	if msg.NumMedia > 0 && msg.MediaURL != "" {
		if !strings.HasPrefix(msg.MediaContentType, "audio/") {
			w.reply(ctx, sender, dlg.errorMessage("unsupported_media"))
			return "", true
		}

		var text string
		err := w.pool.Do(ctx, func() error {
			var trErr error
			text, trErr = w.audio.Transcribe(ctx, msg.MediaURL, msg.MediaContentType)
			return trErr
		})
		switch {
		case errors.Is(err, ErrUnsupportedMedia):
			w.reply(ctx, sender, dlg.errorMessage("unsupported_media"))
			return "", true
		case err != nil:
			w.logger.Warn("audio processing failed",
				slog.String("sender", sender),
				slog.Any("error", err))
			w.reply(ctx, sender, dlg.errorMessage("audio_error"))
			return "", true
		case strings.TrimSpace(text) == "":
			w.reply(ctx, sender, dlg.errorMessage("audio_not_understood"))
			return "", true
		}
		return text, false
	}

	body := strings.TrimSpace(msg.MessageBody)
	if body == "" {
		if !welcomed {
			w.reply(ctx, sender, dlg.errorMessage("message_not_understood"))
		}
		return "", true
	}
	if runes := []rune(body); len(runes) > maxBodyLen {
		body = string(runes[:maxBodyLen])
	}
	return body, false
}

// reply sends a chat message back to the user; delivery is best-effort.
func (w *worker) reply(ctx context.Context, to, body string) {
	if err := w.sender.Send(ctx, to, body); err != nil {
		w.logger.Warn("failed to send chat reply",
			slog.String("to", to),
			slog.Any("error", err))
	}
}
