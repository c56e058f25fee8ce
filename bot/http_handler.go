package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

const emptyTwiML = "<Response/>"

type handler struct {
	sessions    SessionStore
	limiter     RateLimiter
	publisher   Publisher
	authToken   string
	maxBodySize int64
	metrics     *metrics.HTTPMetrics
	logger      *slog.Logger
}

func NewHandler(sessions SessionStore, limiter RateLimiter, publisher Publisher, authToken string, maxBodySize int64, m *metrics.HTTPMetrics, logger *slog.Logger) *handler {
	return &handler{
		sessions:    sessions,
		limiter:     limiter,
		publisher:   publisher,
		authToken:   authToken,
		maxBodySize: maxBodySize,
		metrics:     m,
		logger:      logger,
	}
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleWebhook validates and enqueues; every expensive step happens in the
// worker. The provider retries non-2xx responses, so the status codes here
// are part of the delivery contract.
func (h *handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	record := func(status string) {
		h.metrics.RecordHTTPRequest("POST", "/webhook", status, time.Since(start))
	}

	if r.ContentLength > h.maxBodySize {
		h.logger.Warn("webhook request too large", slog.Int64("content_length", r.ContentLength))
		http.Error(w, "Request too large", http.StatusForbidden)
		record("403")
		return
	}

	// No shared secret means no way to authenticate the provider; fail
	// closed rather than accept forged traffic.
	if h.authToken == "" {
		h.logger.Error("webhook signature secret not configured, rejecting")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		record("503")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form payload", http.StatusBadRequest)
		record("400")
		return
	}

	if !ValidateTwilioSignature(h.authToken, requestURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		h.logger.Warn("invalid webhook signature rejected")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		record("403")
		return
	}

	sender := r.PostForm.Get("From")
	if sender == "" {
		sender = r.RemoteAddr
	}

	if !h.limiter.Allow(r.Context(), sender) {
		// Empty TwiML so the provider sends the user nothing extra.
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(emptyTwiML))
		record("429")
		return
	}

	msg := h.buildMessage(r)
	if msg.SenderNumber == "" {
		// Nothing actionable; answer politely and drop.
		writeTwiML(w)
		record("200")
		return
	}

	if err := h.publisher.Publish(r.Context(), broker.IncomingMessagesExchange, broker.IncomingMessagesRoutingKey, msg); err != nil {
		h.logger.Error("failed to enqueue incoming message", slog.Any("error", err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		record("503")
		return
	}

	writeTwiML(w)
	record("200")
}

func (h *handler) buildMessage(r *http.Request) *broker.IncomingMessage {
	form := r.PostForm

	numMedia, err := strconv.Atoi(form.Get("NumMedia"))
	if err != nil || numMedia < 0 {
		numMedia = 0
	}

	msg := &broker.IncomingMessage{
		SenderNumber: form.Get("From"),
		ProfileName:  form.Get("ProfileName"),
		MessageBody:  truncate(form.Get("Body"), maxBodyLen),
		NumMedia:     numMedia,
		ReceivedAt:   time.Now().UTC(),
	}
	if numMedia > 0 {
		msg.MediaURL = form.Get("MediaUrl0")
		msg.MediaContentType = form.Get("MediaContentType0")
	}
	return msg
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Ping(r.Context()); err != nil {
		http.Error(w, "Session store unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

// requestURL reconstructs the public URL the provider signed, trusting the
// proxy's forwarded scheme when present.
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.RequestURI
}

func truncate(s string, max int) string {
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max])
	}
	return s
}
