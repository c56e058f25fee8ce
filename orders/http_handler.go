package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/auth"
	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

type handler struct {
	service   *service
	jwtSecret string
	metrics   *metrics.HTTPMetrics
	logger    *slog.Logger
}

func NewHandler(service *service, jwtSecret string, m *metrics.HTTPMetrics, logger *slog.Logger) *handler {
	return &handler{
		service:   service,
		jwtSecret: jwtSecret,
		metrics:   m,
		logger:    logger,
	}
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/orders", h.requireAuth(h.handleCreateOrder))
	mux.HandleFunc("GET /api/v1/orders/{orderID}", h.handleGetOrder)
	mux.HandleFunc("GET /api/v1/orders/status/{status}", h.handleGetByStatus)
	mux.HandleFunc("GET /api/v1/orders/driver/{driverID}", h.handleGetByDriver)
	mux.HandleFunc("PUT /api/v1/orders/{orderID}", h.requireAuth(h.handleUpdateOrder))
	mux.HandleFunc("GET /health", h.handleHealth)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, subject string)

func (h *handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := auth.BearerSubject(r, h.jwtSecret)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, subject)
	}
}

func (h *handler) handleCreateOrder(w http.ResponseWriter, r *http.Request, subject string) {
	start := time.Now()

	var payload broker.OrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/orders", "400", time.Since(start))
		return
	}

	order, err := h.service.CreateOrder(r.Context(), &payload)
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			h.metrics.RecordHTTPRequest("POST", "/api/v1/orders", "422", time.Since(start))
			return
		}
		h.logger.Error("failed to create order",
			slog.String("subject", subject),
			slog.Any("error", err))
		http.Error(w, "Failed to create order", http.StatusInternalServerError)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/orders", "500", time.Since(start))
		return
	}

	writeJSON(w, http.StatusCreated, order)
	h.metrics.RecordHTTPRequest("POST", "/api/v1/orders", "201", time.Since(start))
}

func (h *handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), r.PathValue("orderID"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handler) handleGetByStatus(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetOrdersByStatus(r.Context(), r.PathValue("status"))
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			http.Error(w, "Unknown order status", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handler) handleGetByDriver(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetOrdersByDriver(r.Context(), r.PathValue("driverID"))
	if err != nil {
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type updateOrderRequest struct {
	NuevoEstado         string `json:"nuevo_estado"`
	IDConductorAsignado string `json:"id_conductor_asignado,omitempty"`
}

func (h *handler) handleUpdateOrder(w http.ResponseWriter, r *http.Request, subject string) {
	start := time.Now()
	orderID := r.PathValue("orderID")

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "400", time.Since(start))
		return
	}

	update := StateUpdate{
		NuevoEstado:         req.NuevoEstado,
		IDConductorAsignado: req.IDConductorAsignado,
	}

	order, err := h.service.Transition(r.Context(), orderID, update, "api", subject)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, order)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "200", time.Since(start))
	case errors.Is(err, ErrOrderNotFound):
		http.Error(w, "Order not found", http.StatusNotFound)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "404", time.Since(start))
	case errors.Is(err, ErrInvalidStatus):
		http.Error(w, "Unknown order status", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "400", time.Since(start))
	case errors.Is(err, ErrTransitionNotAllowed), errors.Is(err, ErrTransitionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "409", time.Since(start))
	default:
		h.logger.Error("failed to update order",
			slog.String("id_pedido", orderID),
			slog.Any("error", err))
		http.Error(w, "Failed to update order", http.StatusInternalServerError)
		h.metrics.RecordHTTPRequest("PUT", "/api/v1/orders/{orderID}", "500", time.Since(start))
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
