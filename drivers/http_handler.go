package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/auth"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

type handler struct {
	service   *service
	ws        *wsHandler
	jwtSecret string
	metrics   *metrics.HTTPMetrics
	logger    *slog.Logger
}

func NewHandler(service *service, ws *wsHandler, jwtSecret string, m *metrics.HTTPMetrics, logger *slog.Logger) *handler {
	return &handler{
		service:   service,
		ws:        ws,
		jwtSecret: jwtSecret,
		metrics:   m,
		logger:    logger,
	}
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/drivers/me/services/{orderID}/accept", h.requireAuth(h.handleAccept))
	mux.HandleFunc("POST /api/v1/drivers/me/status", h.requireAuth(h.handleSetStatus))
	mux.HandleFunc("PUT /api/v1/drivers/me/services/{orderID}/status", h.requireAuth(h.handleTripStatus))
	mux.HandleFunc("GET /ws/drivers/location", h.ws.handleLocationSocket)
	mux.HandleFunc("GET /health", h.handleHealth)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, driverID string)

func (h *handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID, err := auth.BearerSubject(r, h.jwtSecret)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, driverID)
	}
}

func (h *handler) handleAccept(w http.ResponseWriter, r *http.Request, driverID string) {
	start := time.Now()
	orderID := r.PathValue("orderID")

	err := h.service.AcceptService(r.Context(), driverID, orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"id_pedido": orderID,
			"resultado": "aceptado",
		})
		h.metrics.RecordHTTPRequest("POST", "/api/v1/drivers/me/services/{orderID}/accept", "200", time.Since(start))
	case errors.Is(err, ErrInvalidOrderID):
		http.Error(w, "Invalid order id", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/drivers/me/services/{orderID}/accept", "400", time.Since(start))
	case errors.Is(err, ErrDriverNotFound), errors.Is(err, ErrDriverNotEligible):
		http.Error(w, "Driver not eligible to accept", http.StatusForbidden)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/drivers/me/services/{orderID}/accept", "403", time.Since(start))
	default:
		h.logger.Error("accept failed",
			slog.String("id_conductor", driverID),
			slog.String("id_pedido", orderID),
			slog.Any("error", err))
		http.Error(w, "Failed to accept service", http.StatusInternalServerError)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/drivers/me/services/{orderID}/accept", "500", time.Since(start))
	}
}

type setStatusRequest struct {
	EstadoDisponibilidad string `json:"estado_disponibilidad"`
}

func (h *handler) handleSetStatus(w http.ResponseWriter, r *http.Request, driverID string) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	err := h.service.SetAvailability(r.Context(), driverID, req.EstadoDisponibilidad)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"estado_disponibilidad": req.EstadoDisponibilidad,
		})
	case errors.Is(err, ErrInvalidAvailability):
		http.Error(w, "Invalid availability state", http.StatusBadRequest)
	case errors.Is(err, ErrDriverNotFound):
		http.Error(w, "Driver not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to set availability",
			slog.String("id_conductor", driverID),
			slog.Any("error", err))
		http.Error(w, "Failed to set availability", http.StatusInternalServerError)
	}
}

type tripStatusRequest struct {
	NuevoEstado string `json:"nuevo_estado"`
}

func (h *handler) handleTripStatus(w http.ResponseWriter, r *http.Request, driverID string) {
	orderID := r.PathValue("orderID")

	var req tripStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	err := h.service.ReportTripStatus(r.Context(), driverID, orderID, req.NuevoEstado)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"id_pedido":    orderID,
			"nuevo_estado": req.NuevoEstado,
		})
	case errors.Is(err, ErrInvalidOrderID), errors.Is(err, ErrInvalidAvailability):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("failed to report trip status",
			slog.String("id_conductor", driverID),
			slog.String("id_pedido", orderID),
			slog.Any("error", err))
		http.Error(w, "Failed to report trip status", http.StatusInternalServerError)
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
