package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

type handler struct {
	service *service
	pinger  func() error
	metrics *metrics.HTTPMetrics
	logger  *slog.Logger
}

func NewHandler(service *service, pinger func() error, m *metrics.HTTPMetrics, logger *slog.Logger) *handler {
	return &handler{
		service: service,
		pinger:  pinger,
		metrics: m,
		logger:  logger,
	}
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	// Public surface, consumed by the orders service.
	mux.HandleFunc("POST /api/v1/businesses", h.handleRegister)
	mux.HandleFunc("GET /api/v1/businesses/{businessID}", h.handleGetBusiness)
	mux.HandleFunc("GET /api/v1/businesses/{businessID}/menu", h.handleGetMenu)

	// Merchant surface, authenticated with X-API-Key.
	mux.HandleFunc("PUT /api/v1/businesses/me/menu", h.requireAPIKey(h.handleReplaceMenu))
	mux.HandleFunc("POST /api/v1/businesses/me/menu/items", h.requireAPIKey(h.handleAddItem))
	mux.HandleFunc("PUT /api/v1/businesses/me/menu/items/{itemID}", h.requireAPIKey(h.handleUpdateItem))
	mux.HandleFunc("DELETE /api/v1/businesses/me/menu/items/{itemID}", h.requireAPIKey(h.handleDeleteItem))
	mux.HandleFunc("POST /api/v1/businesses/me/keys", h.requireAPIKey(h.handleIssueKey))
	mux.HandleFunc("DELETE /api/v1/businesses/me/keys/{keyID}", h.requireAPIKey(h.handleRevokeKey))

	mux.HandleFunc("GET /health", h.handleHealth)
}

type keyedHandler func(w http.ResponseWriter, r *http.Request, business *Business)

// requireAPIKey resolves X-API-Key to a merchant and hands the identity to
// the wrapped handler explicitly.
func (h *handler) requireAPIKey(next keyedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		business, err := h.service.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			if errors.Is(err, ErrInvalidAPIKey) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			h.logger.Error("api key lookup failed", slog.Any("error", err))
			http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
			return
		}
		next(w, r, business)
	}
}

type registerRequest struct {
	IDEmpresa     string `json:"id_empresa,omitempty"`
	NombreEmpresa string `json:"nombre_empresa"`
	Email         string `json:"email,omitempty"`
}

type registerResponse struct {
	Business *Business `json:"empresa"`
	APIKey   string    `json:"api_key"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/businesses", "400", time.Since(start))
		return
	}

	business := &Business{
		ID:            req.IDEmpresa,
		NombreEmpresa: req.NombreEmpresa,
		Email:         req.Email,
	}
	apiKey, err := h.service.RegisterBusiness(r.Context(), business)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, registerResponse{Business: business, APIKey: apiKey})
		h.metrics.RecordHTTPRequest("POST", "/api/v1/businesses", "201", time.Since(start))
	case errors.Is(err, ErrBusinessExists):
		http.Error(w, "Business already exists", http.StatusConflict)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/businesses", "409", time.Since(start))
	default:
		h.logger.Error("failed to register business", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		h.metrics.RecordHTTPRequest("POST", "/api/v1/businesses", "422", time.Since(start))
	}
}

func (h *handler) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	business, err := h.service.GetBusiness(r.Context(), r.PathValue("businessID"))
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			http.Error(w, "Business not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get business", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, business)
}

func (h *handler) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetMenu(r.Context(), r.PathValue("businessID"))
	if err != nil {
		if errors.Is(err, ErrMenuNotFound) {
			http.Error(w, "Menu not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get menu", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) handleReplaceMenu(w http.ResponseWriter, r *http.Request, business *Business) {
	var items []MenuItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	stored, err := h.service.ReplaceMenu(r.Context(), business.ID, items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *handler) handleAddItem(w http.ResponseWriter, r *http.Request, business *Business) {
	var item MenuItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	stored, err := h.service.AddMenuItem(r.Context(), business.ID, item)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *handler) handleUpdateItem(w http.ResponseWriter, r *http.Request, business *Business) {
	var update MenuItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	err := h.service.UpdateMenuItem(r.Context(), business.ID, r.PathValue("itemID"), update)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case errors.Is(err, ErrItemNotFound):
		http.Error(w, "Menu item not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

func (h *handler) handleDeleteItem(w http.ResponseWriter, r *http.Request, business *Business) {
	err := h.service.DeleteMenuItem(r.Context(), business.ID, r.PathValue("itemID"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, ErrItemNotFound):
		http.Error(w, "Menu item not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to delete menu item", slog.Any("error", err))
		http.Error(w, "Failed to delete menu item", http.StatusInternalServerError)
	}
}

type issueKeyRequest struct {
	Name string `json:"name"`
}

type issueKeyResponse struct {
	APIKey string  `json:"api_key"`
	Key    *APIKey `json:"key"`
}

func (h *handler) handleIssueKey(w http.ResponseWriter, r *http.Request, business *Business) {
	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	plaintext, key, err := h.service.IssueAPIKey(r.Context(), business.ID, req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, issueKeyResponse{APIKey: plaintext, Key: key})
}

func (h *handler) handleRevokeKey(w http.ResponseWriter, r *http.Request, business *Business) {
	err := h.service.RevokeAPIKey(r.Context(), business.ID, r.PathValue("keyID"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	case errors.Is(err, ErrInvalidAPIKey):
		http.Error(w, "API key not found", http.StatusNotFound)
	default:
		http.Error(w, "Failed to revoke API key", http.StatusInternalServerError)
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger(); err != nil {
			http.Error(w, "Store unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
