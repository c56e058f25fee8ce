package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pipetapasco/microservices-delivery-hub/common/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Driver apps connect from mobile webviews with no stable origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const maxLocationFrameBytes = 4096

type locationUpdate struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Ts       int64    `json:"ts"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

func (u *locationUpdate) valid() bool {
	return u.Lat != nil && u.Lon != nil &&
		*u.Lat >= -90 && *u.Lat <= 90 &&
		*u.Lon >= -180 && *u.Lon <= 180
}

type wsFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type wsHandler struct {
	registry  *pushRegistry
	locations LocationStore
	jwtSecret string
	logger    *slog.Logger
}

func NewWSHandler(registry *pushRegistry, locations LocationStore, jwtSecret string, logger *slog.Logger) *wsHandler {
	return &wsHandler{
		registry:  registry,
		locations: locations,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// handleLocationSocket is the driver's persistent connection: inbound
// frames are position reports, outbound traffic is dispatch pushes
// delivered through the registry.
func (h *wsHandler) handleLocationSocket(w http.ResponseWriter, r *http.Request) {
	driverID, err := auth.ParseSubject(r.URL.Query().Get("token"), h.jwtSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(maxLocationFrameBytes)

	client := h.registry.Register(driverID, conn)
	defer h.registry.Unregister(driverID, client)

	h.logger.Info("driver connected", slog.String("id_conductor", driverID))

	ack, _ := json.Marshal(wsFrame{Type: "connection_ack"})
	if err := h.registry.Send(driverID, ack); err != nil {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("driver disconnected",
				slog.String("id_conductor", driverID),
				slog.Any("error", err))
			return
		}

		var update locationUpdate
		if err := json.Unmarshal(payload, &update); err != nil || !update.valid() {
			h.sendError(driverID, "invalid_location_payload")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = h.locations.Update(ctx, driverID, *update.Lon, *update.Lat)
		cancel()
		if err != nil {
			h.logger.Warn("failed to store driver location",
				slog.String("id_conductor", driverID),
				slog.Any("error", err))
			h.sendError(driverID, "location_store_unavailable")
		}
	}
}

func (h *wsHandler) sendError(driverID, message string) {
	frame, _ := json.Marshal(wsFrame{Type: "error", Message: message})
	_ = h.registry.Send(driverID, frame)
}
