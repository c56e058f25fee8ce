package main

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	ErrDriverNotConnected = errors.New("driver has no active connection")
	ErrSendBufferFull     = errors.New("driver send buffer full")
)

const sendBufferSize = 16

// pushClient owns one websocket connection. All writes go through the send
// channel into a single writer goroutine; gorilla/websocket allows at most
// one concurrent writer per connection.
type pushClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

// pushRegistry maps connected drivers to their push clients. Critical
// sections only touch the map and the send buffer; the actual socket write
// happens in each client's writer goroutine.
type pushRegistry struct {
	mu      sync.Mutex
	clients map[string]*pushClient
	logger  *slog.Logger
}

func NewPushRegistry(logger *slog.Logger) *pushRegistry {
	return &pushRegistry{
		clients: map[string]*pushClient{},
		logger:  logger,
	}
}

// Register attaches a connection for driverID, evicting any previous one.
// A reconnecting driver replaces their stale entry instead of leaking it.
func (r *pushRegistry) Register(driverID string, conn *websocket.Conn) *pushClient {
	client := &pushClient{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	r.mu.Lock()
	if prev, ok := r.clients[driverID]; ok {
		r.closeClientLocked(prev)
	}
	r.clients[driverID] = client
	r.mu.Unlock()

	go r.writeLoop(driverID, client)

	return client
}

// Unregister removes the entry only when it still points at client, so a
// slow disconnect cannot evict a newer connection of the same driver.
func (r *pushRegistry) Unregister(driverID string, client *pushClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[driverID]
	if !ok || current != client {
		return
	}
	delete(r.clients, driverID)
	r.closeClientLocked(client)
}

// Send enqueues payload for driverID. A full buffer means the client is not
// draining; the connection is torn down rather than blocking the caller.
func (r *pushRegistry) Send(driverID string, payload []byte) error {
	r.mu.Lock()
	client, ok := r.clients[driverID]
	if !ok || client.closed {
		r.mu.Unlock()
		return ErrDriverNotConnected
	}

	select {
	case client.send <- payload:
		r.mu.Unlock()
		return nil
	default:
		delete(r.clients, driverID)
		r.closeClientLocked(client)
		r.mu.Unlock()
		return ErrSendBufferFull
	}
}

// Connected reports whether driverID currently has a live client.
func (r *pushRegistry) Connected(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[driverID]
	return ok && !c.closed
}

func (r *pushRegistry) closeClientLocked(client *pushClient) {
	if client.closed {
		return
	}
	client.closed = true
	close(client.send)
	client.conn.Close()
}

func (r *pushRegistry) writeLoop(driverID string, client *pushClient) {
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			r.logger.Warn("push write failed, dropping connection",
				slog.String("id_conductor", driverID),
				slog.Any("error", err))
			r.Unregister(driverID, client)
			// Drain remaining messages so Send callers that won the race
			// before Unregister do not block.
			for range client.send {
			}
			return
		}
	}
}
