package main

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRateLimited       = errors.New("rate limited")
	ErrLockNotAcquired   = errors.New("processing lock not acquired")
	ErrAudioTooLarge     = errors.New("audio exceeds size limit")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

const (
	sessionTTL     = time.Hour
	processingTTL  = 5 * time.Minute
	welcomeTimeout = 20 * time.Minute

	maxFieldLen   = 500
	maxBodyLen    = 2000
	maxReplyLen   = 1600
	maxNameLen    = 50
	defaultClient = "tú"
)

// Session is one sender's dialogue state, persisted between turns.
type Session struct {
	LastSeen         time.Time         `json:"last_seen"`
	CurrentOrderData map[string]string `json:"current_order_data"`
	AwaitingMoreInfo bool              `json:"awaiting_more_info"`
}

func NewSession() *Session {
	return &Session{
		LastSeen:         time.Now().UTC(),
		CurrentOrderData: map[string]string{},
	}
}

// ShouldSendWelcome reports whether this turn should open with the welcome
// message: no order in progress and the sender has been quiet a while.
func (s *Session) ShouldSendWelcome(now time.Time) bool {
	return len(s.CurrentOrderData) == 0 && now.Sub(s.LastSeen) > welcomeTimeout
}

// SessionStore is the per-sender session and serialization point.
type SessionStore interface {
	Get(ctx context.Context, sender string) (*Session, error)
	Save(ctx context.Context, sender string, s *Session) error
	Clear(ctx context.Context, sender string) error
	// TryAcquireProcessing is atomic set-if-absent with a safety TTL; a
	// store error reads as "not acquired" so a sender is never processed
	// twice concurrently.
	TryAcquireProcessing(ctx context.Context, sender string) bool
	ReleaseProcessing(ctx context.Context, sender string)
	Ping(ctx context.Context) error
}

// RateLimiter is the per-sender sliding-window gate.
type RateLimiter interface {
	Allow(ctx context.Context, sender string) bool
}

// ExtractedData is what the language-analysis collaborator pulls out of one
// message. Field names double as session order-data keys.
type ExtractedData struct {
	TipoServicio        string `json:"tipo_servicio,omitempty"`
	Origen              string `json:"origen,omitempty"`
	Destino             string `json:"destino,omitempty"`
	NombreUsuario       string `json:"nombre_usuario,omitempty"`
	Telefono            string `json:"telefono,omitempty"`
	MetodoPago          string `json:"metodo_pago,omitempty"`
	Monto               string `json:"monto,omitempty"`
	DetallesAdicionales string `json:"detalles_adicionales,omitempty"`
}

// Analyzer extracts order fields from free text.
type Analyzer interface {
	Extract(ctx context.Context, text string) (*ExtractedData, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// ChatSender delivers a message back to the sender over the chat channel.
type ChatSender interface {
	Send(ctx context.Context, to, body string) error
}

// Publisher abstracts the broker publish for testability.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}
