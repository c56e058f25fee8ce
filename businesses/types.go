package main

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrBusinessExists   = errors.New("business already exists")
	ErrMenuNotFound     = errors.New("menu not found")
	ErrItemNotFound     = errors.New("menu item not found")
	ErrInvalidAPIKey    = errors.New("invalid api key")
)

// APIKey is one credential issued to a merchant. Only the SHA-256 hash is
// stored; the plaintext is shown once at creation.
type APIKey struct {
	KeyID     string     `bson:"key_id" json:"key_id"`
	KeyHash   string     `bson:"key_hash" json:"-"`
	KeyPrefix string     `bson:"key_prefix" json:"key_prefix"`
	Name      string     `bson:"name" json:"name"`
	Status    string     `bson:"status" json:"status"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	RevokedAt *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// Business is a merchant registered on the platform.
type Business struct {
	ID            string    `bson:"_id" json:"id_empresa"`
	NombreEmpresa string    `bson:"nombre_empresa" json:"nombre_empresa" validate:"required"`
	Email         string    `bson:"email" json:"email,omitempty" validate:"omitempty,email"`
	Activo        bool      `bson:"activo" json:"activo"`
	FechaRegistro time.Time `bson:"fecha_registro" json:"fecha_registro"`
	APIKeys       []APIKey  `bson:"api_keys" json:"-"`
}

// MenuItem is one product on a merchant's menu. Spanish field names carry
// over from the production data model.
type MenuItem struct {
	ItemUUID        string  `bson:"item_uuid" json:"item_uuid"`
	Nombre          string  `bson:"nombre" json:"nombre" validate:"required"`
	Descripcion     string  `bson:"descripcion" json:"descripcion"`
	PrecioBase      float64 `bson:"precio_base" json:"precio_base" validate:"gte=0"`
	Moneda          string  `bson:"moneda" json:"moneda" validate:"required,len=3"`
	CategoriaNombre string  `bson:"categoria_nombre" json:"categoria_nombre" validate:"required"`
	Disponible      bool    `bson:"disponible" json:"disponible"`
	IDExternoItem   string  `bson:"id_externo_item,omitempty" json:"id_externo_item,omitempty"`
	ImagenURL       string  `bson:"imagen_url,omitempty" json:"imagen_url,omitempty"`
}

// MenuItemUpdate carries partial edits; nil fields stay untouched.
type MenuItemUpdate struct {
	Nombre          *string  `json:"nombre,omitempty"`
	Descripcion     *string  `json:"descripcion,omitempty"`
	PrecioBase      *float64 `json:"precio_base,omitempty" validate:"omitempty,gte=0"`
	Moneda          *string  `json:"moneda,omitempty" validate:"omitempty,len=3"`
	CategoriaNombre *string  `json:"categoria_nombre,omitempty"`
	Disponible      *bool    `json:"disponible,omitempty"`
	IDExternoItem   *string  `json:"id_externo_item,omitempty"`
	ImagenURL       *string  `json:"imagen_url,omitempty"`
}

type BusinessesStore interface {
	CreateBusiness(ctx context.Context, b *Business) error
	GetBusiness(ctx context.Context, businessID string) (*Business, error)
	FindByAPIKeyHash(ctx context.Context, keyHash string) (*Business, error)
	AddAPIKey(ctx context.Context, businessID string, key APIKey) error
	RevokeAPIKey(ctx context.Context, businessID, keyID string) error

	GetMenu(ctx context.Context, businessID string) ([]MenuItem, error)
	ReplaceMenu(ctx context.Context, businessID string, items []MenuItem) error
	AddMenuItem(ctx context.Context, businessID string, item MenuItem) error
	UpdateMenuItem(ctx context.Context, businessID, itemUUID string, update MenuItemUpdate) error
	DeleteMenuItem(ctx context.Context, businessID, itemUUID string) error
}

// MenuCache holds rendered menus so order-time lookups skip Mongo.
type MenuCache interface {
	Get(ctx context.Context, businessID string) ([]MenuItem, error)
	Set(ctx context.Context, businessID string, items []MenuItem) error
	Invalidate(ctx context.Context, businessID string) error
}
