package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const apiKeyPrefixLen = 8

type service struct {
	store    BusinessesStore
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(store BusinessesStore, logger *slog.Logger) *service {
	return &service{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterBusiness creates the merchant and issues its first API key. The
// plaintext key is returned exactly once.
func (s *service) RegisterBusiness(ctx context.Context, b *Business) (string, error) {
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Activo = true
	b.FechaRegistro = time.Now().UTC()

	if err := s.validate.Struct(b); err != nil {
		return "", fmt.Errorf("invalid business: %w", err)
	}

	plaintext, key, err := newAPIKey("default")
	if err != nil {
		return "", err
	}
	b.APIKeys = []APIKey{key}

	if err := s.store.CreateBusiness(ctx, b); err != nil {
		return "", err
	}

	s.logger.Info("business registered",
		slog.String("id_empresa", b.ID),
		slog.String("nombre", b.NombreEmpresa))
	return plaintext, nil
}

func (s *service) GetBusiness(ctx context.Context, businessID string) (*Business, error) {
	return s.store.GetBusiness(ctx, businessID)
}

// Authenticate maps a presented API key to its merchant.
func (s *service) Authenticate(ctx context.Context, apiKey string) (*Business, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	b, err := s.store.FindByAPIKeyHash(ctx, hashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	return b, nil
}

func (s *service) IssueAPIKey(ctx context.Context, businessID, name string) (string, *APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("api key name is required")
	}
	plaintext, key, err := newAPIKey(name)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.AddAPIKey(ctx, businessID, key); err != nil {
		return "", nil, err
	}
	s.logger.Info("api key issued",
		slog.String("id_empresa", businessID),
		slog.String("key_prefix", key.KeyPrefix))
	return plaintext, &key, nil
}

func (s *service) RevokeAPIKey(ctx context.Context, businessID, keyID string) error {
	if err := s.store.RevokeAPIKey(ctx, businessID, keyID); err != nil {
		return err
	}
	s.logger.Info("api key revoked",
		slog.String("id_empresa", businessID),
		slog.String("key_id", keyID))
	return nil
}

func (s *service) GetMenu(ctx context.Context, businessID string) ([]MenuItem, error) {
	return s.store.GetMenu(ctx, businessID)
}

// ReplaceMenu validates and stores the full item list, assigning UUIDs to
// items that lack one. An empty list empties the menu.
func (s *service) ReplaceMenu(ctx context.Context, businessID string, items []MenuItem) ([]MenuItem, error) {
	for i := range items {
		if items[i].ItemUUID == "" {
			items[i].ItemUUID = uuid.NewString()
		}
		if err := s.validate.Struct(&items[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	if items == nil {
		items = []MenuItem{}
	}
	if err := s.store.ReplaceMenu(ctx, businessID, items); err != nil {
		return nil, err
	}
	s.logger.Info("menu replaced",
		slog.String("id_empresa", businessID),
		slog.Int("items", len(items)))
	return items, nil
}

func (s *service) AddMenuItem(ctx context.Context, businessID string, item MenuItem) (*MenuItem, error) {
	item.ItemUUID = uuid.NewString()
	if err := s.validate.Struct(&item); err != nil {
		return nil, fmt.Errorf("invalid menu item: %w", err)
	}
	if err := s.store.AddMenuItem(ctx, businessID, item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *service) UpdateMenuItem(ctx context.Context, businessID, itemUUID string, update MenuItemUpdate) error {
	if err := s.validate.Struct(&update); err != nil {
		return fmt.Errorf("invalid menu item update: %w", err)
	}
	return s.store.UpdateMenuItem(ctx, businessID, itemUUID, update)
}

func (s *service) DeleteMenuItem(ctx context.Context, businessID, itemUUID string) error {
	return s.store.DeleteMenuItem(ctx, businessID, itemUUID)
}

// newAPIKey generates a URL-safe random key, returning the plaintext and
// the stored record with its hash.
func newAPIKey(name string) (string, APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", APIKey{}, fmt.Errorf("failed to generate api key: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	return plaintext, APIKey{
		KeyID:     uuid.NewString(),
		KeyHash:   hashAPIKey(plaintext),
		KeyPrefix: plaintext[:apiKeyPrefixLen],
		Name:      strings.TrimSpace(name),
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}, nil
}

func hashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
