package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	businesses map[string]*Business
	menus      map[string][]MenuItem
	menuReads  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		businesses: map[string]*Business{},
		menus:      map[string][]MenuItem{},
	}
}

func (f *fakeStore) CreateBusiness(_ context.Context, b *Business) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.businesses[b.ID]; ok {
		return ErrBusinessExists
	}
	copied := *b
	f.businesses[b.ID] = &copied
	return nil
}

func (f *fakeStore) GetBusiness(_ context.Context, businessID string) (*Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.businesses[businessID]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) FindByAPIKeyHash(_ context.Context, keyHash string) (*Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.businesses {
		for _, key := range b.APIKeys {
			if key.KeyHash == keyHash && key.Status == "active" {
				copied := *b
				return &copied, nil
			}
		}
	}
	return nil, ErrBusinessNotFound
}

func (f *fakeStore) AddAPIKey(_ context.Context, businessID string, key APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.businesses[businessID]
	if !ok {
		return ErrBusinessNotFound
	}
	b.APIKeys = append(b.APIKeys, key)
	return nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, businessID, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.businesses[businessID]
	if !ok {
		return ErrInvalidAPIKey
	}
	for i := range b.APIKeys {
		if b.APIKeys[i].KeyID == keyID {
			b.APIKeys[i].Status = "revoked"
			return nil
		}
	}
	return ErrInvalidAPIKey
}

func (f *fakeStore) GetMenu(_ context.Context, businessID string) ([]MenuItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menuReads++
	items, ok := f.menus[businessID]
	if !ok {
		return nil, ErrMenuNotFound
	}
	return items, nil
}

func (f *fakeStore) ReplaceMenu(_ context.Context, businessID string, items []MenuItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[businessID] = items
	return nil
}

func (f *fakeStore) AddMenuItem(_ context.Context, businessID string, item MenuItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[businessID] = append(f.menus[businessID], item)
	return nil
}

func (f *fakeStore) UpdateMenuItem(_ context.Context, businessID, itemUUID string, update MenuItemUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.menus[businessID] {
		if item.ItemUUID == itemUUID {
			if update.Nombre != nil {
				f.menus[businessID][i].Nombre = *update.Nombre
			}
			if update.PrecioBase != nil {
				f.menus[businessID][i].PrecioBase = *update.PrecioBase
			}
			if update.Disponible != nil {
				f.menus[businessID][i].Disponible = *update.Disponible
			}
			return nil
		}
	}
	return ErrItemNotFound
}

func (f *fakeStore) DeleteMenuItem(_ context.Context, businessID, itemUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.menus[businessID]
	for i, item := range items {
		if item.ItemUUID == itemUUID {
			f.menus[businessID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func newTestService(store BusinessesStore) *service {
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validItem() MenuItem {
	return MenuItem{
		Nombre:          "Bandeja paisa",
		Descripcion:     "Plato típico",
		PrecioBase:      25000,
		Moneda:          "COP",
		CategoriaNombre: "Platos fuertes",
		Disponible:      true,
	}
}

func TestRegisterBusinessIssuesKeyOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	b := &Business{ID: "rest-001", NombreEmpresa: "Restaurante Central"}
	plaintext, err := svc.RegisterBusiness(ctx, b)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)

	stored, err := store.GetBusiness(ctx, "rest-001")
	require.NoError(t, err)
	require.Len(t, stored.APIKeys, 1)
	assert.Equal(t, "active", stored.APIKeys[0].Status)
	assert.NotEqual(t, plaintext, stored.APIKeys[0].KeyHash, "plaintext must never be stored")
	assert.Equal(t, plaintext[:apiKeyPrefixLen], stored.APIKeys[0].KeyPrefix)
	assert.True(t, stored.Activo)
}

func TestRegisterBusinessRejectsMissingName(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.RegisterBusiness(context.Background(), &Business{ID: "rest-001"})
	assert.Error(t, err)
}

func TestAuthenticateRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	plaintext, err := svc.RegisterBusiness(ctx, &Business{ID: "rest-001", NombreEmpresa: "Central"})
	require.NoError(t, err)

	b, err := svc.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "rest-001", b.ID)

	_, err = svc.Authenticate(ctx, "not-a-real-key")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokedKeyStopsAuthenticating(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	plaintext, err := svc.RegisterBusiness(ctx, &Business{ID: "rest-001", NombreEmpresa: "Central"})
	require.NoError(t, err)

	stored, err := store.GetBusiness(ctx, "rest-001")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeAPIKey(ctx, "rest-001", stored.APIKeys[0].KeyID))

	_, err = svc.Authenticate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestIssueSecondKeyBothValid(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.RegisterBusiness(ctx, &Business{ID: "rest-001", NombreEmpresa: "Central"})
	require.NoError(t, err)

	second, key, err := svc.IssueAPIKey(ctx, "rest-001", "punto de venta")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.NotEqual(t, first, second)

	_, err = svc.Authenticate(ctx, first)
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, second)
	assert.NoError(t, err)
}

func TestReplaceMenuAssignsUUIDsAndValidates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	items, err := svc.ReplaceMenu(ctx, "rest-001", []MenuItem{validItem(), validItem()})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0].ItemUUID)
	assert.NotEqual(t, items[0].ItemUUID, items[1].ItemUUID)

	bad := validItem()
	bad.Moneda = "PESOS"
	_, err = svc.ReplaceMenu(ctx, "rest-001", []MenuItem{bad})
	assert.Error(t, err)
}

func TestReplaceMenuWithEmptyListEmptiesMenu(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.ReplaceMenu(ctx, "rest-001", []MenuItem{validItem()})
	require.NoError(t, err)

	items, err := svc.ReplaceMenu(ctx, "rest-001", nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	stored, err := store.GetMenu(ctx, "rest-001")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestAddMenuItemValidates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	item, err := svc.AddMenuItem(ctx, "rest-001", validItem())
	require.NoError(t, err)
	assert.NotEmpty(t, item.ItemUUID)

	bad := validItem()
	bad.Nombre = ""
	_, err = svc.AddMenuItem(ctx, "rest-001", bad)
	assert.Error(t, err)
}

func TestUpdateMenuItemUnknownUUID(t *testing.T) {
	svc := newTestService(newFakeStore())

	nuevo := "Ajiaco"
	err := svc.UpdateMenuItem(context.Background(), "rest-001", "missing-uuid", MenuItemUpdate{Nombre: &nuevo})
	assert.ErrorIs(t, err, ErrItemNotFound)
}
