package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// promauto registers globally; unique namespaces keep tests from colliding.
var testMetricsSeq atomic.Int64

func newTestHandler(t *testing.T) (*handler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc := newTestService(store)
	m := metrics.NewHTTPMetrics(fmt.Sprintf("businesses_test_%d", testMetricsSeq.Add(1)))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(svc, nil, m, log), store
}

func serveRequest(h *handler, r *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.registerRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func registerTestBusiness(t *testing.T, h *handler) string {
	t.Helper()
	body := `{"id_empresa":"rest-001","nombre_empresa":"Restaurante Central"}`
	w := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/v1/businesses", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.APIKey)
	return resp.APIKey
}

func TestRegisterAndFetchBusiness(t *testing.T) {
	h, _ := newTestHandler(t)
	registerTestBusiness(t, h)

	w := serveRequest(h, httptest.NewRequest(http.MethodGet, "/api/v1/businesses/rest-001", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var b Business
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, "Restaurante Central", b.NombreEmpresa)
	assert.NotContains(t, w.Body.String(), "key_hash", "hashes never leave the service")
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	h, _ := newTestHandler(t)
	registerTestBusiness(t, h)

	body := `{"id_empresa":"rest-001","nombre_empresa":"Otro"}`
	w := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/v1/businesses", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetUnknownBusinessIs404(t *testing.T) {
	h, _ := newTestHandler(t)

	w := serveRequest(h, httptest.NewRequest(http.MethodGet, "/api/v1/businesses/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMenuWritesRequireAPIKey(t *testing.T) {
	h, _ := newTestHandler(t)
	registerTestBusiness(t, h)

	body := `[]`
	r := httptest.NewRequest(http.MethodPut, "/api/v1/businesses/me/menu", strings.NewReader(body))
	w := serveRequest(h, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodPut, "/api/v1/businesses/me/menu", strings.NewReader(body))
	r.Header.Set("X-API-Key", "wrong-key")
	w = serveRequest(h, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMenuLifecycleOverHTTP(t *testing.T) {
	h, store := newTestHandler(t)
	apiKey := registerTestBusiness(t, h)

	item := `{"nombre":"Bandeja paisa","descripcion":"Plato típico","precio_base":25000,"moneda":"COP","categoria_nombre":"Platos fuertes","disponible":true}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/businesses/me/menu/items", strings.NewReader(item))
	r.Header.Set("X-API-Key", apiKey)
	w := serveRequest(h, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var created MenuItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ItemUUID)

	// Public menu read sees the new item.
	w = serveRequest(h, httptest.NewRequest(http.MethodGet, "/api/v1/businesses/rest-001/menu", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var items []MenuItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)

	// Update, then delete.
	r = httptest.NewRequest(http.MethodPut, "/api/v1/businesses/me/menu/items/"+created.ItemUUID,
		strings.NewReader(`{"disponible":false}`))
	r.Header.Set("X-API-Key", apiKey)
	w = serveRequest(h, r)
	assert.Equal(t, http.StatusOK, w.Code)

	menu, err := store.GetMenu(context.Background(), "rest-001")
	require.NoError(t, err)
	assert.False(t, menu[0].Disponible)

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/businesses/me/menu/items/"+created.ItemUUID, nil)
	r.Header.Set("X-API-Key", apiKey)
	w = serveRequest(h, r)
	assert.Equal(t, http.StatusOK, w.Code)

	menu, err = store.GetMenu(context.Background(), "rest-001")
	require.NoError(t, err)
	assert.Empty(t, menu)
}

func TestInvalidItemIs422(t *testing.T) {
	h, _ := newTestHandler(t)
	apiKey := registerTestBusiness(t, h)

	item := `{"nombre":"","precio_base":-5,"moneda":"COP","categoria_nombre":"x"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/businesses/me/menu/items", strings.NewReader(item))
	r.Header.Set("X-API-Key", apiKey)
	w := serveRequest(h, r)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestKeyRotationOverHTTP(t *testing.T) {
	h, store := newTestHandler(t)
	apiKey := registerTestBusiness(t, h)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/businesses/me/keys",
		strings.NewReader(`{"name":"punto de venta"}`))
	r.Header.Set("X-API-Key", apiKey)
	w := serveRequest(h, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp issueKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.APIKey)

	// Revoke the original key with the new one; the original stops working.
	b, err := store.GetBusiness(context.Background(), "rest-001")
	require.NoError(t, err)
	originalKeyID := b.APIKeys[0].KeyID

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/businesses/me/keys/"+originalKeyID, nil)
	r.Header.Set("X-API-Key", resp.APIKey)
	w = serveRequest(h, r)
	require.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodPut, "/api/v1/businesses/me/menu", strings.NewReader(`[]`))
	r.Header.Set("X-API-Key", apiKey)
	w = serveRequest(h, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
