package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// fakeStore is an in-memory OrdersStore with the same conditional-update
// semantics as the Mongo implementation.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*Order{}}
}

func (s *fakeStore) Create(ctx context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) Get(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) GetByStatus(ctx context.Context, status string, limit int64) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.EstadoPedido == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) GetByDriver(ctx context.Context, driverID string, limit int64) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.IDConductorAsignado == driverID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateState(ctx context.Context, orderID, fromState string, update StateUpdate) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.EstadoPedido != fromState {
		return nil, ErrTransitionConflict
	}
	o.EstadoPedido = update.NuevoEstado
	o.FechaActualizacion = time.Now().UTC()
	if update.IDConductorAsignado != "" {
		o.IDConductorAsignado = update.IDConductorAsignado
		now := time.Now().UTC()
		o.FechaAsignacion = &now
	}
	cp := *o
	return &cp, nil
}

type publishedMessage struct {
	exchange   string
	routingKey string
	payload    any
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failNext  bool
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return fmt.Errorf("broker unavailable")
	}
	p.published = append(p.published, publishedMessage{exchange, routingKey, payload})
	return nil
}

func (p *fakePublisher) byRoutingKey(rk string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if m.routingKey == rk {
			out = append(out, m)
		}
	}
	return out
}

var testMetricsSeq int

func newTestService(t *testing.T, store OrdersStore, pub Publisher) *service {
	t.Helper()
	// Unique metric namespaces per test; promauto registers globally.
	testMetricsSeq++
	name := fmt.Sprintf("orders_test_%d", testMetricsSeq)
	return NewService(store, pub, nil,
		metrics.NewDispatchMetrics(name),
		metrics.NewBrokerMetrics(name),
		slog.Default())
}

func mototaxiPayload() *broker.OrderPayload {
	return &broker.OrderPayload{
		IDClienteExterno:   "whatsapp:+573001234567",
		NombreCliente:      "Juan",
		TelefonoCliente:    "+573001234567",
		TipoServicio:       "mototaxi",
		OrigenDescripcion:  "parque principal",
		DestinoDescripcion: "hospital",
		ItemsPedido:        []broker.OrderItemPayload{},
	}
}

func TestTransitionMatrix(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{"solicitado", "confirmado", true},
		{"solicitado", "entregado", false},
		{"confirmado", "asignado_conductor", true},
		{"confirmado", "buscando_conductor", true},
		{"asignado_conductor", "en_camino_origen", true},
		{"asignado_conductor", "cancelado_sistema", true},
		{"asignado_conductor", "cancelado_usuario", true},
		{"asignado_conductor", "asignado_conductor", false},
		{"viaje_iniciado", "en_destino", true},
		{"en_destino", "entregado", true},
		{"entregado", "completado", true},
		{"completado", "solicitado", false},
		{"cancelado_usuario", "confirmado", false},
		{"problema_reportado", "completado", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, TransitionAllowed(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestCreateOrderConfirmsAndDispatches(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	assert.Equal(t, "confirmado", order.EstadoPedido)
	assert.NotEmpty(t, order.ID)

	dispatched := pub.byRoutingKey(broker.MototaxiDispatchRoutingKey)
	require.Len(t, dispatched, 1)
	assert.Equal(t, broker.DispatchExchange, dispatched[0].exchange)

	ev, ok := dispatched[0].payload.(broker.DispatchEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, ev.IDPedido)
	assert.Equal(t, "mototaxi", ev.TipoServicio)
}

func TestCreateOrderDispatchesEveryServiceType(t *testing.T) {
	// domicilio and compras ride a driver too; confirmation always fans out.
	for _, tipo := range []string{"domicilio", "compras", "otro"} {
		t.Run(tipo, func(t *testing.T) {
			store := newFakeStore()
			pub := &fakePublisher{}
			svc := newTestService(t, store, pub)

			payload := mototaxiPayload()
			payload.TipoServicio = tipo
			payload.DetallesAdicionalesPedido = "una hamburguesa"

			order, err := svc.CreateOrder(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, "confirmado", order.EstadoPedido)

			dispatched := pub.byRoutingKey(broker.MototaxiDispatchRoutingKey)
			require.Len(t, dispatched, 1)
			ev, ok := dispatched[0].payload.(broker.DispatchEvent)
			require.True(t, ok)
			assert.Equal(t, order.ID, ev.IDPedido)
			assert.Equal(t, tipo, ev.TipoServicio)
		})
	}
}

func TestCreateOrderRejectsInvalidServiceType(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, &fakePublisher{})

	payload := mototaxiPayload()
	payload.TipoServicio = "submarino"

	_, err := svc.CreateOrder(context.Background(), payload)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAcceptEventAssignsDriverAndNotifies(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	ev := &broker.AcceptEvent{
		IDPedido:              order.ID,
		IDConductorQueAcepto:  "driver-1",
		NombreConductor:       "Carlos",
		PlacaVehiculoActiva:   "ABC123",
		NuevoEstadoParaPedido: "asignado_conductor",
	}
	require.NoError(t, svc.ApplyAcceptEvent(context.Background(), ev))

	updated, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "asignado_conductor", updated.EstadoPedido)
	assert.Equal(t, "driver-1", updated.IDConductorAsignado)
	require.NotNil(t, updated.FechaAsignacion)

	notifs := pub.byRoutingKey(broker.NotifyClientRoutingKey)
	require.Len(t, notifs, 1)
	notif, ok := notifs[0].payload.(broker.ClientNotificationEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, notif.IDPedido)
	assert.Equal(t, "driver-1", notif.IDConductorAsignado)
	assert.Contains(t, notif.MensajeParaCliente, "Carlos")
	assert.Contains(t, notif.MensajeParaCliente, "ABC123")
}

func TestSecondAcceptLosesWithoutClobbering(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	first := &broker.AcceptEvent{
		IDPedido:              order.ID,
		IDConductorQueAcepto:  "driver-1",
		NuevoEstadoParaPedido: "asignado_conductor",
	}
	require.NoError(t, svc.ApplyAcceptEvent(context.Background(), first))

	second := &broker.AcceptEvent{
		IDPedido:              order.ID,
		IDConductorQueAcepto:  "driver-2",
		NuevoEstadoParaPedido: "asignado_conductor",
	}
	err = svc.ApplyAcceptEvent(context.Background(), second)
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)

	updated, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "driver-1", updated.IDConductorAsignado)

	// Only the winner produced a client notification.
	assert.Len(t, pub.byRoutingKey(broker.NotifyClientRoutingKey), 1)
}

func TestTripProgressThroughMatrix(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	accept := &broker.AcceptEvent{
		IDPedido:              order.ID,
		IDConductorQueAcepto:  "driver-1",
		NuevoEstadoParaPedido: "asignado_conductor",
	}
	require.NoError(t, svc.ApplyAcceptEvent(context.Background(), accept))

	for _, estado := range []string{"en_camino_origen", "en_origen", "viaje_iniciado", "en_destino", "entregado", "completado"} {
		ev := &broker.AcceptEvent{
			IDPedido:              order.ID,
			IDConductorQueAcepto:  "driver-1",
			NuevoEstadoParaPedido: estado,
		}
		require.NoError(t, svc.ApplyAcceptEvent(context.Background(), ev), estado)
	}

	final, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "completado", final.EstadoPedido)

	// Progress updates never re-notify the client through this path.
	assert.Len(t, pub.byRoutingKey(broker.NotifyClientRoutingKey), 1)
}

func TestTransitionRequiresDriverForAssignedStates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, &fakePublisher{})

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), order.ID,
		StateUpdate{NuevoEstado: "asignado_conductor"}, "api", "admin")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
}

func TestNotificationPublishFailureDoesNotUnwindAssignment(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	order, err := svc.CreateOrder(context.Background(), mototaxiPayload())
	require.NoError(t, err)

	pub.failNext = true
	ev := &broker.AcceptEvent{
		IDPedido:              order.ID,
		IDConductorQueAcepto:  "driver-1",
		NuevoEstadoParaPedido: "asignado_conductor",
	}
	require.NoError(t, svc.ApplyAcceptEvent(context.Background(), ev))

	updated, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "asignado_conductor", updated.EstadoPedido)
}
