package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	drivers map[string]*Driver
}

func newFakeStore() *fakeStore {
	return &fakeStore{drivers: map[string]*Driver{}}
}

func (s *fakeStore) add(d *Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.drivers[d.ID] = &cp
}

func (s *fakeStore) Get(ctx context.Context, driverID string) (*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) ListCandidates(ctx context.Context, limit int64) ([]*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Driver
	for _, d := range s.drivers {
		if d.IsCandidate() && int64(len(out)) < limit {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkInService(ctx context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok || !d.IsCandidate() {
		return ErrDriverNotEligible
	}
	d.EstadoDisponibilidad = DisponibilidadEnServicio
	d.FechaCambioDisponibilidad = time.Now().UTC()
	return nil
}

func (s *fakeStore) MarkAvailable(ctx context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok || d.EstadoDisponibilidad != DisponibilidadEnServicio {
		return ErrDriverNotEligible
	}
	d.EstadoDisponibilidad = DisponibilidadDisponible
	d.FechaCambioDisponibilidad = time.Now().UTC()
	return nil
}

func (s *fakeStore) SetAvailability(ctx context.Context, driverID, estado string) error {
	if estado != DisponibilidadDisponible && estado != DisponibilidadNoDisponible {
		return ErrInvalidAvailability
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	d.EstadoDisponibilidad = estado
	d.FechaCambioDisponibilidad = time.Now().UTC()
	return nil
}

func (s *fakeStore) ListStuckInService(ctx context.Context, cutoff time.Time) ([]*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Driver
	for _, d := range s.drivers {
		if d.EstadoDisponibilidad == DisponibilidadEnServicio && d.FechaCambioDisponibilidad.Before(cutoff) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
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

func (p *fakePublisher) all() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

var testMetricsSeq int

func newTestService(t *testing.T, store DriversStore, pub Publisher) (*service, *watchdog) {
	t.Helper()
	testMetricsSeq++
	name := fmt.Sprintf("drivers_test_%d", testMetricsSeq)
	m := metrics.NewDispatchMetrics(name)
	wd := NewWatchdog(store, 10*time.Minute, m, slog.Default())
	return NewService(store, pub, wd, m, slog.Default()), wd
}

func approvedDriver(id string) *Driver {
	return &Driver{
		ID:                      id,
		NombreCompleto:          "Carlos Pérez",
		Telefono:                "+573007654321",
		Activo:                  true,
		EstadoValidacionGeneral: ValidacionAprobado,
		EstadoDisponibilidad:    DisponibilidadDisponible,
		Vehiculos: []Vehicle{
			{Placa: "XYZ789", Tipo: "motocicleta", Activo: false},
			{Placa: "ABC123", Tipo: "motocicleta", Activo: true},
		},
		FechaCambioDisponibilidad: time.Now().UTC(),
	}
}

func TestAcceptServicePublishesAndFlips(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	pub := &fakePublisher{}
	svc, _ := newTestService(t, store, pub)

	orderID := uuid.NewString()
	require.NoError(t, svc.AcceptService(context.Background(), "driver-1", orderID))

	d, err := store.Get(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, DisponibilidadEnServicio, d.EstadoDisponibilidad)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, broker.DispatchExchange, msgs[0].exchange)
	assert.Equal(t, broker.OrderUpdateRoutingKey, msgs[0].routingKey)

	ev, ok := msgs[0].payload.(broker.AcceptEvent)
	require.True(t, ok)
	assert.Equal(t, orderID, ev.IDPedido)
	assert.Equal(t, "driver-1", ev.IDConductorQueAcepto)
	assert.Equal(t, "ABC123", ev.PlacaVehiculoActiva)
	assert.Equal(t, "asignado_conductor", ev.NuevoEstadoParaPedido)
}

func TestAcceptServiceRejectsBadOrderID(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	svc, _ := newTestService(t, store, &fakePublisher{})

	err := svc.AcceptService(context.Background(), "driver-1", "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidOrderID)
}

func TestAcceptServiceRejectsIneligibleDriver(t *testing.T) {
	store := newFakeStore()
	d := approvedDriver("driver-1")
	d.EstadoValidacionGeneral = "pendiente"
	store.add(d)
	svc, _ := newTestService(t, store, &fakePublisher{})

	err := svc.AcceptService(context.Background(), "driver-1", uuid.NewString())
	assert.ErrorIs(t, err, ErrDriverNotEligible)
}

func TestAcceptServiceSecondAcceptLoses(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	pub := &fakePublisher{}
	svc, _ := newTestService(t, store, pub)

	require.NoError(t, svc.AcceptService(context.Background(), "driver-1", uuid.NewString()))
	err := svc.AcceptService(context.Background(), "driver-1", uuid.NewString())
	assert.ErrorIs(t, err, ErrDriverNotEligible)
	assert.Len(t, pub.all(), 1)
}

func TestAcceptServiceCompensatesOnPublishFailure(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	pub := &fakePublisher{failNext: true}
	svc, _ := newTestService(t, store, pub)

	err := svc.AcceptService(context.Background(), "driver-1", uuid.NewString())
	require.Error(t, err)

	// The flip was rolled back; the driver can accept the next offer.
	d, getErr := store.Get(context.Background(), "driver-1")
	require.NoError(t, getErr)
	assert.Equal(t, DisponibilidadDisponible, d.EstadoDisponibilidad)

	require.NoError(t, svc.AcceptService(context.Background(), "driver-1", uuid.NewString()))
}

func TestSetAvailabilityValidatesStates(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	svc, _ := newTestService(t, store, &fakePublisher{})

	require.NoError(t, svc.SetAvailability(context.Background(), "driver-1", DisponibilidadNoDisponible))
	assert.ErrorIs(t,
		svc.SetAvailability(context.Background(), "driver-1", DisponibilidadEnServicio),
		ErrInvalidAvailability)
}

func TestReportTripStatusTerminalReleasesDriver(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	pub := &fakePublisher{}
	svc, wd := newTestService(t, store, pub)

	orderID := uuid.NewString()
	require.NoError(t, svc.AcceptService(context.Background(), "driver-1", orderID))
	wd.Confirm("driver-1")

	require.NoError(t, svc.ReportTripStatus(context.Background(), "driver-1", orderID, "viaje_iniciado"))
	d, _ := store.Get(context.Background(), "driver-1")
	assert.Equal(t, DisponibilidadEnServicio, d.EstadoDisponibilidad)

	require.NoError(t, svc.ReportTripStatus(context.Background(), "driver-1", orderID, "completado"))
	d, _ = store.Get(context.Background(), "driver-1")
	assert.Equal(t, DisponibilidadDisponible, d.EstadoDisponibilidad)
	assert.False(t, wd.isConfirmed("driver-1"))
}

func TestReportTripStatusRejectsUnknownState(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-1"))
	svc, _ := newTestService(t, store, &fakePublisher{})

	err := svc.ReportTripStatus(context.Background(), "driver-1", uuid.NewString(), "volando")
	assert.ErrorIs(t, err, ErrInvalidAvailability)
}

func TestWatchdogRevertsOnlyUnconfirmedDrivers(t *testing.T) {
	store := newFakeStore()
	stuck := approvedDriver("driver-stuck")
	confirmed := approvedDriver("driver-confirmed")
	fresh := approvedDriver("driver-fresh")
	store.add(stuck)
	store.add(confirmed)
	store.add(fresh)

	_, wd := newTestService(t, store, &fakePublisher{})

	require.NoError(t, store.MarkInService(context.Background(), "driver-stuck"))
	require.NoError(t, store.MarkInService(context.Background(), "driver-confirmed"))
	require.NoError(t, store.MarkInService(context.Background(), "driver-fresh"))

	// Backdate the first two past the grace period.
	old := time.Now().UTC().Add(-30 * time.Minute)
	store.mu.Lock()
	store.drivers["driver-stuck"].FechaCambioDisponibilidad = old
	store.drivers["driver-confirmed"].FechaCambioDisponibilidad = old
	store.mu.Unlock()

	wd.Confirm("driver-confirmed")
	wd.sweep(context.Background())

	d, _ := store.Get(context.Background(), "driver-stuck")
	assert.Equal(t, DisponibilidadDisponible, d.EstadoDisponibilidad)

	d, _ = store.Get(context.Background(), "driver-confirmed")
	assert.Equal(t, DisponibilidadEnServicio, d.EstadoDisponibilidad)

	d, _ = store.Get(context.Background(), "driver-fresh")
	assert.Equal(t, DisponibilidadEnServicio, d.EstadoDisponibilidad)
}

func TestWatchdogPrunesStaleConfirmations(t *testing.T) {
	store := newFakeStore()
	store.add(approvedDriver("driver-gone"))
	_, wd := newTestService(t, store, &fakePublisher{})

	require.NoError(t, store.MarkInService(context.Background(), "driver-gone"))
	wd.Confirm("driver-gone")

	// The driver confirmed an assignment, then vanished mid-trip.
	wd.mu.Lock()
	wd.confirmed["driver-gone"] = time.Now().Add(-5 * time.Hour)
	wd.mu.Unlock()
	store.mu.Lock()
	store.drivers["driver-gone"].FechaCambioDisponibilidad = time.Now().UTC().Add(-5 * time.Hour)
	store.mu.Unlock()

	wd.sweep(context.Background())

	assert.False(t, wd.isConfirmed("driver-gone"))
	d, _ := store.Get(context.Background(), "driver-gone")
	assert.Equal(t, DisponibilidadDisponible, d.EstadoDisponibilidad)
}
