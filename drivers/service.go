package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// Trip-progress states a driver may report for an assigned service. The
// orders state machine is still the arbiter; this is just the surface
// allow-list.
var tripStatesPermitidos = map[string]bool{
	"en_camino_origen":    true,
	"en_origen":           true,
	"viaje_iniciado":      true,
	"en_destino":          true,
	"entregado":           true,
	"completado":          true,
	"cancelado_conductor": true,
	"problema_reportado":  true,
}

// tripStatesTerminales free the driver again once reported.
var tripStatesTerminales = map[string]bool{
	"entregado":           false,
	"completado":          true,
	"cancelado_conductor": true,
}

type service struct {
	store     DriversStore
	publisher Publisher
	watchdog  *watchdog
	metrics   *metrics.DispatchMetrics
	logger    *slog.Logger
}

func NewService(store DriversStore, publisher Publisher, wd *watchdog, m *metrics.DispatchMetrics, logger *slog.Logger) *service {
	return &service{
		store:     store,
		publisher: publisher,
		watchdog:  wd,
		metrics:   m,
		logger:    logger,
	}
}

// AcceptService claims an order for a driver: CAS the driver out of the
// available pool first, then publish the accept event. If the publish fails
// the flip is compensated so the driver is not stranded en_servicio for an
// order nobody recorded.
func (s *service) AcceptService(ctx context.Context, driverID, orderID string) error {
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOrderID, orderID)
	}

	driver, err := s.store.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if !driver.IsCandidate() {
		s.metrics.AcceptsLost.Inc()
		return ErrDriverNotEligible
	}

	if err := s.store.MarkInService(ctx, driverID); err != nil {
		s.metrics.AcceptsLost.Inc()
		return err
	}

	ev := broker.AcceptEvent{
		IDPedido:               orderID,
		IDConductorQueAcepto:   driverID,
		NombreConductor:        driver.NombreCompleto,
		TimestampAceptacionUTC: time.Now().UTC().Format(time.RFC3339),
		NuevoEstadoParaPedido:  "asignado_conductor",
	}
	if v := driver.ActiveVehicle(); v != nil {
		ev.PlacaVehiculoActiva = v.Placa
	}

	if err := s.publisher.Publish(ctx, broker.DispatchExchange, broker.OrderUpdateRoutingKey, ev); err != nil {
		s.metrics.AcceptsCompensated.Inc()
		if compErr := s.store.MarkAvailable(ctx, driverID); compErr != nil {
			// Manual cleanup territory: the driver is en_servicio with no
			// published acceptance and the compensation failed too.
			s.logger.Error("compensation failed after publish error",
				slog.String("id_conductor", driverID),
				slog.String("id_pedido", orderID),
				slog.Any("error", compErr))
		}
		return fmt.Errorf("failed to publish accept event: %w", err)
	}

	s.metrics.AcceptsWon.Inc()
	s.logger.Info("driver accepted service",
		slog.String("id_conductor", driverID),
		slog.String("id_pedido", orderID))
	return nil
}

// SetAvailability handles the driver-facing status toggle. en_servicio is
// not settable here.
func (s *service) SetAvailability(ctx context.Context, driverID, estado string) error {
	if err := s.store.SetAvailability(ctx, driverID, estado); err != nil {
		return err
	}
	s.watchdog.Forget(driverID)
	return nil
}

// ReportTripStatus publishes a trip-progress update for an order this
// driver is serving. Terminal states also release the driver back to the
// available pool.
func (s *service) ReportTripStatus(ctx context.Context, driverID, orderID, estado string) error {
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOrderID, orderID)
	}
	if !tripStatesPermitidos[estado] {
		return fmt.Errorf("%w: %s", ErrInvalidAvailability, estado)
	}

	ev := broker.AcceptEvent{
		IDPedido:               orderID,
		IDConductorQueAcepto:   driverID,
		TimestampAceptacionUTC: time.Now().UTC().Format(time.RFC3339),
		NuevoEstadoParaPedido:  estado,
	}
	if err := s.publisher.Publish(ctx, broker.DispatchExchange, broker.OrderUpdateRoutingKey, ev); err != nil {
		return fmt.Errorf("failed to publish trip status: %w", err)
	}

	if tripStatesTerminales[estado] {
		if err := s.store.MarkAvailable(ctx, driverID); err != nil && err != ErrDriverNotEligible {
			s.logger.Warn("failed to release driver after terminal trip status",
				slog.String("id_conductor", driverID),
				slog.Any("error", err))
		}
		s.watchdog.Forget(driverID)
	}

	return nil
}
