package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

type service struct {
	store         OrdersStore
	publisher     Publisher
	catalog       CatalogClient
	validate      *validator.Validate
	metrics       *metrics.DispatchMetrics
	brokerMetrics *metrics.BrokerMetrics
	logger        *slog.Logger
}

func NewService(store OrdersStore, publisher Publisher, catalog CatalogClient, m *metrics.DispatchMetrics, bm *metrics.BrokerMetrics, logger *slog.Logger) *service {
	return &service{
		store:         store,
		publisher:     publisher,
		catalog:       catalog,
		validate:      validator.New(),
		metrics:       m,
		brokerMetrics: bm,
		logger:        logger,
	}
}

// CreateOrder validates the payload, persists the order as "solicitado",
// confirms it, and publishes the dispatch event that triggers the driver
// fan-out. Every service type rides a driver, so every confirmed order is
// dispatched.
func (s *service) CreateOrder(ctx context.Context, payload *broker.OrderPayload) (*Order, error) {
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}

	if payload.IDEmpresaAsociada != "" && s.catalog != nil {
		exists, err := s.catalog.BusinessExists(ctx, payload.IDEmpresaAsociada)
		if err != nil {
			// Catalog being down must not block order intake.
			s.logger.Warn("merchant lookup failed, proceeding without check",
				slog.String("id_empresa", payload.IDEmpresaAsociada),
				slog.String("error", err.Error()))
		} else if !exists {
			return nil, fmt.Errorf("unknown merchant %s", payload.IDEmpresaAsociada)
		}
	}

	now := time.Now().UTC()
	order := &Order{
		ID:                        uuid.NewString(),
		TipoServicio:              payload.TipoServicio,
		IDClienteExterno:          payload.IDClienteExterno,
		NombreCliente:             payload.NombreCliente,
		TelefonoCliente:           payload.TelefonoCliente,
		OrigenDescripcion:         payload.OrigenDescripcion,
		OrigenLatitud:             payload.OrigenLatitud,
		OrigenLongitud:            payload.OrigenLongitud,
		DestinoDescripcion:        payload.DestinoDescripcion,
		DestinoLatitud:            payload.DestinoLatitud,
		DestinoLongitud:           payload.DestinoLongitud,
		IDEmpresaAsociada:         payload.IDEmpresaAsociada,
		ItemsPedido:               itemsFromPayload(payload.ItemsPedido),
		DetallesAdicionalesPedido: payload.DetallesAdicionalesPedido,
		MetodoPagoSugerido:        payload.MetodoPagoSugerido,
		MontoEstimadoPedido:       payload.MontoEstimadoPedido,
		EstadoPedido:              "solicitado",
		FechaCreacion:             now,
		FechaActualizacion:        now,
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.metrics.OrdersCreated.Inc()

	confirmed, err := s.store.UpdateState(ctx, order.ID, "solicitado", StateUpdate{NuevoEstado: "confirmado"})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order %s: %w", order.ID, err)
	}

	if err := s.publishDispatch(ctx, confirmed); err != nil {
		// The order stays confirmed; a later manual or scheduled
		// re-dispatch can pick it up. Creation itself succeeded.
		s.logger.Error("failed to publish dispatch event",
			slog.String("id_pedido", confirmed.ID),
			slog.String("error", err.Error()))
		s.brokerMetrics.PublishFailures.
			WithLabelValues(broker.DispatchExchange, broker.MototaxiDispatchRoutingKey).Inc()
	}

	return confirmed, nil
}

func (s *service) publishDispatch(ctx context.Context, order *Order) error {
	ev := broker.DispatchEvent{
		IDPedido:                  order.ID,
		TipoServicio:              order.TipoServicio,
		OrigenDescripcion:         order.OrigenDescripcion,
		OrigenLatitud:             order.OrigenLatitud,
		OrigenLongitud:            order.OrigenLongitud,
		DestinoDescripcion:        order.DestinoDescripcion,
		DestinoLatitud:            order.DestinoLatitud,
		DestinoLongitud:           order.DestinoLongitud,
		NombreCliente:             order.NombreCliente,
		TelefonoCliente:           order.TelefonoCliente,
		IDEmpresaAsociada:         order.IDEmpresaAsociada,
		ItemsPedido:               itemsToPayload(order.ItemsPedido),
		DetallesAdicionalesPedido: order.DetallesAdicionalesPedido,
		MetodoPagoSugerido:        order.MetodoPagoSugerido,
		MontoEstimadoPedido:       order.MontoEstimadoPedido,
		FechaSolicitudUTC:         order.FechaCreacion.Format(time.RFC3339),
	}
	return s.publisher.Publish(ctx, broker.DispatchExchange, broker.MototaxiDispatchRoutingKey, ev)
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, orderID)
}

func (s *service) GetOrdersByStatus(ctx context.Context, status string) ([]*Order, error) {
	if !EstadoValido(status) {
		return nil, ErrInvalidStatus
	}
	return s.store.GetByStatus(ctx, status, 100)
}

func (s *service) GetOrdersByDriver(ctx context.Context, driverID string) ([]*Order, error) {
	return s.store.GetByDriver(ctx, driverID, 100)
}

// Transition moves an order through the state machine. The matrix gates
// every edge; the store's conditional update makes concurrent writers lose
// cleanly with ErrTransitionConflict instead of clobbering each other.
func (s *service) Transition(ctx context.Context, orderID string, update StateUpdate, actorTipo, actorID string) (*Order, error) {
	if !EstadoValido(update.NuevoEstado) {
		return nil, ErrInvalidStatus
	}

	current, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !TransitionAllowed(current.EstadoPedido, update.NuevoEstado) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed,
			current.EstadoPedido, update.NuevoEstado)
	}

	if EstadosConConductor[update.NuevoEstado] &&
		update.IDConductorAsignado == "" && current.IDConductorAsignado == "" {
		return nil, fmt.Errorf("%w: state %s requires an assigned driver",
			ErrTransitionNotAllowed, update.NuevoEstado)
	}

	updated, err := s.store.UpdateState(ctx, orderID, current.EstadoPedido, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order state changed",
		slog.String("id_pedido", orderID),
		slog.String("from", current.EstadoPedido),
		slog.String("to", updated.EstadoPedido),
		slog.String("actor_tipo", actorTipo),
		slog.String("actor_id", actorID))

	return updated, nil
}

// ApplyAcceptEvent applies a driver acceptance (or a later trip-progress
// update) coming off the updates queue, and on a fresh assignment publishes
// the client notification the bot delivers over chat.
func (s *service) ApplyAcceptEvent(ctx context.Context, ev *broker.AcceptEvent) error {
	if ev.IDPedido == "" || ev.IDConductorQueAcepto == "" || ev.NuevoEstadoParaPedido == "" {
		return fmt.Errorf("%w: missing fields in accept event", ErrInvalidStatus)
	}

	update := StateUpdate{NuevoEstado: ev.NuevoEstadoParaPedido}
	if ev.NuevoEstadoParaPedido == "asignado_conductor" {
		update.IDConductorAsignado = ev.IDConductorQueAcepto
	}

	updated, err := s.Transition(ctx, ev.IDPedido, update, "conductor", ev.IDConductorQueAcepto)
	if err != nil {
		return err
	}

	if ev.NuevoEstadoParaPedido != "asignado_conductor" {
		return nil
	}

	notif := broker.ClientNotificationEvent{
		IDPedido:                updated.ID,
		IDClienteExterno:        updated.IDClienteExterno,
		NombreCliente:           updated.NombreCliente,
		TipoServicio:            updated.TipoServicio,
		EstadoActualPedido:      updated.EstadoPedido,
		IDConductorAsignado:     ev.IDConductorQueAcepto,
		NombreConductorAsignado: ev.NombreConductor,
		PlacaVehiculoConductor:  ev.PlacaVehiculoActiva,
		MensajeParaCliente:      buildAssignmentMessage(updated, ev),
	}

	if err := s.publisher.Publish(ctx, broker.DispatchExchange, broker.NotifyClientRoutingKey, notif); err != nil {
		// The assignment already happened; the client just misses the
		// proactive message. Log it, don't unwind the state change.
		s.logger.Error("failed to publish client notification",
			slog.String("id_pedido", updated.ID),
			slog.String("error", err.Error()))
		s.brokerMetrics.PublishFailures.
			WithLabelValues(broker.DispatchExchange, broker.NotifyClientRoutingKey).Inc()
	}

	return nil
}

func buildAssignmentMessage(order *Order, ev *broker.AcceptEvent) string {
	conductor := ev.NombreConductor
	if conductor == "" {
		conductor = "tu conductor"
	}
	msg := fmt.Sprintf("¡Buenas noticias! 🏍️ %s aceptó tu servicio", conductor)
	if ev.PlacaVehiculoActiva != "" {
		msg += fmt.Sprintf(" (placa %s)", ev.PlacaVehiculoActiva)
	}
	msg += fmt.Sprintf(". Pedido: %s. Ya va en camino.", order.ID)
	return msg
}

func itemsFromPayload(items []broker.OrderItemPayload) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItem{
			IDItemMenuEmpresa:        it.IDItemMenuEmpresa,
			NombreItem:               it.NombreItem,
			Cantidad:                 it.Cantidad,
			PrecioUnitarioRegistrado: it.PrecioUnitarioRegistrado,
			NotasItem:                it.NotasItem,
		})
	}
	return out
}

func itemsToPayload(items []OrderItem) []broker.OrderItemPayload {
	out := make([]broker.OrderItemPayload, 0, len(items))
	for _, it := range items {
		out = append(out, broker.OrderItemPayload{
			IDItemMenuEmpresa:        it.IDItemMenuEmpresa,
			NombreItem:               it.NombreItem,
			Cantidad:                 it.Cantidad,
			PrecioUnitarioRegistrado: it.PrecioUnitarioRegistrado,
			NotasItem:                it.NotasItem,
		})
	}
	return out
}
