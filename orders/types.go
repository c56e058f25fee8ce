package main

import (
	"context"
	"errors"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	ErrTransitionConflict   = errors.New("order state changed concurrently")
	ErrInvalidStatus        = errors.New("invalid order status")
)

// Valid order states. "cancelado_*" and "completado" are terminal.
var EstadosPedidoValidos = []string{
	"solicitado",
	"confirmado",
	"buscando_conductor",
	"asignado_conductor",
	"en_proceso_empresa",
	"listo_para_recoger",
	"en_camino_origen",
	"en_origen",
	"viaje_iniciado",
	"en_destino",
	"entregado",
	"completado",
	"cancelado_usuario",
	"cancelado_sistema",
	"cancelado_conductor",
	"problema_reportado",
}

// TransicionesEstadoPermitidas is the allowed-transition matrix. Any update
// whose from→to edge is absent is rejected without mutating state.
var TransicionesEstadoPermitidas = map[string][]string{
	"solicitado": {"confirmado", "cancelado_usuario", "cancelado_sistema"},
	"confirmado": {
		"buscando_conductor",
		"asignado_conductor",
		"en_proceso_empresa",
		"listo_para_recoger",
		"cancelado_sistema",
		"cancelado_usuario",
	},
	"buscando_conductor": {"asignado_conductor", "cancelado_sistema", "confirmado"},
	"asignado_conductor": {
		"en_camino_origen",
		"cancelado_conductor",
		"cancelado_sistema",
		"cancelado_usuario",
	},
	"en_proceso_empresa":  {"listo_para_recoger", "cancelado_sistema"},
	"listo_para_recoger":  {"asignado_conductor", "buscando_conductor", "cancelado_sistema"},
	"en_camino_origen":    {"en_origen", "cancelado_conductor"},
	"en_origen":           {"viaje_iniciado", "cancelado_conductor"},
	"viaje_iniciado":      {"en_destino", "problema_reportado", "cancelado_conductor"},
	"en_destino":          {"entregado", "completado", "problema_reportado"},
	"entregado":           {"completado"},
	"completado":          {},
	"cancelado_usuario":   {},
	"cancelado_sistema":   {},
	"cancelado_conductor": {},
	"problema_reportado":  {"completado", "cancelado_sistema"},
}

// EstadoValido reports whether s names a known order state.
func EstadoValido(s string) bool {
	for _, v := range EstadosPedidoValidos {
		if v == s {
			return true
		}
	}
	return false
}

// TransitionAllowed reports whether the from→to edge exists in the matrix.
func TransitionAllowed(from, to string) bool {
	for _, v := range TransicionesEstadoPermitidas[from] {
		if v == to {
			return true
		}
	}
	return false
}

// EstadosConConductor are the states in which an order must carry an
// assigned driver.
var EstadosConConductor = map[string]bool{
	"asignado_conductor": true,
	"en_camino_origen":   true,
	"en_origen":          true,
	"viaje_iniciado":     true,
	"en_destino":         true,
	"entregado":          true,
	"completado":         true,
}

// OrderItem is one line item, persisted inside the order document so it
// lives and dies with the order.
type OrderItem struct {
	IDItemMenuEmpresa        string  `bson:"id_item_menu_empresa,omitempty" json:"id_item_menu_empresa,omitempty"`
	NombreItem               string  `bson:"nombre_item" json:"nombre_item"`
	Cantidad                 int     `bson:"cantidad" json:"cantidad"`
	PrecioUnitarioRegistrado float64 `bson:"precio_unitario_registrado,omitempty" json:"precio_unitario_registrado,omitempty"`
	NotasItem                string  `bson:"notas_item,omitempty" json:"notas_item,omitempty"`
}

// Order is the authoritative order entity.
type Order struct {
	ID                        string      `bson:"_id" json:"id_pedido"`
	TipoServicio              string      `bson:"tipo_servicio" json:"tipo_servicio"`
	IDClienteExterno          string      `bson:"id_cliente_externo" json:"id_cliente_externo"`
	NombreCliente             string      `bson:"nombre_cliente,omitempty" json:"nombre_cliente,omitempty"`
	TelefonoCliente           string      `bson:"telefono_cliente" json:"telefono_cliente"`
	OrigenDescripcion         string      `bson:"origen_descripcion,omitempty" json:"origen_descripcion,omitempty"`
	OrigenLatitud             *float64    `bson:"origen_latitud,omitempty" json:"origen_latitud,omitempty"`
	OrigenLongitud            *float64    `bson:"origen_longitud,omitempty" json:"origen_longitud,omitempty"`
	DestinoDescripcion        string      `bson:"destino_descripcion,omitempty" json:"destino_descripcion,omitempty"`
	DestinoLatitud            *float64    `bson:"destino_latitud,omitempty" json:"destino_latitud,omitempty"`
	DestinoLongitud           *float64    `bson:"destino_longitud,omitempty" json:"destino_longitud,omitempty"`
	IDEmpresaAsociada         string      `bson:"id_empresa_asociada,omitempty" json:"id_empresa_asociada,omitempty"`
	ItemsPedido               []OrderItem `bson:"items_pedido" json:"items_pedido"`
	DetallesAdicionalesPedido string      `bson:"detalles_adicionales_pedido,omitempty" json:"detalles_adicionales_pedido,omitempty"`
	MetodoPagoSugerido        string      `bson:"metodo_pago_sugerido,omitempty" json:"metodo_pago_sugerido,omitempty"`
	MontoEstimadoPedido       *float64    `bson:"monto_estimado_pedido,omitempty" json:"monto_estimado_pedido,omitempty"`

	EstadoPedido        string     `bson:"estado_pedido" json:"estado_pedido"`
	IDConductorAsignado string     `bson:"id_conductor_asignado,omitempty" json:"id_conductor_asignado,omitempty"`
	FechaCreacion       time.Time  `bson:"fecha_creacion_pedido" json:"fecha_creacion_pedido"`
	FechaActualizacion  time.Time  `bson:"fecha_ultima_actualizacion" json:"fecha_ultima_actualizacion"`
	FechaAsignacion     *time.Time `bson:"fecha_asignacion,omitempty" json:"fecha_asignacion,omitempty"`
	FechaEntregaEstimada *time.Time `bson:"fecha_entrega_estimada,omitempty" json:"fecha_entrega_estimada,omitempty"`
	FechaEntregaReal     *time.Time `bson:"fecha_entrega_real,omitempty" json:"fecha_entrega_real,omitempty"`
}

// StateUpdate is a state-machine transition request.
type StateUpdate struct {
	NuevoEstado         string
	IDConductorAsignado string
}

type OrdersStore interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	GetByStatus(ctx context.Context, status string, limit int64) ([]*Order, error)
	GetByDriver(ctx context.Context, driverID string, limit int64) ([]*Order, error)
	// UpdateState applies the transition only when the stored state still
	// equals fromState; ErrTransitionConflict otherwise.
	UpdateState(ctx context.Context, orderID, fromState string, update StateUpdate) (*Order, error)
}

// Publisher abstracts the broker publish for testability.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// CatalogClient checks merchants against the businesses service.
type CatalogClient interface {
	BusinessExists(ctx context.Context, businessID string) (bool, error)
}

type OrdersService interface {
	CreateOrder(ctx context.Context, payload *broker.OrderPayload) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrdersByStatus(ctx context.Context, status string) ([]*Order, error)
	GetOrdersByDriver(ctx context.Context, driverID string) ([]*Order, error)
	Transition(ctx context.Context, orderID string, update StateUpdate, actorTipo, actorID string) (*Order, error)
}
