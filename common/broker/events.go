package broker

import "time"

// Wire payloads shared by the services. All bodies are UTF-8 JSON with
// Spanish field names carried over from the production wire format; both
// sides of every queue decode into these structs.

// IncomingMessage is queued by the webhook for asynchronous processing.
type IncomingMessage struct {
	SenderNumber     string    `json:"sender_number" validate:"required"`
	ProfileName      string    `json:"profile_name,omitempty"`
	MessageBody      string    `json:"message_body,omitempty"`
	NumMedia         int       `json:"num_media"`
	MediaURL         string    `json:"media_url,omitempty"`
	MediaContentType string    `json:"media_content_type,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// OrderItemPayload is one line item inside an order payload.
type OrderItemPayload struct {
	IDItemMenuEmpresa        string  `json:"id_item_menu_empresa,omitempty"`
	NombreItem               string  `json:"nombre_item" validate:"required"`
	Cantidad                 int     `json:"cantidad" validate:"required,gt=0"`
	PrecioUnitarioRegistrado float64 `json:"precio_unitario_registrado,omitempty"`
	NotasItem                string  `json:"notas_item,omitempty"`
}

// OrderPayload is published by the dialogue engine (and accepted by the
// orders HTTP API) to create a new order.
type OrderPayload struct {
	IDClienteExterno          string             `json:"id_cliente_externo" validate:"required"`
	NombreCliente             string             `json:"nombre_cliente,omitempty"`
	TelefonoCliente           string             `json:"telefono_cliente" validate:"required"`
	TipoServicio              string             `json:"tipo_servicio" validate:"required,oneof=mototaxi domicilio compras otro"`
	OrigenDescripcion         string             `json:"origen_descripcion,omitempty"`
	OrigenLatitud             *float64           `json:"origen_latitud,omitempty"`
	OrigenLongitud            *float64           `json:"origen_longitud,omitempty"`
	DestinoDescripcion        string             `json:"destino_descripcion,omitempty"`
	DestinoLatitud            *float64           `json:"destino_latitud,omitempty"`
	DestinoLongitud           *float64           `json:"destino_longitud,omitempty"`
	IDEmpresaAsociada         string             `json:"id_empresa_asociada,omitempty"`
	DetallesAdicionalesPedido string             `json:"detalles_adicionales_pedido,omitempty"`
	MetodoPagoSugerido        string             `json:"metodo_pago_sugerido,omitempty"`
	MontoEstimadoPedido       *float64           `json:"monto_estimado_pedido,omitempty"`
	ItemsPedido               []OrderItemPayload `json:"items_pedido"`
}

// DispatchEvent is published by the orders service once an order is
// confirmed, and consumed by the drivers service fan-out.
type DispatchEvent struct {
	IDPedido                  string             `json:"id_pedido"`
	TipoServicio              string             `json:"tipo_servicio"`
	OrigenDescripcion         string             `json:"origen_descripcion,omitempty"`
	OrigenLatitud             *float64           `json:"origen_latitud,omitempty"`
	OrigenLongitud            *float64           `json:"origen_longitud,omitempty"`
	DestinoDescripcion        string             `json:"destino_descripcion,omitempty"`
	DestinoLatitud            *float64           `json:"destino_latitud,omitempty"`
	DestinoLongitud           *float64           `json:"destino_longitud,omitempty"`
	NombreCliente             string             `json:"nombre_cliente,omitempty"`
	TelefonoCliente           string             `json:"telefono_cliente,omitempty"`
	IDEmpresaAsociada         string             `json:"id_empresa_asociada,omitempty"`
	ItemsPedido               []OrderItemPayload `json:"items_pedido"`
	DetallesAdicionalesPedido string             `json:"detalles_adicionales_pedido,omitempty"`
	MetodoPagoSugerido        string             `json:"metodo_pago_sugerido,omitempty"`
	MontoEstimadoPedido       *float64           `json:"monto_estimado_pedido,omitempty"`
	FechaSolicitudUTC         string             `json:"fecha_solicitud_utc"`
}

// AcceptEvent is published by the drivers service when a driver accepts a
// service, and consumed by the orders service. NuevoEstadoParaPedido also
// carries later trip-progress states from the driver.
type AcceptEvent struct {
	IDPedido               string `json:"id_pedido"`
	IDConductorQueAcepto   string `json:"id_conductor_que_acepto"`
	NombreConductor        string `json:"nombre_conductor,omitempty"`
	PlacaVehiculoActiva    string `json:"placa_vehiculo_activa,omitempty"`
	TimestampAceptacionUTC string `json:"timestamp_aceptacion_utc"`
	NuevoEstadoParaPedido  string `json:"nuevo_estado_para_pedido"`
}

// ClientNotificationEvent is published by the orders service after a driver
// is assigned; the bot's outbound leg delivers MensajeParaCliente over the
// chat channel. IDConductorAsignado lets the drivers service confirm the
// assignment for its stuck-driver watchdog.
type ClientNotificationEvent struct {
	IDPedido                string `json:"id_pedido"`
	IDClienteExterno        string `json:"id_cliente_externo"`
	NombreCliente           string `json:"nombre_cliente,omitempty"`
	TipoServicio            string `json:"tipo_servicio"`
	EstadoActualPedido      string `json:"estado_actual_pedido"`
	IDConductorAsignado     string `json:"id_conductor_asignado"`
	NombreConductorAsignado string `json:"nombre_conductor_asignado,omitempty"`
	PlacaVehiculoConductor  string `json:"placa_vehiculo_conductor,omitempty"`
	MensajeParaCliente      string `json:"mensaje_para_cliente"`
}
