package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
)

// dialogue wraps one sender's session for a single turn of the slot-filling
// conversation.
type dialogue struct {
	session     *Session
	profileName string
}

func newDialogue(session *Session, profileName string) *dialogue {
	return &dialogue{session: session, profileName: profileName}
}

func (d *dialogue) name() string {
	return displayName(d.profileName)
}

func (d *dialogue) welcomeMessage() string {
	return fmt.Sprintf(welcomeMessage, d.name())
}

// mergeExtracted folds non-empty extracted fields into the session's order
// data, trimming each value to the field cap. Later turns overwrite earlier
// ones, so the user can correct themselves mid-conversation.
func (d *dialogue) mergeExtracted(extracted *ExtractedData) {
	fields := map[string]string{
		"tipo_servicio":        normalizeServiceType(extracted.TipoServicio),
		"origen":               extracted.Origen,
		"destino":              extracted.Destino,
		"nombre_usuario":       extracted.NombreUsuario,
		"telefono":             extracted.Telefono,
		"metodo_pago":          extracted.MetodoPago,
		"monto":                extracted.Monto,
		"detalles_adicionales": extracted.DetallesAdicionales,
	}

	for key, value := range fields {
		cleaned := strings.TrimSpace(value)
		if cleaned == "" {
			continue
		}
		if runes := []rune(cleaned); len(runes) > maxFieldLen {
			cleaned = string(runes[:maxFieldLen])
		}
		d.session.CurrentOrderData[key] = cleaned
	}
}

// nextPrompt returns (complete, prompt). When complete is true the order
// has every required field and prompt is empty.
func (d *dialogue) nextPrompt() (bool, string) {
	serviceType := d.session.CurrentOrderData["tipo_servicio"]

	required, known := requiredFieldsPerService[serviceType]
	if serviceType == "" || !known {
		return false, fmt.Sprintf(serviceTypePrompt, d.name(), formatServicesList())
	}

	var missing []string
	for _, field := range required {
		if strings.TrimSpace(d.session.CurrentOrderData[field]) == "" {
			missing = append(missing, strings.ReplaceAll(field, "_", " "))
		}
	}

	if len(missing) > 0 {
		d.session.AwaitingMoreInfo = true
		return false, fmt.Sprintf(missingFieldsPrompt,
			d.name(), capitalize(serviceType), strings.Join(missing, ", "))
	}

	return true, ""
}

// buildOrderPayload assembles the broker payload from the filled slots.
func (d *dialogue) buildOrderPayload(senderNumber string) *broker.OrderPayload {
	data := d.session.CurrentOrderData
	serviceType := data["tipo_servicio"]
	if serviceType == "" {
		serviceType = "otro"
	}

	nombre := data["nombre_usuario"]
	if nombre == "" {
		nombre = d.name()
	}

	payload := &broker.OrderPayload{
		IDClienteExterno:          senderNumber,
		NombreCliente:             nombre,
		TelefonoCliente:           senderNumber,
		TipoServicio:              serviceType,
		OrigenDescripcion:         data["origen"],
		DestinoDescripcion:        data["destino"],
		IDEmpresaAsociada:         data["id_empresa"],
		DetallesAdicionalesPedido: data["detalles_adicionales"],
		MetodoPagoSugerido:        data["metodo_pago"],
		MontoEstimadoPedido:       parseMonto(data["monto"]),
		ItemsPedido:               []broker.OrderItemPayload{},
	}

	// Shopping and delivery orders carry their free-text details as a
	// single line item so downstream consumers see something itemized.
	if details := data["detalles_adicionales"]; details != "" &&
		(serviceType == "compras" || serviceType == "domicilio") {
		payload.ItemsPedido = append(payload.ItemsPedido, broker.OrderItemPayload{
			NombreItem: details,
			Cantidad:   1,
		})
	}

	return payload
}

func (d *dialogue) confirmationMessage(serviceType string) string {
	return fmt.Sprintf(orderConfirmed, serviceType)
}

func (d *dialogue) errorMessage(kind string) string {
	switch kind {
	case "audio_not_understood":
		return fmt.Sprintf(audioNotUnderstood, d.name())
	case "audio_error":
		return fmt.Sprintf(audioProcessingError, d.name())
	case "unsupported_media":
		return fmt.Sprintf(unsupportedMediaReply, d.name())
	case "ai_error":
		return fmt.Sprintf(aiError, d.name())
	case "order_failed":
		return orderFailed
	default:
		return fmt.Sprintf(messageNotUnderstood, d.name())
	}
}

func (d *dialogue) clearOrder() {
	d.session.CurrentOrderData = map[string]string{}
	d.session.AwaitingMoreInfo = false
}

// parseMonto strips everything but digits and the decimal point before
// parsing; users write amounts like "$15.000 pesos".
func parseMonto(raw string) *float64 {
	if raw == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return nil
	}
	return &v
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}
