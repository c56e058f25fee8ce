package main

import (
	"fmt"
	"strings"
)

// User-facing bot texts. The wording is part of the product; changing it
// changes what thousands of customers read, so keep edits deliberate.

const welcomeMessage = `¡Hola %s! 👋 Soy tu asistente virtual. Ofrezco servicios de:
1️⃣ Mototaxi 🏍️
2️⃣ Domicilios 🛍️
3️⃣ Compras 🛒

Dime qué servicio necesitas o envía un mensaje de voz.`

const processingMessage = "Estoy procesando tu solicitud, por favor espera un momento..."

const (
	audioNotUnderstood    = "¡Hola %s! Recibí tu audio, pero no pude entenderlo."
	audioProcessingError  = "¡Hola %s! Hubo un problema al procesar tu audio."
	unsupportedMediaReply = "¡Hola %s! Recibí un archivo, pero solo proceso audio o texto."
	messageNotUnderstood  = "¡Hola %s! No entendí tu mensaje."
	aiError               = "Lo siento %s, tuve un problema con la IA."
	orderFailed           = "Lo siento, tuvimos un problema al enviar tu pedido. Intenta de nuevo más tarde."
)

const serviceTypePrompt = `Por favor, %s, ¿qué tipo de servicio necesitas?
%s`

const missingFieldsPrompt = "¡Entendido, %s! Para tu servicio de *%s*, necesito: %s."

const orderConfirmed = `¡Tu pedido de *%s* ha sido recibido y está siendo procesado! 🏍️🛍️
Te mantendremos informado.`

// serviceOptions is ordered for the numbered list in prompts.
var serviceOptions = []struct {
	key   string
	label string
}{
	{"mototaxi", "Mototaxi"},
	{"domicilio", "Domicilios"},
	{"compras", "Compras"},
	{"otro", "Otro servicio"},
}

// requiredFieldsPerService drives the slot-filling loop; keys refer to
// session order-data entries.
var requiredFieldsPerService = map[string][]string{
	"mototaxi":  {"nombre_usuario", "origen", "destino", "metodo_pago"},
	"domicilio": {"nombre_usuario", "destino", "metodo_pago", "detalles_adicionales"},
	"compras":   {"nombre_usuario", "detalles_adicionales", "destino", "metodo_pago"},
	"otro":      {"nombre_usuario", "detalles_adicionales", "metodo_pago"},
}

func formatServicesList() string {
	var b strings.Builder
	for i, opt := range serviceOptions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt.label)
	}
	return b.String()
}

// normalizeServiceType maps free-form extraction output onto the canonical
// service set; anything unknown becomes "otro".
func normalizeServiceType(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return ""
	}
	if _, ok := requiredFieldsPerService[normalized]; ok {
		return normalized
	}
	return "otro"
}

// displayName sanitizes the chat profile name for message templates.
func displayName(profileName string) string {
	name := strings.TrimSpace(profileName)
	if runes := []rune(name); len(runes) > maxNameLen {
		name = strings.TrimSpace(string(runes[:maxNameLen]))
	}
	if name == "" {
		return defaultClient
	}
	return name
}
