package main

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDriverNotFound      = errors.New("driver not found")
	ErrDriverNotEligible   = errors.New("driver not eligible for service")
	ErrInvalidAvailability = errors.New("invalid availability state")
	ErrInvalidOrderID      = errors.New("invalid order id")
)

// Availability states. "en_servicio" is only reachable through the
// acceptance CAS, never through the status endpoint.
const (
	DisponibilidadDisponible   = "disponible"
	DisponibilidadNoDisponible = "no_disponible"
	DisponibilidadEnServicio   = "en_servicio"
)

const ValidacionAprobado = "aprobado"

// Vehicle is embedded in the driver document. At most one vehicle is
// active at a time; its plate travels on the accept event.
type Vehicle struct {
	Placa  string `bson:"placa" json:"placa"`
	Tipo   string `bson:"tipo" json:"tipo"`
	Modelo string `bson:"modelo,omitempty" json:"modelo,omitempty"`
	Activo bool   `bson:"activo" json:"activo"`
}

type Driver struct {
	ID                      string    `bson:"_id" json:"id_conductor"`
	NombreCompleto          string    `bson:"nombre_completo" json:"nombre_completo"`
	Telefono                string    `bson:"telefono" json:"telefono"`
	Activo                  bool      `bson:"activo" json:"activo"`
	EstadoValidacionGeneral string    `bson:"estado_validacion_general" json:"estado_validacion_general"`
	EstadoDisponibilidad    string    `bson:"estado_disponibilidad" json:"estado_disponibilidad"`
	Vehiculos               []Vehicle `bson:"vehiculos" json:"vehiculos"`
	FechaRegistro           time.Time `bson:"fecha_registro" json:"fecha_registro"`
	FechaCambioDisponibilidad time.Time `bson:"fecha_cambio_disponibilidad" json:"fecha_cambio_disponibilidad"`
}

// ActiveVehicle returns the first active vehicle, or nil.
func (d *Driver) ActiveVehicle() *Vehicle {
	for i := range d.Vehiculos {
		if d.Vehiculos[i].Activo {
			return &d.Vehiculos[i]
		}
	}
	return nil
}

// IsCandidate reports whether the driver can be offered a service.
func (d *Driver) IsCandidate() bool {
	return d.Activo &&
		d.EstadoValidacionGeneral == ValidacionAprobado &&
		d.EstadoDisponibilidad == DisponibilidadDisponible
}

type DriversStore interface {
	Get(ctx context.Context, driverID string) (*Driver, error)
	// ListCandidates returns active, approved, available drivers.
	ListCandidates(ctx context.Context, limit int64) ([]*Driver, error)
	// MarkInService CAS-flips disponible → en_servicio; ErrDriverNotEligible
	// when the candidacy predicate no longer matches.
	MarkInService(ctx context.Context, driverID string) error
	// MarkAvailable CAS-flips en_servicio → disponible.
	MarkAvailable(ctx context.Context, driverID string) error
	SetAvailability(ctx context.Context, driverID, estado string) error
	// ListStuckInService returns drivers en_servicio since before cutoff.
	ListStuckInService(ctx context.Context, cutoff time.Time) ([]*Driver, error)
}

// Publisher abstracts the broker publish for testability.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// LocationStore persists last-known driver positions.
type LocationStore interface {
	Update(ctx context.Context, driverID string, lon, lat float64) error
}
