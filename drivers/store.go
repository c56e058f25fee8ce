package main

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DbName   = "drivers"
	CollName = "conductores"
)

type store struct {
	db *mongo.Client
}

func NewStore(db *mongo.Client) *store {
	return &store{db}
}

func (s *store) collection() *mongo.Collection {
	return s.db.Database(DbName).Collection(CollName)
}

func (s *store) Get(ctx context.Context, driverID string) (*Driver, error) {
	var d Driver
	err := s.collection().FindOne(ctx, bson.M{"_id": driverID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// candidateFilter is the candidacy predicate used both for listing and as
// the CAS condition of MarkInService.
func candidateFilter() bson.M {
	return bson.M{
		"activo":                    true,
		"estado_validacion_general": ValidacionAprobado,
		"estado_disponibilidad":     DisponibilidadDisponible,
	}
}

func (s *store) ListCandidates(ctx context.Context, limit int64) ([]*Driver, error) {
	opts := options.Find().SetLimit(limit)
	cur, err := s.collection().Find(ctx, candidateFilter(), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var drivers []*Driver
	if err := cur.All(ctx, &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

// MarkInService flips disponible → en_servicio only while the full
// candidacy predicate still holds. Of N drivers racing for the same order,
// each either wins its own flip or gets ErrDriverNotEligible; the order
// itself is arbitrated by the orders state machine.
func (s *store) MarkInService(ctx context.Context, driverID string) error {
	filter := candidateFilter()
	filter["_id"] = driverID

	return s.casAvailability(ctx, filter, DisponibilidadEnServicio)
}

// MarkAvailable is the compensation path: en_servicio → disponible.
func (s *store) MarkAvailable(ctx context.Context, driverID string) error {
	filter := bson.M{
		"_id":                   driverID,
		"estado_disponibilidad": DisponibilidadEnServicio,
	}
	return s.casAvailability(ctx, filter, DisponibilidadDisponible)
}

func (s *store) casAvailability(ctx context.Context, filter bson.M, estado string) error {
	res, err := s.collection().UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"estado_disponibilidad":       estado,
		"fecha_cambio_disponibilidad": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDriverNotEligible
	}
	return nil
}

func (s *store) SetAvailability(ctx context.Context, driverID, estado string) error {
	if estado != DisponibilidadDisponible && estado != DisponibilidadNoDisponible {
		return ErrInvalidAvailability
	}

	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": driverID},
		bson.M{"$set": bson.M{
			"estado_disponibilidad":       estado,
			"fecha_cambio_disponibilidad": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (s *store) ListStuckInService(ctx context.Context, cutoff time.Time) ([]*Driver, error) {
	cur, err := s.collection().Find(ctx, bson.M{
		"estado_disponibilidad":       DisponibilidadEnServicio,
		"fecha_cambio_disponibilidad": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var drivers []*Driver
	if err := cur.All(ctx, &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

var _ DriversStore = (*store)(nil)
