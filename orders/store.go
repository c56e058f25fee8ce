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
	DbName   = "orders"
	CollName = "pedidos"
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

func (s *store) Create(ctx context.Context, order *Order) error {
	_, err := s.collection().InsertOne(ctx, order)
	return err
}

func (s *store) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := s.collection().FindOne(ctx, bson.M{"_id": orderID}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *store) GetByStatus(ctx context.Context, status string, limit int64) ([]*Order, error) {
	return s.find(ctx, bson.M{"estado_pedido": status}, limit)
}

func (s *store) GetByDriver(ctx context.Context, driverID string, limit int64) ([]*Order, error) {
	return s.find(ctx, bson.M{"id_conductor_asignado": driverID}, limit)
}

func (s *store) find(ctx context.Context, filter bson.M, limit int64) ([]*Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "fecha_creacion_pedido", Value: -1}}).
		SetLimit(limit)

	cur, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var orders []*Order
	if err := cur.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateState flips estado_pedido from fromState to update.NuevoEstado in a
// single conditional UpdateOne. Matching on the current state makes the
// transition linearizable: of two concurrent writers, exactly one matches.
func (s *store) UpdateState(ctx context.Context, orderID, fromState string, update StateUpdate) (*Order, error) {
	now := time.Now().UTC()

	set := bson.M{
		"estado_pedido":              update.NuevoEstado,
		"fecha_ultima_actualizacion": now,
	}
	if update.IDConductorAsignado != "" {
		set["id_conductor_asignado"] = update.IDConductorAsignado
		set["fecha_asignacion"] = now
	}
	switch update.NuevoEstado {
	case "entregado", "completado":
		set["fecha_entrega_real"] = now
	}

	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": orderID, "estado_pedido": fromState},
		bson.M{"$set": set},
	)
	if err != nil {
		return nil, err
	}

	if res.MatchedCount == 0 {
		// Either the order vanished or another writer moved it first.
		if _, err := s.Get(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, ErrTransitionConflict
	}

	return s.Get(ctx, orderID)
}

var _ OrdersStore = (*store)(nil)
