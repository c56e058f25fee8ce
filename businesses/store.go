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
	DbName        = "businesses"
	EmpresasColl  = "empresas"
	MenusCollName = "menus"
)

type store struct {
	db *mongo.Client
}

func NewStore(db *mongo.Client) *store {
	return &store{db}
}

func (s *store) empresas() *mongo.Collection {
	return s.db.Database(DbName).Collection(EmpresasColl)
}

func (s *store) menus() *mongo.Collection {
	return s.db.Database(DbName).Collection(MenusCollName)
}

func (s *store) CreateBusiness(ctx context.Context, b *Business) error {
	_, err := s.empresas().InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return ErrBusinessExists
	}
	return err
}

func (s *store) GetBusiness(ctx context.Context, businessID string) (*Business, error) {
	var b Business
	err := s.empresas().FindOne(ctx, bson.M{"_id": businessID}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindByAPIKeyHash resolves the merchant owning an active key with the given
// hash. Revoked keys never match.
func (s *store) FindByAPIKeyHash(ctx context.Context, keyHash string) (*Business, error) {
	filter := bson.M{"api_keys": bson.M{"$elemMatch": bson.M{
		"key_hash": keyHash,
		"status":   "active",
	}}}

	var b Business
	err := s.empresas().FindOne(ctx, filter).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *store) AddAPIKey(ctx context.Context, businessID string, key APIKey) error {
	res, err := s.empresas().UpdateOne(ctx,
		bson.M{"_id": businessID},
		bson.M{"$push": bson.M{"api_keys": key}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrBusinessNotFound
	}
	return nil
}

func (s *store) RevokeAPIKey(ctx context.Context, businessID, keyID string) error {
	res, err := s.empresas().UpdateOne(ctx,
		bson.M{"_id": businessID, "api_keys.key_id": keyID},
		bson.M{"$set": bson.M{
			"api_keys.$.status":     "revoked",
			"api_keys.$.revoked_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInvalidAPIKey
	}
	return nil
}

// menuDocument is the per-merchant menu container: one document holding the
// whole item list, replaced or patched atomically.
type menuDocument struct {
	IDEmpresa           string     `bson:"id_empresa"`
	ItemsMenu           []MenuItem `bson:"items_menu"`
	UltimaActualizacion time.Time  `bson:"ultima_actualizacion"`
}

func (s *store) GetMenu(ctx context.Context, businessID string) ([]MenuItem, error) {
	var doc menuDocument
	err := s.menus().FindOne(ctx, bson.M{"id_empresa": businessID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMenuNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.ItemsMenu, nil
}

func (s *store) ReplaceMenu(ctx context.Context, businessID string, items []MenuItem) error {
	doc := menuDocument{
		IDEmpresa:           businessID,
		ItemsMenu:           items,
		UltimaActualizacion: time.Now().UTC(),
	}
	_, err := s.menus().ReplaceOne(ctx,
		bson.M{"id_empresa": businessID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *store) AddMenuItem(ctx context.Context, businessID string, item MenuItem) error {
	_, err := s.menus().UpdateOne(ctx,
		bson.M{"id_empresa": businessID},
		bson.M{
			"$push": bson.M{"items_menu": item},
			"$set":  bson.M{"ultima_actualizacion": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *store) UpdateMenuItem(ctx context.Context, businessID, itemUUID string, update MenuItemUpdate) error {
	set := bson.M{"ultima_actualizacion": time.Now().UTC()}
	if update.Nombre != nil {
		set["items_menu.$.nombre"] = *update.Nombre
	}
	if update.Descripcion != nil {
		set["items_menu.$.descripcion"] = *update.Descripcion
	}
	if update.PrecioBase != nil {
		set["items_menu.$.precio_base"] = *update.PrecioBase
	}
	if update.Moneda != nil {
		set["items_menu.$.moneda"] = *update.Moneda
	}
	if update.CategoriaNombre != nil {
		set["items_menu.$.categoria_nombre"] = *update.CategoriaNombre
	}
	if update.Disponible != nil {
		set["items_menu.$.disponible"] = *update.Disponible
	}
	if update.IDExternoItem != nil {
		set["items_menu.$.id_externo_item"] = *update.IDExternoItem
	}
	if update.ImagenURL != nil {
		set["items_menu.$.imagen_url"] = *update.ImagenURL
	}

	res, err := s.menus().UpdateOne(ctx,
		bson.M{"id_empresa": businessID, "items_menu.item_uuid": itemUUID},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *store) DeleteMenuItem(ctx context.Context, businessID, itemUUID string) error {
	res, err := s.menus().UpdateOne(ctx,
		bson.M{"id_empresa": businessID},
		bson.M{
			"$pull": bson.M{"items_menu": bson.M{"item_uuid": itemUUID}},
			"$set":  bson.M{"ultima_actualizacion": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

var _ BusinessesStore = (*store)(nil)
