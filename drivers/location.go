package main

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const driverLocationsKey = "driver_locations"

// redisLocationStore keeps last-known driver positions in a Redis geo set.
// GEOADD overwrites the member, so the latest report always wins.
type redisLocationStore struct {
	rdb *redis.Client
}

func NewLocationStore(rdb *redis.Client) *redisLocationStore {
	return &redisLocationStore{rdb: rdb}
}

func (s *redisLocationStore) Update(ctx context.Context, driverID string, lon, lat float64) error {
	return s.rdb.GeoAdd(ctx, driverLocationsKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

var _ LocationStore = (*redisLocationStore)(nil)
