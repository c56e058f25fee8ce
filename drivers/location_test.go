package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocationTestStore(t *testing.T) (*redisLocationStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLocationStore(rdb), rdb
}

func TestLocationUpdateStoresPosition(t *testing.T) {
	store, rdb := newLocationTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "driver-1", -75.5636, 6.2518))

	pos, err := rdb.GeoPos(ctx, driverLocationsKey, "driver-1").Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, -75.5636, pos[0].Longitude, 0.001)
	assert.InDelta(t, 6.2518, pos[0].Latitude, 0.001)
}

func TestLocationUpdateLatestWins(t *testing.T) {
	store, rdb := newLocationTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "driver-1", -75.5636, 6.2518))
	require.NoError(t, store.Update(ctx, "driver-1", -75.5700, 6.2600))

	pos, err := rdb.GeoPos(ctx, driverLocationsKey, "driver-1").Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, -75.5700, pos[0].Longitude, 0.001)
	assert.InDelta(t, 6.2600, pos[0].Latitude, 0.001)
}

func TestLocationUpdateValidation(t *testing.T) {
	lat, lon := 6.2518, -75.5636
	valid := locationUpdate{Lat: &lat, Lon: &lon}
	assert.True(t, valid.valid())

	badLat := 95.0
	assert.False(t, (&locationUpdate{Lat: &badLat, Lon: &lon}).valid())
	assert.False(t, (&locationUpdate{Lon: &lon}).valid())
	assert.False(t, (&locationUpdate{Lat: &lat}).valid())
}
