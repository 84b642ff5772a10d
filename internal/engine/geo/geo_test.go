package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/typederr"
)

func TestGeoAddGeoPosRoundTripsApproximately(t *testing.T) {
	s := New(zset.New())
	n, err := s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{
		"palermo": {Lon: 13.361389, Lat: 38.115556},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pos := s.GeoPos("rooms", [][]byte{[]byte("palermo"), []byte("missing")})
	require.NotNil(t, pos[0])
	require.InDelta(t, 13.361389, pos[0][0], 0.001)
	require.InDelta(t, 38.115556, pos[0][1], 0.001)
	require.Nil(t, pos[1])
}

func TestGeoDistKnownCities(t *testing.T) {
	s := New(zset.New())
	s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{
		"palermo": {Lon: 13.361389, Lat: 38.115556},
		"catania":  {Lon: 15.087269, Lat: 37.502669},
	})
	dist, ok := s.GeoDist("rooms", []byte("palermo"), []byte("catania"), UnitKilometers)
	require.True(t, ok)
	// Known real-world distance is ~166km; allow generous tolerance for the
	// lossy 26-bit encoding plus haversine approximation.
	require.True(t, math.Abs(dist-166) < 2, "got %f km", dist)
}

func TestGeoDistMissingMember(t *testing.T) {
	s := New(zset.New())
	s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{"a": {Lon: 0, Lat: 0}})
	_, ok := s.GeoDist("rooms", []byte("a"), []byte("missing"), UnitMeters)
	require.False(t, ok)
}

func TestGeoRadiusFindsNearbyAndSortsByDistance(t *testing.T) {
	s := New(zset.New())
	s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{
		"near": {Lon: 13.361389, Lat: 38.115556},
		"far":  {Lon: 15.087269, Lat: 37.502669},
	})
	results := s.GeoRadius("rooms", 13.4, 38.1, 50, UnitKilometers, RadiusOpts{WithDist: true})
	require.Len(t, results, 1)
	require.Equal(t, "near", string(results[0].Member))
}

func TestGeoRadiusCountLimitsResults(t *testing.T) {
	s := New(zset.New())
	s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{
		"a": {Lon: 13.0, Lat: 38.0},
		"b": {Lon: 13.1, Lat: 38.1},
		"c": {Lon: 13.2, Lat: 38.2},
	})
	results := s.GeoRadius("rooms", 13.0, 38.0, 500, UnitKilometers, RadiusOpts{Count: 2})
	require.Len(t, results, 2)
}

func TestGeoHashLength(t *testing.T) {
	s := New(zset.New())
	s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{"a": {Lon: 13.361389, Lat: 38.115556}})
	hashes := s.GeoHash("rooms", [][]byte{[]byte("a"), []byte("missing")})
	require.Len(t, hashes[0], 11)
	require.Empty(t, hashes[1])
}

func TestGeoAddRejectsOutOfRangeCoordinates(t *testing.T) {
	s := New(zset.New())
	_, err := s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{"a": {Lon: 0, Lat: 90.1}})
	require.Error(t, err)
	require.Equal(t, typederr.InvalidValue, typederr.KindOf(err))

	_, err = s.GeoAdd("rooms", map[string]struct{ Lon, Lat float64 }{"a": {Lon: 180.1, Lat: 0}})
	require.Error(t, err)
	require.Equal(t, typederr.InvalidValue, typederr.KindOf(err))
}
