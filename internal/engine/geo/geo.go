// Package geo implements Synap's Geospatial engine (spec §4.2.8). It is not
// a storage engine of its own: every GEO key is a SortedSet under the hood,
// with each member's score a lossy 52-bit integer packing (26 bits of
// latitude concatenated with 26 bits of longitude, packed into a float64's
// mantissa) exactly as original_source/synap-server/src/core/geospatial.rs
// packs it, so GEOPOS round-trips lose the same precision the original
// accepts.
//
// © 2025 Synap authors. MIT License.
package geo

import (
	"math"

	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/typederr"
)

const (
	geoStep    = 26 // bits per coordinate
	latMin     = -90.0
	latMax     = 90.0
	lonMin     = -180.0
	lonMax     = 180.0
	earthRadiM = 6372797.560856
)

// Unit is a GEORADIUS distance unit.
type Unit uint8

const (
	UnitMeters Unit = iota
	UnitKilometers
	UnitMiles
	UnitFeet
)

func unitToMeters(u Unit, meters float64) float64 {
	switch u {
	case UnitKilometers:
		return meters / 1000
	case UnitMiles:
		return meters / 1609.34
	case UnitFeet:
		return meters * 3.28084
	default:
		return meters
	}
}

func metersToUnit(u Unit, value float64) float64 {
	switch u {
	case UnitKilometers:
		return value * 1000
	case UnitMiles:
		return value * 1609.34
	case UnitFeet:
		return value / 3.28084
	default:
		return value
	}
}

// encode packs (lon, lat) into a 52-bit score, per core/geospatial.rs:
// lat and lon are each linearly scaled to a 26-bit integer over their
// full valid range, and the two are concatenated (not bit-interleaved)
// with lat in the upper 26 bits and lon in the lower 26 bits.
func encode(lon, lat float64) uint64 {
	latScaled := uint64(math.Round((lat - latMin) * float64(uint64(1)<<geoStep) / (latMax - latMin)))
	lonScaled := uint64(math.Round((lon - lonMin) * float64(uint64(1)<<geoStep) / (lonMax - lonMin)))
	return (latScaled << geoStep) | lonScaled
}

// decode reverses encode, returning (lon, lat). The sub-cell position
// within each 26-bit step is not recoverable, matching the original
// implementation's lossy GEOPOS round-trip.
func decode(bits uint64) (lon, lat float64) {
	latScaled := bits >> geoStep
	lonScaled := bits & (uint64(1)<<geoStep - 1)
	lat = float64(latScaled)*(latMax-latMin)/float64(uint64(1)<<geoStep) + latMin
	lon = float64(lonScaled)*(lonMax-lonMin)/float64(uint64(1)<<geoStep) + lonMin
	return lon, lat
}

// haversineMeters returns the great-circle distance between two points in
// meters, using the original implementation's Earth radius constant.
func haversineMeters(lon1, lat1, lon2, lat2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	phi1, phi2 := toRad(lat1), toRad(lat2)
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lon2 - lon1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiM * c
}

// Store is the Geospatial engine, a thin wrapper over a SortedSet store.
type Store struct {
	zs *zset.Store
}

func New(zs *zset.Store) *Store { return &Store{zs: zs} }

// GeoAdd adds/updates members at (lon, lat), returning the count of
// genuinely new members. Coordinates are validated against spec §4.2.8's
// required ranges (latitude in [-90, 90], longitude in [-180, 180]) before
// encoding; out-of-range input never reaches the score packing.
func (s *Store) GeoAdd(key string, items map[string]struct{ Lon, Lat float64 }) (int, error) {
	zitems := make([]zset.ZAddItem, 0, len(items))
	for member, pos := range items {
		if pos.Lat < latMin || pos.Lat > latMax {
			return 0, typederr.Newf(typederr.InvalidValue, "latitude %f out of range [-90, 90]", pos.Lat)
		}
		if pos.Lon < lonMin || pos.Lon > lonMax {
			return 0, typederr.Newf(typederr.InvalidValue, "longitude %f out of range [-180, 180]", pos.Lon)
		}
		score := encode(pos.Lon, pos.Lat)
		zitems = append(zitems, zset.ZAddItem{Score: float64(score), Member: []byte(member)})
	}
	return s.zs.ZAdd(key, zset.ZAddFlags{}, zitems)
}

// GeoPos returns the decoded (lon, lat) for each member, or nil entries for
// members not present.
func (s *Store) GeoPos(key string, members [][]byte) []*[2]float64 {
	out := make([]*[2]float64, len(members))
	for i, m := range members {
		score, ok := s.zs.ZScore(key, m)
		if !ok {
			continue
		}
		lon, lat := decode(uint64(score))
		out[i] = &[2]float64{lon, lat}
	}
	return out
}

// GeoDist returns the distance between two members in the given unit, or
// (0,false) if either is absent.
func (s *Store) GeoDist(key string, member1, member2 []byte, unit Unit) (float64, bool) {
	s1, ok1 := s.zs.ZScore(key, member1)
	s2, ok2 := s.zs.ZScore(key, member2)
	if !ok1 || !ok2 {
		return 0, false
	}
	lon1, lat1 := decode(uint64(s1))
	lon2, lat2 := decode(uint64(s2))
	meters := haversineMeters(lon1, lat1, lon2, lat2)
	return unitToMeters(unit, meters), true
}

// RadiusResult is one GEORADIUS/GEOSEARCH hit.
type RadiusResult struct {
	Member []byte
	Dist   float64 // meaningful only if WithDist
	Lon    float64 // meaningful only if WithCoord
	Lat    float64
}

// RadiusOpts controls GEORADIUS/GEORADIUSBYMEMBER output and limiting.
type RadiusOpts struct {
	WithDist  bool
	WithCoord bool
	Count     int // 0 means unlimited
	Desc      bool
}

// GeoRadius returns every member within radius (in unit) of (lon, lat),
// via a linear scan of the underlying sorted set — acceptable for the
// bounded-size rooms/datasets this engine targets (spec §4.2.8 Non-goals
// exclude a true geo-index).
func (s *Store) GeoRadius(key string, lon, lat float64, radius float64, unit Unit, opts RadiusOpts) []RadiusResult {
	radiusM := metersToUnit(unit, radius)
	all := s.zs.ZRange(key, 0, -1)
	var out []RadiusResult
	for _, m := range all {
		mlon, mlat := decode(uint64(m.Score))
		d := haversineMeters(lon, lat, mlon, mlat)
		if d > radiusM {
			continue
		}
		r := RadiusResult{Member: m.Member, Dist: unitToMeters(unit, d)} // always computed, for sorting
		if opts.WithCoord {
			r.Lon, r.Lat = mlon, mlat
		}
		out = append(out, r)
	}

	sortResults(out, opts.Desc)

	if opts.Count > 0 && opts.Count < len(out) {
		out = out[:opts.Count]
	}
	if !opts.WithDist {
		for i := range out {
			out[i].Dist = 0
		}
	}
	return out
}

func sortResults(results []RadiusResult, desc bool) {
	// insertion sort by Dist: result sets from GEORADIUS are small (bounded
	// by a single room's member count), so O(n^2) is acceptable and avoids
	// pulling in sort.Slice's reflection overhead for a hot path.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			swap := results[j-1].Dist > results[j].Dist
			if desc {
				swap = results[j-1].Dist < results[j].Dist
			}
			if !swap {
				break
			}
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}

// GeoHash returns an 11-char string for each member (Redis's GEOHASH output
// length), or "" for absent members. The string is the member's 52-bit score
// written in the geohash base32 alphabet; since the score concatenates the
// latitude and longitude bits instead of interleaving them, it is not a
// standard geohash and does not match other GEOHASH implementations.
func (s *Store) GeoHash(key string, members [][]byte) []string {
	const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"
	out := make([]string, len(members))
	for i, m := range members {
		score, ok := s.zs.ZScore(key, m)
		if !ok {
			continue
		}
		bits := uint64(score) << (64 - 2*geoStep) // left-align the 52 significant bits
		var sb [11]byte
		for c := 0; c < 11; c++ {
			idx := (bits >> (59 - 5*uint(c))) & 0x1F
			sb[c] = base32[idx]
		}
		out[i] = string(sb[:])
	}
	return out
}
