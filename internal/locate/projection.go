package locate

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"
)

// MetersPerDegreeLat is the equirectangular scale used for local projection.
const MetersPerDegreeLat = 111320.0

// KeepCount returns how many of n samples survive trimming: the larger of
// minSamples and ceil(fraction*n), never more than n.
func KeepCount(n, minSamples int, fraction float64) int {
	keep := int(math.Ceil(float64(n) * fraction))
	if minSamples > keep {
		keep = minSamples
	}
	if keep > n {
		keep = n
	}
	return keep
}

// Trim orders a copy of obs strongest-first (stable for equal RSSI) and
// keeps the leading KeepCount samples.
func Trim(obs []Observation, minSamples int, fraction float64) []Observation {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RSSI > sorted[j].RSSI })
	return sorted[:KeepCount(len(sorted), minSamples, fraction)]
}

// Projection is a small-extent equirectangular approximation around an
// origin. It is only meaningful for extents of up to a few kilometres.
type Projection struct {
	Lat0, Lon0 float64
	mPerDegLon float64
}

// NewProjection builds a projection centred on (lat0, lon0).
func NewProjection(lat0, lon0 float64) Projection {
	return Projection{
		Lat0:       lat0,
		Lon0:       lon0,
		mPerDegLon: MetersPerDegreeLat * math.Cos(lat0*math.Pi/180),
	}
}

// OriginOf returns the projection centred on the mean position of obs.
func OriginOf(obs []Observation) Projection {
	lats := make([]float64, len(obs))
	lons := make([]float64, len(obs))
	for i, o := range obs {
		lats[i] = o.Lat
		lons[i] = o.Lon
	}
	return NewProjection(stat.Mean(lats, nil), stat.Mean(lons, nil))
}

// Forward maps a geographic position to planar metres (x east, y north).
func (p Projection) Forward(lat, lon float64) orb.Point {
	return orb.Point{(lon - p.Lon0) * p.mPerDegLon, (lat - p.Lat0) * MetersPerDegreeLat}
}

// Inverse maps planar metres back to latitude and longitude.
func (p Projection) Inverse(pt orb.Point) (lat, lon float64) {
	lat = p.Lat0 + pt.Y()/MetersPerDegreeLat
	lon = p.Lon0
	if p.mPerDegLon != 0 {
		lon += pt.X() / p.mPerDegLon
	}
	return lat, lon
}

// ProjectedSample is a kept observation in local planar coordinates.
type ProjectedSample struct {
	Pos  orb.Point
	RSSI float64
}

// Project converts obs into planar samples relative to p.
func (p Projection) Project(obs []Observation) []ProjectedSample {
	out := make([]ProjectedSample, len(obs))
	for i, o := range obs {
		out[i] = ProjectedSample{Pos: p.Forward(o.Lat, o.Lon), RSSI: o.RSSI}
	}
	return out
}
