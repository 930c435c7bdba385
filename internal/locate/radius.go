package locate

import (
	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
)

// flatSpread is the RSSI spread below which all samples are treated as equal.
const flatSpread = 1e-9

// MapRadii converts RSSI values to radii in [rMin, rMax] by rank within the
// set: the strongest value maps to rMin and the weakest to rMax, linearly in
// between. No path-loss model is assumed. A flat set maps to the midpoint.
func MapRadii(rssi []float64, rMin, rMax float64) []float64 {
	out := make([]float64, len(rssi))
	if len(rssi) == 0 {
		return out
	}
	hi := floats.Max(rssi)
	lo := floats.Min(rssi)
	spread := hi - lo
	for i, v := range rssi {
		t := 0.5
		if spread >= flatSpread {
			t = clamp((hi-v)/spread, 0, 1)
		}
		out[i] = rMin + t*(rMax-rMin)
	}
	return out
}

// Disk is a projected sample with its mapped detection radius.
type Disk struct {
	Center orb.Point
	Radius float64
	RSSI   float64
}

// BuildDisks maps the samples' RSSI to radii.
func BuildDisks(samples []ProjectedSample, rMin, rMax float64) []Disk {
	rssi := make([]float64, len(samples))
	for i, s := range samples {
		rssi[i] = s.RSSI
	}
	radii := MapRadii(rssi, rMin, rMax)
	disks := make([]Disk, len(samples))
	for i, s := range samples {
		disks[i] = Disk{Center: s.Pos, Radius: radii[i], RSSI: s.RSSI}
	}
	return disks
}
