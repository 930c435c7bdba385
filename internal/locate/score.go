package locate

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Mode selects how per-sample fade values are combined at a point.
type Mode string

const (
	// ModeStrict takes the minimum fade: every disk must cover the point.
	ModeStrict Mode = "min"
	// ModeQuantile takes a low quantile of the fades, tolerating a small
	// fraction of disagreeing samples.
	ModeQuantile Mode = "qmin"
)

// minRadius is the radius below which a disk covers nothing.
const minRadius = 1e-9

// Fade is the linear coverage of p by d: 1 at the centre, 0 at or beyond
// the radius, always within [0, 1].
func Fade(d Disk, p orb.Point) float64 {
	if d.Radius <= minRadius {
		return 0
	}
	s := 1 - planar.Distance(p, d.Center)/d.Radius
	if s <= 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Quantile returns vals sorted ascending at index round(q*(n-1)), rounding
// half to even. vals is sorted in place. An empty slice yields 0.
func Quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	q = clamp(q, 0, 1)
	sort.Float64s(vals)
	idx := int(math.RoundToEven(q * float64(len(vals)-1)))
	return vals[idx]
}

// Scorer combines all disks' fades at a query point. A Scorer owns a scratch
// buffer and must not be shared between goroutines; use Clone.
type Scorer struct {
	disks   []Disk
	mode    Mode
	q       float64
	scratch []float64
}

// NewScorer builds a scorer over disks. q is only used in ModeQuantile.
func NewScorer(disks []Disk, mode Mode, q float64) *Scorer {
	return &Scorer{
		disks:   disks,
		mode:    mode,
		q:       q,
		scratch: make([]float64, 0, len(disks)),
	}
}

// Clone returns a scorer over the same disks with its own scratch space.
func (s *Scorer) Clone() *Scorer {
	return NewScorer(s.disks, s.mode, s.q)
}

// Mode reports the combiner in use.
func (s *Scorer) Mode() Mode { return s.mode }

// Score returns the combined confidence at p, in [0, 1].
func (s *Scorer) Score(p orb.Point) float64 {
	if len(s.disks) == 0 {
		return 0
	}
	if s.mode == ModeStrict {
		best := 1.0
		for _, d := range s.disks {
			f := Fade(d, p)
			if f == 0 {
				return 0
			}
			if f < best {
				best = f
			}
		}
		return best
	}

	vals := s.scratch[:0]
	for _, d := range s.disks {
		vals = append(vals, Fade(d, p))
	}
	s.scratch = vals
	return Quantile(vals, s.q)
}
