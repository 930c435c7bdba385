package locate

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"
)

// ContourFraction is the share of the best score that bounds the
// uncertainty region.
const ContourFraction = 0.5

// ContourRadius returns the largest distance from best to any cell scoring at
// least ContourFraction of bestScore, floored at rMin. A non-positive best
// score yields rMin.
func ContourRadius(g Grid, s *Scorer, best orb.Point, bestScore, rMin float64, workers int) float64 {
	thr := ContourFraction * bestScore
	if thr <= 0 {
		return rMin
	}

	bands := rowBands(g.NY(), workers)
	far := make([]float64, len(bands))
	if len(bands) == 1 {
		far[0] = contourBand(g, s, best, thr, bands[0][0], bands[0][1])
	} else {
		var eg errgroup.Group
		for i, b := range bands {
			sc := s.Clone()
			eg.Go(func() error {
				far[i] = contourBand(g, sc, best, thr, b[0], b[1])
				return nil
			})
		}
		_ = eg.Wait()
	}

	rad := rMin
	for _, d := range far {
		if d > rad {
			rad = d
		}
	}
	return rad
}

func contourBand(g Grid, s *Scorer, best orb.Point, thr float64, y0, y1 int) float64 {
	far := 0.0
	nx := g.NX()
	for iy := y0; iy < y1; iy++ {
		for ix := 0; ix < nx; ix++ {
			p := g.At(ix, iy)
			if s.Score(p) < thr {
				continue
			}
			if d := planar.Distance(p, best); d > far {
				far = d
			}
		}
	}
	return far
}
