package locate

import (
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// EmptyOverlap is the strict score at or below which the strict phase is
// considered to have found no common region.
const EmptyOverlap = 1e-6

// cellHit is the best cell of one scanned row band.
type cellHit struct {
	score  float64
	ix, iy int
}

// ScanGrid evaluates every cell of g and returns the highest-scoring cell.
// Ties resolve to the first cell in row-major order no matter how many
// workers share the scan.
func ScanGrid(g Grid, s *Scorer, workers int) (orb.Point, float64) {
	bands := rowBands(g.NY(), workers)
	hits := make([]cellHit, len(bands))

	if len(bands) == 1 {
		hits[0] = scanBand(g, s, bands[0][0], bands[0][1])
	} else {
		var eg errgroup.Group
		for i, b := range bands {
			sc := s.Clone()
			eg.Go(func() error {
				hits[i] = scanBand(g, sc, b[0], b[1])
				return nil
			})
		}
		_ = eg.Wait()
	}

	// Bands are reduced in row order with a strict comparison so an earlier
	// band keeps a tie.
	best := cellHit{score: -1}
	for _, h := range hits {
		if h.score > best.score {
			best = h
		}
	}
	return g.At(best.ix, best.iy), best.score
}

func scanBand(g Grid, s *Scorer, y0, y1 int) cellHit {
	best := cellHit{score: -1, iy: y0}
	nx := g.NX()
	for iy := y0; iy < y1; iy++ {
		for ix := 0; ix < nx; ix++ {
			if v := s.Score(g.At(ix, iy)); v > best.score {
				best = cellHit{score: v, ix: ix, iy: iy}
			}
		}
	}
	return best
}

// rowBands splits ny rows into at most workers contiguous [start, end) bands.
func rowBands(ny, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > ny {
		workers = ny
	}
	bands := make([][2]int, 0, workers)
	per, extra := ny/workers, ny%workers
	start := 0
	for i := 0; i < workers; i++ {
		n := per
		if i < extra {
			n++
		}
		bands = append(bands, [2]int{start, start + n})
		start += n
	}
	return bands
}

// SearchResult is the outcome of the two-phase grid search.
type SearchResult struct {
	Grid  Grid
	Best  orb.Point
	Score float64
	// Mode is the combiner of the accepted phase.
	Mode Mode
	// StrictScore is the best strict score, kept for diagnostics when the
	// fallback phase was accepted.
	StrictScore float64
	// Scorer is the accepted phase's scorer, reused for contour extraction.
	Scorer *Scorer
}

type searchState int

const (
	stateStrictSearch searchState = iota
	stateFallbackSearch
	stateAccept
)

// Search locates the highest-confidence cell for a set of disks. The strict
// phase runs first; only when it finds no common region does the relaxed
// quantile phase run.
func Search(disks []Disk, p Params) SearchResult {
	res := SearchResult{Grid: NewGrid(DiskBound(disks), p.GridStep, p.GridMax)}

	state := stateStrictSearch
	for state != stateAccept {
		switch state {
		case stateStrictSearch:
			res.Scorer = NewScorer(disks, ModeStrict, 0)
			res.Best, res.Score = ScanGrid(res.Grid, res.Scorer, p.ScanWorkers)
			res.Mode, res.StrictScore = ModeStrict, res.Score
			state = stateAccept
			if res.Score <= EmptyOverlap {
				state = stateFallbackSearch
			}
		case stateFallbackSearch:
			res.Scorer = NewScorer(disks, ModeQuantile, p.FallbackQuantile)
			res.Best, res.Score = ScanGrid(res.Grid, res.Scorer, p.ScanWorkers)
			res.Mode = ModeQuantile
			state = stateAccept
		}
	}
	return res
}
