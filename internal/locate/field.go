package locate

import "github.com/paulmach/orb"

// Field is the full score surface of one group under its accepted combiner,
// kept for plotting and inspection.
type Field struct {
	Key    GroupKey
	Grid   Grid
	Proj   Projection
	Disks  []Disk
	Mode   Mode
	Best   orb.Point
	Score  float64
	Radius float64
	// Values holds one score per cell in row-major order.
	Values []float64
}

// ScoreField runs the search for g and evaluates the accepted combiner at
// every cell.
func (e *Estimator) ScoreField(g Group) (*Field, error) {
	st, err := e.prepare(g)
	if err != nil {
		return nil, &GroupError{Key: g.Key, Err: err}
	}
	sr := Search(st.disks, e.params)

	f := &Field{
		Key:    g.Key,
		Grid:   sr.Grid,
		Proj:   st.proj,
		Disks:  st.disks,
		Mode:   sr.Mode,
		Best:   sr.Best,
		Score:  sr.Score,
		Radius: ContourRadius(sr.Grid, sr.Scorer, sr.Best, sr.Score, e.params.RadiusMin, e.params.ScanWorkers),
		Values: make([]float64, 0, sr.Grid.Cells()),
	}
	for iy := 0; iy < sr.Grid.NY(); iy++ {
		for ix := 0; ix < sr.Grid.NX(); ix++ {
			f.Values = append(f.Values, sr.Scorer.Score(sr.Grid.At(ix, iy)))
		}
	}
	return f, nil
}

// At returns the score of cell (ix, iy).
func (f *Field) At(ix, iy int) float64 {
	return f.Values[iy*f.Grid.NX()+ix]
}
