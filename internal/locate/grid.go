package locate

import (
	"math"

	"github.com/paulmach/orb"
)

// Grid is a square-cell scan lattice anchored on the centre of its bound,
// so a symmetric extent always has its centre as a cell. Cells are visited
// in row-major order: rows by increasing y, columns by increasing x.
type Grid struct {
	Center orb.Point
	Step   float64
	HalfX  int
	HalfY  int
}

// NewGrid covers b with cells of the given step. A non-positive step falls
// back to DefaultGridStep. If either side would exceed maxSide cells the step
// is scaled up until both fit, trading resolution for bounded work.
func NewGrid(b orb.Bound, step float64, maxSide int) Grid {
	if step <= 0 || !finite(step) {
		step = DefaultGridStep
	}
	if maxSide < 3 {
		maxSide = 3
	}
	hx := halfSpan(b.Max.X() - b.Min.X())
	hy := halfSpan(b.Max.Y() - b.Min.Y())

	g := Grid{Center: b.Center(), Step: step}
	g.HalfX, g.HalfY = cellsFor(hx, step), cellsFor(hy, step)
	for side := g.side(); side > maxSide; side = g.side() {
		g.Step *= float64(side) / float64(maxSide)
		g.HalfX, g.HalfY = cellsFor(hx, g.Step), cellsFor(hy, g.Step)
	}
	return g
}

// DiskBound is the bounding box of all disk centres padded by the largest
// radius.
func DiskBound(disks []Disk) orb.Bound {
	if len(disks) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, len(disks))
	maxR := 0.0
	for i, d := range disks {
		mp[i] = d.Center
		if d.Radius > maxR {
			maxR = d.Radius
		}
	}
	return mp.Bound().Pad(maxR)
}

// NX is the number of columns.
func (g Grid) NX() int { return 2*g.HalfX + 1 }

// NY is the number of rows.
func (g Grid) NY() int { return 2*g.HalfY + 1 }

// Cells is the total number of grid cells.
func (g Grid) Cells() int { return g.NX() * g.NY() }

// At returns the planar position of cell (ix, iy).
func (g Grid) At(ix, iy int) orb.Point {
	return orb.Point{
		g.Center.X() + float64(ix-g.HalfX)*g.Step,
		g.Center.Y() + float64(iy-g.HalfY)*g.Step,
	}
}

// Bound is the extent spanned by the cell positions.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{Min: g.At(0, 0), Max: g.At(g.NX()-1, g.NY()-1)}
}

func (g Grid) side() int {
	if g.NX() > g.NY() {
		return g.NX()
	}
	return g.NY()
}

func halfSpan(span float64) float64 {
	if !finite(span) || span <= 0 {
		return 0
	}
	return span / 2
}

func cellsFor(half, step float64) int {
	return int(math.Ceil(half / step))
}
