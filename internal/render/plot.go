package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/rssi.map/internal/fsutil"
	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/security"
)

const (
	plotSize       = 8 * vg.Inch
	circleSegments = 72
)

// fieldGrid adapts a score field to plotter.GridXYZ, in local metres.
type fieldGrid struct{ f *locate.Field }

func (g fieldGrid) Dims() (c, r int)   { return g.f.Grid.NX(), g.f.Grid.NY() }
func (g fieldGrid) Z(c, r int) float64 { return g.f.At(c, r) }
func (g fieldGrid) X(c int) float64    { return g.f.Grid.At(c, 0).X() }
func (g fieldGrid) Y(r int) float64    { return g.f.Grid.At(0, r).Y() }

// PlotScoreField draws the accepted score surface as a heat map with the
// sample positions, the chosen location and the reported radius on top.
func PlotScoreField(f *locate.Field) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %q  mode=%s score=%.3f r=%.1fm", f.Key.MAC, f.Key.SSID, f.Mode, f.Score, f.Radius)
	p.X.Label.Text = "east (m)"
	p.Y.Label.Text = "north (m)"

	// The heat map needs at least two cells per axis to size them.
	if nx, ny := (fieldGrid{f}).Dims(); nx > 1 && ny > 1 {
		hm := plotter.NewHeatMap(fieldGrid{f}, palette.Heat(16, 1))
		if hm.Max <= hm.Min {
			hm.Max = hm.Min + 1
		}
		p.Add(hm)
	}

	samples := make(plotter.XYs, len(f.Disks))
	for i, d := range f.Disks {
		samples[i] = plotter.XY{X: d.Center.X(), Y: d.Center.Y()}
	}
	sc, err := plotter.NewScatter(samples)
	if err != nil {
		return nil, fmt.Errorf("sample scatter: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(2.5)
	sc.GlyphStyle.Color = color.RGBA{R: 0x30, G: 0x90, B: 0xff, A: 0xff}
	p.Add(sc)

	best, err := plotter.NewScatter(plotter.XYs{{X: f.Best.X(), Y: f.Best.Y()}})
	if err != nil {
		return nil, fmt.Errorf("best scatter: %w", err)
	}
	best.GlyphStyle.Shape = draw.CrossGlyph{}
	best.GlyphStyle.Radius = vg.Points(6)
	best.GlyphStyle.Color = color.White
	p.Add(best)

	ring := make(plotter.XYs, circleSegments+1)
	for i := range ring {
		a := 2 * math.Pi * float64(i) / circleSegments
		ring[i] = plotter.XY{X: f.Best.X() + f.Radius*math.Cos(a), Y: f.Best.Y() + f.Radius*math.Sin(a)}
	}
	line, err := plotter.NewLine(ring)
	if err != nil {
		return nil, fmt.Errorf("radius ring: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.White
	p.Add(line)

	return p, nil
}

// ScoreFieldFilename is the PNG name used for a device's plot.
func ScoreFieldFilename(key locate.GroupKey) string {
	name := key.MAC
	if key.SSID != "" {
		name += "_" + key.SSID
	}
	return security.SanitizeFilename(name) + ".png"
}

// WriteScoreFieldPNG renders f and writes it under dir, returning the path.
func WriteScoreFieldPNG(fsys fsutil.FileSystem, dir string, f *locate.Field) (string, error) {
	p, err := PlotScoreField(f)
	if err != nil {
		return "", err
	}
	wt, err := p.WriterTo(plotSize, plotSize, "png")
	if err != nil {
		return "", fmt.Errorf("failed to encode plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("failed to encode plot: %w", err)
	}

	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create plot dir: %w", err)
	}
	path := filepath.Join(dir, ScoreFieldFilename(f.Key))
	if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
