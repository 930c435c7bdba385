package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/paulmach/orb"
)

// Radii outside this band share the end colours so one outlier does not
// wash out the palette.
const (
	colorRadiusMin = 5.0
	colorRadiusMax = 60.0
)

// minSpanDeg keeps the axes from collapsing onto a single device.
const minSpanDeg = 0.0005

var radiusColors = []string{"#0b6e2f", "#108a3c", "#19a84a", "#32c766", "#63dd8b", "#a3f0bd"}

// RenderMapHTML writes a self-contained ECharts page plotting every AP by
// longitude and latitude, coloured by radius, plus the optional position
// marker.
func RenderMapHTML(w io.Writer, aps []AP, me *Position) error {
	pts := make([]opts.ScatterData, 0, len(aps))
	mp := make(orb.MultiPoint, 0, len(aps)+1)
	for _, a := range aps {
		pts = append(pts, opts.ScatterData{
			Name:  fmt.Sprintf("%s · %s · r=%.1fm", a.MAC, a.SSID, a.RadiusM),
			Value: []interface{}{a.Lon, a.Lat, a.RadiusM},
		})
		mp = append(mp, orb.Point{a.Lon, a.Lat})
	}
	if me != nil {
		mp = append(mp, orb.Point{me.Lon, me.Lat})
	}

	subtitle := fmt.Sprintf("APs: %d", len(aps))
	if me != nil {
		subtitle += " · me"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RSSI Map", Theme: "dark", Width: "100%", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Located access points", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        colorRadiusMin,
			Max:        colorRadiusMax,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: radiusColors},
		}),
	)

	if len(mp) > 0 {
		b := mp.Bound()
		padX := max((b.Max.X()-b.Min.X())*0.05, minSpanDeg)
		padY := max((b.Max.Y()-b.Min.Y())*0.05, minSpanDeg)
		scatter.SetGlobalOptions(
			charts.WithXAxisOpts(opts.XAxis{Min: b.Min.X() - padX, Max: b.Max.X() + padX, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: b.Min.Y() - padY, Max: b.Max.Y() + padY, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
		)
	}

	scatter.AddSeries("access points", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if me != nil {
		scatter.AddSeries("me", []opts.ScatterData{{
			Name:  me.Label,
			Value: []interface{}{me.Lon, me.Lat},
		}}, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff3b30"}))
	}

	return scatter.Render(w)
}
