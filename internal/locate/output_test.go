package locate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEstimates() []Estimate {
	return []Estimate{
		{MAC: "aa:bb:cc:dd:ee:ff", SSID: `my "net"`, Lat: 52.5, Lon: 13.4, RadiusM: 8, Score: 0.91234, Mode: "min", NUsed: 8},
		{MAC: "aa:bb:cc:dd:ee:01", SSID: "a<b>&c", Lat: -33.865143, Lon: 151.2099, RadiusM: 37.256, Score: 0.1, Mode: "qmin0.20", NUsed: 11},
	}
}

func TestFormatLine(t *testing.T) {
	ests := sampleEstimates()
	assert.Equal(t,
		`aa:bb:cc:dd:ee:ff,"my 'net'",52.50000000,13.40000000,8.00,0.912,min`,
		FormatLine(ests[0]))
	assert.Equal(t,
		`aa:bb:cc:dd:ee:01,"a<b>&c",-33.86514300,151.20990000,37.26,0.100,qmin0.20`,
		FormatLine(ests[1]))
}

func TestWriteLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLines(&buf, sampleEstimates()))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "aa:bb:cc:dd:ee:01,"))
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaryJSON(&buf, sampleEstimates()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "[\n  {\n    \"mac\": \"aa:bb:cc:dd:ee:ff\""))
	assert.True(t, strings.HasSuffix(out, "]\n"))
	assert.Contains(t, out, `"ssid": "a<b>&c"`)
	assert.Contains(t, out, `"radius_m": 8,`)
	assert.Contains(t, out, `"n_used": 11`)

	back, err := ReadSummaryJSON(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleEstimates(), back); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSummaryJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaryJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestReadSummaryJSON_Invalid(t *testing.T) {
	_, err := ReadSummaryJSON(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestWriteGeoJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, sampleEstimates()))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	assert.Equal(t, orb.Point{13.4, 52.5}, f.Geometry)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", f.Properties.MustString("mac"))
	assert.Equal(t, "min", f.Properties.MustString("mode"))
	assert.InDelta(t, 8.0, f.Properties.MustFloat64("radius_m"), 1e-9)
}
