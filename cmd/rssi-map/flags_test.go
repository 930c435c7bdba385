package main

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.map/internal/locate"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestParseEstimateFlags_Defaults(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	o, err := parseEstimateFlags(nil, io.Discard)
	require.NoError(t, err)

	want := locate.DefaultParams()
	want.Workers = runtime.NumCPU()
	assert.Equal(t, want, o.params)
	assert.Equal(t, "wifi_obs.db", o.dbPath)
	assert.Equal(t, "summary.json", o.out)
	assert.Equal(t, "iw", o.scanSource)
	assert.False(t, o.print)
	assert.False(t, o.mqtt.Enabled())
}

func TestParseEstimateFlags_Explicit(t *testing.T) {
	o, err := parseEstimateFlags([]string{
		"-db", "walk.db", "-out", "out.json", "-trim", "0.5", "-min-samples", "4",
		"-r-min", "5", "-r-max", "50", "-grid-step", "2", "-grid-max", "100",
		"-q", "0.3", "-print", "-workers", "3", "-geojson", "out.geojson",
		"-plot-dir", "plots", "-save-run", "-verbose",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, locate.Params{
		TrimFraction:     0.5,
		MinSamples:       4,
		RadiusMin:        5,
		RadiusMax:        50,
		GridStep:         2,
		GridMax:          100,
		FallbackQuantile: 0.3,
		Workers:          3,
		ScanWorkers:      1,
	}, o.params)
	assert.Equal(t, "walk.db", o.dbPath)
	assert.Equal(t, "out.geojson", o.geojson)
	assert.Equal(t, "plots", o.plotDir)
	assert.True(t, o.print)
	assert.True(t, o.saveRun)
	assert.True(t, o.verbose)
}

// Config values apply unless the matching flag was given explicitly, even
// when the explicit value equals the flag default.
func TestParseEstimateFlags_ConfigPrecedence(t *testing.T) {
	cfg := writeConfig(t, "tuning.yaml", `
trim_fraction: 0.6
min_samples: 5
r_min: 4
grid_max: 120
fallback_quantile: 0.1
scan_source: nmcli
observation_limit: 1000
`)

	o, err := parseEstimateFlags([]string{"-config", cfg, "-min-samples", "8", "-q", "0.5"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 0.6, o.params.TrimFraction)
	assert.Equal(t, 8, o.params.MinSamples)
	assert.Equal(t, 4.0, o.params.RadiusMin)
	assert.Equal(t, locate.DefaultRadiusMax, o.params.RadiusMax)
	assert.Equal(t, 120, o.params.GridMax)
	assert.Equal(t, 0.5, o.params.FallbackQuantile)
	assert.Equal(t, "nmcli", o.scanSource)
	assert.Equal(t, 1000, o.limit)
}

func TestParseEstimateFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-nope"}},
		{"bad number", []string{"-trim", "lots"}},
		{"invalid params", []string{"-grid-max", "2"}},
		{"r-max below r-min", []string{"-r-min", "50", "-r-max", "10"}},
		{"missing config", []string{"-config", "/nonexistent/tuning.json"}},
		{"positional", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEstimateFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseEstimateFlags_MQTTFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	o, err := parseEstimateFlags([]string{"-mqtt-prefix", "home/rssi"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, o.mqtt.Enabled())
	assert.Equal(t, "tcp://broker:1883", o.mqtt.Broker)
	assert.Equal(t, "home/rssi", o.mqtt.Prefix)
}

func TestParseServeFlags(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	o, err := parseServeFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ":8080", o.listen)
	assert.Equal(t, "web", o.webRoot)
	assert.Equal(t, "iw", o.scanSource)
	assert.Equal(t, time.Duration(0), o.interval)
	assert.Equal(t, 50, o.keepRuns)
	assert.True(t, o.rebuildOnStart)
	assert.Nil(t, o.position)

	cfg := writeConfig(t, "tuning.json", `{"rebuild_interval": "15m", "scan_source": "nmcli", "grid_max": 90}`)
	o, err = parseServeFlags([]string{"-config", cfg, "-lat", "52.52", "-lon", "13.405"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, o.interval)
	assert.Equal(t, "nmcli", o.scanSource)
	assert.Equal(t, 90, o.params.GridMax)
	require.NotNil(t, o.position)
	assert.Equal(t, 52.52, o.position.Lat)

	o, err = parseServeFlags([]string{"-config", cfg, "-interval", "1m", "-scan-src", "iw"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, o.interval)
	assert.Equal(t, "iw", o.scanSource)

	_, err = parseServeFlags([]string{"-listen", ""}, io.Discard)
	assert.Error(t, err)
	_, err = parseServeFlags([]string{"-keep-runs", "-1"}, io.Discard)
	assert.Error(t, err)
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		lat, lon string
		wantNil  bool
		wantErr  bool
	}{
		{"", "", true, false},
		{"52.5", "13.4", false, false},
		{" 52.5 ", "13.4", false, false},
		{"52.5", "", true, true},
		{"north", "13.4", true, true},
		{"52.5", "east", true, true},
		{"95", "13.4", true, true},
		{"52.5", "-181", true, true},
	}
	for _, tt := range tests {
		pos, err := parsePosition(tt.lat, tt.lon)
		if tt.wantErr {
			assert.Error(t, err, "%q,%q", tt.lat, tt.lon)
		} else {
			assert.NoError(t, err, "%q,%q", tt.lat, tt.lon)
		}
		assert.Equal(t, tt.wantNil, pos == nil, "%q,%q", tt.lat, tt.lon)
	}
}
