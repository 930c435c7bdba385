// Package testutil provides shared test utilities and fixtures.
//
// The observation builders produce deterministic walks around a known
// transmitter position so estimator output can be checked against it.
package testutil

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// metresPerDegree is the length of one degree of latitude.
const metresPerDegree = 111320.0

// FixtureStart is the timestamp of the first generated observation.
var FixtureStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertJSON checks that rec carries a JSON body.
func AssertJSON(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Offset moves (lat, lon) by east/north metres.
func Offset(lat, lon, east, north float64) (float64, float64) {
	dLat := north / metresPerDegree
	dLon := east / (metresPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}

// Ring returns n readings of one transmitter at (lat, lon), taken on a
// spiral that alternates between near and far passes. RSSI falls off
// linearly with distance, so the strongest readings sit closest.
func Ring(mac, ssid string, lat, lon, spanM float64, n int) []locate.Observation {
	obs := make([]locate.Observation, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		dist := spanM * (0.2 + 0.8*float64(i%4)/3)
		oLat, oLon := Offset(lat, lon, dist*math.Cos(angle), dist*math.Sin(angle))
		obs[i] = locate.Observation{
			MAC:       mac,
			SSID:      ssid,
			Timestamp: FixtureStart.Add(time.Duration(i) * time.Second),
			Lat:       oLat,
			Lon:       oLon,
			RSSI:      -35 - 0.6*dist,
		}
	}
	return obs
}

// Device describes one transmitter in a Survey.
type Device struct {
	MAC  string
	SSID string
	Lat  float64
	Lon  float64
}

// DeviceMAC is the address of the i-th generated device.
func DeviceMAC(i int) string {
	return fmt.Sprintf("02:00:00:00:00:%02x", i)
}

// Survey places count devices 40 m apart on an east-west line starting at
// (lat, lon) and returns them with perDevice readings each.
func Survey(lat, lon float64, count, perDevice int) ([]Device, []locate.Observation) {
	devices := make([]Device, count)
	var obs []locate.Observation
	for i := range devices {
		dLat, dLon := Offset(lat, lon, 40*float64(i), 0)
		devices[i] = Device{MAC: DeviceMAC(i), SSID: fmt.Sprintf("net-%d", i), Lat: dLat, Lon: dLon}
		obs = append(obs, Ring(devices[i].MAC, devices[i].SSID, dLat, dLon, 25, perDevice)...)
	}
	return devices, obs
}

// DistanceM is the small-area distance in metres between two coordinates.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	north := (lat2 - lat1) * metresPerDegree
	east := (lon2 - lon1) * metresPerDegree * math.Cos(lat1*math.Pi/180)
	return math.Hypot(east, north)
}
