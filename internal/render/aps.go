// Package render turns estimator output into the files the web map serves:
// static/aps.json, map.html and optional per-device score plots.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// NoSSID replaces names that are empty or consist only of NUL markers.
const NoSSID = "nosssid"

// AP is one located device as the map consumes it.
type AP struct {
	MAC     string  `json:"mac"`
	SSID    string  `json:"ssid"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

// Position is an optional "you are here" marker.
type Position struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label"`
}

// NewPosition validates lat/lon and returns nil when either is out of range
// or not finite.
func NewPosition(lat, lon float64) *Position {
	if !validLatLon(lat, lon) {
		return nil
	}
	return &Position{Lat: lat, Lon: lon, Label: "current position"}
}

var nulMarkers = []string{`\\x00`, `\x00`, "\x00"}

// CleanSSID maps a broadcast name to something safe to display: NUL bytes
// and their escaped spellings are removed, other non-printable characters
// become '_', and an empty result becomes NoSSID.
func CleanSSID(s string) string {
	switch s {
	case "", NoSSID, `\\x00`, `\x00`, "\x00", "_x00":
		return NoSSID
	}
	for _, m := range nulMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return NoSSID
	}
	return out
}

// FromEstimates converts estimates to map entries, dropping any whose
// position or radius is unusable.
func FromEstimates(ests []locate.Estimate) []AP {
	aps := make([]AP, 0, len(ests))
	for _, e := range ests {
		if ap, ok := newAP(e.MAC, e.SSID, e.Lat, e.Lon, e.RadiusM); ok {
			aps = append(aps, ap)
		}
	}
	return aps
}

// LoadSummary reads a summary document leniently: entries with missing,
// non-numeric or out-of-range coordinates, or a negative radius, are skipped
// rather than failing the load. Numbers given as strings are accepted.
func LoadSummary(r io.Reader) ([]AP, error) {
	var raw []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	aps := make([]AP, 0, len(raw))
	for _, entry := range raw {
		lat, ok1 := number(entry["lat"])
		lon, ok2 := number(entry["lon"])
		rad, ok3 := number(entry["radius_m"])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		mac, _ := entry["mac"].(string)
		ssid, _ := entry["ssid"].(string)
		if ap, ok := newAP(mac, ssid, lat, lon, rad); ok {
			aps = append(aps, ap)
		}
	}
	return aps, nil
}

// WriteAPsJSON writes aps as an indented JSON array with a trailing newline.
func WriteAPsJSON(w io.Writer, aps []AP) error {
	if aps == nil {
		aps = []AP{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(aps)
}

func encodeAPs(aps []AP) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteAPsJSON(&buf, aps); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newAP(mac, ssid string, lat, lon, rad float64) (AP, bool) {
	if !validLatLon(lat, lon) || math.IsNaN(rad) || rad < 0 {
		return AP{}, false
	}
	return AP{
		MAC:     strings.ToLower(mac),
		SSID:    CleanSSID(ssid),
		Lat:     lat,
		Lon:     lon,
		RadiusM: rad,
	}, true
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
