package locate

import (
	"math"
	"sort"
	"strings"
	"time"
)

// MACLength is the length of a normalized colon-hex hardware address.
const MACLength = 17

// MaxSSIDLength caps sanitized broadcast names.
const MaxSSIDLength = 64

// Observation is one signal-strength reading tied to a location fix.
type Observation struct {
	MAC       string
	SSID      string
	Timestamp time.Time
	Lat       float64
	Lon       float64
	RSSI      float64 // dBm
}

// SkipReason records why a row was excluded at the load boundary.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipBadIdentity SkipReason = "bad_identity"
	SkipNonFinite   SkipReason = "non_finite"
	SkipOutOfRange  SkipReason = "out_of_range"
)

// GroupKey identifies one broadcasting device.
type GroupKey struct {
	MAC  string
	SSID string
}

func (k GroupKey) less(o GroupKey) bool {
	if k.MAC != o.MAC {
		return k.MAC < o.MAC
	}
	return k.SSID < o.SSID
}

// Group holds every observation attributed to one GroupKey.
type Group struct {
	Key          GroupKey
	Observations []Observation
}

// NormalizeMAC trims surrounding whitespace and lower-cases the address.
func NormalizeMAC(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SanitizeSSID removes NUL bytes, surrounding whitespace and anything outside
// printable ASCII, then caps the result at MaxSSIDLength.
func SanitizeSSID(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > MaxSSIDLength {
		out = out[:MaxSSIDLength]
	}
	return out
}

// Normalize returns a copy with the identity and name normalized, plus the
// reason the row must be skipped (SkipNone if it is usable).
func (o Observation) Normalize() (Observation, SkipReason) {
	o.MAC = NormalizeMAC(o.MAC)
	o.SSID = SanitizeSSID(o.SSID)
	if len(o.MAC) != MACLength {
		return o, SkipBadIdentity
	}
	if !finite(o.Lat) || !finite(o.Lon) || !finite(o.RSSI) {
		return o, SkipNonFinite
	}
	if o.Lat < -90 || o.Lat > 90 || o.Lon < -180 || o.Lon > 180 {
		return o, SkipOutOfRange
	}
	return o, SkipNone
}

// LoadStats counts what happened to the input rows during grouping.
type LoadStats struct {
	Rows          int                `json:"rows"`
	Skipped       map[SkipReason]int `json:"skipped,omitempty"`
	Groups        int                `json:"groups"`
	DroppedGroups int                `json:"dropped_groups"`
}

// SkippedTotal sums all skip reasons.
func (s LoadStats) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// GroupObservations normalizes rows, discards malformed ones and groups the
// rest by (MAC, SSID). Groups with fewer than minSamples rows are dropped.
// The returned groups are ordered by key; observations keep input order.
func GroupObservations(obs []Observation, minSamples int) ([]Group, LoadStats) {
	stats := LoadStats{Rows: len(obs), Skipped: map[SkipReason]int{}}
	byKey := make(map[GroupKey]*Group)
	var keys []GroupKey

	for _, raw := range obs {
		o, reason := raw.Normalize()
		if reason != SkipNone {
			stats.Skipped[reason]++
			continue
		}
		k := GroupKey{MAC: o.MAC, SSID: o.SSID}
		g, ok := byKey[k]
		if !ok {
			g = &Group{Key: k}
			byKey[k] = g
			keys = append(keys, k)
		}
		g.Observations = append(g.Observations, o)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		g := byKey[k]
		if len(g.Observations) < minSamples {
			stats.DroppedGroups++
			continue
		}
		groups = append(groups, *g)
	}
	stats.Groups = len(groups)
	return groups, stats
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
