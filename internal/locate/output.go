package locate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WriteSummaryJSON writes ests as an indented JSON array followed by a
// newline. Non-ASCII and HTML characters are written as-is.
func WriteSummaryJSON(w io.Writer, ests []Estimate) error {
	if ests == nil {
		ests = []Estimate{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ests); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// ReadSummaryJSON decodes a document written by WriteSummaryJSON.
func ReadSummaryJSON(r io.Reader) ([]Estimate, error) {
	var ests []Estimate
	if err := json.NewDecoder(r).Decode(&ests); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return ests, nil
}

// FormatLine renders one estimate as a single CSV-like line. Double quotes in
// the SSID become single quotes so the quoted field stays well formed.
func FormatLine(e Estimate) string {
	return fmt.Sprintf("%s,\"%s\",%.8f,%.8f,%.2f,%.3f,%s",
		e.MAC, strings.ReplaceAll(e.SSID, `"`, `'`), e.Lat, e.Lon, e.RadiusM, e.Score, e.Mode)
}

// WriteLines writes one FormatLine per estimate.
func WriteLines(w io.Writer, ests []Estimate) error {
	bw := bufio.NewWriter(w)
	for _, e := range ests {
		if _, err := fmt.Fprintln(bw, FormatLine(e)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FeatureCollection converts ests to GeoJSON point features carrying the
// estimate fields as properties.
func FeatureCollection(ests []Estimate) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range ests {
		f := geojson.NewFeature(orb.Point{e.Lon, e.Lat})
		f.Properties["mac"] = e.MAC
		f.Properties["ssid"] = e.SSID
		f.Properties["radius_m"] = e.RadiusM
		f.Properties["score"] = e.Score
		f.Properties["mode"] = e.Mode
		f.Properties["n_used"] = e.NUsed
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes ests as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, ests []Estimate) error {
	data, err := FeatureCollection(ests).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
