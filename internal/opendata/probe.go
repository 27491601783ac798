package opendata

import (
	"strconv"
	"strings"
)

// ProbeString returns the first candidate field that holds a non-empty
// string value.
func ProbeString(rec Record, candidates ...string) (string, bool) {
	for _, key := range candidates {
		v, ok := rec[key]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// ProbeFloat returns the first candidate field parseable as a float.
// Socrata serializes numbers as strings in most legacy datasets.
func ProbeFloat(rec Record, candidates ...string) (float64, bool) {
	for _, key := range candidates {
		v, ok := rec[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(t, "$", ""), ",", ""))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// ProbeCoordinates extracts a lat/lng pair from any of the common Socrata
// location shapes: separate latitude/longitude fields, a GeoJSON point
// ({"type":"Point","coordinates":[lng,lat]}), or a nested location object
// with latitude/longitude keys.
func ProbeCoordinates(rec Record) (lat, lng float64, ok bool) {
	lat, latOK := ProbeFloat(rec, "latitude", "lat", "gtfs_latitude", "stop_lat")
	lng, lngOK := ProbeFloat(rec, "longitude", "lng", "lon", "gtfs_longitude", "stop_lon")
	if latOK && lngOK {
		return lat, lng, true
	}

	for _, key := range []string{"the_geom", "location", "location_1", "georeference"} {
		nested, exists := rec[key]
		if !exists {
			continue
		}
		obj, isMap := nested.(map[string]any)
		if !isMap {
			continue
		}
		if coords, isSlice := obj["coordinates"].([]any); isSlice && len(coords) == 2 {
			lngV, lngIsNum := coords[0].(float64)
			latV, latIsNum := coords[1].(float64)
			if lngIsNum && latIsNum {
				return latV, lngV, true
			}
		}
		if latV, okLat := ProbeFloat(Record(obj), "latitude", "lat"); okLat {
			if lngV, okLng := ProbeFloat(Record(obj), "longitude", "lng"); okLng {
				return latV, lngV, true
			}
		}
	}

	return 0, 0, false
}
