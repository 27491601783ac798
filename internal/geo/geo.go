package geo

import "math"

const earthRadiusMiles = 3958.8

// Borough names used throughout scoring. The set is fixed — NYC has five.
const (
	Manhattan    = "Manhattan"
	Brooklyn     = "Brooklyn"
	Queens       = "Queens"
	Bronx        = "Bronx"
	StatenIsland = "Staten Island"
)

// Boroughs lists all five boroughs in a stable order.
var Boroughs = []string{Manhattan, Brooklyn, Queens, Bronx, StatenIsland}

// Haversine returns the great-circle distance in miles between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

// BoundingBox returns a lat/lng box of roughly radiusMiles around a point.
// Used as a cheap pre-filter before exact haversine distance checks.
func BoundingBox(lat, lng, radiusMiles float64) (minLat, maxLat, minLng, maxLng float64) {
	latDelta := radiusMiles / 69.0
	lngDelta := radiusMiles / (69.0 * math.Cos(toRadians(lat)))
	return lat - latDelta, lat + latDelta, lng - lngDelta, lng + lngDelta
}

// boroughRule is one row of the derivation table, evaluated top to bottom.
type boroughRule struct {
	match   func(lat, lng float64) bool
	borough string
}

// These are approximate bounding boxes, not authoritative GIS boundaries.
var boroughRules = []boroughRule{
	{func(lat, lng float64) bool { return lat < 40.65 }, StatenIsland},
	{func(lat, lng float64) bool { return lat < 40.75 && lng > -74.05 }, Brooklyn},
	{func(lat, lng float64) bool { return lng > -73.8 }, Queens},
	{func(lat, lng float64) bool { return lat > 40.8 }, Bronx},
}

// DeriveBorough maps coordinates to a borough using the fixed rule table.
// Falls through to Manhattan.
func DeriveBorough(lat, lng float64) string {
	for _, r := range boroughRules {
		if r.match(lat, lng) {
			return r.borough
		}
	}
	return Manhattan
}

// InManhattan reports whether the point is inside the approximate
// Manhattan bounding box.
func InManhattan(lat, lng float64) bool {
	return lat > 40.70 && lat < 40.88 && lng > -74.02 && lng < -73.93
}

// InMidtown reports whether the point is in the Midtown Manhattan core.
func InMidtown(lat, lng float64) bool {
	return lat > 40.74 && lat < 40.77 && lng > -74.00 && lng < -73.97
}

// ValidNYC reports whether coordinates plausibly fall inside the city.
func ValidNYC(lat, lng float64) bool {
	return lat > 40.4 && lat < 41.0 && lng > -74.3 && lng < -73.6
}

// Clamp bounds a score to the [0,100] scale.
func Clamp(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
