package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Fence accepts points no further than RadiusKm from Center.
type Fence struct {
	Center   Point
	RadiusKm float64
}

// OutOfRangeError is returned by Fence.Check for points outside the fence.
type OutOfRangeError struct {
	DistanceKm float64
	RadiusKm   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("outside geo-fence: %dm away, limit %dm", e.Meters(), int(math.Round(e.RadiusKm*1000)))
}

// Meters is the measured distance rounded to whole metres.
func (e *OutOfRangeError) Meters() int {
	return int(math.Round(e.DistanceKm * 1000))
}

// Check returns the distance from the fence centre to p, and an
// *OutOfRangeError when it exceeds the radius. A point exactly on the
// boundary is accepted.
func (f Fence) Check(p Point) (float64, error) {
	d := Distance(f.Center, p)
	if d > f.RadiusKm {
		return d, &OutOfRangeError{DistanceKm: d, RadiusKm: f.RadiusKm}
	}
	return d, nil
}
