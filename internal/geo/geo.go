// Package geo holds the great-circle math used by the station search.
package geo

import "math"

// EarthRadiusKm is the IUGG mean Earth radius.
const EarthRadiusKm = 6371.0088

const degToRad = math.Pi / 180

// HaversineKm returns the great-circle distance between two WGS84 points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox is a lat/lon rectangle. When WrapsAntimeridian is set the
// longitude interval is [MinLon, 180] ∪ [-180, MaxLon].
type BoundingBox struct {
	MinLat, MaxLat    float64
	MinLon, MaxLon    float64
	WrapsAntimeridian bool
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.WrapsAntimeridian {
		return lon >= b.MinLon || lon <= b.MaxLon
	}
	return lon >= b.MinLon && lon <= b.MaxLon
}

// BoundingBoxAround returns a box that contains every point within radiusKm
// of (lat, lon). It over-approximates; callers filter by HaversineKm.
func BoundingBoxAround(lat, lon, radiusKm float64) BoundingBox {
	dLat := radiusKm / EarthRadiusKm / degToRad

	box := BoundingBox{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLon: -180,
		MaxLon: 180,
	}

	// Close to a pole every longitude is reachable.
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		return box
	}

	dLon := math.Asin(math.Sin(radiusKm/EarthRadiusKm)/math.Cos(lat*degToRad)) / degToRad
	box.MinLon = lon - dLon
	box.MaxLon = lon + dLon

	switch {
	case box.MinLon < -180:
		box.MinLon += 360
		box.WrapsAntimeridian = true
	case box.MaxLon > 180:
		box.MaxLon -= 360
		box.WrapsAntimeridian = true
	}
	return box
}
