package geo

import "math"

const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two
// WGS84 coordinates using the haversine formula. Accuracy is well
// within GPS error for the 10-1000 m radii used by geofenced sessions.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
