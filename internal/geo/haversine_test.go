package geo

import (
	"math"
	"testing"
)

func TestDistanceZero(t *testing.T) {
	d := Distance(-6.2000, 106.8166, -6.2000, 106.8166)
	if d > 1e-6 {
		t.Fatalf("distance to self = %f, want 0", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{-6.2000, 106.8166, -6.1751, 106.8650},
		{0, 0, 10, 10},
		{51.5007, -0.1246, 48.8584, 2.2945},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1], p[2], p[3])
		ba := Distance(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-6 {
			t.Errorf("distance not symmetric: %f vs %f", ab, ba)
		}
	}
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	// One degree of latitude along a meridian is pi/180 * R.
	want := math.Pi / 180 * earthRadiusMeters
	got := Distance(-6.0, 106.8166, -7.0, 106.8166)
	if math.Abs(got-want) > 1 {
		t.Fatalf("one degree latitude = %f m, want %f m", got, want)
	}
}

func TestDistanceShortRange(t *testing.T) {
	// ~155 m east-west at Jakarta's latitude; the scale geofences operate at.
	got := Distance(-6.2000, 106.8166, -6.2000, 106.8180)
	if got < 140 || got > 170 {
		t.Fatalf("short range distance = %f m, want ~155 m", got)
	}
}
