package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var school = Point{Lat: 22.583300782581, Lng: 120.35373872070156}

func TestDistanceIdenticalPoints(t *testing.T) {
	assert.Equal(t, 0.0, Distance(school, school))
}

func TestDistanceKnownOffset(t *testing.T) {
	// 0.00162 degrees of latitude is about 180 m anywhere on the globe.
	p := Point{Lat: school.Lat + 0.00162, Lng: school.Lng}
	assert.InDelta(t, 0.180, Distance(school, p), 0.001)
}

func TestFenceAcceptsCentre(t *testing.T) {
	f := Fence{Center: school, RadiusKm: 0.1}
	d, err := f.Check(school)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestFenceRejectsFarPoint(t *testing.T) {
	f := Fence{Center: school, RadiusKm: 0.1}
	d, err := f.Check(Point{Lat: school.Lat + 0.00162, Lng: school.Lng})
	require.Error(t, err)

	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.InDelta(t, 0.180, d, 0.001)
	assert.Equal(t, 180, oor.Meters())
	assert.Contains(t, err.Error(), "180m")
}

func TestFenceMonotonic(t *testing.T) {
	f := Fence{Center: school, RadiusKm: 0.1}
	prev := -1.0
	rejected := false
	for i := 0; i <= 40; i++ {
		p := Point{Lat: school.Lat + float64(i)*0.0001, Lng: school.Lng + float64(i)*0.0001}
		d, err := f.Check(p)
		assert.Greater(t, d, prev, "distance must grow with offset %d", i)
		prev = d
		if rejected {
			assert.Error(t, err, "once rejected, further points must stay rejected (offset %d)", i)
		}
		if err != nil {
			rejected = true
		}
	}
	assert.True(t, rejected)
}

func TestPointValid(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		want bool
	}{
		{"school", school, true},
		{"origin", Point{}, true},
		{"lat too big", Point{Lat: 91, Lng: 0}, false},
		{"lng too small", Point{Lat: 0, Lng: -181}, false},
		{"nan", Point{Lat: math.NaN(), Lng: 0}, false},
		{"inf", Point{Lat: 0, Lng: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.Valid())
		})
	}
}
