package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var office = Anchor{Latitude: 23.0352554, Longitude: 72.5616832, RadiusMeters: 200}

func TestEvaluateOfficeScenario(t *testing.T) {
	tests := []struct {
		name   string
		north  float64
		within bool
		meters int64
	}{
		{name: "at anchor", north: 0, within: true, meters: 0},
		{name: "180m north", north: 180, within: true, meters: 180},
		{name: "220m north", north: 220, within: false, meters: 220},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Offset(office.Center(), tt.north, 0)
			res := Evaluate(p, office)
			assert.Equal(t, tt.within, res.WithinRadius)
			assert.Equal(t, tt.meters, res.RoundedMeters())
		})
	}
}

func TestEvaluateRadiusBoundary(t *testing.T) {
	p := Offset(office.Center(), 150, 120)
	d := Distance(p, office.Center())

	exact := office
	exact.RadiusMeters = d
	assert.True(t, Evaluate(p, exact).WithinRadius, "point exactly on the radius is inside")

	short := office
	short.RadiusMeters = d - 1
	assert.False(t, Evaluate(p, short).WithinRadius, "one meter beyond the radius is outside")
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	points := []Coordinate{
		office.Center(),
		{Latitude: 51.5072, Longitude: -0.1276},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 0, Longitude: 179.9},
		{Latitude: 0, Longitude: -179.9},
	}
	for _, a := range points {
		assert.Zero(t, Distance(a, a))
		for _, b := range points {
			assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-6)
		}
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// London to Paris is roughly 343.5 km on the mean-radius sphere.
	london := Coordinate{Latitude: 51.5074, Longitude: -0.1278}
	paris := Coordinate{Latitude: 48.8566, Longitude: 2.3522}
	assert.InDelta(t, 343_500, Distance(london, paris), 1_000)
}

func TestAnchorValidate(t *testing.T) {
	require.NoError(t, office.Validate())

	bad := office
	bad.RadiusMeters = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRadius)

	bad = office
	bad.Latitude = 91
	assert.ErrorIs(t, bad.Validate(), ErrInvalidCoordinate)
}
