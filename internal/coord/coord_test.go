package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/logparser"
)

func TestFirstFixBecomesLocalOrigin(t *testing.T) {
	a := New(DefaultOptions())
	first := logparser.GeoFix{Time: 0, LatDeg: 31.23, LonDeg: 121.47, HeadingDeg: 0, HeadingValid: true}
	fix, ok := a.Convert(first)
	require.True(t, ok)
	assert.InDelta(t, 0, fix.Position.X, 1e-6)
	assert.InDelta(t, 0, fix.Position.Y, 1e-6)
}

func TestSecondFixIsRelativeToOrigin(t *testing.T) {
	a := New(DefaultOptions())
	_, ok := a.Convert(logparser.GeoFix{Time: 0, LatDeg: 31.23, LonDeg: 121.47, HeadingDeg: 0, HeadingValid: true})
	require.True(t, ok)

	second, ok := a.Convert(logparser.GeoFix{Time: 1, LatDeg: 31.231, LonDeg: 121.47, HeadingDeg: 0, HeadingValid: true})
	require.True(t, ok)
	assert.Greater(t, second.Position.Y, 0.0)
}

func TestHeadingInvalidStillProjectsPosition(t *testing.T) {
	a := New(DefaultOptions())
	fix, ok := a.Convert(logparser.GeoFix{Time: 0, LatDeg: 31.23, LonDeg: 121.47, HeadingDeg: 10, HeadingValid: false})
	require.True(t, ok)
	assert.False(t, fix.HeadingValid)
}

func TestAntennaLeverArmShiftsPosition(t *testing.T) {
	plain := New(DefaultOptions())
	p0, _ := plain.Convert(logparser.GeoFix{Time: 0, LatDeg: 31.23, LonDeg: 121.47, HeadingDeg: 0, HeadingValid: true})

	opt := DefaultOptions()
	opt.AntennaLeverArm.X = 1.0
	withArm := New(opt)
	p1, _ := withArm.Convert(logparser.GeoFix{Time: 0, LatDeg: 31.23, LonDeg: 121.47, HeadingDeg: 0, HeadingValid: true})

	assert.InDelta(t, p0.Position.X-1.0, p1.Position.X, 1e-9)
}
