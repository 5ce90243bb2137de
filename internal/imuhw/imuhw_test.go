package imuhw

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaleFactorsMatchDatasheetFullScale(t *testing.T) {
	accelScale, gyroScale := scaleFactors(0, 0) // +-2g, +-250 deg/s
	assert.InDelta(t, 2*gravityMps2/rawFullScale, accelScale, 1e-12)
	assert.InDelta(t, 250*deg2rad/rawFullScale, gyroScale, 1e-12)

	accelScale, gyroScale = scaleFactors(3, 3) // +-16g, +-2000 deg/s
	assert.InDelta(t, 16*gravityMps2/rawFullScale, accelScale, 1e-12)
	assert.InDelta(t, 2000*deg2rad/rawFullScale, gyroScale, 1e-12)
}

func TestScaleFactorsFullScaleCountSaturatesNearRangeLimit(t *testing.T) {
	accelScale, _ := scaleFactors(0, 0)
	maxAccel := accelScale * rawFullScale
	assert.InDelta(t, 2*gravityMps2, maxAccel, 1e-9)
}

func TestZeroSourceHasNoDeviceBeforeOpen(t *testing.T) {
	s := &Source{}
	assert.Nil(t, s.dev)
}

func TestRunWithoutOpenReturnsError(t *testing.T) {
	s := &Source{SampleRateHz: 1}
	err := s.Run(nil)
	assert.Error(t, err)
}

func TestNextRawWithoutOpenReturnsError(t *testing.T) {
	s := &Source{}
	_, err := s.NextRaw()
	assert.Error(t, err)
}

func TestDeg2RadConstant(t *testing.T) {
	assert.InDelta(t, math.Pi/180.0, deg2rad, 1e-15)
}
