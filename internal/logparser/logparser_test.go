package logparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(n int, fill string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestParseGPSExtractsSemanticFields(t *testing.T) {
	data := fields(24, "0")
	data[0] = "100000" // timestamp_ms
	data[6] = "1213456780"
	data[7] = "312345670"
	data[8] = "45.5"
	data[9] = "3.2"
	data[10] = "12.0"
	data[11] = "A"
	data[18], data[19], data[20] = "2026", "8", "3"
	data[21], data[22], data[23] = "10", "15", "30"
	line := "$GPS " + strings.Join(data, " ")

	res, err := parseReader(strings.NewReader(line))
	require.NoError(t, err)
	require.Len(t, res.GNSS, 1)
	fix := res.GNSS[0]
	assert.InDelta(t, 100.0, fix.Time, 1e-9)
	assert.InDelta(t, 121.345678, fix.LonDeg, 1e-6)
	assert.InDelta(t, 31.234567, fix.LatDeg, 1e-6)
	assert.InDelta(t, 45.5, fix.HeadingDeg, 1e-9)
	assert.True(t, fix.HeadingValid)
	assert.Equal(t, "2026-8-3 10:15:30", fix.WallClockKey)
}

func TestACCAndGYRPairWithinThreshold(t *testing.T) {
	acc := "$ACC 1000 0 0 0.0 0.0 1.0"
	gyr := "$GYR 1010 0 0 0 0.0 0.0 0.0"
	res, err := parseReader(strings.NewReader(acc + "\n" + gyr))
	require.NoError(t, err)
	require.Len(t, res.IMU, 1)
	assert.InDelta(t, 1.01, res.IMU[0].Time, 1e-9)
}

func TestACCAndGYRDropOlderPendingWhenOutsideThreshold(t *testing.T) {
	acc := "$ACC 1000 0 0 0.0 0.0 1.0"
	gyr := "$GYR 1200 0 0 0 0.0 0.0 0.0"
	res, err := parseReader(strings.NewReader(acc + "\n" + gyr))
	require.NoError(t, err)
	assert.Empty(t, res.IMU)
}

func TestNZZFirstWallClockSampleWinsPerKey(t *testing.T) {
	line1 := "$NZZ 2026-8-3 10:15:30 0 0 0 0 0 0 0 0 0 12.5"
	line2 := "$NZZ 2026-8-3 10:15:30 0 0 0 0 0 0 0 0 0 99.0"
	res, err := parseReader(strings.NewReader(line1 + "\n" + line2))
	require.NoError(t, err)
	require.Len(t, res.HeadingAux, 1)
	assert.InDelta(t, 12.5, res.HeadingAux[0].HeadingDeg, 1e-9)
}

func TestFeedbackFlagAndMisalignmentPairIntoCalibrationEvent(t *testing.T) {
	flag := "$FBK flag,7,5000,0"
	mis := "$FBK misalignment pitch:1.5 heading:88.0"
	res, err := parseReader(strings.NewReader(flag + "\n" + mis))
	require.NoError(t, err)
	require.Len(t, res.Calibration, 1)
	assert.InDelta(t, 5.0, res.Calibration[0].Time, 1e-9)
	assert.InDelta(t, 1.5, res.Calibration[0].PitchDeg, 1e-9)
	assert.InDelta(t, 88.0, res.Calibration[0].HeadingDeg, 1e-9)
}

func TestLegacyIMUAndGNSSTokens(t *testing.T) {
	line := "IMU 1.5 0.01 0.02 0.03 0.1 0.2 9.8\nGNSS 1.5 31.2 121.3 10.0 90.0 A"
	res, err := parseReader(strings.NewReader(line))
	require.NoError(t, err)
	require.Len(t, res.IMU, 1)
	require.Len(t, res.GNSS, 1)
	assert.True(t, res.GNSS[0].HeadingValid)
}

func TestMalformedLineIsSkippedNotFatal(t *testing.T) {
	res, err := parseReader(strings.NewReader("$GPS too short\nIMU 1.0 0 0 0 0 0 9.8"))
	require.NoError(t, err)
	assert.Empty(t, res.GNSS)
	require.Len(t, res.IMU, 1)
}

func TestUnknownTokenIsSkippedNotFatal(t *testing.T) {
	res, err := parseReader(strings.NewReader("WEIRD 1 2 3\nIMU 1.0 0 0 0 0 0 9.8"))
	require.NoError(t, err)
	require.Len(t, res.IMU, 1)
}
