package biasprior

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesConfidentPrior(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prior.json")
	content := `{
		"version": 1, "imu": "left",
		"gyro_bias_x": 0.001, "gyro_bias_y": -0.002, "gyro_bias_z": 0.0005, "gyro_confidence": 92.0,
		"accel_bias_x": 0.01, "accel_bias_y": 0.0, "accel_bias_z": -0.02, "accel_confidence": 88.0
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	gyro, accel, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, gyro.X, 1e-9)
	assert.InDelta(t, -0.002, gyro.Y, 1e-9)
	assert.InDelta(t, -0.02, accel.Z, 1e-9)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, _, err := Load("/nonexistent/prior.json")
	assert.Error(t, err)
}

func TestLoadLowConfidenceStillApplies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prior.json")
	content := `{"gyro_bias_x": 0.5, "gyro_confidence": 1.0, "accel_confidence": 1.0}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	gyro, _, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gyro.X, 1e-9)
}
