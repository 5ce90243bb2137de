package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "ins_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, "IMU_DT=0.02\nGNSS_POS_NOISE=3.0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, cfg.IMUDt, 1e-9)
	assert.InDelta(t, 3.0, cfg.GnssPosNoise, 1e-9)
	// Untouched default survives.
	assert.InDelta(t, 1e-5, cfg.GyroVar, 1e-12)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "NOT_A_KEY=1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsEvenSmoothWindow(t *testing.T) {
	path := writeConfig(t, "TURN_SMOOTH_WINDOW=4\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	path := writeConfig(t, "# comment\n\nIMU_DT=0.05\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cfg.IMUDt, 1e-9)
}
