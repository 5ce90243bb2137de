package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
	"github.com/relabs-tech/gnss-ins-fuse/internal/turndetect"
)

func TestWriteTrajectoryColumnCountAndHasGpsFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trajectory.txt")
	points := []TrajectoryPoint{
		{Time: 0, P: rotation.NewVec3(1, 2, 3), Q: [4]float64{1, 0, 0, 0}, HasGps: false},
		{Time: 1, P: rotation.NewVec3(4, 5, 6), Q: [4]float64{1, 0, 0, 0}, GpsP: rotation.NewVec3(4, 5, 6), HasGps: true},
	}

	require.NoError(t, WriteTrajectory(path, points))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	fields0 := strings.Fields(lines[0])
	require.Len(t, fields0, 21)
	assert.Equal(t, "0", fields0[len(fields0)-1])
	fields1 := strings.Fields(lines[1])
	assert.Equal(t, "1", fields1[len(fields1)-1])
}

func TestWriteCovarianceRowWidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covariance.txt")
	points := []CovariancePoint{{Time: 0.5, Diag: [18]float64{}}}

	require.NoError(t, WriteCovariance(path, points))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Len(t, strings.Fields(lines[0]), 19)
}

func TestWriteTurnSegmentsHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turn_segments.csv")
	segs := []turndetect.Segment{
		{StartTime: 1, EndTime: 3, TotalAngle: 90, AvgRate: 45, Direction: turndetect.Left},
	}

	require.NoError(t, WriteTurnSegments(path, segs))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "# id,start,end"))
	assert.True(t, strings.HasPrefix(lines[1], "0,"))
	assert.True(t, strings.HasSuffix(lines[1], "Left"))
}

func TestWriteOffsetRecoveryTrailingComment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offset_recovery.txt")
	summary := []OffsetRMS{{Offset: -0.1, PlanarRMS: 2.0}, {Offset: 0.0, PlanarRMS: 0.1}}

	require.NoError(t, WriteOffsetRecovery(path, summary, 0.0))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "# recovered_offset_s="))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
