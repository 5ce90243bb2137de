package rotation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpLogRoundTrip(t *testing.T) {
	cases := []Vec3{
		{0, 0, 0},
		{0.1, 0, 0},
		{0, 0.2, 0},
		{0.05, -0.1, 0.3},
		{math.Pi / 2, 0, 0},
	}
	for _, ang := range cases {
		r := Exp(ang)
		back := Log(r)
		require.True(t, r.IsProper(1e-9), "Exp(%v) must be a proper rotation", ang)
		assert.InDelta(t, ang.X, back.X, 1e-9)
		assert.InDelta(t, ang.Y, back.Y, 1e-9)
		assert.InDelta(t, ang.Z, back.Z, 1e-9)
	}
}

func TestExpZeroIsIdentity(t *testing.T) {
	r := Exp(Vec3{})
	id := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, id.At(i, j), r.At(i, j), 1e-12)
		}
	}
}

func TestExpPureYaw(t *testing.T) {
	// 10s of yaw rate pi/10 rad/s should advance yaw by pi radians.
	r := ExpDt(Vec3{Z: math.Pi / 10}, 10.0)
	// yaw = atan2(R[1,0], R[0,0])
	yaw := math.Atan2(r.At(1, 0), r.At(0, 0))
	assert.InDelta(t, math.Pi, math.Abs(yaw), 1e-6)
	assert.InDelta(t, 0, r.At(2, 0), 1e-9)
	assert.InDelta(t, 0, r.At(2, 1), 1e-9)
}

func TestHatCrossEquivalence(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{-1, 0.5, 2}
	got := Hat(a).MulVec(b)
	want := a.Cross(b)
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestRzIsProperAndYawsCorrectly(t *testing.T) {
	r := Rz(math.Pi / 2)
	require.True(t, r.IsProper(1e-9))
	yaw := math.Atan2(r.At(1, 0), r.At(0, 0))
	assert.InDelta(t, math.Pi/2, yaw, 1e-9)
}
