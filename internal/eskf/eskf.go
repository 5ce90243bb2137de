// Package eskf implements the 18-state Error-State Kalman Filter: a
// nominal/error-state split navigation filter tracking position,
// velocity, attitude, gyro bias, accel bias, and gravity, on a
// right-perturbation SO(3) rotation manifold.
//
// Ported from this project's reference ESKF implementation
// (order-of-operations, F/H block layout, and the covariance-reset
// projection all match that implementation's Predict/ObserveGps/
// ObservePositionOnly/UpdateAndReset methods).
package eskf

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

const stateDim = 18

// Options configures the filter's noise model, bias-update policy,
// time compensation, and sensor-to-body install rotation.
type Options struct {
	ImuDT float64 // nominal IMU period, seconds

	GyroVar, AcceVar         float64
	BiasGyroVar, BiasAcceVar float64

	GnssPosNoise, GnssHeightNoise, GnssAngNoise float64

	UpdateBiasGyro, UpdateBiasAcce bool

	EnableTimeCompensation bool
	FixedTimeDelay         float64

	// PhoneRollInstall/PhonePitchInstall/PhoneHeadingInstall are the
	// Euler angles (radians) of the fixed body-to-sensor install
	// rotation applied to every IMU sample before it reaches Predict.
	PhoneRollInstall, PhonePitchInstall, PhoneHeadingInstall float64

	// InitialGyroBias/InitialAccelBias seed b_g/b_a, populated by the
	// bias-prior loader (internal/biasprior) when available.
	InitialGyroBias, InitialAccelBias rotation.Vec3
}

// DefaultOptions returns the filter's reference tuning.
func DefaultOptions() Options {
	return Options{
		ImuDT:                  0.04,
		GyroVar:                1e-5,
		AcceVar:                1e-2,
		BiasGyroVar:            1e-6,
		BiasAcceVar:            1e-4,
		GnssPosNoise:           5.0,
		GnssHeightNoise:        1.0,
		GnssAngNoise:           1.0 * math.Pi / 180.0,
		UpdateBiasGyro:         true,
		UpdateBiasAcce:         true,
		EnableTimeCompensation: false,
		FixedTimeDelay:         0.2,
	}
}

// Filter is the ESKF instance. It owns its nominal state, error
// state, and covariance exclusively — nothing else mutates them.
type Filter struct {
	opt Options

	currentTime float64
	initialized bool

	p, v  rotation.Vec3
	r     rotation.Matrix
	bg, ba rotation.Vec3
	g     rotation.Vec3

	dx *mat.VecDense // 18
	p18 *mat.Dense   // covariance P, 18x18
	q   *mat.Dense   // process noise Q, 18x18

	installRotation rotation.Matrix
}

// New builds a filter at rest at the origin, identity attitude, with
// bias seeded from opt.InitialGyroBias/InitialAccelBias (zero if not
// set) and P0 = I.
func New(opt Options) *Filter {
	f := &Filter{
		opt: opt,
		r:   rotation.Identity(),
		bg:  opt.InitialGyroBias,
		ba:  opt.InitialAccelBias,
		g:   rotation.NewVec3(0, 0, -9.8),
		dx:  mat.NewVecDense(stateDim, nil),
		p18: identity(stateDim),
	}
	f.q = buildNoise(opt)
	f.installRotation = eulerToBodyRotation(opt.PhoneRollInstall, opt.PhonePitchInstall, opt.PhoneHeadingInstall)
	return f
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// buildNoise lays out the 18x18 diagonal Q matrix per §4.3.1: zero on
// position and gravity blocks, the configured variances elsewhere.
func buildNoise(opt Options) *mat.Dense {
	diag := make([]float64, stateDim)
	for i := 3; i < 6; i++ {
		diag[i] = opt.AcceVar
	}
	for i := 6; i < 9; i++ {
		diag[i] = opt.GyroVar
	}
	for i := 9; i < 12; i++ {
		diag[i] = opt.BiasGyroVar
	}
	for i := 12; i < 15; i++ {
		diag[i] = opt.BiasAcceVar
	}
	q := mat.NewDense(stateDim, stateDim, nil)
	for i, v := range diag {
		q.Set(i, i, v)
	}
	return q
}

// eulerToBodyRotation builds the sensor-to-body rotation C from a
// roll(X)-pitch(Y)-heading(Z) Euler triple, matching the reference
// implementation's Euler2Cbn: compose Rx*Ry*Rz then transpose.
func eulerToBodyRotation(roll, pitch, heading float64) rotation.Matrix {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	ch, sh := math.Cos(heading), math.Sin(heading)

	c1 := mat.NewDense(3, 3, []float64{
		cr, 0, -sr,
		0, 1, 0,
		sr, 0, cr,
	})
	c2 := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cp, sp,
		0, -sp, cp,
	})
	c3 := mat.NewDense(3, 3, []float64{
		ch, -sh, 0,
		sh, ch, 0,
		0, 0, 1,
	})
	cnb := rotation.FromDense(c1).Mul(rotation.FromDense(c2)).Mul(rotation.FromDense(c3))
	return cnb.Transpose()
}

// CurrentTime returns the filter's internal clock.
func (f *Filter) CurrentTime() float64 { return f.currentTime }

// Initialized reports whether the first GNSS fix has been consumed.
func (f *Filter) Initialized() bool { return f.initialized }

// Position, Velocity, Rotation, GyroBias, AccelBias, Gravity expose
// the nominal state for output writers.
func (f *Filter) Position() rotation.Vec3   { return f.p }
func (f *Filter) Velocity() rotation.Vec3   { return f.v }
func (f *Filter) Rotation() rotation.Matrix { return f.r }
func (f *Filter) GyroBias() rotation.Vec3   { return f.bg }
func (f *Filter) AccelBias() rotation.Vec3  { return f.ba }
func (f *Filter) Gravity() rotation.Vec3    { return f.g }

// CovarianceDiag returns the 18 diagonal entries of P, for the
// covariance output file.
func (f *Filter) CovarianceDiag() [stateDim]float64 {
	var out [stateDim]float64
	for i := 0; i < stateDim; i++ {
		out[i] = f.p18.At(i, i)
	}
	return out
}

// CurrentHeading returns atan2(R[1,0], R[0,0]) per §4.3.6.
func (f *Filter) CurrentHeading() float64 {
	return math.Atan2(f.r.At(1, 0), f.r.At(0, 0))
}

// LateralResidual projects a planar residual onto the lateral axis of
// the current heading, per §4.3.6.
func (f *Filter) LateralResidual(residual rotation.Vec3) float64 {
	h := f.CurrentHeading()
	return residual.X*math.Cos(h) - residual.Y*math.Sin(h)
}

func (f *Filter) applyInstallAndTimeShift(s imu.Sample) imu.Sample {
	corrected := imu.Sample{
		Time:          s.Time,
		AngularRate:   f.installRotation.MulVec(s.AngularRate),
		SpecificForce: f.installRotation.MulVec(s.SpecificForce),
	}
	if f.opt.EnableTimeCompensation {
		corrected.Time += f.opt.FixedTimeDelay
	}
	return corrected
}

// Predict propagates the nominal state and error-state covariance
// using one IMU sample, per §4.3.2.
func (f *Filter) Predict(sample imu.Sample) bool {
	s := f.applyInstallAndTimeShift(sample)
	dt := s.Time - f.currentTime

	if dt < 0 {
		return false
	}
	if dt > 5*f.opt.ImuDT {
		f.currentTime = s.Time
		return false
	}

	accelCorrected := s.SpecificForce.Sub(f.ba)
	rAccel := f.r.MulVec(accelCorrected)
	gyroCorrected := s.AngularRate.Sub(f.bg)

	newP := f.p.Add(f.v.Scale(dt)).Add(rAccel.Scale(0.5 * dt * dt)).Add(f.g.Scale(0.5 * dt * dt))
	newV := f.v.Add(rAccel.Scale(dt)).Add(f.g.Scale(dt))
	newR := f.r.Mul(rotation.ExpDt(gyroCorrected, dt))

	f.r = newR
	f.v = newV
	f.p = newP

	// F's rotation-dependent blocks use the just-updated R, matching
	// the reference implementation's build order (state update happens
	// before F is assembled).
	fMat := identity(stateDim)
	setBlock(fMat, 0, 3, scaleIdentity3(dt))
	// v w.r.t theta: -R*[a-ba]x*dt
	vTheta := scale3(f.r.Mul(rotation.Hat(accelCorrected)), -dt)
	setBlock(fMat, 3, 6, vTheta)
	setBlock(fMat, 3, 12, scale3(f.r, -dt))
	setBlock(fMat, 3, 15, scaleIdentity3(dt))
	setBlock(fMat, 6, 6, rotation.ExpDt(gyroCorrected.Scale(-1), dt).Dense())
	setBlock(fMat, 6, 9, scaleIdentity3(-dt))

	var newDx mat.VecDense
	newDx.MulVec(fMat, f.dx)
	f.dx = &newDx

	var fp mat.Dense
	fp.Mul(fMat, f.p18)
	var fpft mat.Dense
	fpft.Mul(&fp, fMat.T())
	var newCov mat.Dense
	newCov.Add(&fpft, f.q)
	f.p18 = &newCov

	f.currentTime = s.Time
	return true
}

// ObserveGps applies the full SE(3) observation (§4.3.3): position
// plus yaw-only attitude.
func (f *Filter) ObserveGps(fix gnss.Fix) bool {
	if !f.initialized {
		f.initializeFromFix(fix)
		return true
	}
	if !fix.HeadingValid {
		return false
	}

	h := mat.NewDense(6, stateDim, nil)
	setBlock(h, 0, 0, identity3())
	setBlock(h, 3, 6, identity3())

	transNoise := f.opt.GnssPosNoise * f.opt.GnssPosNoise
	angNoise := f.opt.GnssAngNoise * f.opt.GnssAngNoise
	v := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		v.Set(i, i, transNoise)
	}
	for i := 3; i < 6; i++ {
		v.Set(i, i, angNoise)
	}

	posInnov := fix.Position.Sub(f.p)
	angInnov := rotation.Log(f.r.Transpose().Mul(fix.Rotation))
	innov := mat.NewVecDense(6, []float64{
		posInnov.X, posInnov.Y, posInnov.Z,
		0, 0, angInnov.Z,
	})

	f.updateWithGain(h, v, innov)
	f.updateAndReset()
	return true
}

// ObservePositionOnly applies the position-only observation (§4.3.4),
// used during turns to avoid coupling the heading estimate to noisy
// GNSS attitude while the vehicle is turning.
func (f *Filter) ObservePositionOnly(fix gnss.Fix) bool {
	if !f.initialized {
		f.initializeFromFix(fix)
		return true
	}

	h := mat.NewDense(3, stateDim, nil)
	setBlock(h, 0, 0, identity3())

	transNoise := f.opt.GnssPosNoise * f.opt.GnssPosNoise
	v := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		v.Set(i, i, transNoise)
	}

	posInnov := fix.Position.Sub(f.p)
	innov := mat.NewVecDense(3, []float64{posInnov.X, posInnov.Y, posInnov.Z})

	f.updateWithGain(h, v, innov)
	f.updateAndReset()
	return true
}

func (f *Filter) initializeFromFix(fix gnss.Fix) {
	f.r = fix.Rotation
	f.p = fix.Position
	f.initialized = true
	f.currentTime = fix.Time
}

// updateWithGain computes K = P*H^T*(H*P*H^T + V)^-1, dx = K*innov,
// P = (I - K*H)*P, for an observation of arbitrary dimension m.
func (f *Filter) updateWithGain(h, v *mat.Dense, innov *mat.VecDense) {
	var ph mat.Dense
	ph.Mul(f.p18, h.T())

	var hph mat.Dense
	hph.Mul(h, &ph)

	var s mat.Dense
	s.Add(&hph, v)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation covariance: skip this update rather
		// than propagate NaNs into the state.
		return
	}

	var k mat.Dense
	k.Mul(&ph, &sInv)

	var dx mat.VecDense
	dx.MulVec(&k, innov)
	f.dx = &dx

	var kh mat.Dense
	kh.Mul(&k, h)

	id := identity(stateDim)
	var imKh mat.Dense
	imKh.Sub(id, &kh)

	var newP mat.Dense
	newP.Mul(&imKh, f.p18)
	f.p18 = &newP
}

// updateAndReset applies dx to the nominal state, resets it to zero,
// and projects P through the small-angle Jacobian, per §4.3.5.
func (f *Filter) updateAndReset() {
	dp := rotation.NewVec3(f.dx.AtVec(0), f.dx.AtVec(1), f.dx.AtVec(2))
	dv := rotation.NewVec3(f.dx.AtVec(3), f.dx.AtVec(4), f.dx.AtVec(5))
	dtheta := rotation.NewVec3(f.dx.AtVec(6), f.dx.AtVec(7), f.dx.AtVec(8))
	dbg := rotation.NewVec3(f.dx.AtVec(9), f.dx.AtVec(10), f.dx.AtVec(11))
	dba := rotation.NewVec3(f.dx.AtVec(12), f.dx.AtVec(13), f.dx.AtVec(14))
	dg := rotation.NewVec3(f.dx.AtVec(15), f.dx.AtVec(16), f.dx.AtVec(17))

	f.p = f.p.Add(dp)
	f.v = f.v.Add(dv)
	f.r = f.r.Mul(rotation.Exp(dtheta))

	if f.opt.UpdateBiasGyro {
		f.bg = f.bg.Add(dbg)
	}
	if f.opt.UpdateBiasAcce {
		f.ba = f.ba.Add(dba)
	}
	f.g = f.g.Add(dg)

	j := identity(stateDim)
	half := scale3(rotation.Hat(dtheta), -0.5)
	jTheta := mat.NewDense(3, 3, nil)
	jTheta.Add(identity3(), half)
	setBlock(j, 6, 6, jTheta)

	var jp mat.Dense
	jp.Mul(j, f.p18)
	var jpjt mat.Dense
	jpjt.Mul(&jp, j.T())
	f.p18 = &jpjt

	f.dx = mat.NewVecDense(stateDim, nil)
}

func identity3() *mat.Dense {
	return identity(3)
}

func scaleIdentity3(s float64) *mat.Dense {
	d := identity(3)
	d.Scale(s, d)
	return d
}

func scale3(m rotation.Matrix, s float64) *mat.Dense {
	var out mat.Dense
	out.Scale(s, m.Dense())
	return &out
}

func setBlock(dst *mat.Dense, r0, c0 int, block *mat.Dense) {
	rows, cols := block.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r0+i, c0+j, block.At(i, j))
		}
	}
}
