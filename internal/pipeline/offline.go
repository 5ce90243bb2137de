// Package pipeline implements the offline replay-and-sweep driver
// (SPEC_FULL.md §4.5) and the realtime queue-based driver (§4.6) that
// both sit on top of the ESKF core, the turn detector, and the event
// merger.
package pipeline

import (
	"fmt"
	"math"

	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/eskf"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
	"github.com/relabs-tech/gnss-ins-fuse/internal/heading"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/logparser"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
	"github.com/relabs-tech/gnss-ins-fuse/internal/turndetect"
	"gonum.org/v1/gonum/stat"
)

// TrajectoryPoint is one row of the trajectory output file.
type TrajectoryPoint struct {
	Time   float64
	P      rotation.Vec3
	Q      [4]float64 // w, x, y, z
	V      rotation.Vec3
	Bg, Ba rotation.Vec3
	GpsP   rotation.Vec3
	HasGps bool
}

// CovariancePoint is one row of the covariance output file.
type CovariancePoint struct {
	Time float64
	Diag [18]float64
}

// CorrectionPoint is one row of the correction-log output file.
type CorrectionPoint struct {
	Time     float64
	Delta    rotation.Vec3
	DeltaNrm float64
	Residual rotation.Vec3
	ResNrm   float64
}

// LateralPoint is one row of the lateral-residual output file.
type LateralPoint struct {
	Time     float64
	Lateral  float64
	Heading  float64
	Speed    float64
	Residual rotation.Vec3
	ResNrm   float64
}

// OffsetRun holds every artifact produced by replaying one swept
// GNSS-to-IMU offset.
type OffsetRun struct {
	Offset      float64
	Trajectory  []TrajectoryPoint
	Covariances []CovariancePoint
	Corrections []CorrectionPoint
	Lateral     []LateralPoint
	TurnSegs    []turndetect.Segment
}

// Options configures one offline run: the ESKF's tuning, the
// coordinate adapter's antenna correction, the turn detector's
// thresholds, the offset sweep bounds, and whether turn-gated
// position-only observation is enabled at all.
type Options struct {
	ESKF               eskf.Options
	Coord              coord.Options
	Turn               turndetect.Config
	EnableTurnDetect   bool
	OffsetSweepMinS    float64
	OffsetSweepMaxS    float64
	OffsetSweepStepS   float64
	// FixedOffsetS is the single offset replayed when SweepEnabled is
	// false (the CLI's --gps_time_offset).
	FixedOffsetS float64
	SweepEnabled bool

	// RealtimeStaleGnssMaxS bounds how far behind the filter's current
	// time a GNSS fix may be before RunRealtime drops it. Zero means
	// "unset": RunRealtime falls back to the spec-mandated 5s.
	RealtimeStaleGnssMaxS float64
}

// RunOffline implements §4.5 steps 1-3: parse, match headings, and
// replay at either the single configured offset or across the swept
// range, returning one OffsetRun per offset.
func RunOffline(logPath string, opt Options) ([]OffsetRun, error) {
	parsed, err := logparser.Parse(logPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	adapter := coord.New(opt.Coord)
	gnssFixes := coord.ConvertAll(adapter, parsed.GNSS)

	opt.ESKF = applyCalibrationPrior(opt.ESKF, parsed.Calibration)

	offsets := []float64{opt.FixedOffsetS}
	if opt.SweepEnabled {
		offsets = sweepOffsets(opt.OffsetSweepMinS, opt.OffsetSweepMaxS, opt.OffsetSweepStepS)
	}

	runs := make([]OffsetRun, 0, len(offsets))
	for _, offset := range offsets {
		runs = append(runs, replayAtOffset(parsed.IMU, gnssFixes, parsed.HeadingAux, offset, opt))
	}
	return runs, nil
}

// applyCalibrationPrior folds the log's $FBK calibration-feedback
// pairs into the install-angle prior the ESKF builds its fixed
// installation rotation from. These events are opaque to the event
// merger and never enter the replay stream; the most recent one before
// replay starts is the session's install estimate, so it wins over
// whatever opt.ESKF already carried from config. The event's degrees
// are converted to the radians eskf.Options holds.
func applyCalibrationPrior(opt eskf.Options, calib []events.CalibrationEvent) eskf.Options {
	if len(calib) == 0 {
		return opt
	}
	latest := calib[0]
	for _, c := range calib[1:] {
		if c.Time > latest.Time {
			latest = c
		}
	}
	opt.PhonePitchInstall = latest.PitchDeg * math.Pi / 180.0
	opt.PhoneHeadingInstall = latest.HeadingDeg * math.Pi / 180.0
	return opt
}

// CovarianceDiagSlice is the row representation a CSV writer wants;
// eskf.Filter.CovarianceDiag returns a fixed-size array, this turns it
// into a slice for formatting.
func CovarianceDiagSlice(diag [18]float64) []float64 {
	return diag[:]
}

func sweepOffsets(minS, maxS, stepS float64) []float64 {
	if stepS <= 0 {
		return []float64{minS}
	}
	var out []float64
	for o := minS; o <= maxS+1e-9; o += stepS {
		out = append(out, o)
	}
	return out
}

func replayAtOffset(imuSamples []imu.Sample, gnssFixes []gnss.Fix, headingAux []heading.Sample, offset float64, opt Options) OffsetRun {
	stream := events.Reorganize(imuSamples, gnssFixes, offset)

	var segments []turndetect.Segment
	if opt.EnableTurnDetect {
		matches := events.MatchHeadings(gnssFixes, headingAux, offset)
		points := make([]turndetect.HeadingPoint, 0, len(matches))
		for _, m := range matches {
			points = append(points, turndetect.HeadingPoint{Time: m.Time, HeadingDeg: m.HeadingDeg})
		}
		segments = turndetect.Detect(points, opt.Turn)
	}

	f := eskf.New(opt.ESKF)
	run := OffsetRun{Offset: offset, TurnSegs: segments}

	for _, ev := range stream {
		switch ev.Kind {
		case events.KindIMU:
			if f.Predict(ev.IMU) {
				run.Trajectory = append(run.Trajectory, snapshotTrajectory(f, false, rotation.Vec3{}))
				run.Covariances = append(run.Covariances, CovariancePoint{Time: f.CurrentTime(), Diag: f.CovarianceDiag()})
			}
		case events.KindGNSS:
			before := f.Position()
			wasInit := f.Initialized()
			gated := opt.EnableTurnDetect && insideAnySegment(ev.Time, segments)
			var ok bool
			if gated {
				ok = f.ObservePositionOnly(ev.GNSS)
			} else {
				ok = f.ObserveGps(ev.GNSS)
			}
			if ok && wasInit {
				after := f.Position()
				delta := after.Sub(before)
				residual := ev.GNSS.Position.Sub(before)
				run.Corrections = append(run.Corrections, CorrectionPoint{
					Time: ev.Time, Delta: delta, DeltaNrm: delta.Norm(),
					Residual: residual, ResNrm: residual.Norm(),
				})
				lateral := f.LateralResidual(residual)
				speed := f.Velocity().Norm()
				run.Lateral = append(run.Lateral, LateralPoint{
					Time: ev.Time, Lateral: lateral, Heading: f.CurrentHeading(),
					Speed: speed, Residual: residual, ResNrm: residual.Norm(),
				})
				run.Trajectory = append(run.Trajectory, snapshotTrajectory(f, true, ev.GNSS.Position))
				run.Covariances = append(run.Covariances, CovariancePoint{Time: f.CurrentTime(), Diag: f.CovarianceDiag()})
			}
		}
	}
	return run
}

func insideAnySegment(t float64, segments []turndetect.Segment) bool {
	for _, s := range segments {
		if t >= s.StartTime && t <= s.EndTime {
			return true
		}
	}
	return false
}

func snapshotTrajectory(f *eskf.Filter, hasGps bool, gpsP rotation.Vec3) TrajectoryPoint {
	r := f.Rotation()
	return TrajectoryPoint{
		Time:   f.CurrentTime(),
		P:      f.Position(),
		Q:      quaternionFromRotation(r),
		V:      f.Velocity(),
		Bg:     f.GyroBias(),
		Ba:     f.AccelBias(),
		GpsP:   gpsP,
		HasGps: hasGps,
	}
}

// quaternionFromRotation converts a 3x3 rotation matrix to (w,x,y,z)
// via the standard trace-based extraction.
func quaternionFromRotation(r rotation.Matrix) [4]float64 {
	m00, m11, m22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	trace := m00 + m11 + m22
	var w, x, y, z float64
	if trace > 0 {
		s := 0.5 / math.Sqrt(trace+1.0)
		w = 0.25 / s
		x = (r.At(2, 1) - r.At(1, 2)) * s
		y = (r.At(0, 2) - r.At(2, 0)) * s
		z = (r.At(1, 0) - r.At(0, 1)) * s
	} else if m00 > m11 && m00 > m22 {
		s := 2.0 * math.Sqrt(1.0+m00-m11-m22)
		w = (r.At(2, 1) - r.At(1, 2)) / s
		x = 0.25 * s
		y = (r.At(0, 1) + r.At(1, 0)) / s
		z = (r.At(0, 2) + r.At(2, 0)) / s
	} else if m11 > m22 {
		s := 2.0 * math.Sqrt(1.0+m11-m00-m22)
		w = (r.At(0, 2) - r.At(2, 0)) / s
		x = (r.At(0, 1) + r.At(1, 0)) / s
		y = 0.25 * s
		z = (r.At(1, 2) + r.At(2, 1)) / s
	} else {
		s := 2.0 * math.Sqrt(1.0+m22-m00-m11)
		w = (r.At(1, 0) - r.At(0, 1)) / s
		x = (r.At(0, 2) + r.At(2, 0)) / s
		y = (r.At(1, 2) + r.At(2, 1)) / s
		z = 0.25 * s
	}
	return [4]float64{w, x, y, z}
}

// RecoverOffset implements §4.5 step 4: for each run's correction
// log, compute the planar RMS of the position corrections, and return
// the offset minimizing it.
func RecoverOffset(runs []OffsetRun) (bestOffset float64, summary []OffsetRMS) {
	summary = make([]OffsetRMS, 0, len(runs))
	bestRMS := math.Inf(1)
	for _, run := range runs {
		rms := planarRMS(run.Corrections)
		summary = append(summary, OffsetRMS{Offset: run.Offset, PlanarRMS: rms})
		if rms < bestRMS {
			bestRMS = rms
			bestOffset = run.Offset
		}
	}
	return bestOffset, summary
}

// OffsetRMS is one row of the offset-recovery summary file.
type OffsetRMS struct {
	Offset    float64
	PlanarRMS float64
}

func planarRMS(corrections []CorrectionPoint) float64 {
	if len(corrections) == 0 {
		return math.Inf(1)
	}
	sqNorms := make([]float64, len(corrections))
	for i, c := range corrections {
		sqNorms[i] = c.Delta.X*c.Delta.X + c.Delta.Y*c.Delta.Y
	}
	return math.Sqrt(stat.Mean(sqNorms, nil))
}
