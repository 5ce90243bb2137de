package pipeline

import (
	"bufio"
	"fmt"
	"os"

	"github.com/relabs-tech/gnss-ins-fuse/internal/turndetect"
)

// WriteTrajectory writes one whitespace-delimited row per point:
// timestamp p(3) q(w,x,y,z) v(3) b_g(3) b_a(3) gps_p(3) has_gps.
func WriteTrajectory(path string, points []TrajectoryPoint) error {
	return withWriter(path, func(w *bufio.Writer) error {
		for _, p := range points {
			hasGps := 0
			gp := p.GpsP
			if p.HasGps {
				hasGps = 1
			} else {
				gp.X, gp.Y, gp.Z = 0, 0, 0
			}
			_, err := fmt.Fprintf(w, "%.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %d\n",
				p.Time,
				p.P.X, p.P.Y, p.P.Z,
				p.Q[0], p.Q[1], p.Q[2], p.Q[3],
				p.V.X, p.V.Y, p.V.Z,
				p.Bg.X, p.Bg.Y, p.Bg.Z,
				p.Ba.X, p.Ba.Y, p.Ba.Z,
				gp.X, gp.Y, gp.Z,
				hasGps,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteCovariance writes one row per point: timestamp diag(P)[0..17].
func WriteCovariance(path string, points []CovariancePoint) error {
	return withWriter(path, func(w *bufio.Writer) error {
		for _, p := range points {
			if _, err := fmt.Fprintf(w, "%.9f", p.Time); err != nil {
				return err
			}
			for _, v := range p.Diag {
				if _, err := fmt.Fprintf(w, " %.9f", v); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteCorrections writes one row per point:
// timestamp Δp(3) |Δp| residual_p(3) |residual|.
func WriteCorrections(path string, points []CorrectionPoint) error {
	return withWriter(path, func(w *bufio.Writer) error {
		for _, p := range points {
			_, err := fmt.Fprintf(w, "%.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
				p.Time,
				p.Delta.X, p.Delta.Y, p.Delta.Z, p.DeltaNrm,
				p.Residual.X, p.Residual.Y, p.Residual.Z, p.ResNrm,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteLateral writes one row per point:
// timestamp lateral heading speed residual.x residual.y |residual|.
func WriteLateral(path string, points []LateralPoint) error {
	return withWriter(path, func(w *bufio.Writer) error {
		for _, p := range points {
			_, err := fmt.Fprintf(w, "%.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
				p.Time, p.Lateral, p.Heading, p.Speed,
				p.Residual.X, p.Residual.Y, p.ResNrm,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTurnSegments writes the CSV segment table: header comments,
// then one row per segment id,start,end,duration_s,angle_deg,
// avg_rate_deg_s,direction.
func WriteTurnSegments(path string, segments []turndetect.Segment) error {
	return withWriter(path, func(w *bufio.Writer) error {
		if _, err := fmt.Fprint(w, "# id,start,end,duration_s,angle_deg,avg_rate_deg_s,direction\n"); err != nil {
			return err
		}
		for i, s := range segments {
			_, err := fmt.Fprintf(w, "%d,%.9f,%.9f,%.9f,%.9f,%.9f,%s\n",
				i, s.StartTime, s.EndTime, s.EndTime-s.StartTime, s.TotalAngle, s.AvgRate, s.Direction,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteOffsetRecovery writes one row per swept offset, then a
// trailing comment naming the minimizing offset.
func WriteOffsetRecovery(path string, summary []OffsetRMS, bestOffset float64) error {
	return withWriter(path, func(w *bufio.Writer) error {
		for _, s := range summary {
			if _, err := fmt.Fprintf(w, "%.9f %.9f\n", s.Offset, s.PlanarRMS); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "# recovered_offset_s=%.9f\n", bestOffset)
		return err
	})
}

func withWriter(path string, fn func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		return err
	}
	return w.Flush()
}
