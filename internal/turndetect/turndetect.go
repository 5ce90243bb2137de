// Package turndetect converts a stream of heading samples into
// labeled turn segments via a three-state machine (Idle / Accumulating
// / EndTiming), and drives the offline pipeline's observation-gating
// decision (position-only vs. full-pose GNSS updates during a turn).
//
// Ported from this project's reference turn-detector state machine;
// thresholds, the centered moving-average smoothing, and the
// direction-flip/restart handling inside Accumulating all match that
// implementation.
package turndetect

import (
	"math"
	"sort"
)

// Direction is the sign of a detected turn.
type Direction string

const (
	Left  Direction = "Left"
	Right Direction = "Right"
)

// Config holds the detector's tunable thresholds.
type Config struct {
	StartRateDegS    float64
	EndRateDegS      float64
	EndDurationS     float64
	AngleDeg         float64
	SmoothWindow     int // odd
}

// DefaultConfig returns the detector's reference tuning.
func DefaultConfig() Config {
	return Config{
		StartRateDegS: 3.0,
		EndRateDegS:   1.5,
		EndDurationS:  3.0,
		AngleDeg:      30.0,
		SmoothWindow:  5,
	}
}

// HeadingPoint is one (timestamp, heading-in-degrees) sample. Inputs
// need not be sanitized into [0, 360) or sorted — Detect does both.
type HeadingPoint struct {
	Time       float64
	HeadingDeg float64
}

// Segment is one emitted turn.
type Segment struct {
	StartTime, EndTime float64
	TotalAngle         float64 // degrees, cumulative unsigned
	AvgRate            float64 // degrees/second, average |rate|
	Direction          Direction
}

func (s Segment) Duration() float64 { return s.EndTime - s.StartTime }

type rateSample struct {
	Time float64
	Rate float64 // degrees/second, signed
}

// Detect runs the full pipeline: sort, sanitize, differentiate,
// smooth, state-machine.
func Detect(points []HeadingPoint, cfg Config) []Segment {
	sorted := make([]HeadingPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	for i := range sorted {
		sorted[i].HeadingDeg = sanitize(sorted[i].HeadingDeg)
	}

	rates := turnRates(sorted)
	smoothed := smooth(rates, cfg.SmoothWindow)
	return detectSegments(smoothed, cfg)
}

func sanitize(h float64) float64 {
	h = math.Mod(h, 360.0)
	if h < 0 {
		h += 360.0
	}
	return h
}

// normalizeHeadingDiff wraps h2-h1 into (-180, 180].
func normalizeHeadingDiff(h1, h2 float64) float64 {
	diff := h2 - h1
	if diff > 180.0 {
		diff -= 360.0
	} else if diff <= -180.0 {
		diff += 360.0
	}
	return diff
}

func turnRates(points []HeadingPoint) []rateSample {
	if len(points) < 2 {
		return nil
	}
	out := make([]rateSample, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		dt := points[i].Time - points[i-1].Time
		if dt <= 0 {
			continue
		}
		dh := normalizeHeadingDiff(points[i-1].HeadingDeg, points[i].HeadingDeg)
		out = append(out, rateSample{Time: points[i].Time, Rate: dh / dt})
	}
	return out
}

func smooth(rates []rateSample, window int) []rateSample {
	if len(rates) < window {
		return rates
	}
	out := make([]rateSample, len(rates))
	half := window / 2
	for i := range rates {
		start := i - half
		if start < 0 {
			start = 0
		}
		end := i + half + 1
		if end > len(rates) {
			end = len(rates)
		}
		sum := 0.0
		for j := start; j < end; j++ {
			sum += rates[j].Rate
		}
		out[i] = rateSample{Time: rates[i].Time, Rate: sum / float64(end-start)}
	}
	return out
}

type machineState int

const (
	stateIdle machineState = iota
	stateAccumulating
	stateEndTiming
)

func directionOf(rate float64) Direction {
	if rate > 0 {
		return Left
	}
	return Right
}

func detectSegments(rates []rateSample, cfg Config) []Segment {
	if len(rates) == 0 {
		return nil
	}

	var segments []Segment

	state := stateIdle
	turnStartIdx := 0
	accumulated := 0.0
	var rateHistory []float64
	var direction Direction
	endTimingStart := 0.0

	record := func(endIdx int) {
		sum := 0.0
		for _, r := range rateHistory {
			sum += math.Abs(r)
		}
		avg := 0.0
		if len(rateHistory) > 0 {
			avg = sum / float64(len(rateHistory))
		}
		segments = append(segments, Segment{
			StartTime:  rates[turnStartIdx].Time,
			EndTime:    rates[endIdx].Time,
			TotalAngle: accumulated,
			AvgRate:    avg,
			Direction:  direction,
		})
	}

	for i := 0; i < len(rates); i++ {
		rate := rates[i].Rate
		absRate := math.Abs(rate)

		switch state {
		case stateIdle:
			if absRate > cfg.StartRateDegS {
				state = stateAccumulating
				turnStartIdx = i
				accumulated = 0.0
				rateHistory = []float64{rate}
				direction = directionOf(rate)
			}

		case stateAccumulating:
			if absRate > cfg.EndRateDegS {
				if i > 0 {
					dt := rates[i].Time - rates[i-1].Time
					angleChange := rate * dt
					sameDirection := (direction == Left && rate > 0) || (direction == Right && rate < 0)
					if sameDirection {
						accumulated += math.Abs(angleChange)
					} else if absRate > cfg.StartRateDegS {
						if accumulated >= cfg.AngleDeg {
							record(i - 1)
						}
						turnStartIdx = i
						accumulated = math.Abs(angleChange)
						rateHistory = []float64{rate}
						direction = directionOf(rate)
					}
				}
				rateHistory = append(rateHistory, rate)
			} else {
				state = stateEndTiming
				endTimingStart = rates[i].Time
			}

		case stateEndTiming:
			if absRate <= cfg.EndRateDegS {
				endDuration := rates[i].Time - endTimingStart
				if endDuration >= cfg.EndDurationS {
					if accumulated >= cfg.AngleDeg {
						record(i)
					}
					state = stateIdle
				}
			} else {
				state = stateAccumulating
				if i > 0 {
					dt := rates[i].Time - rates[i-1].Time
					angleChange := rate * dt
					sameDirection := (direction == Left && rate > 0) || (direction == Right && rate < 0)
					if sameDirection {
						accumulated += math.Abs(angleChange)
					}
				}
				rateHistory = append(rateHistory, rate)
			}
		}
	}

	if state != stateIdle && accumulated >= cfg.AngleDeg {
		record(len(rates) - 1)
	}

	return segments
}
