// Package logparser is the boundary adapter described in SPEC_FULL.md
// §4.1a: it owns every line-format detail of the heterogeneous ASCII
// input log and exposes nothing but typed buffers to the event
// merger (internal/events). No other package in this repository
// parses a log line directly.
//
// Field layouts are ported from this project's reference log reader
// (its $GPS/$ACC/$GYR token handling and the ACC/GYR pending-pair
// mailbox with a 50ms timeout-drop).
package logparser

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/heading"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

// GeoFix is a GNSS fix still in geodetic coordinates, as read
// straight off a $GPS or legacy GNSS line. The coordinate adapter
// (internal/coord) turns these into gnss.Fix values in the local
// planar frame.
type GeoFix struct {
	Time         float64 // seconds
	LatDeg       float64
	LonDeg       float64
	AltM         float64
	HeadingDeg   float64
	HeadingValid bool
	SpeedMps     float64
	Status       string
	WallClockKey string
}

// Result holds everything a single log file produced.
type Result struct {
	IMU         []imu.Sample
	GNSS        []GeoFix
	HeadingAux  []heading.Sample
	Calibration []events.CalibrationEvent
}

const timeSyncThresholdSeconds = 0.05

type pendingAcc struct {
	time  float64
	acce  rotation.Vec3
	valid bool
}

type pendingGyr struct {
	time  float64
	gyro  rotation.Vec3
	valid bool
}

type pendingFeedbackFlag struct {
	time  float64
	valid bool
}

// Parse reads path and returns the typed buffers it produced. A
// malformed line is logged at warning level and skipped — never
// fatal. A file that cannot be opened is the one fatal case (§7).
func Parse(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logparser: open %s: %w", path, err)
	}
	defer f.Close()
	return parseReader(f)
}

func parseReader(r io.Reader) (*Result, error) {
	res := &Result{}
	seenHeadingKeys := make(map[string]bool)

	var pAcc pendingAcc
	var pGyr pendingGyr
	var pFlag pendingFeedbackFlag

	scanner := bufio.NewScanner(r)
	// Log lines can be long ($GPS carries 25+ fields); grow the buffer
	// past bufio's 64KiB default just in case.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "$GPS":
			fix, ok := parseGPS(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed $GPS record, skipping", lineNo)
				continue
			}
			res.GNSS = append(res.GNSS, fix)

		case "$ACC":
			acc, ok := parseACC(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed $ACC record, skipping", lineNo)
				continue
			}
			pAcc = pendingAcc{time: acc.time, acce: acc.acce, valid: true}
			if sample, ok := tryCreateIMU(&pAcc, &pGyr); ok {
				res.IMU = append(res.IMU, sample)
			}

		case "$GYR":
			gyr, ok := parseGYR(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed $GYR record, skipping", lineNo)
				continue
			}
			pGyr = pendingGyr{time: gyr.time, gyro: gyr.gyro, valid: true}
			if sample, ok := tryCreateIMU(&pAcc, &pGyr); ok {
				res.IMU = append(res.IMU, sample)
			}

		case "$NZZ":
			sample, key, ok := parseNZZ(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed $NZZ record, skipping", lineNo)
				continue
			}
			if seenHeadingKeys[key] {
				continue
			}
			seenHeadingKeys[key] = true
			res.HeadingAux = append(res.HeadingAux, sample)

		case "$FBK":
			if len(fields) < 2 {
				log.Printf("logparser: line %d: malformed $FBK record, skipping", lineNo)
				continue
			}
			switch {
			case strings.HasPrefix(fields[1], "flag"):
				t, ok := parseFeedbackFlag(fields)
				if !ok {
					log.Printf("logparser: line %d: malformed $FBK flag record, skipping", lineNo)
					continue
				}
				pFlag = pendingFeedbackFlag{time: t, valid: true}
			case strings.HasPrefix(fields[1], "misalignment"):
				pitch, heading, ok := parseFeedbackMisalignment(fields)
				if !ok {
					log.Printf("logparser: line %d: malformed $FBK misalignment record, skipping", lineNo)
					continue
				}
				if pFlag.valid {
					res.Calibration = append(res.Calibration, events.CalibrationEvent{
						Time:       pFlag.time,
						PitchDeg:   pitch,
						HeadingDeg: heading,
					})
					pFlag.valid = false
				}
			default:
				log.Printf("logparser: line %d: unknown $FBK subtype %q, skipping", lineNo, fields[1])
			}

		case "IMU":
			sample, ok := parseLegacyIMU(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed legacy IMU record, skipping", lineNo)
				continue
			}
			res.IMU = append(res.IMU, sample)

		case "GNSS":
			fix, ok := parseLegacyGNSS(fields)
			if !ok {
				log.Printf("logparser: line %d: malformed legacy GNSS record, skipping", lineNo)
				continue
			}
			res.GNSS = append(res.GNSS, fix)

		case "ODOM":
			// ODOM lines produce no event: the token is recognized so
			// the line does not log a spurious "unknown record type"
			// warning, and its fields are discarded unparsed.

		default:
			log.Printf("logparser: line %d: unknown record type %q, skipping", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("logparser: read: %w", err)
	}
	return res, nil
}

// tryCreateIMU implements the ACC/GYR pending-pair mailbox: at most
// one of each pending, paired by |Δt| <= 50ms; the older pending is
// dropped on mismatch.
func tryCreateIMU(pAcc *pendingAcc, pGyr *pendingGyr) (imu.Sample, bool) {
	if !pAcc.valid || !pGyr.valid {
		return imu.Sample{}, false
	}
	dt := pAcc.time - pGyr.time
	if dt < 0 {
		dt = -dt
	}
	if dt > timeSyncThresholdSeconds {
		// Drop the older of the two pending cells.
		if pAcc.time < pGyr.time {
			pAcc.valid = false
		} else {
			pGyr.valid = false
		}
		return imu.Sample{}, false
	}
	t := pAcc.time
	if pGyr.time > t {
		t = pGyr.time
	}
	sample := imu.Sample{Time: t, AngularRate: pGyr.gyro, SpecificForce: pAcc.acce}
	pAcc.valid = false
	pGyr.valid = false
	return sample, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// parseGPS reads a $GPS record per §6: [0]=timestamp_ms,
// [6]=lon*1e7, [7]=lat*1e7, [8]=heading_deg, [9]=speed,
// [10]=altitude_m, [11]=status, [18..23]=Y,M,D,h,m,s wall-clock key.
func parseGPS(fields []string) (GeoFix, bool) {
	if len(fields) < 25 {
		return GeoFix{}, false
	}
	// fields[0] == "$GPS"; data field i in the spec maps to fields[i+1].
	data := fields[1:]
	if len(data) < 24 {
		return GeoFix{}, false
	}
	timestampMs, ok := parseFloat(data[0])
	if !ok {
		return GeoFix{}, false
	}
	lon1e7, ok := parseFloat(data[6])
	if !ok {
		return GeoFix{}, false
	}
	lat1e7, ok := parseFloat(data[7])
	if !ok {
		return GeoFix{}, false
	}
	headingDeg, ok := parseFloat(data[8])
	if !ok {
		return GeoFix{}, false
	}
	speed, ok := parseFloat(data[9])
	if !ok {
		return GeoFix{}, false
	}
	alt, ok := parseFloat(data[10])
	if !ok {
		return GeoFix{}, false
	}
	status := data[11]

	year, ok := parseFloat(data[18])
	if !ok {
		return GeoFix{}, false
	}
	month, ok := parseFloat(data[19])
	if !ok {
		return GeoFix{}, false
	}
	day, ok := parseFloat(data[20])
	if !ok {
		return GeoFix{}, false
	}
	hour, ok := parseFloat(data[21])
	if !ok {
		return GeoFix{}, false
	}
	minute, ok := parseFloat(data[22])
	if !ok {
		return GeoFix{}, false
	}
	second, ok := parseFloat(data[23])
	if !ok {
		return GeoFix{}, false
	}
	key := fmt.Sprintf("%d-%d-%d %d:%d:%d", int(year), int(month), int(day), int(hour), int(minute), int(second))

	return GeoFix{
		Time:         timestampMs / 1000.0,
		LatDeg:       lat1e7 / 1e7,
		LonDeg:       lon1e7 / 1e7,
		AltM:         alt,
		HeadingDeg:   headingDeg,
		HeadingValid: status == "A",
		SpeedMps:     speed,
		Status:       status,
		WallClockKey: key,
	}, true
}

const gravityG = 9.8

// parseACC reads a $ACC record per §6: [0]=timestamp_ms, [3..5]=up,
// forward,right in g; multiplied by 9.8 and reordered to (X,Y,Z) =
// (right, forward, up).
func parseACC(fields []string) (struct {
	time float64
	acce rotation.Vec3
}, bool) {
	data := fields[1:]
	if len(data) < 6 {
		return struct {
			time float64
			acce rotation.Vec3
		}{}, false
	}
	tsMs, ok := parseFloat(data[0])
	if !ok {
		return struct {
			time float64
			acce rotation.Vec3
		}{}, false
	}
	up, ok := parseFloat(data[3])
	if !ok {
		return struct {
			time float64
			acce rotation.Vec3
		}{}, false
	}
	forward, ok := parseFloat(data[4])
	if !ok {
		return struct {
			time float64
			acce rotation.Vec3
		}{}, false
	}
	right, ok := parseFloat(data[5])
	if !ok {
		return struct {
			time float64
			acce rotation.Vec3
		}{}, false
	}
	return struct {
		time float64
		acce rotation.Vec3
	}{
		time: tsMs / 1000.0,
		acce: rotation.NewVec3(right*gravityG, forward*gravityG, up*gravityG),
	}, true
}

const deg2rad = 3.14159265358979323846 / 180.0

// parseGYR reads a $GYR record per §6: [0]=timestamp_ms, [4..6]=up,
// forward,right in deg/s; converted to rad/s and reordered to (X,Y,Z).
func parseGYR(fields []string) (struct {
	time float64
	gyro rotation.Vec3
}, bool) {
	data := fields[1:]
	if len(data) < 7 {
		return struct {
			time float64
			gyro rotation.Vec3
		}{}, false
	}
	tsMs, ok := parseFloat(data[0])
	if !ok {
		return struct {
			time float64
			gyro rotation.Vec3
		}{}, false
	}
	up, ok := parseFloat(data[4])
	if !ok {
		return struct {
			time float64
			gyro rotation.Vec3
		}{}, false
	}
	forward, ok := parseFloat(data[5])
	if !ok {
		return struct {
			time float64
			gyro rotation.Vec3
		}{}, false
	}
	right, ok := parseFloat(data[6])
	if !ok {
		return struct {
			time float64
			gyro rotation.Vec3
		}{}, false
	}
	return struct {
		time float64
		gyro rotation.Vec3
	}{
		time: tsMs / 1000.0,
		gyro: rotation.NewVec3(right*deg2rad, forward*deg2rad, up*deg2rad),
	}, true
}

// parseNZZ reads a $NZZ record per §6: [0]=date Y-M-D, [1]=time
// H:M:S, [11]=heading_deg.
func parseNZZ(fields []string) (heading.Sample, string, bool) {
	data := fields[1:]
	if len(data) < 12 {
		return heading.Sample{}, "", false
	}
	key := data[0] + " " + data[1]
	headingDeg, ok := parseFloat(data[11])
	if !ok {
		return heading.Sample{}, "", false
	}
	// Derive a coarse timestamp from the wall-clock string's seconds
	// field alone is not possible without a date epoch; the offline
	// pipeline instead uses the matched GNSS timestamp (§4.1) for
	// replay ordering, so Time here is left at zero and unused for
	// matching (matching is by Key).
	return heading.Sample{HeadingDeg: headingDeg, Key: key}, key, true
}

func parseFeedbackFlag(fields []string) (float64, bool) {
	// "$FBK flag,<f1>,<timestamp_ms>,..." — comma-separated after the
	// "flag" token, per §6: field [2] (0-based within the comma list)
	// is timestamp_ms.
	if len(fields) < 2 {
		return 0, false
	}
	parts := strings.Split(strings.Join(fields[1:], " "), ",")
	if len(parts) < 3 {
		return 0, false
	}
	tsMs, ok := parseFloat(strings.TrimSpace(parts[2]))
	if !ok {
		return 0, false
	}
	return tsMs / 1000.0, true
}

func parseFeedbackMisalignment(fields []string) (pitchDeg, headingDeg float64, ok bool) {
	rest := strings.Join(fields[2:], " ")
	tokens := strings.FieldsFunc(rest, func(r rune) bool { return r == ' ' || r == ',' })
	var havePitch, haveHeading bool
	for _, tok := range tokens {
		if v, found := strings.CutPrefix(tok, "pitch:"); found {
			if f, ok := parseFloat(v); ok {
				pitchDeg = f
				havePitch = true
			}
		} else if v, found := strings.CutPrefix(tok, "heading:"); found {
			if f, ok := parseFloat(v); ok {
				headingDeg = f
				haveHeading = true
			}
		}
	}
	return pitchDeg, headingDeg, havePitch && haveHeading
}

// parseLegacyIMU parses "IMU <timestamp_s> <gx> <gy> <gz> <ax> <ay> <az>"
// (rad/s, m/s^2 — already physical units, unlike the $ACC/$GYR forms).
func parseLegacyIMU(fields []string) (imu.Sample, bool) {
	if len(fields) < 8 {
		return imu.Sample{}, false
	}
	vals := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, ok := parseFloat(fields[i+1])
		if !ok {
			return imu.Sample{}, false
		}
		vals[i] = v
	}
	return imu.Sample{
		Time:          vals[0],
		AngularRate:   rotation.NewVec3(vals[1], vals[2], vals[3]),
		SpecificForce: rotation.NewVec3(vals[4], vals[5], vals[6]),
	}, true
}

// parseLegacyGNSS parses "GNSS <timestamp_s> <lat_deg> <lon_deg> <alt_m> <heading_deg> <status>".
func parseLegacyGNSS(fields []string) (GeoFix, bool) {
	if len(fields) < 7 {
		return GeoFix{}, false
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, ok := parseFloat(fields[i+1])
		if !ok {
			return GeoFix{}, false
		}
		vals[i] = v
	}
	status := fields[6]
	return GeoFix{
		Time:         vals[0],
		LatDeg:       vals[1],
		LonDeg:       vals[2],
		AltM:         vals[3],
		HeadingDeg:   vals[4],
		HeadingValid: status == "A",
		Status:       status,
	}, true
}
