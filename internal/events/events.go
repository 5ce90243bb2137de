// Package events reorganizes the four typed streams the log parser
// (internal/logparser) or a realtime source produces into the single
// time-ordered stream the ESKF replay loop consumes.
package events

import (
	"sort"
	"strconv"
	"strings"

	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
	"github.com/relabs-tech/gnss-ins-fuse/internal/heading"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
)

// Kind tags which payload an Event carries.
type Kind int

const (
	KindIMU Kind = iota
	KindGNSS
)

// Event is the tagged union the replay loop dispatches on.
type Event struct {
	Kind Kind
	Time float64
	IMU  imu.Sample
	GNSS gnss.Fix
}

// CalibrationEvent is the calibration-feedback pair the $FBK records
// produce: a pitch/heading misalignment tagged with a timestamp,
// forwarded to the ESKF as a bias/install prior. The event merger
// treats it as opaque — it is not part of the sorted IMU/GNSS stream.
type CalibrationEvent struct {
	Time         float64
	PitchDeg     float64
	HeadingDeg   float64
}

// Reorganize merges imuSamples and gnssFixes into a single
// non-decreasing event stream. offset (seconds) is added to every
// GNSS fix's timestamp before merging. Ties (equal timestamps) break
// IMU-before-GNSS, per the fixed tie-break order this system uses.
func Reorganize(imuSamples []imu.Sample, gnssFixes []gnss.Fix, offset float64) []Event {
	out := make([]Event, 0, len(imuSamples)+len(gnssFixes))
	for _, s := range imuSamples {
		out = append(out, Event{Kind: KindIMU, Time: s.Time, IMU: s})
	}
	for _, f := range gnssFixes {
		shifted := f
		shifted.Time = f.Time + offset
		out = append(out, Event{Kind: KindGNSS, Time: shifted.Time, GNSS: shifted})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		// IMU sorts before GNSS at equal timestamps.
		return out[i].Kind == KindIMU && out[j].Kind == KindGNSS
	})
	return out
}

// HeadingMatch is a (gnss_timestamp + offset, heading_deg) pair
// produced by MatchHeadings, fed to the turn detector ahead of replay.
type HeadingMatch struct {
	Time       float64
	HeadingDeg float64
}

// MatchHeadings pairs each GNSS fix carrying a wall-clock key with at
// most one auxiliary heading sample. Matching proceeds in two passes:
// exact string equality first, then equality after zero-padding both
// keys to the canonical YYYY-MM-DD HH:MM:SS form. Each heading key
// matches at most one GNSS fix; first match wins. offset is added to
// the fix's timestamp in the returned pairs, matching the shift
// Reorganize applies to the same fixes.
func MatchHeadings(gnssFixes []gnss.Fix, headings []heading.Sample, offset float64) []HeadingMatch {
	usedHeading := make([]bool, len(headings))
	out := make([]HeadingMatch, 0, len(gnssFixes))

	for _, f := range gnssFixes {
		if f.WallClockKey == "" {
			continue
		}
		idx := -1
		// Pass (a): exact equality.
		for i, h := range headings {
			if usedHeading[i] {
				continue
			}
			if h.Key == f.WallClockKey {
				idx = i
				break
			}
		}
		// Pass (b): normalized equality.
		if idx < 0 {
			normFix := normalizeKey(f.WallClockKey)
			for i, h := range headings {
				if usedHeading[i] {
					continue
				}
				if normalizeKey(h.Key) == normFix {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		usedHeading[idx] = true
		out = append(out, HeadingMatch{
			Time:       f.Time + offset,
			HeadingDeg: headings[idx].HeadingDeg,
		})
	}
	return out
}

// normalizeKey pads a "Y-M-D H:M:S" wall-clock key (with possibly
// single-digit fields) into the canonical 19-character
// "YYYY-MM-DD HH:MM:SS" form. Unparseable input is returned unchanged
// so it simply fails to match anything, rather than panicking.
func normalizeKey(key string) string {
	dateTime := strings.SplitN(key, " ", 2)
	if len(dateTime) != 2 {
		return key
	}
	dateParts := strings.Split(dateTime[0], "-")
	timeParts := strings.Split(dateTime[1], ":")
	if len(dateParts) != 3 || len(timeParts) != 3 {
		return key
	}
	year, err := pad(dateParts[0], 4)
	if err != nil {
		return key
	}
	month, err := pad(dateParts[1], 2)
	if err != nil {
		return key
	}
	day, err := pad(dateParts[2], 2)
	if err != nil {
		return key
	}
	hour, err := pad(timeParts[0], 2)
	if err != nil {
		return key
	}
	minute, err := pad(timeParts[1], 2)
	if err != nil {
		return key
	}
	second, err := pad(timeParts[2], 2)
	if err != nil {
		return key
	}
	return year + "-" + month + "-" + day + " " + hour + ":" + minute + ":" + second
}

func pad(field string, width int) (string, error) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return "", err
	}
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s, nil
}
