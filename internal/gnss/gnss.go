// Package gnss holds the planar GNSS fix type the ESKF observes
// against. A Fix is already in the local planar frame — converting a
// raw geodetic lat/lon/heading into one is the coordinate adapter's
// job (internal/coord), not this package's.
package gnss

import "github.com/relabs-tech/gnss-ins-fuse/internal/rotation"

// Fix is a single GNSS observation in the local planar frame.
type Fix struct {
	Time         float64 // seconds, same epoch as IMU
	Position     rotation.Vec3
	Rotation     rotation.Matrix // yaw-only attitude; roll = pitch = 0
	HeadingValid bool
	Status       string

	// WallClockKey is the Y-M-D H:M:S string this fix's underlying
	// log record carried, used to match against an auxiliary heading
	// sample (internal/events.MatchHeadings). Empty when the fix did
	// not originate from a record that carries one.
	WallClockKey string
}
