// Package imu holds the IMU sample types consumed by the event
// merger and the ESKF. Sample is in physical units (rad/s, m/s^2);
// Raw (raw.go) is the int16 register-count representation the
// hardware ingestion adapter reads off the wire before converting.
package imu

import "github.com/relabs-tech/gnss-ins-fuse/internal/rotation"

// Sample is a single IMU reading in physical units, body frame,
// axis order X-right, Y-forward, Z-up.
type Sample struct {
	Time         float64        // seconds
	AngularRate  rotation.Vec3  // rad/s
	SpecificForce rotation.Vec3 // m/s^2
}
