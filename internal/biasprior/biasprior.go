// Package biasprior loads a bias-prior file produced by the external,
// out-of-scope static IMU bias initializer (SPEC_FULL.md §4.7) and
// converts it into eskf.Options' initial_gyro_bias/initial_accel_bias
// fields. It performs no estimation of its own.
//
// The JSON shape mirrors this project's reference calibration-result
// file (internal/app/calibration_handler.go's CalibrationResult):
// per-axis bias fields plus a confidence score.
package biasprior

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

// Prior is the on-disk shape of a bias-prior file.
type Prior struct {
	Version int    `json:"version"`
	IMU     string `json:"imu"`

	GyroBiasX      float64 `json:"gyro_bias_x"`
	GyroBiasY      float64 `json:"gyro_bias_y"`
	GyroBiasZ      float64 `json:"gyro_bias_z"`
	GyroConfidence float64 `json:"gyro_confidence"`

	AccelBiasX      float64 `json:"accel_bias_x"`
	AccelBiasY      float64 `json:"accel_bias_y"`
	AccelBiasZ      float64 `json:"accel_bias_z"`
	AccelConfidence float64 `json:"accel_confidence"`
}

// confidenceWarnThreshold is below what the loader logs a warning but
// still applies the prior — the initializer's output is trusted once
// produced, rejecting it is not this loader's job.
const confidenceWarnThreshold = 50.0

// Load reads path and returns the gyro/accel bias vectors to seed
// eskf.Options with. A path that cannot be read or parsed is an error;
// callers only call Load when a path was actually configured, so an
// unconfigured prior never reaches it.
func Load(path string) (gyroBias, accelBias rotation.Vec3, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rotation.Vec3{}, rotation.Vec3{}, fmt.Errorf("biasprior: read %s: %w", path, err)
	}
	var p Prior
	if err := json.Unmarshal(data, &p); err != nil {
		return rotation.Vec3{}, rotation.Vec3{}, fmt.Errorf("biasprior: parse %s: %w", path, err)
	}

	if p.GyroConfidence < confidenceWarnThreshold {
		log.Printf("biasprior: gyro confidence %.1f below %.1f, applying anyway", p.GyroConfidence, confidenceWarnThreshold)
	}
	if p.AccelConfidence < confidenceWarnThreshold {
		log.Printf("biasprior: accel confidence %.1f below %.1f, applying anyway", p.AccelConfidence, confidenceWarnThreshold)
	}

	gyroBias = rotation.NewVec3(p.GyroBiasX, p.GyroBiasY, p.GyroBiasZ)
	accelBias = rotation.NewVec3(p.AccelBiasX, p.AccelBiasY, p.AccelBiasZ)
	return gyroBias, accelBias, nil
}
