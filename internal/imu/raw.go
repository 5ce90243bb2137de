package imu

// Raw is the register-level IMU reading: signed 16-bit counts exactly
// as read off an MPU9250 over SPI, before any scale-factor conversion
// to physical units. Carried over from the teacher's IMURaw type,
// dropping the magnetometer fields (no SPEC_FULL.md component reads
// one) and adding Timestamp since this repo's hardware source
// (internal/imuhw) needs one to build a Sample.
type Raw struct {
	Source     string
	Ax, Ay, Az int16
	Gx, Gy, Gz int16
	Timestamp  float64 // seconds since the source's epoch
}

// RawSource is satisfied by anything that can produce one Raw reading
// per call — the hardware SPI driver in internal/imuhw implements it.
type RawSource interface {
	NextRaw() (Raw, error)
}
