// Package imuhw implements the hardware IMU source (§4.6c): it reads
// raw accelerometer/gyroscope register values from an SPI-attached
// MPU9250 at a fixed sample rate, converts them from raw counts to
// physical units using the configured full-scale range, and pushes
// IMU events to the realtime pipeline's queue — a live alternative to
// the $ACC/$GYR tokens the offline log format carries.
package imuhw

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

// accelFullScaleG and gyroFullScaleDegS map the MPU9250's 2-bit range
// selector to its full-scale value, per the register datasheet.
var accelFullScaleG = [4]float64{2, 4, 8, 16}
var gyroFullScaleDegS = [4]float64{250, 500, 1000, 2000}

const rawFullScale = 32768.0
const gravityMps2 = 9.8
const deg2rad = 3.14159265358979323846 / 180.0

// Source drives one MPU9250 over SPI at SampleRateHz and pushes
// converted samples to a realtime queue.
type Source struct {
	SPIDevice   string
	CSPin       string
	AccelRange  byte // 0..3
	GyroRange   byte // 0..3
	SampleRateHz int

	Epoch time.Time

	dev *mpu9250.MPU9250
}

// scaleFactors converts a raw int16 count at the given range selector
// into m/s^2 (accel) and rad/s (gyro).
func scaleFactors(accelRange, gyroRange byte) (accelScale, gyroScale float64) {
	accelScale = accelFullScaleG[accelRange] * gravityMps2 / rawFullScale
	gyroScale = gyroFullScaleDegS[gyroRange] * deg2rad / rawFullScale
	return accelScale, gyroScale
}

// Open initializes periph, the SPI transport, and the MPU9250, and
// applies the configured ranges. Must be called once before Run.
func (s *Source) Open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("imuhw: periph host init: %w", err)
	}
	cs := gpioreg.ByName(s.CSPin)
	if cs == nil {
		return fmt.Errorf("imuhw: CS pin %q not found", s.CSPin)
	}
	tr, err := mpu9250.NewSpiTransport(s.SPIDevice, cs)
	if err != nil {
		return fmt.Errorf("imuhw: SPI transport (%s): %w", s.SPIDevice, err)
	}
	dev, err := mpu9250.New(*tr)
	if err != nil {
		return fmt.Errorf("imuhw: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return fmt.Errorf("imuhw: initialization: %w", err)
	}
	if err := dev.SetAccelRange(s.AccelRange); err != nil {
		return fmt.Errorf("imuhw: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(s.GyroRange); err != nil {
		return fmt.Errorf("imuhw: set gyro range: %w", err)
	}
	if err := dev.Calibrate(); err != nil {
		return fmt.Errorf("imuhw: calibration: %w", err)
	}
	s.dev = dev
	return nil
}

// NextRaw implements imu.RawSource: it reads one raw accel/gyro
// reading off the MPU9250 and stamps it with the time elapsed since
// Epoch, the hardware equivalent of the teacher's sensors.imuSource
// ReadRaw.
func (s *Source) NextRaw() (imu.Raw, error) {
	if s.dev == nil {
		return imu.Raw{}, fmt.Errorf("imuhw: Open must be called before NextRaw")
	}
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: accel Z: %w", err)
	}
	gx, err := s.dev.GetRotationX()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: gyro X: %w", err)
	}
	gy, err := s.dev.GetRotationY()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: gyro Y: %w", err)
	}
	gz, err := s.dev.GetRotationZ()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("imuhw: gyro Z: %w", err)
	}

	return imu.Raw{
		Source:    "imuhw",
		Ax:        ax,
		Ay:        ay,
		Az:        az,
		Gx:        gx,
		Gy:        gy,
		Gz:        gz,
		Timestamp: time.Since(s.Epoch).Seconds(),
	}, nil
}

// Run implements events.Source: it ticks at SampleRateHz, reads one
// raw sample via NextRaw, converts it, and pushes it to q. It blocks
// until NextRaw returns an error, which it then returns — there is no
// internal stop signal, matching the teacher's bare for-range-over-
// ticker loop; callers cancel by abandoning the goroutine at process
// shutdown.
func (s *Source) Run(q *events.Queue) error {
	if s.dev == nil {
		return fmt.Errorf("imuhw: Open must be called before Run")
	}
	period := time.Second / time.Duration(s.SampleRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	accelScale, gyroScale := scaleFactors(s.AccelRange, s.GyroRange)

	for range ticker.C {
		raw, err := s.NextRaw()
		if err != nil {
			return err
		}

		sample := imu.Sample{
			Time: raw.Timestamp,
			SpecificForce: rotation.NewVec3(
				float64(raw.Ax)*accelScale,
				float64(raw.Ay)*accelScale,
				float64(raw.Az)*accelScale,
			),
			AngularRate: rotation.NewVec3(
				float64(raw.Gx)*gyroScale,
				float64(raw.Gy)*gyroScale,
				float64(raw.Gz)*gyroScale,
			),
		}
		q.Push(events.Event{Kind: events.KindIMU, Time: sample.Time, IMU: sample})
	}
	return nil
}
