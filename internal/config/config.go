// Package config loads the flat KEY=VALUE configuration file described
// in SPEC_FULL.md §4.8. The shape — a package-level singleton guarded
// by sync.Once, a setValue/validate pair, a switch over known keys —
// matches this project's reference configuration loader; only the key
// set changed, from SPI/I2C device paths to ESKF and turn-detector
// tunables.
package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds every tunable named in SPEC_FULL.md §4.3/§4.4/§4.5/§4.6.
type Config struct {
	// ESKF core (§4.3)
	IMUDt           float64
	GyroVar         float64
	AcceVar         float64
	BiasGyroVar     float64
	BiasAcceVar     float64
	GnssPosNoise    float64
	GnssHeightNoise float64
	GnssAngNoise    float64
	UpdateBiasGyro  bool
	UpdateBiasAcce  bool

	EnableTimeCompensation bool
	FixedTimeDelay         float64

	PhoneRollInstall    float64
	PhonePitchInstall   float64
	PhoneHeadingInstall float64

	// Coordinate adapter (§4.2)
	AntennaLeverArmX float64
	AntennaLeverArmY float64
	AntennaLeverArmZ float64
	AntennaYawBias   float64

	// Turn detector (§4.4)
	TurnStartRateDegS float64
	TurnEndRateDegS   float64
	TurnEndDurationS  float64
	TurnAngleDeg      float64
	TurnSmoothWindow  int

	// Offline pipeline (§4.5)
	OffsetSweepMinS  float64
	OffsetSweepMaxS  float64
	OffsetSweepStepS float64

	// Realtime pipeline (§4.6)
	RealtimeQueueDepth      int
	RealtimeStaleGnssMaxAge float64

	// File paths and I/O (§6)
	TxtPath       string
	BiasPriorPath string
	MQTTBroker    string
	OutputDir     string

	// MQTT realtime transport (§4.6a)
	MQTTClientID  string
	MQTTTopicIMU  string
	MQTTTopicGNSS string
	MQTTTopicPose string

	// Serial NMEA ingestion (§4.6b)
	GPSSerialPort string
	GPSBaudRate   int

	// Hardware IMU ingestion (§4.6c)
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange     byte
	IMUSampleRateHz  int
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config pre-populated with the ESKF core's
// reference tuning, so a config file need only override what it
// cares about. Load always starts from this.
func Default() *Config {
	return &Config{
		IMUDt:           0.04,
		GyroVar:         1e-5,
		AcceVar:         1e-2,
		BiasGyroVar:     1e-6,
		BiasAcceVar:     1e-4,
		GnssPosNoise:    5.0,
		GnssHeightNoise: 1.0,
		GnssAngNoise:    1.0 * math.Pi / 180.0,
		UpdateBiasGyro:  true,
		UpdateBiasAcce:  true,

		FixedTimeDelay: 0.2,

		TurnStartRateDegS: 3.0,
		TurnEndRateDegS:   1.5,
		TurnEndDurationS:  3.0,
		TurnAngleDeg:      30.0,
		TurnSmoothWindow:  5,

		OffsetSweepMinS:  -0.5,
		OffsetSweepMaxS:  0.5,
		OffsetSweepStepS: 0.02,

		RealtimeQueueDepth:      1024,
		RealtimeStaleGnssMaxAge: 5.0,

		OutputDir: ".",

		MQTTClientID:  "gnss-ins-fuse",
		MQTTTopicIMU:  "insfuse/imu",
		MQTTTopicGNSS: "insfuse/gnss",
		MQTTTopicPose: "insfuse/pose",

		GPSSerialPort: "/dev/serial0",
		GPSBaudRate:   9600,

		IMUSPIDevice:    "/dev/spidev0.0",
		IMUCSPin:        "",
		IMUAccelRange:   0,
		IMUGyroRange:    0,
		IMUSampleRateHz: 100,
	}
}

// Load reads configPath and overlays it onto Default().
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFloatField(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBoolField(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseIntField(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "IMU_DT":
		c.IMUDt, err = parseFloatField(key, value)
	case "GYRO_VAR":
		c.GyroVar, err = parseFloatField(key, value)
	case "ACCE_VAR":
		c.AcceVar, err = parseFloatField(key, value)
	case "BIAS_GYRO_VAR":
		c.BiasGyroVar, err = parseFloatField(key, value)
	case "BIAS_ACCE_VAR":
		c.BiasAcceVar, err = parseFloatField(key, value)
	case "GNSS_POS_NOISE":
		c.GnssPosNoise, err = parseFloatField(key, value)
	case "GNSS_HEIGHT_NOISE":
		c.GnssHeightNoise, err = parseFloatField(key, value)
	case "GNSS_ANG_NOISE":
		c.GnssAngNoise, err = parseFloatField(key, value)
	case "UPDATE_BIAS_GYRO":
		c.UpdateBiasGyro, err = parseBoolField(key, value)
	case "UPDATE_BIAS_ACCE":
		c.UpdateBiasAcce, err = parseBoolField(key, value)
	case "ENABLE_TIME_COMPENSATION":
		c.EnableTimeCompensation, err = parseBoolField(key, value)
	case "FIXED_TIME_DELAY":
		c.FixedTimeDelay, err = parseFloatField(key, value)
	case "PHONE_ROLL_INSTALL":
		c.PhoneRollInstall, err = parseFloatField(key, value)
	case "PHONE_PITCH_INSTALL":
		c.PhonePitchInstall, err = parseFloatField(key, value)
	case "PHONE_HEADING_INSTALL":
		c.PhoneHeadingInstall, err = parseFloatField(key, value)
	case "ANTENNA_LEVER_ARM_X":
		c.AntennaLeverArmX, err = parseFloatField(key, value)
	case "ANTENNA_LEVER_ARM_Y":
		c.AntennaLeverArmY, err = parseFloatField(key, value)
	case "ANTENNA_LEVER_ARM_Z":
		c.AntennaLeverArmZ, err = parseFloatField(key, value)
	case "ANTENNA_YAW_BIAS":
		c.AntennaYawBias, err = parseFloatField(key, value)
	case "TURN_START_RATE_DEG_S":
		c.TurnStartRateDegS, err = parseFloatField(key, value)
	case "TURN_END_RATE_DEG_S":
		c.TurnEndRateDegS, err = parseFloatField(key, value)
	case "TURN_END_DURATION_S":
		c.TurnEndDurationS, err = parseFloatField(key, value)
	case "TURN_ANGLE_DEG":
		c.TurnAngleDeg, err = parseFloatField(key, value)
	case "TURN_SMOOTH_WINDOW":
		c.TurnSmoothWindow, err = parseIntField(key, value)
	case "OFFSET_SWEEP_MIN_S":
		c.OffsetSweepMinS, err = parseFloatField(key, value)
	case "OFFSET_SWEEP_MAX_S":
		c.OffsetSweepMaxS, err = parseFloatField(key, value)
	case "OFFSET_SWEEP_STEP_S":
		c.OffsetSweepStepS, err = parseFloatField(key, value)
	case "REALTIME_QUEUE_DEPTH":
		c.RealtimeQueueDepth, err = parseIntField(key, value)
	case "REALTIME_STALE_GNSS_MAX_AGE":
		c.RealtimeStaleGnssMaxAge, err = parseFloatField(key, value)
	case "TXT_PATH":
		c.TxtPath = value
	case "BIAS_PRIOR_PATH":
		c.BiasPriorPath = value
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "OUTPUT_DIR":
		c.OutputDir = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_IMU":
		c.MQTTTopicIMU = value
	case "MQTT_TOPIC_GNSS":
		c.MQTTTopicGNSS = value
	case "MQTT_TOPIC_POSE":
		c.MQTTTopicPose = value
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseIntField(key, value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		var v int
		v, err = parseIntField(key, value)
		if err == nil {
			if v < 0 || v > 3 {
				return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3, got %d", v)
			}
			c.IMUAccelRange = byte(v)
		}
	case "IMU_GYRO_RANGE":
		var v int
		v, err = parseIntField(key, value)
		if err == nil {
			if v < 0 || v > 3 {
				return fmt.Errorf("IMU_GYRO_RANGE must be 0-3, got %d", v)
			}
			c.IMUGyroRange = byte(v)
		}
	case "IMU_SAMPLE_RATE_HZ":
		c.IMUSampleRateHz, err = parseIntField(key, value)
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

func (c *Config) validate() error {
	if c.IMUDt <= 0 {
		return fmt.Errorf("IMU_DT must be positive")
	}
	if c.TurnSmoothWindow < 1 || c.TurnSmoothWindow%2 == 0 {
		return fmt.Errorf("TURN_SMOOTH_WINDOW must be a positive odd integer")
	}
	if c.OffsetSweepStepS <= 0 {
		return fmt.Errorf("OFFSET_SWEEP_STEP_S must be positive")
	}
	if c.OffsetSweepMaxS < c.OffsetSweepMinS {
		return fmt.Errorf("OFFSET_SWEEP_MAX_S must be >= OFFSET_SWEEP_MIN_S")
	}
	return nil
}

// InitGlobal loads configPath into the package-level singleton. Only
// the first call takes effect; later calls are no-ops.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration. InitGlobal must run first.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
