// Package config loads host-side recording settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"adcrec/core"
	"adcrec/host/serial"

	"gopkg.in/yaml.v3"
)

// DefaultPath is searched when no config file is given.
const DefaultPath = "adcrec.yaml"

var (
	ErrNoDevice   = errors.New("serial.device must be set")
	ErrBaud       = errors.New("serial.baud must be positive")
	ErrSampleRate = errors.New("recording.sample_rate must be positive")
	ErrDuration   = errors.New("recording.duration must be positive")
	ErrWarmup     = errors.New("recording.warmup must not be negative")
	ErrOutputDir  = errors.New("output.dir must be set")
)

// Config is the complete host configuration.
type Config struct {
	Verbose   bool            `yaml:"verbose"`   // Log protocol traffic and progress.
	Serial    SerialConfig    `yaml:"serial"`    // Port the recorder is attached to.
	Recording RecordingConfig `yaml:"recording"` // Session parameters sent to the device.
	Output    OutputConfig    `yaml:"output"`    // Where WAV files go.
}

// SerialConfig holds the serial port settings.
type SerialConfig struct {
	Device      string        `yaml:"device"`       // e.g. /dev/ttyACM0, COM3
	Baud        int           `yaml:"baud"`         // Ignored by USB CDC.
	ReadTimeout time.Duration `yaml:"read_timeout"` // Port read timeout.
}

// RecordingConfig holds the session parameters.
type RecordingConfig struct {
	Resolution int           `yaml:"resolution"`  // 8, 10 or 12 bits.
	SampleRate uint32        `yaml:"sample_rate"` // Per channel, in Hz.
	Window     int           `yaml:"window"`      // Samples per channel before switching; power of two.
	Warmup     time.Duration `yaml:"warmup"`      // Samples before this are discarded.
	Duration   time.Duration `yaml:"duration"`    // Session length.
}

// OutputConfig names the output files.
type OutputConfig struct {
	Dir    string `yaml:"dir"`    // Output directory, created if missing.
	Prefix string `yaml:"prefix"` // Files are <prefix>_ch<N>.wav.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Device:      "/dev/ttyACM0",
			Baud:        serial.DefaultBaud,
			ReadTimeout: 100 * time.Millisecond,
		},
		Recording: RecordingConfig{
			Resolution: 8,
			SampleRate: 8000,
			Window:     8,
			Warmup:     0,
			Duration:   10 * time.Second,
		},
		Output: OutputConfig{
			Dir:    "./recordings",
			Prefix: "recording",
		},
	}
}

// Load reads path over the defaults. An empty path tries DefaultPath and
// falls back to the defaults when it does not exist. Environment overrides
// are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field the device would otherwise reject, so bad
// settings fail before the port is opened.
func (c *Config) Validate() error {
	switch {
	case c.Serial.Device == "":
		return ErrNoDevice
	case c.Serial.Baud <= 0:
		return ErrBaud
	case c.Recording.Resolution > 0xFF || !core.Resolution(c.Recording.Resolution).Valid():
		return fmt.Errorf("recording.resolution %d: %w", c.Recording.Resolution, core.ErrResolution)
	case c.Recording.Window <= 0:
		return fmt.Errorf("recording.window: %w", core.ErrZeroWindow)
	case c.Recording.Window&(c.Recording.Window-1) != 0:
		return fmt.Errorf("recording.window %d: %w", c.Recording.Window, core.ErrWindowNotPowerOfTwo)
	case c.Recording.SampleRate == 0:
		return ErrSampleRate
	case c.Recording.Duration <= 0:
		return ErrDuration
	case c.Recording.Warmup < 0:
		return ErrWarmup
	case c.Output.Dir == "":
		return ErrOutputDir
	}
	return nil
}

// ADCREC_DEVICE and ADCREC_OUTPUT_DIR override the file.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ADCREC_DEVICE"); ok && val != "" {
		c.Serial.Device = val
	}
	if val, ok := os.LookupEnv("ADCREC_OUTPUT_DIR"); ok && val != "" {
		c.Output.Dir = val
	}
}

// SerialPortConfig converts the serial section for serial.Open.
func (c *Config) SerialPortConfig() *serial.Config {
	return &serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: int(c.Serial.ReadTimeout / time.Millisecond),
	}
}

// Resolution returns the recording resolution as the device type.
func (c *Config) Resolution() core.Resolution {
	return core.Resolution(c.Recording.Resolution)
}
