package gripper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"

	"github.com/gwillem/gripper/pkg/sts"
)

const DefaultConfigFile = "gripper.json"

// Config holds the controller configuration.
type Config struct {
	Port     string `json:"port" env:"GRIPPER_PORT"`
	BaudRate int    `json:"baud_rate" env:"GRIPPER_BAUD_RATE"`
	ServoID  int    `json:"servo_id" env:"GRIPPER_SERVO_ID"`

	Positions    Positions `json:"positions"`
	Speed        int       `json:"speed" env:"GRIPPER_SPEED"`
	Acceleration int       `json:"acceleration" env:"GRIPPER_ACCELERATION"`
	EnableTorque bool      `json:"enable_torque" env:"GRIPPER_ENABLE_TORQUE"`

	Button ButtonConfig `json:"button"`

	PollIntervalMs      int `json:"poll_interval_ms" env:"GRIPPER_POLL_INTERVAL_MS"`
	BusTimeoutMs        int `json:"bus_timeout_ms" env:"GRIPPER_BUS_TIMEOUT_MS"`
	StatusTimeoutMs     int `json:"status_timeout_ms" env:"GRIPPER_STATUS_TIMEOUT_MS"`
	TelemetryIntervalMs int `json:"telemetry_interval_ms" env:"GRIPPER_TELEMETRY_INTERVAL_MS"`

	Listen string `json:"listen" env:"GRIPPER_LISTEN"`
}

// ButtonConfig selects the GPIO line of the button.
type ButtonConfig struct {
	Chip          string `json:"chip" env:"GRIPPER_BUTTON_CHIP"`
	Line          int    `json:"line" env:"GRIPPER_BUTTON_LINE"`
	PullUp        bool   `json:"pull_up" env:"GRIPPER_BUTTON_PULL_UP"`
	ActiveLow     bool   `json:"active_low" env:"GRIPPER_BUTTON_ACTIVE_LOW"`
	StableSamples int    `json:"stable_samples" env:"GRIPPER_BUTTON_STABLE_SAMPLES"`
}

// DefaultConfig returns the factory settings: servo 1 at 1 Mbaud, open at
// 2000, closed at 3200, button on line 22 with pull-up, polled every 100ms.
func DefaultConfig() Config {
	return Config{
		BaudRate: sts.DefaultBaudRate,
		ServoID:  1,
		Positions: Positions{
			Open:  2000,
			Close: 3200,
		},
		Speed:        1500,
		Acceleration: 50,
		EnableTorque: true,
		Button: ButtonConfig{
			Chip:          "gpiochip0",
			Line:          22,
			PullUp:        true,
			StableSamples: 1,
		},
		PollIntervalMs:  100,
		BusTimeoutMs:    20,
		StatusTimeoutMs: 250,
		Listen:          ":80",
	}
}

// LoadConfigFrom loads configuration from a specific file on top of the
// defaults, then applies GRIPPER_* environment overrides. A missing file is
// not an error.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks ranges that would otherwise only fail on the bus.
func (c *Config) Validate() error {
	var errs []error
	if c.ServoID < 0 || c.ServoID > 253 {
		errs = append(errs, fmt.Errorf("servo_id %d outside 0..253", c.ServoID))
	}
	for _, cmd := range []sts.PositionCommand{c.OpenCommand(), c.CloseCommand()} {
		if err := cmd.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive"))
	}
	// /api/status must never wait on the bus without a bound
	if c.StatusTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("status_timeout_ms must be positive"))
	}
	// 0 selects the client default
	if c.BusTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("bus_timeout_ms must not be negative"))
	}
	// 0 disables background telemetry
	if c.TelemetryIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("telemetry_interval_ms must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// OpenCommand is the position command for the open state.
func (c *Config) OpenCommand() sts.PositionCommand {
	return sts.PositionCommand{Position: c.Positions.Open, Speed: c.Speed, Acceleration: c.Acceleration}
}

// CloseCommand is the position command for the closed state.
func (c *Config) CloseCommand() sts.PositionCommand {
	return sts.PositionCommand{Position: c.Positions.Close, Speed: c.Speed, Acceleration: c.Acceleration}
}

// MachineConfig derives the state machine settings.
func (c *Config) MachineConfig() MachineConfig {
	return MachineConfig{
		Open:          c.OpenCommand(),
		Close:         c.CloseCommand(),
		ActiveLow:     c.Button.ActiveLow,
		StableSamples: c.Button.StableSamples,
	}
}

// PollInterval is the control loop period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BusTimeout bounds each response frame.
func (c *Config) BusTimeout() time.Duration {
	return time.Duration(c.BusTimeoutMs) * time.Millisecond
}

// StatusTimeout bounds how long a status query waits for fresh telemetry.
func (c *Config) StatusTimeout() time.Duration {
	return time.Duration(c.StatusTimeoutMs) * time.Millisecond
}

// TelemetryInterval is the background telemetry period, 0 when disabled.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.TelemetryIntervalMs) * time.Millisecond
}
