package sts

import "fmt"

// Fixed unit conversions for surfacing telemetry.
const (
	// CurrentScale converts raw current into engineering units.
	CurrentScale = 10
	// VoltageDivisor converts raw voltage (tenths of a volt) into volts.
	VoltageDivisor = 10.0
)

// Sample is one set of telemetry read in a single bus session.
// All fields are in raw device units.
type Sample struct {
	Current     int
	Position    int
	Voltage     int
	Load        int
	Temperature int
}

// ScaledCurrent returns the current in engineering units (raw × 10).
func (s Sample) ScaledCurrent() int {
	return s.Current * CurrentScale
}

// Volts returns the supply voltage in volts.
func (s Sample) Volts() float64 {
	return float64(s.Voltage) / VoltageDivisor
}

// PositionCommand is a goal position write with its motion profile.
type PositionCommand struct {
	Position     int // steps, 0..MaxPosition
	Speed        int // steps/s, 0 means servo maximum
	Acceleration int // ×100 steps/s², 0 means servo maximum
}

// Device ranges for PositionCommand fields.
const (
	MaxPosition     = 4095
	MaxSpeed        = 32767
	MaxAcceleration = 254
)

// Validate reports whether the command fits the device ranges.
func (c PositionCommand) Validate() error {
	switch {
	case c.Position < 0 || c.Position > MaxPosition:
		return outOfRange("position", c.Position, MaxPosition)
	case c.Speed < 0 || c.Speed > MaxSpeed:
		return outOfRange("speed", c.Speed, MaxSpeed)
	case c.Acceleration < 0 || c.Acceleration > MaxAcceleration:
		return outOfRange("acceleration", c.Acceleration, MaxAcceleration)
	}
	return nil
}

func outOfRange(field string, value, limit int) error {
	return fmt.Errorf("%w: %s %d outside 0..%d", ErrInvalidCommand, field, value, limit)
}
