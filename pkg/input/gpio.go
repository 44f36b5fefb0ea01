package input

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOConfig selects a GPIO line.
type GPIOConfig struct {
	Chip   string // e.g. "gpiochip0"
	Line   int
	PullUp bool
}

// GPIO reads a line through the Linux GPIO character device.
type GPIO struct {
	line *gpiocdev.Line
}

// OpenGPIO requests the line as an input.
func OpenGPIO(cfg GPIOConfig) (*GPIO, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer("gripper")}
	if cfg.PullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	return &GPIO{line: line}, nil
}

// Read implements Reader.
func (g *GPIO) Read() (bool, error) {
	v, err := g.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line: %w", err)
	}
	return v != 0, nil
}

// Close releases the line.
func (g *GPIO) Close() error {
	return g.line.Close()
}
