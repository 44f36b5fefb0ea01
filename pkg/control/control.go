// Package control runs the gripper: a periodic loop that turns button
// transitions into position writes, and an on-demand telemetry read path.
// Both share the servo bus through an arbiter.
package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/gripper/pkg/arbiter"
	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/input"
	"github.com/gwillem/gripper/pkg/sts"
	"github.com/gwillem/gripper/pkg/telemetry"
)

// Bus is the servo client behind its arbiter.
type Bus = arbiter.Arbiter[*sts.Client]

// Config holds configuration for the controller.
type Config struct {
	ServoID      int
	Machine      gripper.MachineConfig
	EnableTorque bool // enable torque once before the first move

	PollInterval      time.Duration // default 100ms
	StatusTimeout     time.Duration // bound for Telemetry, 0 means no bound
	TelemetryInterval time.Duration // background refresh, 0 disables it
}

// Status is a point-in-time view of the controller for health reporting.
type Status struct {
	State         gripper.State
	Primed        bool
	WriteFailures uint64
	ReadFailures  uint64
	Bus           arbiter.Stats
}

// Controller owns everything the control task and the status handler
// share. Create one per servo and pass it to both.
type Controller struct {
	bus   *Bus
	cache *telemetry.Cache
	input input.Reader
	log   zerolog.Logger
	cfg   Config

	// Owned by the control loop
	machine *gripper.Machine

	mu      sync.Mutex
	running bool

	state         atomic.Int32
	primed        atomic.Bool
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64
}

// NewController creates a controller.
func NewController(cfg Config, bus *Bus, in input.Reader, log zerolog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	return &Controller{
		bus:     bus,
		cache:   telemetry.NewCache(),
		input:   in,
		log:     log,
		cfg:     cfg,
		machine: gripper.NewMachine(cfg.Machine),
	}
}

// Cache returns the telemetry cache.
func (c *Controller) Cache() *telemetry.Cache {
	return c.cache
}

// State returns the last state successfully commanded.
func (c *Controller) State() gripper.State {
	return gripper.State(c.state.Load())
}

// Status returns counters and the current state.
func (c *Controller) Status() Status {
	return Status{
		State:         c.State(),
		Primed:        c.primed.Load(),
		WriteFailures: c.writeFailures.Load(),
		ReadFailures:  c.readFailures.Load(),
		Bus:           c.bus.Stats(),
	}
}

// Probe pings the servo and returns its model number.
func (c *Controller) Probe(ctx context.Context) (int, error) {
	return arbiter.Exclusive(ctx, c.bus, func(cl *sts.Client) (int, error) {
		return cl.Ping(ctx, c.cfg.ServoID)
	})
}

// Start runs the control loop until ctx is canceled. The input is sampled
// once before the first tick so the startup level never causes a move.
// Bus errors are logged and never stop the loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.prime()

	if c.cfg.EnableTorque {
		err := c.bus.Do(ctx, func(cl *sts.Client) error {
			return cl.WriteRegister(ctx, c.cfg.ServoID, sts.RegTorqueEnable, 1)
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to enable torque")
		} else {
			c.log.Info().Int("servo", c.cfg.ServoID).Msg("Torque enabled")
		}
	}

	c.log.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Dur("telemetry_interval", c.cfg.TelemetryInterval).
		Msg("Control loop started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var telemetryC <-chan time.Time
	if c.cfg.TelemetryInterval > 0 {
		t := time.NewTicker(c.cfg.TelemetryInterval)
		defer t.Stop()
		telemetryC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Step(ctx)
		case <-telemetryC:
			if _, err := c.RefreshTelemetry(ctx); err != nil {
				c.log.Debug().Err(err).Msg("Background telemetry read failed")
			}
		}
	}
}

// Step runs one poll cycle: read the input and, on a transition, write the
// new position. A failed write is not committed, so the next Step retries
// it while the input still differs.
func (c *Controller) Step(ctx context.Context) {
	level, err := c.input.Read()
	if err != nil {
		c.log.Warn().Err(err).Msg("Input read failed")
		return
	}

	target, cmd, ok := c.machine.Next(level)
	if !c.primed.Load() {
		c.markPrimed(target)
	}
	if !ok {
		return
	}

	err = c.bus.Do(ctx, func(cl *sts.Client) error {
		return cl.WritePosition(ctx, c.cfg.ServoID, cmd)
	})
	if err != nil {
		c.writeFailures.Add(1)
		c.log.Error().Err(err).Stringer("target", target).Msg("Position write failed, retrying next poll")
		return
	}

	c.machine.Commit(target)
	c.state.Store(int32(target))
	c.log.Info().
		Stringer("state", target).
		Int("position", cmd.Position).
		Bool("input", level).
		Msg("Gripper moving")
}

// RefreshTelemetry reads all telemetry fields in one bus session and
// stores the result. The cache is only updated when every field was read.
func (c *Controller) RefreshTelemetry(ctx context.Context) (telemetry.Snapshot, error) {
	snap, err := arbiter.Exclusive(ctx, c.bus, func(cl *sts.Client) (telemetry.Snapshot, error) {
		sample, err := cl.ReadTelemetry(ctx, c.cfg.ServoID)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		// Inside the session, so snapshot order follows bus order
		return c.cache.Update(sample), nil
	})
	if err != nil {
		c.readFailures.Add(1)
		return telemetry.Snapshot{}, err
	}
	return snap, nil
}

// Telemetry tries a fresh read bounded by StatusTimeout and returns the
// newest valid snapshot. When the refresh fails the previous snapshot is
// returned together with the error; ok is false only if no read ever
// succeeded.
func (c *Controller) Telemetry(ctx context.Context) (snap telemetry.Snapshot, ok bool, err error) {
	if c.cfg.StatusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StatusTimeout)
		defer cancel()
	}

	fresh, err := c.RefreshTelemetry(ctx)
	if err == nil {
		return fresh, true, nil
	}

	snap, ok = c.cache.Read()
	return snap, ok, err
}

func (c *Controller) prime() {
	level, err := c.input.Read()
	if err != nil {
		c.log.Warn().Err(err).Msg("Initial input read failed, priming on first poll")
		return
	}
	c.markPrimed(c.machine.Prime(level))
	c.log.Info().Bool("input", level).Stringer("state", c.machine.State()).Msg("Input sampled")
}

func (c *Controller) markPrimed(s gripper.State) {
	c.state.Store(int32(s))
	c.primed.Store(true)
}
