package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/gripper/pkg/arbiter"
	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/input"
	"github.com/gwillem/gripper/pkg/servosim"
	"github.com/gwillem/gripper/pkg/sts"
)

const (
	openPos  = 2000
	closePos = 3200
)

func testConfig() Config {
	return Config{
		ServoID: 1,
		Machine: gripper.MachineConfig{
			Open:  sts.PositionCommand{Position: openPos, Speed: 1500, Acceleration: 50},
			Close: sts.PositionCommand{Position: closePos, Speed: 1500, Acceleration: 50},
		},
		PollInterval:  time.Millisecond,
		StatusTimeout: time.Second,
	}
}

func newTestController(t *testing.T, cfg Config, servoCfg servosim.Config, in input.Reader) (*Controller, *servosim.Servo) {
	t.Helper()
	servo := servosim.New(servoCfg)
	client := sts.NewClient(servo, sts.ClientConfig{
		Timeout:       5 * time.Millisecond,
		MinCommandGap: 20 * time.Microsecond,
	})
	return NewController(cfg, arbiter.New(client), in, zerolog.Nop()), servo
}

func TestStep_OneWritePerTransition(t *testing.T) {
	in := input.NewSequence(false, true, true, false)
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, in)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		c.Step(ctx)
	}

	// LOW primes, HIGH closes, HIGH is steady, LOW opens
	assert.Equal(t, []int{closePos, openPos}, servo.GoalPositions())
	assert.Equal(t, gripper.Open, c.State())
}

func TestStep_NoWritesWhileSteady(t *testing.T) {
	in := input.NewSequence(true)
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, in)

	for i := 0; i < 10; i++ {
		c.Step(context.Background())
	}
	assert.Empty(t, servo.GoalPositions())
	assert.Equal(t, gripper.Closed, c.State())
	assert.True(t, c.Status().Primed)
}

func TestStep_RetriesFailedWrite(t *testing.T) {
	in := input.NewSequence(false, true, true, true)
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, in)
	ctx := context.Background()

	c.Step(ctx) // prime

	servo.FailWrites(servosim.ErrInjected)
	c.Step(ctx)
	assert.Empty(t, servo.GoalPositions())
	assert.Equal(t, gripper.Open, c.State())
	assert.Equal(t, uint64(1), c.Status().WriteFailures)

	servo.FailWrites(nil)
	c.Step(ctx)
	c.Step(ctx)
	assert.Equal(t, []int{closePos}, servo.GoalPositions())
	assert.Equal(t, gripper.Closed, c.State())
}

func TestStep_InputErrorSkipsCycle(t *testing.T) {
	in := input.NewSequence(false, true, true)
	in.FailAt(1, errors.New("gpio gone"))
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, in)

	for i := 0; i < 3; i++ {
		c.Step(context.Background())
	}
	assert.Equal(t, []int{closePos}, servo.GoalPositions())
}

func TestTelemetry_UpdatesCache(t *testing.T) {
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, input.NewSequence())
	servo.Set(sts.RegPresentCurrent, 5)
	servo.Set(sts.RegPresentVoltage, 237)

	snap, ok, err := c.Telemetry(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50, snap.Sample.ScaledCurrent())
	assert.InDelta(t, 23.7, snap.Sample.Volts(), 1e-9)

	cached, ok := c.Cache().Read()
	require.True(t, ok)
	assert.Equal(t, snap, cached)
}

func TestTelemetry_FailedReadKeepsLastSnapshot(t *testing.T) {
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, input.NewSequence())
	ctx := context.Background()

	first, ok, err := c.Telemetry(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Position changes, but the temperature read fails
	servo.Set(sts.RegPresentPosition, 3000)
	servo.SetSilent(sts.RegPresentTemperature.Address, true)

	snap, ok, err := c.Telemetry(ctx)
	assert.ErrorIs(t, err, sts.ErrPartialRead)
	require.True(t, ok)
	assert.Equal(t, first, snap, "no mixture of old and new fields")
	assert.Equal(t, uint64(1), c.Status().ReadFailures)

	cached, _ := c.Cache().Read()
	assert.Equal(t, first, cached)
}

func TestTelemetry_NoDataYet(t *testing.T) {
	c, servo := newTestController(t, testConfig(), servosim.Config{ID: 1}, input.NewSequence())
	servo.DropResponses(100)

	_, ok, err := c.Telemetry(context.Background())
	assert.ErrorIs(t, err, sts.ErrTimeout)
	assert.False(t, ok)
}

func TestTelemetry_BusyBusServesCache(t *testing.T) {
	cfg := testConfig()
	cfg.StatusTimeout = 10 * time.Millisecond
	c, _ := newTestController(t, cfg, servosim.Config{ID: 1}, input.NewSequence())

	first, err := c.RefreshTelemetry(context.Background())
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.bus.Do(context.Background(), func(*sts.Client) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	start := time.Now()
	snap, ok, err := c.Telemetry(context.Background())
	assert.ErrorIs(t, err, arbiter.ErrNotAcquired)
	assert.True(t, ok)
	assert.Equal(t, first, snap)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStart_PrimesWithoutMoving(t *testing.T) {
	cfg := testConfig()
	cfg.EnableTorque = true
	c, servo := newTestController(t, cfg, servosim.Config{ID: 1}, input.NewSequence(true))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, servo.GoalPositions())
	assert.Equal(t, 1, servo.Get(sts.RegTorqueEnable))
	assert.Equal(t, gripper.Closed, c.State())
}

func TestStart_BackgroundTelemetry(t *testing.T) {
	cfg := testConfig()
	cfg.TelemetryInterval = 2 * time.Millisecond
	c, _ := newTestController(t, cfg, servosim.Config{ID: 1}, input.NewSequence(false))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = c.Start(ctx)

	snap, ok := c.Cache().Read()
	require.True(t, ok)
	assert.GreaterOrEqual(t, snap.Seq, uint64(1))
}

func TestStart_AlreadyRunning(t *testing.T) {
	c, _ := newTestController(t, testConfig(), servosim.Config{ID: 1}, input.NewSequence(false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	assert.Eventually(t, func() bool { return c.Status().Primed }, time.Second, time.Millisecond)
	assert.Error(t, c.Start(ctx))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// 100 write cycles interleaved with 100 telemetry reads: no collision or
// malformed frame on the line, and snapshots only move forward.
func TestConcurrentWritesAndReads(t *testing.T) {
	levels := make([]bool, 101)
	for i := range levels {
		levels[i] = i%2 == 1
	}
	c, servo := newTestController(t, testConfig(),
		servosim.Config{ID: 1, ByteTime: time.Microsecond}, input.NewSequence(levels...))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < len(levels); i++ {
			c.Step(ctx)
		}
	}()

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq uint64
			for i := 0; i < 50; i++ {
				snap, ok, err := c.Telemetry(ctx)
				if !assert.NoError(t, err) || !assert.True(t, ok) {
					return
				}
				assert.Greater(t, snap.Seq, lastSeq)
				lastSeq = snap.Seq

				pos := snap.Sample.Position
				assert.True(t, pos == 2048 || pos == openPos || pos == closePos, "position %d", pos)
			}
		}()
	}
	wg.Wait()

	stats := servo.Stats()
	assert.Zero(t, stats.Collisions)
	assert.Zero(t, stats.Malformed)
	assert.Equal(t, 100, stats.Writes)
	assert.Equal(t, 500, stats.Reads)
	assert.Len(t, servo.GoalPositions(), 100)

	last, ok := c.Cache().Read()
	require.True(t, ok)
	assert.Equal(t, uint64(100), last.Seq)
}

// The same traffic on two clients that bypass the arbiter must show up as
// collisions, otherwise the zero-collision result above proves nothing.
func TestConcurrentWritesAndReads_UnarbitratedCollides(t *testing.T) {
	servo := servosim.New(servosim.Config{ID: 1, ByteTime: time.Microsecond})
	clientCfg := sts.ClientConfig{Timeout: 5 * time.Millisecond, MinCommandGap: 20 * time.Microsecond}
	writer := sts.NewClient(servo, clientCfg)
	reader := sts.NewClient(servo, clientCfg)
	ctx := context.Background()

	open := testConfig().Machine.Open
	closed := testConfig().Machine.Close

	// Overlap is timing dependent, so give it a few rounds
	for round := 0; round < 10 && servo.Stats().Collisions == 0; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				cmd := open
				if i%2 == 1 {
					cmd = closed
				}
				_ = writer.WritePosition(ctx, 1, cmd)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = reader.ReadTelemetry(ctx, 1)
			}
		}()
		wg.Wait()
	}

	assert.NotZero(t, servo.Stats().Collisions)
}
