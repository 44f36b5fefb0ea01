// Package sts implements the Feetech STS serial servo protocol for a single
// addressed servo on a half-duplex bus.
//
// A Client is not safe for concurrent use: it assumes it is the only party
// talking on the line. Share it through an arbiter.
package sts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Transport is the byte channel to the servo bus.
// go.bug.st/serial ports satisfy it directly.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// ClientConfig holds timing settings for a Client.
type ClientConfig struct {
	// Timeout bounds the wait for each response frame. Default is 20ms.
	Timeout time.Duration

	// MinCommandGap is the minimum time between two frames. Default is 1ms.
	MinCommandGap time.Duration
}

// Client frames requests to servos and decodes their responses.
type Client struct {
	transport Transport
	protocol  *feetech.Protocol
	timeout   time.Duration
	minCmdGap time.Duration

	lastCmdTime time.Time
}

// NewClient creates a client on top of an open transport.
func NewClient(t Transport, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Millisecond
	}
	if cfg.MinCommandGap <= 0 {
		cfg.MinCommandGap = time.Millisecond
	}

	return &Client{
		transport: t,
		protocol:  feetech.NewProtocol(feetech.ProtocolSTS),
		timeout:   cfg.Timeout,
		minCmdGap: cfg.MinCommandGap,
	}
}

// WritePosition sends a goal position with speed and acceleration in a
// single frame. It returns once the frame is transmitted; no status packet
// is awaited.
func (c *Client) WritePosition(ctx context.Context, id int, cmd PositionCommand) error {
	const op = "write position"

	if err := validateID(id); err != nil {
		return &BusError{Op: op, ID: id, Kind: ErrInvalidCommand, Err: err}
	}
	if err := cmd.Validate(); err != nil {
		return &BusError{Op: op, ID: id, Kind: ErrInvalidCommand, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Acceleration, goal position, goal time, goal speed are contiguous
	pos, _ := RegGoalPosition.Encode(cmd.Position)
	speed, _ := RegGoalSpeed.Encode(cmd.Speed)
	data := make([]byte, 0, 7)
	data = append(data, byte(cmd.Acceleration))
	data = append(data, pos...)
	data = append(data, 0, 0)
	data = append(data, speed...)

	packet := c.protocol.WritePacket(byte(id), RegAcceleration.Address, data)
	if err := c.send(packet); err != nil {
		return &BusError{Op: op, ID: id, Kind: ErrTransportFailure, Err: err}
	}
	return nil
}

// WriteRegister writes a single register. Like WritePosition it does not
// wait for a status packet.
func (c *Client) WriteRegister(ctx context.Context, id int, reg Register, value int) error {
	op := "write " + reg.Name

	if err := validateID(id); err != nil {
		return &BusError{Op: op, ID: id, Kind: ErrInvalidCommand, Err: err}
	}
	data, ok := reg.Encode(value)
	if !ok {
		return &BusError{Op: op, ID: id, Kind: ErrInvalidCommand,
			Err: fmt.Errorf("value %d does not fit %d-byte register", value, reg.Size)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	packet := c.protocol.WritePacket(byte(id), reg.Address, data)
	if err := c.send(packet); err != nil {
		return &BusError{Op: op, ID: id, Kind: ErrTransportFailure, Err: err}
	}
	return nil
}

// ReadRegister reads a single register and decodes its value.
func (c *Client) ReadRegister(ctx context.Context, id int, reg Register) (int, error) {
	if err := validateID(id); err != nil {
		return 0, &BusError{Op: "read " + reg.Name, ID: id, Kind: ErrInvalidCommand, Err: err}
	}
	return c.readRegister(ctx, id, reg)
}

// ReadTelemetry reads current, position, voltage, load and temperature in
// that order. If any sub-read fails the whole read fails with
// ErrPartialRead and no sample is returned. A context that expires between
// sub-reads also matches ErrTimeout; a canceled one only matches
// context.Canceled.
func (c *Client) ReadTelemetry(ctx context.Context, id int) (Sample, error) {
	const op = "read telemetry"

	if err := validateID(id); err != nil {
		return Sample{}, &BusError{Op: op, ID: id, Kind: ErrInvalidCommand, Err: err}
	}

	values := make([]int, len(telemetryRegisters))
	for i, reg := range telemetryRegisters {
		v, err := c.readRegister(ctx, id, reg)
		if err != nil {
			return Sample{}, &BusError{Op: op, ID: id, Kind: ErrPartialRead, Err: err}
		}
		values[i] = v
	}

	return Sample{
		Current:     values[0],
		Position:    values[1],
		Voltage:     values[2],
		Load:        values[3],
		Temperature: values[4],
	}, nil
}

// Ping checks that the servo answers and returns its model number.
func (c *Client) Ping(ctx context.Context, id int) (int, error) {
	const op = "ping"

	if err := validateID(id); err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: ErrInvalidCommand, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.send(c.protocol.PingPacket(byte(id))); err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: ErrTransportFailure, Err: err}
	}
	if _, err := c.readResponse(id, 6); err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: kindOf(err), Err: err}
	}

	return c.readRegister(ctx, id, RegModelNumber)
}

// Internal methods

func (c *Client) readRegister(ctx context.Context, id int, reg Register) (int, error) {
	op := "read " + reg.Name

	if err := ctx.Err(); err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: ctxKind(err), Err: err}
	}

	packet := c.protocol.ReadPacket(byte(id), reg.Address, byte(reg.Size))
	if err := c.send(packet); err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: ErrTransportFailure, Err: err}
	}

	params, err := c.readResponse(id, c.protocol.ExpectedResponseLength(reg.Size))
	if err != nil {
		return 0, &BusError{Op: op, ID: id, Kind: kindOf(err), Err: err}
	}
	if len(params) != reg.Size {
		return 0, &BusError{Op: op, ID: id, Kind: ErrTransportFailure,
			Err: fmt.Errorf("expected %d data bytes, got %d", reg.Size, len(params))}
	}

	return reg.Decode(params), nil
}

func (c *Client) enforceCommandGap() {
	elapsed := time.Since(c.lastCmdTime)
	if elapsed < c.minCmdGap {
		time.Sleep(c.minCmdGap - elapsed)
	}
}

func (c *Client) send(packet []byte) error {
	c.enforceCommandGap()

	// Drop stale input, e.g. status packets the servo sent for earlier writes
	if err := c.transport.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}

	n, err := c.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	c.lastCmdTime = time.Now()
	return nil
}

// readResponse reads one status packet and returns its parameters.
func (c *Client) readResponse(id, expectedLen int) ([]byte, error) {
	data, err := c.readRaw(expectedLen)
	if err != nil {
		return nil, err
	}

	pkt, _, err := c.protocol.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTransportFailure, err)
	}
	if int(pkt.ID) != id {
		return nil, fmt.Errorf("%w: wrong servo ID in response: expected %d, got %d", ErrTransportFailure, id, pkt.ID)
	}

	// Status flags (overload, overheat) do not invalidate the data, the
	// values are still what the servo measured.
	return pkt.Parameters, nil
}

// readRaw ignores cancellation: once a request is on the line its answer is
// consumed or timed out, so the next transaction starts on a quiet bus.
func (c *Client) readRaw(expectedLen int) ([]byte, error) {
	buffer := make([]byte, expectedLen)
	totalRead := 0
	deadline := time.Now().Add(c.timeout)

	for totalRead < expectedLen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, totalRead, expectedLen)
		}
		if err := c.transport.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("%w: set read timeout: %v", ErrTransportFailure, err)
		}

		n, err := c.transport.Read(buffer[totalRead:])
		if err != nil {
			return nil, fmt.Errorf("%w: read error: %v", ErrTransportFailure, err)
		}
		totalRead += n
	}

	return buffer, nil
}

// kindOf classifies an error from readResponse.
func kindOf(err error) error {
	switch {
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrTransportFailure
	}
}

// ctxKind classifies a context error seen before a request was sent. An
// expired deadline is a timeout; a cancellation has no kind of its own.
func ctxKind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return nil
}

func validateID(id int) error {
	if id < 0 || id > int(feetech.MaxServoID) {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", feetech.ErrInvalidID, id, feetech.MaxServoID)
	}
	return nil
}
