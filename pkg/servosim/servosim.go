// Package servosim emulates a single Feetech STS servo behind a byte
// transport. It implements sts.Transport, so a client can talk to it as if
// it were a serial port.
//
// Besides answering PING, READ and WRITE instructions it keeps counters that
// make bus misuse visible: malformed frames and collisions, i.e. a new frame
// arriving while the servo is still answering the previous request.
package servosim

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/gripper/pkg/sts"
)

// Instruction codes.
const (
	InstPing  = feetech.InstPing
	InstRead  = feetech.InstRead
	InstWrite = feetech.InstWrite

	broadcastID byte = 0xFE
)

// ModelSTS3215 is the model number reported by default.
const ModelSTS3215 = 777

// ErrInjected is returned by transport calls when a failure was injected
// without a specific error.
var ErrInjected = errors.New("servosim: injected failure")

// Frame is one instruction frame received by the servo.
type Frame struct {
	ID     byte
	Inst   byte
	Params []byte
}

// Stats counts what the servo saw on the line.
type Stats struct {
	Frames     int
	Malformed  int
	Collisions int
	Reads      int
	Writes     int
}

// Config holds the initial state of a simulated servo.
type Config struct {
	ID int

	// ByteTime is how long one byte takes on the wire. Writes sleep for
	// len(p)*ByteTime outside the lock so concurrent writers overlap.
	ByteTime time.Duration

	// AckWrites makes the servo answer WRITE instructions with a status
	// packet, like status return level 1 on real hardware.
	AckWrites bool

	// Motion enables time-based movement towards the goal position. When
	// false the present position jumps to the goal immediately.
	Motion bool
}

// Servo is an emulated STS servo. It is safe for concurrent use.
type Servo struct {
	id        byte
	byteTime  time.Duration
	ackWrites bool
	motion    bool

	transmitting atomic.Int32

	mu          sync.Mutex
	mem         [256]byte
	pending     []byte
	inFlight    bool
	readTimeout time.Duration
	frames      []Frame
	positions   []int
	stats       Stats
	lastMove    time.Time

	silent    map[byte]bool
	writeErr  error
	readErr   error
	failReads int
}

// New creates a servo resting at mid position with plausible telemetry.
func New(cfg Config) *Servo {
	if cfg.ID == 0 {
		cfg.ID = 1
	}

	s := &Servo{
		id:          byte(cfg.ID),
		byteTime:    cfg.ByteTime,
		ackWrites:   cfg.AckWrites,
		motion:      cfg.Motion,
		readTimeout: 10 * time.Millisecond,
		silent:      make(map[byte]bool),
		lastMove:    time.Now(),
	}

	s.setLocked(sts.RegModelNumber, ModelSTS3215)
	s.setLocked(sts.RegID, cfg.ID)
	s.setLocked(sts.RegPresentPosition, 2048)
	s.setLocked(sts.RegGoalPosition, 2048)
	s.setLocked(sts.RegPresentVoltage, 120)
	s.setLocked(sts.RegPresentTemperature, 30)
	s.setLocked(sts.RegPresentCurrent, 2)
	s.setLocked(sts.RegPresentLoad, 0)

	return s
}

// Set stores a register value, e.g. to stage telemetry.
func (s *Servo) Set(reg sts.Register, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(reg, value)
}

// Get returns a register value.
func (s *Servo) Get(reg sts.Register) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(time.Now())
	return reg.Decode(s.mem[reg.Address : int(reg.Address)+reg.Size])
}

// SetSilent makes the servo ignore READ requests for the given address.
func (s *Servo) SetSilent(address byte, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[address] = silent
}

// FailWrites makes every transport Write fail with err until called with nil.
func (s *Servo) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailReads makes transport Reads fail with err until called with nil.
func (s *Servo) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// DropResponses makes the servo stay silent for the next n READ requests.
func (s *Servo) DropResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// Stats returns a copy of the line counters.
func (s *Servo) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Frames returns all instruction frames received so far.
func (s *Servo) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// GoalPositions returns the goal positions written so far, in order.
func (s *Servo) GoalPositions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.positions))
	copy(out, s.positions)
	return out
}

// Transport implementation

// Write receives exactly one instruction frame.
func (s *Servo) Write(p []byte) (int, error) {
	if n := s.transmitting.Add(1); n > 1 {
		s.mu.Lock()
		s.stats.Collisions++
		s.mu.Unlock()
	}
	defer s.transmitting.Add(-1)

	if s.byteTime > 0 {
		time.Sleep(time.Duration(len(p)) * s.byteTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}

	// The host started talking before the previous answer was consumed
	if s.inFlight {
		s.stats.Collisions++
		s.inFlight = false
		s.pending = nil
	}

	frame, ok := parseFrame(p)
	if !ok {
		s.stats.Malformed++
		return len(p), nil
	}
	s.stats.Frames++
	s.frames = append(s.frames, frame)

	if frame.ID != s.id && frame.ID != broadcastID {
		return len(p), nil
	}
	s.handleLocked(frame)

	return len(p), nil
}

// Read returns pending response bytes. With nothing pending it waits for at
// most the read timeout (capped at a millisecond) and returns 0, nil like a
// serial port whose timeout expired.
func (s *Servo) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return 0, err
	}
	if len(s.pending) == 0 {
		wait := min(s.readTimeout, time.Millisecond)
		s.mu.Unlock()
		time.Sleep(wait)
		return 0, nil
	}
	defer s.mu.Unlock()

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.inFlight = false
	}
	return n, nil
}

// SetReadTimeout implements sts.Transport.
func (s *Servo) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = t
	return nil
}

// ResetInputBuffer drops unread bytes. Dropping an answer to a pending
// request counts as a collision; dropping a write acknowledgement does not.
func (s *Servo) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		s.stats.Collisions++
		s.inFlight = false
	}
	s.pending = nil
	return nil
}

// Close implements io.Closer.
func (s *Servo) Close() error {
	return nil
}

// Internal methods

func (s *Servo) handleLocked(f Frame) {
	respond := f.ID != broadcastID

	switch f.Inst {
	case InstPing:
		if respond {
			s.replyLocked(nil, true)
		}

	case InstRead:
		s.stats.Reads++
		if len(f.Params) != 2 || !respond {
			return
		}
		if s.failReads > 0 {
			s.failReads--
			return
		}
		addr, n := int(f.Params[0]), int(f.Params[1])
		if s.silent[byte(addr)] || addr+n > len(s.mem) {
			return
		}
		s.advanceLocked(time.Now())
		data := make([]byte, n)
		copy(data, s.mem[addr:addr+n])
		s.replyLocked(data, true)

	case InstWrite:
		s.stats.Writes++
		if len(f.Params) < 2 {
			return
		}
		s.advanceLocked(time.Now())
		addr := int(f.Params[0])
		data := f.Params[1:]
		if addr+len(data) > len(s.mem) {
			return
		}
		copy(s.mem[addr:], data)

		goal := sts.RegGoalPosition
		if addr <= int(goal.Address) && addr+len(data) >= int(goal.Address)+goal.Size {
			pos := goal.Decode(s.mem[goal.Address : int(goal.Address)+goal.Size])
			s.positions = append(s.positions, pos)
			if !s.motion {
				s.setLocked(sts.RegPresentPosition, pos)
			}
		}

		if respond && s.ackWrites {
			s.replyLocked(nil, false)
		}
	}
}

// replyLocked queues a status packet. Answers to requests are in flight
// until fully read; write acknowledgements are not.
func (s *Servo) replyLocked(params []byte, inFlight bool) {
	s.pending = append(s.pending[:0], encodeStatus(s.id, 0, params)...)
	s.inFlight = inFlight
}

func (s *Servo) setLocked(reg sts.Register, value int) {
	data, ok := reg.Encode(value)
	if !ok {
		return
	}
	copy(s.mem[reg.Address:], data)
}

func (s *Servo) getLocked(reg sts.Register) int {
	return reg.Decode(s.mem[reg.Address : int(reg.Address)+reg.Size])
}

// advanceLocked moves the present position towards the goal and derives
// load and current from whether the servo is moving.
func (s *Servo) advanceLocked(now time.Time) {
	dt := now.Sub(s.lastMove).Seconds()
	s.lastMove = now
	if !s.motion {
		return
	}

	pos := s.getLocked(sts.RegPresentPosition)
	goal := s.getLocked(sts.RegGoalPosition)
	speed := s.getLocked(sts.RegGoalSpeed)
	if speed <= 0 {
		speed = 3400
	}

	step := int(math.Ceil(float64(speed) * dt))
	switch {
	case goal > pos:
		pos = min(pos+step, goal)
	case goal < pos:
		pos = max(pos-step, goal)
	}
	s.setLocked(sts.RegPresentPosition, pos)

	load := 30
	if pos != goal {
		load = 250
	}
	s.setLocked(sts.RegPresentLoad, load)
	s.setLocked(sts.RegPresentCurrent, load/25)
}
