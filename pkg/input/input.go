// Package input provides the digital input that drives the gripper.
// The real implementation uses the Linux GPIO character device; the
// simulated ones allow running and testing without hardware.
package input

import (
	"sync"
	"time"
)

// Reader reads the level of a digital input.
type Reader interface {
	// Read returns true for a high level.
	Read() (bool, error)
}

// Sequence replays a fixed list of levels, then repeats the last one.
// It is safe for concurrent use.
type Sequence struct {
	mu     sync.Mutex
	levels []bool
	errs   map[int]error
	next   int
}

// NewSequence creates a sequence input.
func NewSequence(levels ...bool) *Sequence {
	return &Sequence{levels: levels, errs: make(map[int]error)}
}

// FailAt makes the i-th read (0-based) return err instead of a level.
func (s *Sequence) FailAt(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[i] = err
}

// Reads returns how many reads were made.
func (s *Sequence) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Read implements Reader.
func (s *Sequence) Read() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.next
	s.next++
	if err, ok := s.errs[i]; ok {
		return false, err
	}
	if len(s.levels) == 0 {
		return false, nil
	}
	if i >= len(s.levels) {
		i = len(s.levels) - 1
	}
	return s.levels[i], nil
}

// Toggle is a simulated button that flips its level every period, as if
// someone pressed and released it. Used by the simulator.
type Toggle struct {
	period time.Duration
	start  time.Time
	now    func() time.Time
}

// NewToggle creates a toggle input starting low.
func NewToggle(period time.Duration) *Toggle {
	return &Toggle{period: period, start: time.Now(), now: time.Now}
}

// Read implements Reader.
func (t *Toggle) Read() (bool, error) {
	if t.period <= 0 {
		return false, nil
	}
	n := t.now().Sub(t.start) / t.period
	return n%2 == 1, nil
}
