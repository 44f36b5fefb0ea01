// Package gripper holds the gripper's decision logic and configuration.
package gripper

import "fmt"

// State is the commanded state of the gripper.
type State int

// Gripper states.
const (
	Open State = iota
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as "open" or "closed".
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "open" or "closed".
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = Open
	case "closed":
		*s = Closed
	default:
		return fmt.Errorf("unknown gripper state %q", text)
	}
	return nil
}
