package gripper

import "github.com/gwillem/gripper/pkg/sts"

// MachineConfig describes the two positions and how the input is read.
type MachineConfig struct {
	Open  sts.PositionCommand
	Close sts.PositionCommand

	// ActiveLow treats a low input level as "close".
	ActiveLow bool

	// StableSamples is the number of consecutive identical reads needed
	// before a transition is reported. Values below 1 mean 1.
	StableSamples int
}

// Machine turns input levels into position commands. It issues one command
// per observed transition and none while the input is steady.
//
// A transition is only remembered after Commit, so a command whose write
// failed is offered again on the next poll.
//
// Machine is not safe for concurrent use.
type Machine struct {
	cfg MachineConfig

	primed    bool
	applied   State
	candidate State
	streak    int
}

// NewMachine creates a machine. Call Prime with the first input reading
// before polling.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.StableSamples < 1 {
		cfg.StableSamples = 1
	}
	return &Machine{cfg: cfg}
}

// Prime sets the applied state from the startup input level without
// producing a command.
func (m *Machine) Prime(level bool) State {
	m.applied = m.stateFor(level)
	m.candidate = m.applied
	m.streak = 0
	m.primed = true
	return m.applied
}

// Next evaluates one input reading. ok is true when the gripper should be
// moved to target; the caller sends cmd and calls Commit on success.
func (m *Machine) Next(level bool) (target State, cmd sts.PositionCommand, ok bool) {
	if !m.primed {
		m.Prime(level)
		return m.applied, sts.PositionCommand{}, false
	}

	s := m.stateFor(level)
	if s == m.applied {
		m.candidate = s
		m.streak = 0
		return s, sts.PositionCommand{}, false
	}

	if s == m.candidate {
		m.streak++
	} else {
		m.candidate = s
		m.streak = 1
	}
	if m.streak < m.cfg.StableSamples {
		return m.applied, sts.PositionCommand{}, false
	}

	return s, m.Command(s), true
}

// Commit records that the command for s reached the servo.
func (m *Machine) Commit(s State) {
	m.applied = s
	m.candidate = s
	m.streak = 0
}

// State returns the last applied state.
func (m *Machine) State() State {
	return m.applied
}

// Command returns the position command for a state.
func (m *Machine) Command(s State) sts.PositionCommand {
	if s == Closed {
		return m.cfg.Close
	}
	return m.cfg.Open
}

func (m *Machine) stateFor(level bool) State {
	if level != m.cfg.ActiveLow {
		return Closed
	}
	return Open
}
