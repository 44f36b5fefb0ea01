// Package gripper drives a Feetech STS servo gripper from a push button and
// serves its live telemetry over HTTP.
//
// # Installation
//
//	go install github.com/gwillem/gripper/cmd/gripper@latest
//
// # Usage
//
// First, run setup to find the servo and record the open and close
// positions:
//
//	gripper setup
//
// Then start the controller:
//
//	gripper run
//
// Without hardware, a simulated servo and a self-toggling button can be
// used:
//
//	gripper run --sim --listen :8080
//	gripper monitor --url http://localhost:8080
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/gripper: CLI with run, setup and monitor commands
//   - pkg/sts: STS protocol client and serial transport
//   - pkg/arbiter: exclusive access to the shared servo bus
//   - pkg/gripper: open/close state machine and configuration
//   - pkg/telemetry: last-known telemetry snapshot
//   - pkg/control: control loop and telemetry read path
//   - pkg/input: button input (GPIO and simulated)
//   - pkg/api: HTTP status API
//   - pkg/servosim: in-memory STS servo for tests and simulation
package gripper
