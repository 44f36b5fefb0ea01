package sts

import "github.com/hipsterbrown/feetech-servo/feetech"

// Register describes a location in the servo control table.
type Register struct {
	Name    string
	Address byte
	Size    int // 1 or 2 bytes
	SignBit int // bit holding the sign in sign-magnitude registers, 0 if unsigned
}

// STS series control table (SMS/STS firmware).
var (
	RegModelNumber        = Register{Name: "model_number", Address: 3, Size: 2}
	RegID                 = Register{Name: "id", Address: 5, Size: 1}
	RegTorqueEnable       = Register{Name: "torque_enable", Address: 40, Size: 1}
	RegAcceleration       = Register{Name: "acceleration", Address: 41, Size: 1}
	RegGoalPosition       = Register{Name: "goal_position", Address: 42, Size: 2, SignBit: 15}
	RegGoalTime           = Register{Name: "goal_time", Address: 44, Size: 2}
	RegGoalSpeed          = Register{Name: "goal_speed", Address: 46, Size: 2, SignBit: 15}
	RegLock               = Register{Name: "lock", Address: 55, Size: 1}
	RegPresentPosition    = Register{Name: "present_position", Address: 56, Size: 2, SignBit: 15}
	RegPresentSpeed       = Register{Name: "present_speed", Address: 58, Size: 2, SignBit: 15}
	RegPresentLoad        = Register{Name: "present_load", Address: 60, Size: 2, SignBit: 10}
	RegPresentVoltage     = Register{Name: "present_voltage", Address: 62, Size: 1}
	RegPresentTemperature = Register{Name: "present_temperature", Address: 63, Size: 1}
	RegMoving             = Register{Name: "moving", Address: 66, Size: 1}
	RegPresentCurrent     = Register{Name: "present_current", Address: 69, Size: 2, SignBit: 15}
)

// wordCodec handles the byte order of two-byte registers.
var wordCodec = feetech.NewProtocol(feetech.ProtocolSTS)

// Registers lists every known register by address.
var Registers = []Register{
	RegModelNumber,
	RegID,
	RegTorqueEnable,
	RegAcceleration,
	RegGoalPosition,
	RegGoalTime,
	RegGoalSpeed,
	RegLock,
	RegPresentPosition,
	RegPresentSpeed,
	RegPresentLoad,
	RegPresentVoltage,
	RegPresentTemperature,
	RegMoving,
	RegPresentCurrent,
}

// telemetryRegisters is the order in which ReadTelemetry queries the servo.
var telemetryRegisters = []Register{
	RegPresentCurrent,
	RegPresentPosition,
	RegPresentVoltage,
	RegPresentLoad,
	RegPresentTemperature,
}

// Decode converts raw register bytes (little-endian) into a signed value.
func (r Register) Decode(data []byte) int {
	var raw int
	switch len(data) {
	case 0:
		return 0
	case 1:
		raw = int(data[0])
	default:
		raw = int(wordCodec.DecodeWord(data))
	}
	if r.SignBit > 0 && raw&(1<<r.SignBit) != 0 {
		return -(raw &^ (1 << r.SignBit))
	}
	return raw
}

// Encode converts a value into register bytes, applying the sign bit for
// negative values. ok is false when the value does not fit.
func (r Register) Encode(value int) (data []byte, ok bool) {
	raw := value
	if r.SignBit > 0 && value >= 1<<r.SignBit {
		return nil, false
	}
	if value < 0 {
		if r.SignBit == 0 {
			return nil, false
		}
		raw = -value
		if raw >= 1<<r.SignBit {
			return nil, false
		}
		raw |= 1 << r.SignBit
	}
	if raw >= 1<<(8*r.Size) {
		return nil, false
	}

	if r.Size == 1 {
		return []byte{byte(raw)}, true
	}
	return wordCodec.EncodeWord(uint16(raw)), true
}
