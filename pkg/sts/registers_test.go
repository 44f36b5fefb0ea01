package sts

import "testing"

func TestRegister_Decode(t *testing.T) {
	tests := []struct {
		reg      Register
		data     []byte
		expected int
	}{
		{RegPresentVoltage, []byte{237}, 237},
		{RegPresentPosition, []byte{0xD0, 0x07}, 2000},
		{RegPresentPosition, []byte{0x0A, 0x80}, -10}, // bit 15 sign
		{RegPresentLoad, []byte{0x78, 0x04}, -120},    // bit 10 sign
		{RegPresentLoad, []byte{0x78, 0x00}, 120},
		{RegModelNumber, []byte{0x09, 0x03}, 777},
		{RegPresentCurrent, []byte{0x05, 0x00}, 5},
		{RegPresentTemperature, []byte{0xFF}, 255},
	}

	for _, tt := range tests {
		got := tt.reg.Decode(tt.data)
		if got != tt.expected {
			t.Errorf("%s.Decode(%v) = %d, want %d", tt.reg.Name, tt.data, got, tt.expected)
		}
	}
}

func TestRegister_EncodeRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 2000, 4095, -1, -2000} {
		data, ok := RegGoalPosition.Encode(v)
		if !ok {
			t.Fatalf("Encode(%d) failed", v)
		}
		if back := RegGoalPosition.Decode(data); back != v {
			t.Errorf("round-trip %d -> %v -> %d", v, data, back)
		}
	}
}

func TestRegister_EncodeOutOfRange(t *testing.T) {
	tests := []struct {
		reg   Register
		value int
	}{
		{RegTorqueEnable, 256},
		{RegTorqueEnable, -1},      // unsigned
		{RegGoalPosition, 1 << 15}, // collides with sign bit
		{RegPresentLoad, -(1 << 10)},
	}

	for _, tt := range tests {
		if _, ok := tt.reg.Encode(tt.value); ok {
			t.Errorf("%s.Encode(%d) should fail", tt.reg.Name, tt.value)
		}
	}
}

func TestSample_Conversions(t *testing.T) {
	s := Sample{Current: 5, Voltage: 237}

	if got := s.ScaledCurrent(); got != 50 {
		t.Errorf("ScaledCurrent() = %d, want 50", got)
	}
	if got := s.Volts(); got < 23.699 || got > 23.701 {
		t.Errorf("Volts() = %f, want 23.7", got)
	}
}

func TestRegister_EncodeBytes(t *testing.T) {
	tests := []struct {
		reg      Register
		value    int
		expected []byte
	}{
		{RegGoalPosition, 2000, []byte{0xD0, 0x07}},
		{RegGoalSpeed, -1500, []byte{0xDC, 0x85}},
		{RegTorqueEnable, 1, []byte{1}},
	}

	for _, tt := range tests {
		got, ok := tt.reg.Encode(tt.value)
		if !ok || string(got) != string(tt.expected) {
			t.Errorf("%s.Encode(%d) = %v, %v; want %v", tt.reg.Name, tt.value, got, ok, tt.expected)
		}
	}
}
