package servosim

import "github.com/hipsterbrown/feetech-servo/feetech"

var protocol = feetech.NewProtocol(feetech.ProtocolSTS)

// parseFrame decodes a single instruction frame that must fill p exactly.
func parseFrame(p []byte) (Frame, bool) {
	// LEN counts the instruction and the checksum
	if len(p) < 6 || p[0] != 0xFF || p[1] != 0xFF || p[3] < 2 {
		return Frame{}, false
	}

	pkt, n, err := protocol.Decode(p)
	if err != nil || n != len(p) {
		return Frame{}, false
	}
	// Decode reads status packets; in an instruction frame that byte is
	// the instruction.
	return Frame{ID: pkt.ID, Inst: byte(pkt.Error), Params: pkt.Parameters}, true
}

// encodeStatus builds a status packet.
func encodeStatus(id byte, status feetech.StatusError, params []byte) []byte {
	return protocol.Encode(feetech.Packet{ID: id, Instruction: byte(status), Parameters: params})
}

// EncodeInstruction builds an instruction frame. Tests use it to drive the
// servo without a client.
func EncodeInstruction(id, inst byte, params ...byte) []byte {
	return protocol.Encode(feetech.Packet{ID: id, Instruction: inst, Parameters: params})
}
