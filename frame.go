package modbus

import (
	"encoding/binary"
)

const (
	FuncCodeReadCoils              byte = 0x01
	FuncCodeReadDiscreteInputs     byte = 0x02
	FuncCodeReadHoldingRegisters   byte = 0x03
	FuncCodeReadInputRegisters     byte = 0x04
	FuncCodeWriteSingleCoil        byte = 0x05
	FuncCodeWriteSingleRegister    byte = 0x06
	FuncCodeWriteMultipleCoils     byte = 0x0F
	FuncCodeWriteMultipleRegisters byte = 0x10

	exceptionBit byte = 0x80
)

const (
	tcpProtocolIdentifier uint16 = 0x0000

	// MBAP_PREFIX_SIZE covers transaction id, protocol id and length.
	MBAP_PREFIX_SIZE = 6
	MBAP_HEADER_SIZE = 7
	// Modbus TCP ADUs are at most 260 bytes, so the length field is at most 254.
	TCP_MAX_ADU_SIZE  = 260
	READ_REQUEST_SIZE = 12

	minFrameLength = 2
	maxFrameLength = TCP_MAX_ADU_SIZE - MBAP_PREFIX_SIZE
)

// Protocol quantity limits.
const (
	MaxReadRegisters      = 125
	MaxReadBits           = 2000
	MaxWriteRegisters     = 123
	writeMultipleOverhead = 7
)

// EncodeReadRequest builds the fixed 12-byte frame for function codes
// 0x01-0x04.
func EncodeReadRequest(transactionID uint16, unitID, functionCode byte, address, count uint16) []byte {
	frame := make([]byte, READ_REQUEST_SIZE)
	encodeHeader(newHeader(transactionID, unitID, 5), frame)
	frame[FUNCTION_CODE_INDEX] = functionCode
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX:], address)
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX+2:], count)
	return frame
}

// EncodeWriteSingleRegister builds a function 0x06 frame.
func EncodeWriteSingleRegister(transactionID uint16, unitID byte, address, value uint16) []byte {
	frame := make([]byte, READ_REQUEST_SIZE)
	encodeHeader(newHeader(transactionID, unitID, 5), frame)
	frame[FUNCTION_CODE_INDEX] = FuncCodeWriteSingleRegister
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX:], address)
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX+2:], value)
	return frame
}

// EncodeWriteMultipleRegisters builds a function 0x10 frame. The length
// field is 7 + 2*len(values).
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : Nx2 bytes
func EncodeWriteMultipleRegisters(transactionID uint16, unitID byte, address uint16, values []uint16) []byte {
	pduLength := writeMultipleOverhead - 1 + 2*len(values)
	frame := make([]byte, MBAP_HEADER_SIZE+pduLength)
	encodeHeader(newHeader(transactionID, unitID, pduLength), frame)
	frame[FUNCTION_CODE_INDEX] = FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX:], address)
	binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX+2:], uint16(len(values)))
	frame[PDU_DATA_INDEX+4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(frame[PDU_DATA_INDEX+5+2*i:], v)
	}
	return frame
}

// ExtractFrame slices one complete frame off the front of buf.
//
// A nil frame with a nil error means buf does not hold a complete frame yet.
// A *FrameError means the stream is misaligned and cannot be trusted.
// Call it in a loop: one read may carry zero, one or many frames.
func ExtractFrame(buf []byte) (frame, rest []byte, err error) {
	if len(buf) < MBAP_PREFIX_SIZE {
		return nil, buf, nil
	}
	protocolID := binary.BigEndian.Uint16(buf[PROTOCOL_ID_INDEX:])
	length := int(binary.BigEndian.Uint16(buf[LENGTH_INDEX:]))
	if protocolID != tcpProtocolIdentifier {
		return nil, buf, &FrameError{Length: length, ProtocolID: protocolID}
	}
	if length < minFrameLength || length > maxFrameLength {
		return nil, buf, &FrameError{Length: length}
	}
	total := MBAP_PREFIX_SIZE + length
	if len(buf) < total {
		return nil, buf, nil
	}
	return buf[:total:total], buf[total:], nil
}

// ReadTransactionID returns the transaction id of a frame.
func ReadTransactionID(frame []byte) uint16 {
	return binary.BigEndian.Uint16(frame[TRANSACTION_ID_INDEX:])
}

// pdu is the function code and data of a response frame.
type pdu struct {
	functionCode byte
	data         []byte
}

// parsePDU checks a response frame against the request it answers.
// Exception responses come back as *ExceptionError.
func parsePDU(frame []byte, unitID, functionCode byte) (*pdu, error) {
	if len(frame) <= FUNCTION_CODE_INDEX {
		return nil, &ResponseError{FunctionCode: functionCode, Reason: "frame too short"}
	}
	h := DecodeHeader(frame)
	if h.UnitID != unitID {
		return nil, &ResponseError{
			FunctionCode: functionCode,
			Reason:       "unit id mismatch",
		}
	}
	resp := &pdu{
		functionCode: frame[FUNCTION_CODE_INDEX],
		data:         frame[PDU_DATA_INDEX:],
	}
	if resp.functionCode == functionCode|exceptionBit {
		exErr := &ExceptionError{FunctionCode: resp.functionCode}
		if len(resp.data) > 0 {
			exErr.ExceptionCode = resp.data[0]
		}
		return nil, exErr
	}
	if resp.functionCode != functionCode {
		return nil, &ResponseError{FunctionCode: functionCode, Reason: "function code mismatch"}
	}
	if len(resp.data) == 0 {
		return nil, &ResponseError{FunctionCode: functionCode, Reason: "empty response data"}
	}
	return resp, nil
}

// registerWords unpacks a byte-count prefixed register payload.
func (p *pdu) registerWords(count uint16) ([]uint16, error) {
	byteCount := int(p.data[0])
	if byteCount != len(p.data)-1 || byteCount != 2*int(count) {
		return nil, &ResponseError{FunctionCode: p.functionCode, Reason: "byte count does not match quantity"}
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(p.data[1+2*i:])
	}
	return words, nil
}

// bitBytes returns the packed bit payload of a coil/discrete response.
func (p *pdu) bitBytes(count uint16) ([]byte, error) {
	byteCount := int(p.data[0])
	if byteCount != len(p.data)-1 || byteCount != (int(count)+7)/8 {
		return nil, &ResponseError{FunctionCode: p.functionCode, Reason: "byte count does not match quantity"}
	}
	return p.data[1:], nil
}

// checkEcho verifies the address/value echo of a write response.
func (p *pdu) checkEcho(address, value uint16) error {
	if len(p.data) != 4 {
		return &ResponseError{FunctionCode: p.functionCode, Reason: "unexpected write response size"}
	}
	if binary.BigEndian.Uint16(p.data) != address {
		return &ResponseError{FunctionCode: p.functionCode, Reason: "address echo mismatch"}
	}
	if binary.BigEndian.Uint16(p.data[2:]) != value {
		return &ResponseError{FunctionCode: p.functionCode, Reason: "value echo mismatch"}
	}
	return nil
}
