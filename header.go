package modbus

import "encoding/binary"

// Header is the MBAP preamble of a Modbus TCP frame.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	// Length counts the bytes from UnitID through the end of the PDU.
	Length uint16
	UnitID byte
}

const (
	TRANSACTION_ID_INDEX = 0
	PROTOCOL_ID_INDEX    = 2
	LENGTH_INDEX         = 4
	UNIT_ID_INDEX        = 6
	FUNCTION_CODE_INDEX  = 7
	PDU_DATA_INDEX       = 8
)

func newHeader(transactionID uint16, unitID byte, pduLength int) Header {
	return Header{
		TransactionID: transactionID,
		ProtocolID:    tcpProtocolIdentifier,
		Length:        uint16(1 + pduLength),
		UnitID:        unitID,
	}
}

func encodeHeader(h Header, dst []byte) {
	binary.BigEndian.PutUint16(dst[TRANSACTION_ID_INDEX:], h.TransactionID)
	binary.BigEndian.PutUint16(dst[PROTOCOL_ID_INDEX:], h.ProtocolID)
	binary.BigEndian.PutUint16(dst[LENGTH_INDEX:], h.Length)
	dst[UNIT_ID_INDEX] = h.UnitID
}

// DecodeHeader reads the MBAP header of a complete frame.
func DecodeHeader(frame []byte) Header {
	return Header{
		TransactionID: binary.BigEndian.Uint16(frame[TRANSACTION_ID_INDEX:]),
		ProtocolID:    binary.BigEndian.Uint16(frame[PROTOCOL_ID_INDEX:]),
		Length:        binary.BigEndian.Uint16(frame[LENGTH_INDEX:]),
		UnitID:        frame[UNIT_ID_INDEX],
	}
}
