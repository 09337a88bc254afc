package modbus

import (
	"fmt"
	"time"
)

// ConnectionClosedError is returned to every call that was pending when the
// connection went away, and to sends attempted after Disconnect.
type ConnectionClosedError struct {
	Cause error
}

func (e ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("modbus: connection closed: %v", e.Cause)
	}
	return "modbus: connection closed"
}

func (e ConnectionClosedError) Unwrap() error {
	return e.Cause
}

// Is matches any ConnectionClosedError regardless of cause.
func (e ConnectionClosedError) Is(target error) bool {
	_, ok := target.(ConnectionClosedError)
	return ok
}

// ClientClosedError is returned by operations on a client after Close.
type ClientClosedError struct{}

func (ClientClosedError) Error() string {
	return "modbus: client is closed"
}

// ResponseTimeoutError means no response arrived for one request within the
// configured window. The connection stays open.
type ResponseTimeoutError struct {
	TransactionID uint16
	Timeout       time.Duration
}

func (e ResponseTimeoutError) Error() string {
	return fmt.Sprintf("modbus: no response for transaction %d within %v", e.TransactionID, e.Timeout)
}

// Is matches any ResponseTimeoutError.
func (e ResponseTimeoutError) Is(target error) bool {
	_, ok := target.(ResponseTimeoutError)
	return ok
}

// TransactionSpaceExhaustedError is returned when all 65536 transaction ids
// are held by calls still awaiting a response.
type TransactionSpaceExhaustedError struct{}

func (TransactionSpaceExhaustedError) Error() string {
	return "modbus: all transaction ids are in flight"
}

// DuplicateTransactionError is returned when registering an id that is
// still pending.
type DuplicateTransactionError struct {
	TransactionID uint16
}

func (e DuplicateTransactionError) Error() string {
	return fmt.Sprintf("modbus: transaction %d is already pending", e.TransactionID)
}

// FrameError reports a byte stream that can no longer be split into frames.
// It tears the connection down.
type FrameError struct {
	Length     int
	ProtocolID uint16
}

func (e *FrameError) Error() string {
	if e.ProtocolID != tcpProtocolIdentifier {
		return fmt.Sprintf("modbus: invalid protocol id '%d' in frame header", e.ProtocolID)
	}
	return fmt.Sprintf("modbus: length in frame header '%d' must be between '%d' and '%d'",
		e.Length, minFrameLength, maxFrameLength)
}

// DecodeError reports registers whose size does not fit the declared data type.
type DecodeError struct {
	DataType DataType
	Words    int
	Want     int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("modbus: cannot decode %d register(s) as %s, need %d", e.Words, e.DataType, e.Want)
}

// QuantityError reports a request quantity outside protocol limits.
type QuantityError struct {
	Quantity int
	Min, Max int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("modbus: quantity '%d' must be between '%d' and '%d'", e.Quantity, e.Min, e.Max)
}

// ResponseError reports a response that does not match its request.
type ResponseError struct {
	FunctionCode byte
	Reason       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("modbus: invalid response to function 0x%02X: %s", e.FunctionCode, e.Reason)
}

const (
	ExceptionCodeIllegalFunction                    byte = 0x01
	ExceptionCodeIllegalDataAddress                 byte = 0x02
	ExceptionCodeIllegalDataValue                   byte = 0x03
	ExceptionCodeServerDeviceFailure                byte = 0x04
	ExceptionCodeAcknowledge                        byte = 0x05
	ExceptionCodeServerDeviceBusy                   byte = 0x06
	ExceptionCodeMemoryParityError                  byte = 0x08
	ExceptionCodeGatewayPathUnavailable             byte = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond byte = 0x0B
)

// ExceptionError is an exception response sent by the device.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%d' (%s), function '0x%02X'", e.ExceptionCode, name, e.FunctionCode&0x7F)
}
