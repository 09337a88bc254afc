package modbus

import "context"

// Interceptor/plugin hooks.
type ClientHooks interface {
	SetInterceptor(interceptor Interceptor)
	Use(plugins ...Plugin) error
}

// Lifecycle controls.
type ClientLifecycle interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() ConnectionStatus
	IsClosed() bool
	Close() error
}

// Raw read operations.
type ClientReader interface {
	ReadHoldingRegisters(ctx context.Context, address, count uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, address, count uint16) ([]uint16, error)
	ReadCoils(ctx context.Context, address, count uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, address, count uint16) ([]bool, error)
}

// Write operations.
type ClientWriter interface {
	WriteSingleRegister(ctx context.Context, address, value uint16) error
	WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error
}

// Descriptor-driven reads.
type RegisterReader interface {
	ReadRegister(ctx context.Context, d RegisterDescriptor) (ReadResult, error)
	ReadMultipleRegisters(ctx context.Context, descriptors []RegisterDescriptor) []ReadResult
}

// ModbusClient defines the public contract of Client for easier testing/mocking.
type ModbusClient interface {
	ClientHooks
	ClientLifecycle
	ClientReader
	ClientWriter
	RegisterReader
}

// Ensure Client implements the interface.
var _ ModbusClient = (*Client)(nil)
