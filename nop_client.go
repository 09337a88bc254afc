package modbus

import "context"

// NopClient implements ModbusClient with no-op behavior.
// Useful for tests or placeholders where no device is reachable. Reads return
// zero values of the requested size.
type NopClient struct{}

func (NopClient) SetInterceptor(Interceptor)    {}
func (NopClient) Use(...Plugin) error           { return nil }
func (NopClient) Connect(context.Context) error { return nil }
func (NopClient) Disconnect() error             { return nil }
func (NopClient) Status() ConnectionStatus      { return ConnectionStatus{} }
func (NopClient) IsClosed() bool                { return false }
func (NopClient) Close() error                  { return nil }
func (NopClient) ReadHoldingRegisters(_ context.Context, _ uint16, count uint16) ([]uint16, error) {
	return make([]uint16, count), nil
}
func (NopClient) ReadInputRegisters(_ context.Context, _ uint16, count uint16) ([]uint16, error) {
	return make([]uint16, count), nil
}
func (NopClient) ReadCoils(_ context.Context, _ uint16, count uint16) ([]bool, error) {
	return make([]bool, count), nil
}
func (NopClient) ReadDiscreteInputs(_ context.Context, _ uint16, count uint16) ([]bool, error) {
	return make([]bool, count), nil
}
func (NopClient) WriteSingleRegister(context.Context, uint16, uint16) error      { return nil }
func (NopClient) WriteMultipleRegisters(context.Context, uint16, []uint16) error { return nil }
func (NopClient) ReadRegister(_ context.Context, d RegisterDescriptor) (ReadResult, error) {
	return ReadResult{Descriptor: d}, nil
}
func (NopClient) ReadMultipleRegisters(context.Context, []RegisterDescriptor) []ReadResult {
	return nil
}

var _ ModbusClient = NopClient{}
