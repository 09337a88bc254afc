package modbus

import "context"

// OperationType represents the type of Modbus operation
type OperationType string

const (
	OpReadHoldingRegisters   OperationType = "ReadHoldingRegisters"
	OpReadInputRegisters     OperationType = "ReadInputRegisters"
	OpReadCoils              OperationType = "ReadCoils"
	OpReadDiscreteInputs     OperationType = "ReadDiscreteInputs"
	OpWriteSingleRegister    OperationType = "WriteSingleRegister"
	OpWriteMultipleRegisters OperationType = "WriteMultipleRegisters"
)

// IsWrite reports whether the operation modifies the device.
func (o OperationType) IsWrite() bool {
	return o == OpWriteSingleRegister || o == OpWriteMultipleRegisters
}

// InterceptorInfo contains information about the operation being performed
type InterceptorInfo struct {
	Operation OperationType
	UnitID    byte
	Address   uint16
	Count     uint16      // For read operations
	Data      interface{} // For write operations (uint16 or []uint16)
}

// Invoker is a function that executes the actual operation
type Invoker func(ctx context.Context) (interface{}, error)

// InterceptorCtx is handed to an interceptor for one operation.
type InterceptorCtx struct {
	ctx     context.Context
	info    *InterceptorInfo
	invoker Invoker
}

// Context returns the context of the call.
func (c *InterceptorCtx) Context() context.Context {
	return c.ctx
}

// Info describes the operation.
func (c *InterceptorCtx) Info() *InterceptorInfo {
	return c.info
}

// Invoke runs the next interceptor or the operation itself. A nil ctx reuses
// the context of the call.
func (c *InterceptorCtx) Invoke(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = c.ctx
	}
	return c.invoker(ctx)
}

// Interceptor is a function that can intercept and wrap Modbus operations.
//
// The interceptor can log, measure, retry, validate or short-circuit the
// operation. It must call c.Invoke to proceed.
//
// Example:
//
//	func auditInterceptor(c *modbus.InterceptorCtx) (interface{}, error) {
//	    start := time.Now()
//	    result, err := c.Invoke(nil)
//	    log.Printf("%s at %d took %v, err: %v", c.Info().Operation, c.Info().Address, time.Since(start), err)
//	    return result, err
//	}
type Interceptor func(c *InterceptorCtx) (interface{}, error)

// ChainInterceptors chains multiple interceptors into a single interceptor
// Interceptors are executed in order: first interceptor wraps second, second wraps third, etc.
func ChainInterceptors(interceptors ...Interceptor) Interceptor {
	var chain []Interceptor
	for _, i := range interceptors {
		if i != nil {
			chain = append(chain, i)
		}
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}

	return func(c *InterceptorCtx) (interface{}, error) {
		rest := ChainInterceptors(chain[1:]...)
		return chain[0](&InterceptorCtx{
			ctx:  c.ctx,
			info: c.info,
			invoker: func(ctx context.Context) (interface{}, error) {
				return rest(&InterceptorCtx{ctx: ctx, info: c.info, invoker: c.invoker})
			},
		})
	}
}
