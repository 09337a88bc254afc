package modbus

import "go.uber.org/zap"

// TracingInterceptor creates an interceptor that extracts and logs trace IDs from context
// The trace ID is extracted from the context using the provided key.
//
// Example:
//
//	tracing := modbus.TracingInterceptor(traceKey{}, logger)
//
//	ctx := context.WithValue(context.Background(), traceKey{}, "trace-12345")
//	client.ReadHoldingRegisters(ctx, 100, 2)
//	// DEBUG	modbus.trace	ReadHoldingRegisters	{"trace_id": "trace-12345", "address": 100}
func TracingInterceptor(traceIDKey interface{}, logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("modbus.trace")

	return func(c *InterceptorCtx) (interface{}, error) {
		traceID := c.Context().Value(traceIDKey)
		if traceID == nil {
			return c.Invoke(nil)
		}

		info := c.Info()
		result, err := c.Invoke(nil)
		logger.Debug(string(info.Operation),
			zap.Any("trace_id", traceID),
			zap.Uint8("unit", info.UnitID),
			zap.Uint16("address", info.Address),
			zap.Error(err),
		)
		return result, err
	}
}
