package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func okInvoker(context.Context) (interface{}, error) { return "ok", nil }

func call(i Interceptor, info *InterceptorInfo, invoker Invoker) (interface{}, error) {
	return i(&InterceptorCtx{ctx: context.Background(), info: info, invoker: invoker})
}

func TestLoggingInterceptor(t *testing.T) {
	info := &InterceptorInfo{Operation: OpReadHoldingRegisters, UnitID: 1, Address: 42, Count: 2}

	core, logs := observer.New(zap.InfoLevel)
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(
		zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }),
	))

	_, err := call(LoggingInterceptor(logger), info, okInvoker)
	require.NoError(t, err)
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "request", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "modbus", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ReadHoldingRegisters", fields["operation"])
	assert.Equal(t, uint16(42), fields["address"])
	assert.Equal(t, uint16(2), fields["count"])
	assert.Contains(t, fields, "duration")

	_, err = call(LoggingInterceptor(logger), info, func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	entries = logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "request failed", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, "other", entries[0].ContextMap()["class"])
}

func TestLoggingInterceptorModbusFailures(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logging := LoggingInterceptor(zap.New(core))

	read := &InterceptorInfo{Operation: OpReadHoldingRegisters, UnitID: 1, Address: 9999, Count: 1}
	_, err := call(logging, read, func(context.Context) (interface{}, error) {
		return nil, &ExceptionError{FunctionCode: FuncCodeReadHoldingRegisters | exceptionBit, ExceptionCode: ExceptionCodeIllegalDataAddress}
	})
	require.Error(t, err)
	entry := logs.TakeAll()[0]
	assert.Equal(t, "device exception", entry.Message)
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "0x83", entry.ContextMap()["function_code"])
	assert.Equal(t, uint8(ExceptionCodeIllegalDataAddress), entry.ContextMap()["exception_code"])

	_, err = call(logging, read, func(context.Context) (interface{}, error) {
		return nil, ResponseTimeoutError{TransactionID: 77, Timeout: time.Second}
	})
	require.Error(t, err)
	entry = logs.TakeAll()[0]
	assert.Equal(t, "response timeout", entry.Message)
	assert.Equal(t, uint16(77), entry.ContextMap()["tid"])

	write := &InterceptorInfo{Operation: OpWriteSingleRegister, UnitID: 1, Address: 10, Count: 1, Data: uint16(500)}
	_, err = call(logging, write, okInvoker)
	require.NoError(t, err)
	entry = logs.TakeAll()[0]
	assert.Equal(t, uint16(500), entry.ContextMap()["value"])
	assert.NotContains(t, entry.ContextMap(), "count")
}

func TestTracingInterceptor(t *testing.T) {
	type traceKey struct{}
	core, logs := observer.New(zap.DebugLevel)
	tracing := TracingInterceptor(traceKey{}, zap.New(core))
	info := &InterceptorInfo{Operation: OpReadInputRegisters, Address: 30001}

	_, err := tracing(&InterceptorCtx{
		ctx:     context.WithValue(context.Background(), traceKey{}, "abc-123"),
		info:    info,
		invoker: okInvoker,
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc-123", logs.All()[0].ContextMap()["trace_id"])

	// No trace id, no log line.
	_, err = call(tracing, info, okInvoker)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

func TestMetricsCollector(t *testing.T) {
	collector := NewMetricsCollector()
	interceptor := collector.Interceptor()
	info := &InterceptorInfo{Operation: OpReadInputRegisters}

	var wg sync.WaitGroup
	outcomes := []error{
		nil, nil, nil, nil, nil,
		ResponseTimeoutError{TransactionID: 1},
		ConnectionClosedError{},
		&ExceptionError{FunctionCode: 0x84, ExceptionCode: ExceptionCodeIllegalDataAddress},
		fmt.Errorf("wrapped: %w", ResponseTimeoutError{}),
	}
	for _, outcome := range outcomes {
		wg.Add(1)
		go func(outcome error) {
			defer wg.Done()
			_, _ = call(interceptor, info, func(context.Context) (interface{}, error) {
				time.Sleep(time.Millisecond)
				return nil, outcome
			})
		}(outcome)
	}
	wg.Wait()

	stats := collector.Stats(OpReadInputRegisters)
	assert.Equal(t, int64(9), stats.Count)
	assert.Equal(t, int64(4), stats.Errors)
	assert.Equal(t, int64(2), stats.ByClass[ErrorClassTimeout])
	assert.Equal(t, int64(1), stats.ByClass[ErrorClassClosed])
	assert.Equal(t, int64(1), stats.ByClass[ErrorClassException])
	assert.Greater(t, stats.AvgDuration, time.Duration(0))

	assert.Contains(t, collector.AllStats(), OpReadInputRegisters)
	collector.Reset()
	assert.Equal(t, int64(0), collector.Stats(OpReadInputRegisters).Count)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorClassOther, ClassifyError(errors.New("x")))
	assert.Equal(t, ErrorClassClosed, ClassifyError(ConnectionClosedError{Cause: errors.New("EOF")}))
}

func TestValidationInterceptor(t *testing.T) {
	validate := ValidationInterceptor()

	tests := []struct {
		name    string
		info    InterceptorInfo
		wantErr bool
	}{
		{"read ok", InterceptorInfo{Operation: OpReadHoldingRegisters, Count: 125}, false},
		{"read zero", InterceptorInfo{Operation: OpReadHoldingRegisters, Count: 0}, true},
		{"read too many", InterceptorInfo{Operation: OpReadInputRegisters, Count: 126}, true},
		{"coils ok", InterceptorInfo{Operation: OpReadCoils, Count: 2000}, false},
		{"coils too many", InterceptorInfo{Operation: OpReadDiscreteInputs, Count: 2001}, true},
		{"single write ok", InterceptorInfo{Operation: OpWriteSingleRegister, Count: 1, Data: uint16(1)}, false},
		{"single write bad data", InterceptorInfo{Operation: OpWriteSingleRegister, Data: "nope"}, true},
		{"multi write ok", InterceptorInfo{Operation: OpWriteMultipleRegisters, Data: []uint16{1, 2}}, false},
		{"multi write empty", InterceptorInfo{Operation: OpWriteMultipleRegisters, Data: []uint16{}}, true},
		{"multi write too many", InterceptorInfo{Operation: OpWriteMultipleRegisters, Data: make([]uint16, 124)}, true},
		{"address overflow", InterceptorInfo{Operation: OpReadHoldingRegisters, Address: 0xFFFF, Count: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			_, err := call(validate, &info, okInvoker)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddressRangeValidator(t *testing.T) {
	validator := AddressRangeValidator(map[OperationType]AddressRange{
		OpReadHoldingRegisters:   {Min: 100, Max: 110},
		OpWriteMultipleRegisters: {Min: 100, Max: 101},
	})

	_, err := call(validator, &InterceptorInfo{Operation: OpReadHoldingRegisters, Address: 105, Count: 6}, okInvoker)
	assert.NoError(t, err)
	_, err = call(validator, &InterceptorInfo{Operation: OpReadHoldingRegisters, Address: 105, Count: 7}, okInvoker)
	assert.Error(t, err)
	_, err = call(validator, &InterceptorInfo{Operation: OpReadHoldingRegisters, Address: 99, Count: 1}, okInvoker)
	assert.Error(t, err)
	_, err = call(validator, &InterceptorInfo{Operation: OpReadInputRegisters, Address: 105, Count: 1}, okInvoker)
	assert.Error(t, err, "operation without a range is rejected")
	_, err = call(validator, &InterceptorInfo{Operation: OpWriteMultipleRegisters, Address: 100, Data: []uint16{1, 2, 3}}, okInvoker)
	assert.Error(t, err)
}

func TestReadOnlyInterceptor(t *testing.T) {
	ro := ReadOnlyInterceptor()
	for _, op := range []OperationType{OpWriteSingleRegister, OpWriteMultipleRegisters} {
		_, err := call(ro, &InterceptorInfo{Operation: op}, okInvoker)
		assert.Error(t, err, op)
	}
	for _, op := range []OperationType{OpReadHoldingRegisters, OpReadInputRegisters, OpReadCoils, OpReadDiscreteInputs} {
		_, err := call(ro, &InterceptorInfo{Operation: op}, okInvoker)
		assert.NoError(t, err, op)
	}
}

func TestRetryInterceptor(t *testing.T) {
	info := &InterceptorInfo{Operation: OpReadHoldingRegisters}
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	attempts := 0
	flaky := func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, ResponseTimeoutError{TransactionID: uint16(attempts)}
		}
		return "ok", nil
	}

	res, err := call(RetryInterceptor(3, time.Millisecond, logger), info, flaky)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, logs.FilterMessage("attempt failed").Len())

	// Device exceptions are final.
	attempts = 0
	_, err = call(RetryInterceptor(3, time.Millisecond, logger), info, func(context.Context) (interface{}, error) {
		attempts++
		return nil, &ExceptionError{FunctionCode: 0x83, ExceptionCode: ExceptionCodeIllegalDataAddress}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)

	// Budget exhausted.
	attempts = 0
	_, err = call(RetryInterceptor(2, time.Millisecond, nil), info, func(context.Context) (interface{}, error) {
		attempts++
		return nil, ConnectionClosedError{}
	})
	assert.True(t, errors.Is(err, ConnectionClosedError{}))
	assert.Equal(t, 3, attempts)
}

func TestRetryInterceptorConditionalAndBackoff(t *testing.T) {
	info := &InterceptorInfo{Operation: OpWriteSingleRegister}
	attempts := 0
	invoker := func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("fail %d", attempts)
		}
		return "ok", nil
	}

	_, err := call(RetryInterceptorConditional(2, time.Millisecond, func(error) bool { return false }, nil), info, invoker)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	start := time.Now()
	_, err = call(RetryInterceptorWithBackoff(2, 2*time.Millisecond, 3*time.Millisecond, nil), info, func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, ResponseTimeoutError{}
		}
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestRetryInterceptorStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := RetryInterceptor(5, time.Hour, nil)(&InterceptorCtx{
		ctx:  ctx,
		info: &InterceptorInfo{Operation: OpReadCoils},
		invoker: func(context.Context) (interface{}, error) {
			attempts++
			cancel()
			return nil, ResponseTimeoutError{}
		},
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestChainInterceptorsOrder(t *testing.T) {
	var order []string
	mk := func(name string) Interceptor {
		return func(c *InterceptorCtx) (interface{}, error) {
			order = append(order, name+":before")
			res, err := c.Invoke(nil)
			order = append(order, name+":after")
			return res, err
		}
	}

	chain := ChainInterceptors(mk("first"), nil, mk("second"))
	res, err := call(chain, &InterceptorInfo{Operation: OpReadCoils}, func(context.Context) (interface{}, error) {
		order = append(order, "invoke")
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, []string{"first:before", "second:before", "invoke", "second:after", "first:after"}, order)
	assert.Nil(t, ChainInterceptors())
}

func TestChainInterceptorsPassesContext(t *testing.T) {
	type key struct{}
	outer := func(c *InterceptorCtx) (interface{}, error) {
		return c.Invoke(context.WithValue(c.Context(), key{}, "v"))
	}
	inner := func(c *InterceptorCtx) (interface{}, error) {
		return c.Context().Value(key{}), nil
	}
	res, err := call(ChainInterceptors(outer, inner), &InterceptorInfo{}, okInvoker)
	require.NoError(t, err)
	assert.Equal(t, "v", res)
}
