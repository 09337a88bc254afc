package modbus

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingInterceptor logs one line per Modbus request once it settles.
// Successful requests log at Info. Device exceptions and response timeouts
// log at Warn with the exception code or transaction id; anything else logs
// at Error.
//
//	logger, _ := zap.NewProduction()
//	client, _ := modbus.NewClient(endpoint, modbus.WithInterceptor(modbus.LoggingInterceptor(logger)))
//
//	INFO	modbus	request	{"operation": "ReadHoldingRegisters", "unit": 1, "address": 40071, "count": 2, "duration": "4ms"}
//	WARN	modbus	device exception	{"operation": "ReadHoldingRegisters", "unit": 1, "address": 9999, "count": 1, "duration": "3ms", "function_code": "0x83", "exception_code": 2, "error": "..."}
func LoggingInterceptor(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("modbus")

	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		start := time.Now()
		result, err := c.Invoke(nil)

		fields := requestFields(info)
		fields = append(fields, zap.Duration("duration", time.Since(start)))
		level, msg, errFields := describeFailure(err)
		fields = append(fields, errFields...)
		if ce := logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
		return result, err
	}
}

func requestFields(info *InterceptorInfo) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", string(info.Operation)),
		zap.Uint8("unit", info.UnitID),
		zap.Uint16("address", info.Address),
	}
	switch v := info.Data.(type) {
	case uint16:
		fields = append(fields, zap.Uint16("value", v))
	case []uint16:
		fields = append(fields, zap.Uint16s("values", v))
	default:
		fields = append(fields, zap.Uint16("count", info.Count))
	}
	return fields
}

func describeFailure(err error) (zapcore.Level, string, []zap.Field) {
	if err == nil {
		return zap.InfoLevel, "request", nil
	}
	var exErr *ExceptionError
	var timeout ResponseTimeoutError
	switch {
	case errors.As(err, &exErr):
		return zap.WarnLevel, "device exception", []zap.Field{
			zap.String("function_code", fmt.Sprintf("0x%02X", exErr.FunctionCode)),
			zap.Uint8("exception_code", exErr.ExceptionCode),
			zap.Error(err),
		}
	case errors.As(err, &timeout):
		return zap.WarnLevel, "response timeout", []zap.Field{
			zap.Uint16("tid", timeout.TransactionID),
			zap.Duration("timeout", timeout.Timeout),
		}
	}
	return zap.ErrorLevel, "request failed", []zap.Field{
		zap.String("class", string(ClassifyError(err))),
		zap.Error(err),
	}
}
