package modbus

import "fmt"

// ValidationInterceptor creates an interceptor that validates operation
// parameters against the protocol quantity limits before anything is sent.
//
// Example:
//
//	client, _ := modbus.NewClient(endpoint, modbus.WithInterceptor(modbus.ValidationInterceptor()))
//
//	_, err := client.ReadHoldingRegisters(ctx, 100, 0)
//	// modbus: quantity '0' must be between '1' and '125'
func ValidationInterceptor() Interceptor {
	return ValidationInterceptorWithLimits(MaxReadRegisters, MaxWriteRegisters)
}

// ValidationInterceptorWithLimits creates a validation interceptor with
// custom register limits. Bit reads allow 16 bits per register.
//
// Example:
//
//	modbus.ValidationInterceptorWithLimits(60, 60)
func ValidationInterceptorWithLimits(maxReadCount, maxWriteCount uint16) Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		switch info.Operation {
		case OpReadHoldingRegisters, OpReadInputRegisters:
			if err := checkQuantity(int(info.Count), int(maxReadCount)); err != nil {
				return nil, err
			}

		case OpReadCoils, OpReadDiscreteInputs:
			if err := checkQuantity(int(info.Count), int(maxReadCount)*16); err != nil {
				return nil, err
			}

		case OpWriteSingleRegister:
			if _, ok := info.Data.(uint16); !ok {
				return nil, fmt.Errorf("invalid write data type: expected uint16")
			}

		case OpWriteMultipleRegisters:
			data, ok := info.Data.([]uint16)
			if !ok {
				return nil, fmt.Errorf("invalid write data type: expected []uint16")
			}
			if err := checkQuantity(len(data), int(maxWriteCount)); err != nil {
				return nil, err
			}
		}

		if int(info.Address)+int(info.Count) > 0x10000 {
			return nil, fmt.Errorf("address range %d+%d exceeds 65535", info.Address, info.Count)
		}

		return c.Invoke(nil)
	}
}

func checkQuantity(n, max int) error {
	if n < 1 || n > max {
		return &QuantityError{Quantity: n, Min: 1, Max: max}
	}
	return nil
}

// AddressRange is an inclusive register address window.
type AddressRange struct {
	Min, Max uint16
}

// AddressRangeValidator creates an interceptor that validates address ranges
// It ensures operations only access the allowed windows of each operation.
//
// Example:
//
//	validator := modbus.AddressRangeValidator(map[modbus.OperationType]modbus.AddressRange{
//		modbus.OpReadHoldingRegisters: {Min: 40000, Max: 40199},
//		modbus.OpReadInputRegisters:   {Min: 30000, Max: 30099},
//	})
func AddressRangeValidator(allowedRanges map[OperationType]AddressRange) Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		addrRange, allowed := allowedRanges[info.Operation]
		if !allowed {
			return nil, fmt.Errorf("operation %s is not allowed", info.Operation)
		}

		if info.Address < addrRange.Min || info.Address > addrRange.Max {
			return nil, fmt.Errorf("address %d is outside allowed range [%d-%d] for %s",
				info.Address, addrRange.Min, addrRange.Max, info.Operation)
		}

		if n := span(info); n > 0 {
			endAddress := int(info.Address) + n - 1
			if endAddress > int(addrRange.Max) {
				return nil, fmt.Errorf("operation would access address %d, which exceeds max %d",
					endAddress, addrRange.Max)
			}
		}

		return c.Invoke(nil)
	}
}

// span is the number of addresses an operation touches.
func span(info *InterceptorInfo) int {
	if data, ok := info.Data.([]uint16); ok {
		return len(data)
	}
	return int(info.Count)
}

// ReadOnlyInterceptor creates an interceptor that blocks all write operations
//
// Example:
//
//	client, _ := modbus.NewClient(endpoint, modbus.WithInterceptor(modbus.ReadOnlyInterceptor()))
func ReadOnlyInterceptor() Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		if info.Operation.IsWrite() {
			return nil, fmt.Errorf("write operation %s is not allowed in read-only mode", info.Operation)
		}

		return c.Invoke(nil)
	}
}
