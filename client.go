package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is a Modbus TCP client for one device.
// Thread-safe: all public methods can be called concurrently. Requests may
// be in flight concurrently; each carries its own transaction id.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	tracker *TransactionTracker
	conn    *ConnectionManager

	interceptor   Interceptor
	interceptorMu sync.RWMutex

	plugins pluginManager

	closed     bool
	closeMutex sync.RWMutex
}

// NewClient creates a client for endpoint. Nothing is dialed until Connect
// or the first request.
func NewClient(endpoint Endpoint, opts ...Option) (*Client, error) {
	if endpoint.Host == "" {
		return nil, fmt.Errorf("modbus: endpoint host is required")
	}
	if endpoint.Port == 0 {
		endpoint.Port = DEFAULT_PORT
	}
	if endpoint.Port < 0 || endpoint.Port > 65535 {
		return nil, fmt.Errorf("modbus: invalid port %d", endpoint.Port)
	}

	o := clientOptions{config: defaultConfig(endpoint)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config.Timeout < 0 {
		return nil, fmt.Errorf("modbus: negative timeout %v", o.config.Timeout)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("modbus")

	c := &Client{
		cfg:         o.config,
		logger:      logger.Named("client"),
		tracker:     NewTransactionTracker(),
		interceptor: ChainInterceptors(o.interceptors...),
	}
	c.conn = NewConnectionManager(ConnectionConfig{
		Address:        endpoint.Address(),
		Dial:           o.dial,
		ConnectTimeout: o.config.connectTimeout(),
		RetryDelay:     o.config.RetryDelay,
		Logger:         logger.Named("conn"),
		OnConnected: func() {
			c.plugins.notifyConnected(c, c.logger)
		},
		OnDisconnected: func(err error) {
			c.plugins.notifyDisconnected(c, err, c.logger)
		},
	}, c.tracker)
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Endpoint() Endpoint {
	return c.cfg.Endpoint
}

// SetInterceptor replaces the interceptor chain. Pass nil to remove it.
func (c *Client) SetInterceptor(interceptor Interceptor) {
	c.interceptorMu.Lock()
	defer c.interceptorMu.Unlock()
	c.interceptor = interceptor
}

// Use registers plugins in order. A failing plugin is not registered.
func (c *Client) Use(plugins ...Plugin) error {
	return c.plugins.use(c, plugins...)
}

// Plugins returns the sorted names of the registered plugins.
func (c *Client) Plugins() []string {
	return c.plugins.names()
}

// Connect opens the connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsClosed() {
		return ClientClosedError{}
	}
	return c.conn.Connect(ctx)
}

// Disconnect closes the connection and rejects every pending request. The
// next request connects again.
func (c *Client) Disconnect() error {
	return c.conn.Disconnect()
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() ConnectionStatus {
	return c.conn.Status()
}

func (c *Client) IsClosed() bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	return c.closed
}

// Close disconnects for good. Later calls fail with ClientClosedError.
func (c *Client) Close() error {
	c.closeMutex.Lock()
	if c.closed {
		c.closeMutex.Unlock()
		return nil
	}
	c.closed = true
	c.closeMutex.Unlock()

	return c.conn.Close()
}

// ReadHoldingRegisters reads count holding registers (function 0x03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	return c.readRegisters(ctx, OpReadHoldingRegisters, FuncCodeReadHoldingRegisters, address, count)
}

// ReadInputRegisters reads count input registers (function 0x04).
func (c *Client) ReadInputRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	return c.readRegisters(ctx, OpReadInputRegisters, FuncCodeReadInputRegisters, address, count)
}

// ReadCoils reads count coils (function 0x01).
func (c *Client) ReadCoils(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.readBits(ctx, OpReadCoils, FuncCodeReadCoils, address, count)
}

// ReadDiscreteInputs reads count discrete inputs (function 0x02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.readBits(ctx, OpReadDiscreteInputs, FuncCodeReadDiscreteInputs, address, count)
}

func (c *Client) readRegisters(ctx context.Context, op OperationType, fc byte, address, count uint16) ([]uint16, error) {
	if err := checkRange(address, int(count), MaxReadRegisters); err != nil {
		return nil, err
	}
	info := &InterceptorInfo{Operation: op, UnitID: c.cfg.Endpoint.UnitID, Address: address, Count: count}
	result, err := c.invoke(ctx, info, func(ctx context.Context) (interface{}, error) {
		resp, err := c.roundTrip(ctx, fc, func(tid uint16) []byte {
			return EncodeReadRequest(tid, c.cfg.Endpoint.UnitID, fc, address, count)
		})
		if err != nil {
			return nil, err
		}
		return resp.registerWords(count)
	})
	if err != nil {
		return nil, err
	}
	return result.([]uint16), nil
}

func (c *Client) readBits(ctx context.Context, op OperationType, fc byte, address, count uint16) ([]bool, error) {
	if err := checkRange(address, int(count), MaxReadBits); err != nil {
		return nil, err
	}
	info := &InterceptorInfo{Operation: op, UnitID: c.cfg.Endpoint.UnitID, Address: address, Count: count}
	result, err := c.invoke(ctx, info, func(ctx context.Context) (interface{}, error) {
		resp, err := c.roundTrip(ctx, fc, func(tid uint16) []byte {
			return EncodeReadRequest(tid, c.cfg.Endpoint.UnitID, fc, address, count)
		})
		if err != nil {
			return nil, err
		}
		data, err := resp.bitBytes(count)
		if err != nil {
			return nil, err
		}
		return DecodeBits(data, int(count)), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]bool), nil
}

// WriteSingleRegister writes one holding register (function 0x06) and
// checks the echo.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	info := &InterceptorInfo{Operation: OpWriteSingleRegister, UnitID: c.cfg.Endpoint.UnitID, Address: address, Count: 1, Data: value}
	_, err := c.invoke(ctx, info, func(ctx context.Context) (interface{}, error) {
		resp, err := c.roundTrip(ctx, FuncCodeWriteSingleRegister, func(tid uint16) []byte {
			return EncodeWriteSingleRegister(tid, c.cfg.Endpoint.UnitID, address, value)
		})
		if err != nil {
			return nil, err
		}
		return nil, resp.checkEcho(address, value)
	})
	return err
}

// WriteMultipleRegisters writes consecutive holding registers (function
// 0x10) and checks the echoed address and quantity.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	if err := checkRange(address, len(values), MaxWriteRegisters); err != nil {
		return err
	}
	count := uint16(len(values))
	info := &InterceptorInfo{Operation: OpWriteMultipleRegisters, UnitID: c.cfg.Endpoint.UnitID, Address: address, Count: count, Data: values}
	_, err := c.invoke(ctx, info, func(ctx context.Context) (interface{}, error) {
		resp, err := c.roundTrip(ctx, FuncCodeWriteMultipleRegisters, func(tid uint16) []byte {
			return EncodeWriteMultipleRegisters(tid, c.cfg.Endpoint.UnitID, address, values)
		})
		if err != nil {
			return nil, err
		}
		return nil, resp.checkEcho(address, count)
	})
	return err
}

// ReadRegister reads and decodes one descriptor. Register types are decoded
// per DataType then scaled; bit types yield a bool, the OR of all bits when
// more than one is read.
func (c *Client) ReadRegister(ctx context.Context, d RegisterDescriptor) (ReadResult, error) {
	if err := d.Validate(); err != nil {
		return ReadResult{}, err
	}
	result := ReadResult{Descriptor: d}
	count := d.Count()

	switch d.Type {
	case RegisterHolding, RegisterInput:
		var words []uint16
		var err error
		if d.Type == RegisterHolding {
			words, err = c.ReadHoldingRegisters(ctx, d.Address, count)
		} else {
			words, err = c.ReadInputRegisters(ctx, d.Address, count)
		}
		if err != nil {
			return ReadResult{}, err
		}
		v, err := Decode(words, d.DataType)
		if err != nil {
			return ReadResult{}, fmt.Errorf("register %q: %w", d.Name, err)
		}
		result.Raw = words
		result.Value = v
		if d.DataType.IsNumeric() {
			result.Value = ApplyScale(v, d.Scale, d.Offset)
		}

	case RegisterCoil, RegisterDiscrete:
		var bits []bool
		var err error
		if d.Type == RegisterCoil {
			bits, err = c.ReadCoils(ctx, d.Address, count)
		} else {
			bits, err = c.ReadDiscreteInputs(ctx, d.Address, count)
		}
		if err != nil {
			return ReadResult{}, err
		}
		result.Bits = bits
		result.Raw = make([]uint16, len(bits))
		for i, b := range bits {
			if b {
				result.Raw[i] = 1
			}
		}
		if len(bits) == 1 {
			result.Value = bits[0]
		} else {
			result.Value = AnyBit(bits)
		}
	}

	result.Timestamp = time.Now()
	return result, nil
}

// ReadMultipleRegisters reads descriptors one after another. A descriptor
// that fails is logged and left out, so one bad register never aborts the
// batch. The batch stops early only when ctx is done.
func (c *Client) ReadMultipleRegisters(ctx context.Context, descriptors []RegisterDescriptor) []ReadResult {
	results := make([]ReadResult, 0, len(descriptors))
	for i, d := range descriptors {
		if ctx.Err() != nil {
			c.logger.Warn("batch read abandoned", zap.Int("remaining", len(descriptors)-i), zap.Error(ctx.Err()))
			break
		}
		r, err := c.ReadRegister(ctx, d)
		if err != nil {
			c.logger.Warn("register read failed",
				zap.String("register", d.Name),
				zap.Uint16("address", d.Address),
				zap.String("type", string(d.Type)),
				zap.Error(err),
			)
			continue
		}
		results = append(results, r)
	}
	return results
}

func (c *Client) invoke(ctx context.Context, info *InterceptorInfo, invoker Invoker) (interface{}, error) {
	c.interceptorMu.RLock()
	interceptor := c.interceptor
	c.interceptorMu.RUnlock()

	if interceptor == nil {
		return invoker(ctx)
	}
	return interceptor(&InterceptorCtx{ctx: ctx, info: info, invoker: invoker})
}

type callResult struct {
	frame []byte
	err   error
}

// roundTrip sends one request and waits for the matching response frame.
func (c *Client) roundTrip(ctx context.Context, fc byte, encode func(tid uint16) []byte) (*pdu, error) {
	if c.IsClosed() {
		return nil, ClientClosedError{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Dial before the response timer starts.
	if err := c.conn.Connect(ctx); err != nil {
		return nil, err
	}

	// Exactly one callback fires per call, so one slot never blocks.
	resCh := make(chan callResult, 1)
	tid, err := c.tracker.Allocate(
		func(frame []byte) { resCh <- callResult{frame: frame} },
		func(err error) { resCh <- callResult{err: err} },
		c.cfg.Timeout,
	)
	if err != nil {
		return nil, err
	}

	if err := c.conn.Send(ctx, encode(tid)); err != nil {
		c.tracker.Cancel(tid)
		return nil, err
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		return parsePDU(res.frame, c.cfg.Endpoint.UnitID, fc)
	case <-ctx.Done():
		c.tracker.Cancel(tid)
		return nil, ctx.Err()
	}
}

func checkRange(address uint16, count, max int) error {
	if count < 1 || count > max {
		return &QuantityError{Quantity: count, Min: 1, Max: max}
	}
	if int(address)+count > 0x10000 {
		return fmt.Errorf("modbus: address range %d+%d exceeds 65535", address, count)
	}
	return nil
}
