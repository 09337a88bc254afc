package modbus

import (
	"net"
	"strconv"
	"time"
)

const (
	DEFAULT_PORT        = 502
	DEFAULT_UNIT_ID     = 1
	DEFAULT_TIMEOUT     = 5000 * time.Millisecond
	DEFAULT_MAX_RETRIES = 3
	DEFAULT_RETRY_DELAY = 1000 * time.Millisecond
)

// Endpoint identifies one Modbus TCP device.
type Endpoint struct {
	Host   string
	Port   int
	UnitID byte
}

func NewEndpoint(host string, port int, unitID byte) Endpoint {
	if port == 0 {
		port = DEFAULT_PORT
	}
	return Endpoint{Host: host, Port: port, UnitID: unitID}
}

// Address returns host:port for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address() + "/" + strconv.Itoa(int(e.UnitID))
}

// Config is fixed for the lifetime of a Client.
type Config struct {
	Endpoint Endpoint
	// Timeout bounds each request and each connect attempt.
	Timeout time.Duration
	// ConnectTimeout overrides Timeout for dialing when set.
	ConnectTimeout time.Duration
	// MaxRetries is not consumed by the client; pass it to RetryInterceptor
	// to enable per-request retries.
	MaxRetries int
	// RetryDelay is the base of the reconnect backoff.
	RetryDelay time.Duration
}

func defaultConfig(endpoint Endpoint) Config {
	return Config{
		Endpoint:   endpoint,
		Timeout:    DEFAULT_TIMEOUT,
		MaxRetries: DEFAULT_MAX_RETRIES,
		RetryDelay: DEFAULT_RETRY_DELAY,
	}
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return c.Timeout
}
