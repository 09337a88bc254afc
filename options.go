package modbus

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	config       Config
	logger       *zap.Logger
	dial         DialFunc
	interceptors []Interceptor
}

// WithTimeout sets the per-request response timeout. Zero waits until the
// context is done.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.config.Timeout = d }
}

// WithConnectTimeout bounds each dial separately from the request timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.config.ConnectTimeout = d }
}

// WithMaxRetries records the retry budget in Config. It does not make the
// client retry; see RetryInterceptor.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.config.MaxRetries = n }
}

// WithRetryDelay sets the base delay of the reconnect backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(o *clientOptions) { o.config.RetryDelay = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *clientOptions) { o.dial = dial }
}

// WithInterceptor appends an interceptor. Interceptors run in the order
// they were added, the first one outermost.
func WithInterceptor(i Interceptor) Option {
	return func(o *clientOptions) { o.interceptors = append(o.interceptors, i) }
}
