package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryInterceptor creates an interceptor that retries failed operations.
// It will retry up to maxRetries times with the specified delay between
// attempts. Context errors and errors rejected by IsRetryable are returned
// at once. The client never retries on its own; Config.MaxRetries is meant
// to be passed here.
//
// Example:
//
//	client, _ := modbus.NewClient(endpoint,
//		modbus.WithInterceptor(modbus.RetryInterceptor(3, 100*time.Millisecond, logger)))
func RetryInterceptor(maxRetries int, delay time.Duration, logger *zap.Logger) Interceptor {
	return RetryInterceptorConditional(maxRetries, delay, IsRetryable, logger)
}

// RetryInterceptorWithBackoff creates a retry interceptor with exponential backoff
// The delay is doubled after each retry, up to a maximum delay.
//
// Example:
//
//	// Retry with exponential backoff: 100ms, 200ms, 400ms, max 1s
//	modbus.RetryInterceptorWithBackoff(3, 100*time.Millisecond, time.Second, logger)
func RetryInterceptorWithBackoff(maxRetries int, initialDelay, maxDelay time.Duration, logger *zap.Logger) Interceptor {
	return retry(maxRetries, IsRetryable, logger, func(attempt int) time.Duration {
		d := initialDelay << uint(attempt)
		if d > maxDelay || d <= 0 {
			return maxDelay
		}
		return d
	})
}

// RetryInterceptorConditional creates a retry interceptor that only retries certain errors
// The shouldRetry function determines whether an error should be retried.
//
// Example:
//
//	// Only retry timeout errors
//	shouldRetry := func(err error) bool {
//		return errors.Is(err, modbus.ResponseTimeoutError{})
//	}
//	modbus.RetryInterceptorConditional(3, 100*time.Millisecond, shouldRetry, logger)
func RetryInterceptorConditional(maxRetries int, delay time.Duration, shouldRetry func(error) bool, logger *zap.Logger) Interceptor {
	return retry(maxRetries, shouldRetry, logger, func(int) time.Duration { return delay })
}

// IsRetryable reports whether err is a transport failure worth another
// attempt: a response timeout or a closed connection. Device exceptions and
// malformed requests are final.
func IsRetryable(err error) bool {
	return errors.Is(err, ResponseTimeoutError{}) || errors.Is(err, ConnectionClosedError{})
}

func retry(maxRetries int, shouldRetry func(error) bool, logger *zap.Logger, delayFor func(attempt int) time.Duration) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("modbus.retry")

	return func(c *InterceptorCtx) (interface{}, error) {
		var result interface{}
		var err error
		ctx := c.Context()
		info := c.Info()

		for attempt := 0; attempt <= maxRetries; attempt++ {
			result, err = c.Invoke(ctx)
			if err == nil {
				return result, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			if !shouldRetry(err) {
				return result, err
			}
			if attempt == maxRetries {
				break
			}

			delay := delayFor(attempt)
			logger.Warn("attempt failed",
				zap.String("operation", string(info.Operation)),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxRetries+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if werr := sleep(ctx, delay); werr != nil {
				return nil, werr
			}
		}

		return result, fmt.Errorf("operation failed after %d attempts: %w", maxRetries+1, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
