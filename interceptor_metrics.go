package modbus

import (
	"errors"
	"sync"
	"time"
)

// ErrorClass buckets failures the way a poller cares about them.
type ErrorClass string

const (
	ErrorClassTimeout   ErrorClass = "timeout"
	ErrorClassClosed    ErrorClass = "connection_closed"
	ErrorClassException ErrorClass = "exception"
	ErrorClassOther     ErrorClass = "other"
)

// ClassifyError maps an operation error to its class.
func ClassifyError(err error) ErrorClass {
	var exErr *ExceptionError
	switch {
	case errors.Is(err, ResponseTimeoutError{}):
		return ErrorClassTimeout
	case errors.Is(err, ConnectionClosedError{}):
		return ErrorClassClosed
	case errors.As(err, &exErr):
		return ErrorClassException
	}
	return ErrorClassOther
}

// OperationStats summarizes one operation type.
type OperationStats struct {
	Count       int64
	Errors      int64
	ByClass     map[ErrorClass]int64
	AvgDuration time.Duration
}

// MetricsCollector collects operation metrics including counts, errors, and durations
// It is safe for concurrent use.
//
// Example:
//
//	metrics := modbus.NewMetricsCollector()
//	client, _ := modbus.NewClient(endpoint, modbus.WithInterceptor(metrics.Interceptor()))
//
//	// Perform operations...
//	client.ReadInputRegisters(ctx, 30001, 2)
//
//	stats := metrics.Stats(modbus.OpReadInputRegisters)
//	log.Printf("%d calls, %d timeouts", stats.Count, stats.ByClass[modbus.ErrorClassTimeout])
type MetricsCollector struct {
	mu    sync.RWMutex
	stats map[OperationType]*opStats
}

type opStats struct {
	count    int64
	errors   int64
	byClass  map[ErrorClass]int64
	duration time.Duration
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{stats: make(map[OperationType]*opStats)}
}

// Interceptor returns an interceptor that collects metrics
func (m *MetricsCollector) Interceptor() Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		start := time.Now()
		result, err := c.Invoke(nil)
		m.record(c.Info().Operation, time.Since(start), err)
		return result, err
	}
}

func (m *MetricsCollector) record(op OperationType, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[op]
	if !ok {
		s = &opStats{byClass: make(map[ErrorClass]int64)}
		m.stats[op] = s
	}
	s.count++
	s.duration += d
	if err != nil {
		s.errors++
		s.byClass[ClassifyError(err)]++
	}
}

// Stats returns a copy of the statistics for one operation.
func (m *MetricsCollector) Stats(op OperationType) OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(op)
}

func (m *MetricsCollector) snapshotLocked(op OperationType) OperationStats {
	out := OperationStats{ByClass: make(map[ErrorClass]int64)}
	s, ok := m.stats[op]
	if !ok {
		return out
	}
	out.Count = s.count
	out.Errors = s.errors
	for k, v := range s.byClass {
		out.ByClass[k] = v
	}
	if s.count > 0 {
		out.AvgDuration = s.duration / time.Duration(s.count)
	}
	return out
}

// AllStats returns statistics for every operation seen so far.
func (m *MetricsCollector) AllStats() map[OperationType]OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[OperationType]OperationStats, len(m.stats))
	for op := range m.stats {
		all[op] = m.snapshotLocked(op)
	}
	return all
}

// Reset clears all collected metrics
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = make(map[OperationType]*opStats)
}
