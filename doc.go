/*
Package modbus implements a Modbus TCP client for polling solar inverters,
meters and batteries.

# Features

  - Holding/input register and coil/discrete-input reads, single and
    multiple register writes (function codes 0x01-0x04, 0x06, 0x10)
  - Concurrent requests over one connection, correlated by transaction id
  - Per-request timeouts and context cancellation
  - Automatic reconnection with capped exponential backoff
  - Typed decoding (int16/uint16/int32/uint32/float32/float64/string/bool)
    with scale and offset
  - Declarative register maps in YAML plus built-in device profiles
  - Interceptors and plugins for logging, metrics, retries and validation

# Quick Start

	import (
		"context"
		"log"
		"time"

		"github.com/bronystylecrazy/gomodbus"
	)

	func main() {
		client, err := modbus.NewClient(modbus.NewEndpoint("192.168.1.50", 502, 1),
			modbus.WithTimeout(2*time.Second))
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		words, err := client.ReadHoldingRegisters(ctx, 100, 2)
		if err != nil {
			log.Printf("read error: %v", err)
			return
		}
		log.Printf("words: %v", words)
	}

The first request dials the device when no connection is open. Call Connect
to surface connect errors up front.

# Register Maps

A RegisterDescriptor names one value on the device: its address space,
address, data type and optional scale/offset. ReadRegister reads and decodes
one descriptor, ReadMultipleRegisters reads a list sequentially and drops the
descriptors that fail:

	meter, _ := modbus.Profile("three-phase-meter")
	for _, r := range client.ReadMultipleRegisters(ctx, meter.Registers) {
		v, _ := r.Float64()
		log.Printf("%s = %.2f %s", r.Descriptor.Name, v, r.Descriptor.Unit)
	}

Maps can also be loaded from YAML with LoadRegisterMapFile.

# Reconnection

When the connection drops unexpectedly every pending request fails with
ConnectionClosedError and a reconnect is scheduled after
min(RetryDelay*2^attempt, 30s). Disconnect closes the connection without
scheduling a reconnect; the next request dials again.

	status := client.Status()
	log.Printf("state=%s attempts=%d last error=%q",
		status.State, status.ReconnectAttempts, status.LastError)

# Error Handling

	_, err := client.ReadInputRegisters(ctx, 30001, 2)
	var exErr *modbus.ExceptionError
	switch {
	case errors.Is(err, modbus.ResponseTimeoutError{}):
		// no answer in time, connection still open
	case errors.Is(err, modbus.ConnectionClosedError{}):
		// connection dropped, a reconnect is already scheduled
	case errors.As(err, &exErr):
		log.Printf("device refused: %v", exErr)
	}

# Interceptors and Plugins

	metrics := modbus.NewMetricsCollector()
	client, _ := modbus.NewClient(endpoint,
		modbus.WithLogger(logger),
		modbus.WithInterceptor(modbus.LoggingInterceptor(logger)),
		modbus.WithInterceptor(metrics.Interceptor()),
		modbus.WithInterceptor(modbus.RetryInterceptor(3, 200*time.Millisecond, logger)),
	)

	watchdog := modbus.NewConnectionWatchdog(0)
	_ = client.Use(watchdog)
	go func() {
		for evt := range watchdog.Events() {
			log.Printf("%s %s", evt.Endpoint, evt.Type)
		}
	}()

The client never retries a request by itself. Config.MaxRetries is carried
for callers that install RetryInterceptor.
*/
package modbus
