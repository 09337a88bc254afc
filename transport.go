package modbus

import (
	"context"
	"net"
	"time"
)

const (
	READ_BUFFER_SIZE = 2048
	KEEP_ALIVE       = 30 * time.Second
)

// DialFunc opens the stream to a device. Tests substitute it to inject
// failures or in-memory pipes.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// dialTCP dials with keep-alive and Nagle disabled, as small request frames
// should not wait for coalescing.
func dialTCP(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{KeepAlive: KEEP_ALIVE}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// writeFrame writes one frame with a deadline taken from ctx.
func writeFrame(ctx context.Context, conn net.Conn, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(frame)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
