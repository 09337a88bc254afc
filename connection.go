package modbus

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const MAX_RECONNECT_DELAY = 30 * time.Second

// ConnectionState is the coarse lifecycle phase reported by Status.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect-scheduled"
	}
	return "unknown"
}

// ConnectionStatus is a point-in-time copy of the connection state.
type ConnectionStatus struct {
	Connected         bool
	State             ConnectionState
	LastConnected     time.Time
	LastError         string
	ReconnectAttempts int
}

// connState is one of the variants below. The live net.Conn only exists in
// stateConnected, so nothing can write while a reconnect is pending.
type connState interface {
	phase() ConnectionState
}

type stateDisconnected struct{}

type stateConnecting struct {
	attempt *dialAttempt
}

type stateConnected struct {
	since time.Time
	conn  net.Conn
	gen   uint64
}

type stateReconnectScheduled struct {
	attempt int
	timer   *time.Timer
}

func (*stateDisconnected) phase() ConnectionState       { return StateDisconnected }
func (*stateConnecting) phase() ConnectionState         { return StateConnecting }
func (*stateConnected) phase() ConnectionState          { return StateConnected }
func (*stateReconnectScheduled) phase() ConnectionState { return StateReconnectScheduled }

// dialAttempt lets concurrent Connect callers share one dial.
type dialAttempt struct {
	done chan struct{}
	err  error
}

// BackoffDelay returns base*2^attempts capped at MAX_RECONNECT_DELAY.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d >= MAX_RECONNECT_DELAY/2 {
			return MAX_RECONNECT_DELAY
		}
		d *= 2
	}
	if d > MAX_RECONNECT_DELAY {
		return MAX_RECONNECT_DELAY
	}
	return d
}

// ConnectionConfig configures a ConnectionManager.
type ConnectionConfig struct {
	Address        string
	Dial           DialFunc
	ConnectTimeout time.Duration
	// RetryDelay is the base reconnect delay.
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnConnected and OnDisconnected run outside the manager's lock.
	OnConnected    func()
	OnDisconnected func(err error)
}

// ConnectionManager owns the TCP stream to one device. It dispatches every
// inbound frame to the tracker and reconnects with capped exponential
// backoff after an unsolicited drop.
type ConnectionManager struct {
	cfg     ConnectionConfig
	tracker *TransactionTracker
	logger  *zap.Logger

	mu            sync.Mutex
	state         connState
	gen           uint64
	attempts      int
	lastConnected time.Time
	lastErr       error
	closed        bool

	writeMu sync.Mutex
}

func NewConnectionManager(cfg ConnectionConfig, tracker *TransactionTracker) *ConnectionManager {
	if cfg.Dial == nil {
		cfg.Dial = dialTCP
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DEFAULT_RETRY_DELAY
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ConnectionManager{
		cfg:     cfg,
		tracker: tracker,
		logger:  cfg.Logger.With(zap.String("addr", cfg.Address)),
		state:   &stateDisconnected{},
	}
}

// Connect dials the device unless a connection is already up. Callers that
// arrive while a dial is in progress wait for its outcome. Connecting while
// a reconnect is scheduled cancels the timer and dials immediately.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ClientClosedError{}
	}
	var auto bool
	switch s := m.state.(type) {
	case *stateConnected:
		m.mu.Unlock()
		return nil
	case *stateConnecting:
		m.mu.Unlock()
		select {
		case <-s.attempt.done:
			return s.attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	case *stateReconnectScheduled:
		s.timer.Stop()
		auto = true
	}
	st := &stateConnecting{attempt: &dialAttempt{done: make(chan struct{})}}
	m.state = st
	m.mu.Unlock()

	return m.dial(ctx, st, auto)
}

// dial runs one connection attempt for st. A failed automatic attempt
// schedules the next one; a failed explicit attempt leaves the manager
// disconnected.
func (m *ConnectionManager) dial(ctx context.Context, st *stateConnecting, auto bool) error {
	dialCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := m.cfg.Dial(dialCtx, m.cfg.Address)

	m.mu.Lock()
	if m.state != st {
		// Disconnect ran while we were dialing.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		err = ConnectionClosedError{}
		st.attempt.finish(err)
		return err
	}
	if err != nil {
		m.lastErr = err
		if auto {
			m.scheduleLocked()
		} else {
			m.state = &stateDisconnected{}
		}
		m.mu.Unlock()
		m.logger.Warn("connect failed", zap.Bool("auto", auto), zap.Error(err))
		st.attempt.finish(err)
		return err
	}

	m.gen++
	now := time.Now()
	connected := &stateConnected{since: now, conn: conn, gen: m.gen}
	m.state = connected
	m.attempts = 0
	m.lastConnected = now
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("connected", zap.Uint64("gen", connected.gen))
	go m.readLoop(connected)
	st.attempt.finish(nil)
	if m.cfg.OnConnected != nil {
		m.cfg.OnConnected()
	}
	return nil
}

func (a *dialAttempt) finish(err error) {
	a.err = err
	close(a.done)
}

// scheduleLocked arms the reconnect timer. m.mu must be held.
func (m *ConnectionManager) scheduleLocked() {
	delay := BackoffDelay(m.cfg.RetryDelay, m.attempts)
	m.attempts++
	s := &stateReconnectScheduled{attempt: m.attempts}
	s.timer = time.AfterFunc(delay, func() { m.reconnect(s) })
	m.state = s
	m.logger.Info("reconnect scheduled", zap.Int("attempt", s.attempt), zap.Duration("delay", delay))
}

func (m *ConnectionManager) reconnect(s *stateReconnectScheduled) {
	m.mu.Lock()
	if m.state != s {
		m.mu.Unlock()
		return
	}
	st := &stateConnecting{attempt: &dialAttempt{done: make(chan struct{})}}
	m.state = st
	m.mu.Unlock()

	_ = m.dial(context.Background(), st, true)
}

// readLoop accumulates inbound bytes and resolves every complete frame. It is
// the only goroutine touching the buffer for this connection.
func (m *ConnectionManager) readLoop(st *stateConnected) {
	buf := make([]byte, 0, READ_BUFFER_SIZE)
	chunk := make([]byte, READ_BUFFER_SIZE)
	for {
		n, err := st.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			rest := buf
			for {
				frame, remaining, ferr := ExtractFrame(rest)
				if ferr != nil {
					m.logger.Error("framing error", zap.Error(ferr))
					m.drop(st, ferr)
					return
				}
				if frame == nil {
					break
				}
				rest = remaining
				id := ReadTransactionID(frame)
				if !m.tracker.Resolve(id, append([]byte(nil), frame...)) {
					m.logger.Debug("unmatched response", zap.Uint16("tid", id))
				}
			}
			buf = buf[:copy(buf, rest)]
		}
		if err != nil {
			m.drop(st, err)
			return
		}
	}
}

// drop tears down st after an unsolicited close or a fatal error. Pending
// calls are rejected before the reconnect is scheduled. Stale connections
// are ignored.
func (m *ConnectionManager) drop(st *stateConnected, cause error) {
	m.mu.Lock()
	if m.state != st {
		m.mu.Unlock()
		return
	}
	_ = st.conn.Close()
	m.lastErr = cause
	rejected := m.tracker.RejectAll(ConnectionClosedError{Cause: cause})
	m.scheduleLocked()
	m.mu.Unlock()

	m.logger.Warn("connection lost", zap.Int("rejected", rejected), zap.Error(cause))
	if m.cfg.OnDisconnected != nil {
		m.cfg.OnDisconnected(cause)
	}
}

// Disconnect closes the stream, cancels any scheduled reconnect and rejects
// every pending call. The manager stays disconnected until the next Connect
// or Send.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	prev := m.state
	m.state = &stateDisconnected{}
	m.attempts = 0

	var closeErr error
	wasConnected := false
	switch s := prev.(type) {
	case *stateConnected:
		closeErr = s.conn.Close()
		wasConnected = true
	case *stateReconnectScheduled:
		s.timer.Stop()
	}
	rejected := m.tracker.RejectAll(ConnectionClosedError{})
	m.mu.Unlock()

	if wasConnected {
		m.logger.Info("disconnected", zap.Int("rejected", rejected))
		if m.cfg.OnDisconnected != nil {
			m.cfg.OnDisconnected(nil)
		}
	}
	return closeErr
}

// Close disconnects for good. Every later Connect or Send fails with
// ClientClosedError.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Disconnect()
}

// Send writes frame, connecting first if needed. Connect errors are returned
// unchanged. A write error tears the connection down.
func (m *ConnectionManager) Send(ctx context.Context, frame []byte) error {
	st := m.current()
	if st == nil {
		if err := m.Connect(ctx); err != nil {
			return err
		}
		if st = m.current(); st == nil {
			return ConnectionClosedError{}
		}
	}

	m.writeMu.Lock()
	err := writeFrame(ctx, st.conn, frame)
	m.writeMu.Unlock()
	if err != nil {
		m.drop(st, err)
		return ConnectionClosedError{Cause: err}
	}
	return nil
}

func (m *ConnectionManager) current() *stateConnected {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, _ := m.state.(*stateConnected)
	return st
}

// Status returns a snapshot of the connection state.
func (m *ConnectionManager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := ConnectionStatus{
		State:             m.state.phase(),
		LastConnected:     m.lastConnected,
		ReconnectAttempts: m.attempts,
	}
	status.Connected = status.State == StateConnected
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}
