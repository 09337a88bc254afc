package modbus

import (
	"errors"
	"sync"
	"time"
)

const DEFAULT_WATCHDOG_BUFFER = 16

// LinkEvent names a connection transition seen by the watchdog.
type LinkEvent string

const (
	// LinkUp: a dial succeeded, explicit or automatic.
	LinkUp LinkEvent = "up"
	// LinkDropped: the device or network closed the stream, or a framing
	// error forced it shut. A reconnect is already scheduled.
	LinkDropped LinkEvent = "dropped"
	// LinkClosed: Disconnect or Close ended the connection.
	LinkClosed LinkEvent = "closed"
)

// ConnectionEvent describes one transition of the device link.
type ConnectionEvent struct {
	Time     time.Time
	Type     LinkEvent
	Endpoint Endpoint
	// Err is the drop cause; nil for LinkUp and LinkClosed.
	Err error
	// Outage is how long the link was down before a LinkUp.
	Outage time.Duration
	// ReconnectAttempts is the manager's backoff counter at the event.
	ReconnectAttempts int
}

// ConnectionStats is a snapshot of link health for one device.
type ConnectionStats struct {
	Up            bool
	Since         time.Time // start of the current up or down period
	Connects      int64
	Drops         int64
	FramingErrors int64
	LastDropErr   error
	LongestOutage time.Duration
	TotalOutage   time.Duration
	// Availability is the fraction of observed time the link was up.
	Availability float64
	// EventsDropped counts events lost to a full channel.
	EventsDropped int64
}

// ConnectionWatchdog is a ConnectionPlugin that keeps link statistics and
// publishes a ConnectionEvent per transition. Hooks never block; events are
// discarded and counted when nobody drains Events.
type ConnectionWatchdog struct {
	events chan ConnectionEvent
	now    func() time.Time

	mu        sync.Mutex
	stats     ConnectionStats
	observed  time.Time // first hook call
	upTotal   time.Duration
	downSince time.Time
}

// NewConnectionWatchdog returns a watchdog whose Events channel holds
// eventBuffer events (DEFAULT_WATCHDOG_BUFFER when <= 0).
func NewConnectionWatchdog(eventBuffer int) *ConnectionWatchdog {
	if eventBuffer <= 0 {
		eventBuffer = DEFAULT_WATCHDOG_BUFFER
	}
	return &ConnectionWatchdog{
		events: make(chan ConnectionEvent, eventBuffer),
		now:    time.Now,
	}
}

func (w *ConnectionWatchdog) Name() string { return "connection_watchdog" }

func (w *ConnectionWatchdog) Initialize(*Client) error { return nil }

func (w *ConnectionWatchdog) OnConnected(c *Client) error {
	endpoint, attempts := describe(c)
	now := w.now()

	w.mu.Lock()
	w.startLocked(now)
	var outage time.Duration
	if !w.downSince.IsZero() {
		outage = now.Sub(w.downSince)
		w.stats.TotalOutage += outage
		if outage > w.stats.LongestOutage {
			w.stats.LongestOutage = outage
		}
		w.downSince = time.Time{}
	}
	w.stats.Up = true
	w.stats.Since = now
	w.stats.Connects++
	w.mu.Unlock()

	w.emit(ConnectionEvent{
		Time:              now,
		Type:              LinkUp,
		Endpoint:          endpoint,
		Outage:            outage,
		ReconnectAttempts: attempts,
	})
	return nil
}

// OnDisconnected records a drop when err is set and a deliberate close
// otherwise.
func (w *ConnectionWatchdog) OnDisconnected(c *Client, err error) error {
	endpoint, attempts := describe(c)
	now := w.now()
	kind := LinkClosed

	w.mu.Lock()
	w.startLocked(now)
	if w.stats.Up {
		w.upTotal += now.Sub(w.stats.Since)
	}
	w.stats.Up = false
	w.stats.Since = now
	w.downSince = now
	if err != nil {
		kind = LinkDropped
		w.stats.Drops++
		w.stats.LastDropErr = err
		var frameErr *FrameError
		if errors.As(err, &frameErr) {
			w.stats.FramingErrors++
		}
	}
	w.mu.Unlock()

	w.emit(ConnectionEvent{
		Time:              now,
		Type:              kind,
		Endpoint:          endpoint,
		Err:               err,
		ReconnectAttempts: attempts,
	})
	return nil
}

func (w *ConnectionWatchdog) startLocked(now time.Time) {
	if w.observed.IsZero() {
		w.observed = now
	}
}

func (w *ConnectionWatchdog) Events() <-chan ConnectionEvent {
	return w.events
}

func (w *ConnectionWatchdog) Stats() ConnectionStats {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	up := w.upTotal
	if s.Up {
		up += now.Sub(s.Since)
	}
	if total := now.Sub(w.observed); !w.observed.IsZero() && total > 0 {
		s.Availability = float64(up) / float64(total)
	}
	return s
}

func (w *ConnectionWatchdog) emit(evt ConnectionEvent) {
	select {
	case w.events <- evt:
	default:
		w.mu.Lock()
		w.stats.EventsDropped++
		w.mu.Unlock()
	}
}

func describe(c *Client) (Endpoint, int) {
	if c == nil {
		return Endpoint{}, 0
	}
	return c.Endpoint(), c.Status().ReconnectAttempts
}

var _ ConnectionPlugin = (*ConnectionWatchdog)(nil)
