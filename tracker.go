package modbus

import (
	"sync"
	"time"
)

const TRANSACTION_ID_SPACE = 1 << 16

// pendingCall is one request awaiting its response frame.
type pendingCall struct {
	id        uint16
	onResolve func(frame []byte)
	onReject  func(err error)
	timer     *time.Timer
	deadline  time.Time
}

// TransactionTracker correlates response frames with outstanding requests.
//
// Every registered call is removed exactly once: by Resolve, by its own
// timeout, by Cancel, or by RejectAll. Whoever removes the entry invokes its
// callback, so late or duplicate frames are dropped.
type TransactionTracker struct {
	mu      sync.Mutex
	pending map[uint16]*pendingCall
	nextID  uint16
}

// NewTransactionTracker creates an empty tracker. The first allocated id is 1.
func NewTransactionTracker() *TransactionTracker {
	return &TransactionTracker{
		pending: make(map[uint16]*pendingCall),
		nextID:  1,
	}
}

// Register stores a pending call under id and arms its timeout. A timeout of
// zero waits indefinitely.
func (t *TransactionTracker) Register(id uint16, onResolve func([]byte), onReject func(error), timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return DuplicateTransactionError{TransactionID: id}
	}
	t.insertLocked(id, onResolve, onReject, timeout)
	return nil
}

// Allocate picks the next free transaction id, cycling through the 16-bit
// space, and registers the call under it. When every id is in flight it
// fails with TransactionSpaceExhaustedError instead of queueing.
func (t *TransactionTracker) Allocate(onResolve func([]byte), onReject func(error), timeout time.Duration) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= TRANSACTION_ID_SPACE {
		return 0, TransactionSpaceExhaustedError{}
	}
	id := t.nextID
	for {
		if _, busy := t.pending[id]; !busy {
			break
		}
		id++
	}
	t.nextID = id + 1
	t.insertLocked(id, onResolve, onReject, timeout)
	return id, nil
}

func (t *TransactionTracker) insertLocked(id uint16, onResolve func([]byte), onReject func(error), timeout time.Duration) {
	call := &pendingCall{
		id:        id,
		onResolve: onResolve,
		onReject:  onReject,
	}
	if timeout > 0 {
		call.deadline = time.Now().Add(timeout)
		call.timer = time.AfterFunc(timeout, func() {
			if t.remove(call) {
				call.onReject(ResponseTimeoutError{TransactionID: id, Timeout: timeout})
			}
		})
	}
	t.pending[id] = call
}

// remove deletes call if it is still the entry registered under its id.
func (t *TransactionTracker) remove(call *pendingCall) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[call.id] != call {
		return false
	}
	delete(t.pending, call.id)
	return true
}

func (t *TransactionTracker) take(id uint16) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	return call
}

// Resolve hands frame to the call waiting on id. It returns false for
// unknown ids, such as a response arriving after its call timed out.
func (t *TransactionTracker) Resolve(id uint16, frame []byte) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	call.onResolve(frame)
	return true
}

// Cancel removes the call waiting on id without invoking any callback.
func (t *TransactionTracker) Cancel(id uint16) bool {
	return t.take(id) != nil
}

// RejectAll fails every pending call with err and empties the tracker.
func (t *TransactionTracker) RejectAll(err error) int {
	t.mu.Lock()
	calls := t.pending
	t.pending = make(map[uint16]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.onReject(err)
	}
	return len(calls)
}

// Len returns the number of outstanding calls.
func (t *TransactionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
