package rpc

import (
	"encoding/json"
	"sync"
	"time"
)

// result is what settles a pending call: a response payload or an error,
// never both.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingCall is one outstanding request. It lives from the moment the
// request is sent until a matching response, its deadline, or cancelAll.
type pendingCall struct {
	id    string
	done  chan result // buffered, written exactly once
	timer *time.Timer
}

// pendingTable maps outstanding correlation ids to their pending calls and
// guarantees each resolver settles at most once: the entry is removed under
// the lock before its channel is written, so a duplicate or late response
// finds nothing to resolve.
type pendingTable struct {
	mutex sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// register creates a pending entry for id with the given deadline and returns
// the channel the caller awaits. On deadline expiry the entry is removed and
// the channel receives ErrTimeout.
func (t *pendingTable) register(id string, deadline time.Duration) (<-chan result, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.calls[id]; exists {
		return nil, ErrDuplicateID
	}

	call := &pendingCall{
		id:   id,
		done: make(chan result, 1),
	}
	call.timer = time.AfterFunc(deadline, func() {
		t.fail(id, ErrTimeout)
	})
	t.calls[id] = call

	return call.done, nil
}

// resolve settles the pending entry for id with a response payload. A miss
// (late response after timeout, or an id that was never a request) is a
// no-op and reports false.
func (t *pendingTable) resolve(id string, payload json.RawMessage) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	call.done <- result{payload: payload}
	return true
}

// fail settles the pending entry for id with an error. Misses are no-ops.
func (t *pendingTable) fail(id string, err error) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	call.done <- result{err: err}
	return true
}

// cancelAll fails every pending entry with the given error. Used on channel
// disconnect so no caller hangs against a dead connection.
func (t *pendingTable) cancelAll(err error) {
	t.mutex.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mutex.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- result{err: err}
	}
}

// take removes and returns the entry for id, stopping its deadline timer.
func (t *pendingTable) take(id string) *pendingCall {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	call.timer.Stop()
	return call
}

// size reports the number of outstanding calls.
func (t *pendingTable) size() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.calls)
}
