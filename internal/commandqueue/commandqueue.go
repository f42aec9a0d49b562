// Package commandqueue implements the rendezvous between an out-of-band
// producer (a browser extension polling for work) and a blocking waiter
// (a tool call that enqueued a command and needs its result). It is the
// most intricate concurrency primitive in this runtime: completions and
// waits can arrive in either order and must still agree on the outcome.
package commandqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned by WaitForResult when no completion arrives
// within the requested timeout.
var ErrTimeout = errors.New("commandqueue: wait timed out")

// Command is a unit of work destined for the external poller.
type Command struct {
	ID        uuid.UUID
	Action    string
	Params    map[string]any
	CreatedAt time.Time
}

// CompletionRecord is the outcome of a Command, as reported by Complete.
type CompletionRecord struct {
	ID          uuid.UUID
	Success     bool
	Result      any
	Error       string
	CompletedAt time.Time
}

// Queue holds pending commands awaiting a poller and completions awaiting
// a waiter. All operations are safe for concurrent use.
type Queue struct {
	mu          sync.Mutex
	pending     []Command
	completions map[uuid.UUID]*CompletionRecord
	notify      chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		completions: make(map[uuid.UUID]*CompletionRecord),
		notify:      make(chan struct{}),
	}
}

// NewCommand allocates a Command with a fresh id and CreatedAt set to now.
func NewCommand(action string, params map[string]any) Command {
	return Command{ID: uuid.New(), Action: action, Params: params, CreatedAt: time.Now()}
}

// Enqueue appends a command to the pending FIFO.
func (q *Queue) Enqueue(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cmd)
}

// DrainPending atomically empties and returns the pending FIFO in
// enqueue order.
func (q *Queue) DrainPending() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// Complete records the outcome for id. If a waiter is already blocked in
// WaitForResult for this id, it wakes on the next notify broadcast and
// consumes the record. If no waiter is present yet, the record is held
// until one calls WaitForResult (deliver-once: whichever comes second
// consumes it).
func (q *Queue) Complete(id uuid.UUID, success bool, result any, errMsg string) {
	q.mu.Lock()
	q.completions[id] = &CompletionRecord{
		ID:          id,
		Success:     success,
		Result:      result,
		Error:       errMsg,
		CompletedAt: time.Now(),
	}
	old := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

// WaitForResult blocks until id's completion arrives or timeout elapses.
// The record is consumed (deleted) on successful return; a timeout
// leaves any eventual completion in place for the next waiter.
func (q *Queue) WaitForResult(id uuid.UUID, timeout time.Duration) (*CompletionRecord, error) {
	if rec, ok := q.take(id); ok {
		return rec, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		// Check for the record and snapshot notify under one lock, so a
		// Complete landing between two checks cannot be missed.
		q.mu.Lock()
		ch := q.notify
		rec, ok := q.completions[id]
		if ok {
			delete(q.completions, id)
		}
		q.mu.Unlock()
		if ok {
			return rec, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			if rec, ok := q.take(id); ok {
				return rec, nil
			}
			// spurious wake for a different id; keep waiting
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

func (q *Queue) take(id uuid.UUID) (*CompletionRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.completions[id]
	if ok {
		delete(q.completions, id)
	}
	return rec, ok
}

// Clear empties both the pending FIFO and any unconsumed completions.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.completions = make(map[uuid.UUID]*CompletionRecord)
}

// PendingLen reports the current pending FIFO depth, for diagnostics.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
