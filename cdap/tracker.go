package cdap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// InvokeTracker correlates outbound CDAP requests with their replies by
// invoke_id (spec.md §4.7, §4.8 step 4: "wait for a CDAP reply with
// matching invoke_id up to the configured per-attempt timeout").
type InvokeTracker struct {
	mu      sync.Mutex
	pending map[uint64]chan Message
	counter atomic.Uint64
}

func NewInvokeTracker() *InvokeTracker {
	return &InvokeTracker{pending: make(map[uint64]chan Message)}
}

// NextID returns a fresh invoke_id, unique for the lifetime of this tracker.
func (t *InvokeTracker) NextID() uint64 {
	return t.counter.Add(1)
}

// Register opens a one-shot slot for invokeID, returning a function that
// blocks until a matching reply arrives via Resolve, ctx is cancelled, or
// the caller never calls wait (in which case the slot stays pending until
// Forget removes it; Resolve never removes a slot).
func (t *InvokeTracker) Register(invokeID uint64) (wait func(ctx context.Context) (Message, error)) {
	ch := make(chan Message, 1)
	t.mu.Lock()
	t.pending[invokeID] = ch
	t.mu.Unlock()

	return func(ctx context.Context) (Message, error) {
		defer t.Forget(invokeID)
		select {
		case reply := <-ch:
			return reply, nil
		case <-ctx.Done():
			return Message{}, fmt.Errorf("cdap: wait for invoke %d: %w", invokeID, ctx.Err())
		}
	}
}

// Resolve delivers reply to whoever is waiting on its InvokeID, if anyone,
// and reports whether a waiter was found. Callers use the return value to
// tell a genuine reply apart from an incoming request whose invoke_id
// matches nothing pending.
func (t *InvokeTracker) Resolve(reply Message) bool {
	t.mu.Lock()
	ch, ok := t.pending[reply.InvokeID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- reply:
		return true
	default:
		return false
	}
}

// Forget removes a pending slot without resolving it, used after a wait
// times out or is cancelled.
func (t *InvokeTracker) Forget(invokeID uint64) {
	t.mu.Lock()
	delete(t.pending, invokeID)
	t.mu.Unlock()
}
