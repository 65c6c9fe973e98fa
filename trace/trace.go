// Package trace implements the Trace collaborator (spec §6): an optional
// absolute deadline, a label map, an active flag, and a one-shot
// "onceInactive" registration used to resolve races between response
// delivery, deadline expiry, and bridge destruction (spec §5).
package trace

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glycerine/loquet"
)

// Trace is the interface bridge and gateway consume. It intentionally
// mirrors spec §6's collaborator shape rather than exposing context.Context
// directly, since deadline and cancellation here are one-shot and
// label-bearing in a way plain contexts are not.
type Trace interface {
	Active() bool
	Deadline() (time.Time, bool)
	Labels() map[string]any
	// OnceInactive registers fn to run the first time the trace goes
	// inactive (deadline reached or Cancel called) and returns a
	// finalizer: the first caller of finalizer gets true ("not yet
	// delivered"); every subsequent caller gets false.
	OnceInactive(fn func()) (finalize func() bool)
	// Err returns the reason the trace went inactive (context.DeadlineExceeded
	// or context.Canceled), or nil while still active. Callers that need to
	// tell a timeout from an explicit cancellation, e.g. to report why a
	// pending call was abandoned, read this from inside an OnceInactive fn.
	Err() error
}

// T is the concrete Trace built on a context.Context. The inactive signal
// itself is a loquet.Chan, the teacher's own one-shot "closed exactly once"
// primitive (cf. rpc25519's Message.DoneCh, closed once per call and
// selected on via WhenClosed()); T exposes the same WhenClosed shape through
// Done() for callers that prefer select over callback registration.
type T struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	labels      map[string]any
	fired       bool
	inactiveFns []func()
	done        *loquet.Chan[struct{}]
}

// New creates a Trace with no deadline. Call Cancel to make it inactive.
func New(labels map[string]any) *T {
	ctx, cancel := context.WithCancel(context.Background())
	if labels == nil {
		labels = map[string]any{}
	}
	return &T{ctx: ctx, cancel: cancel, labels: labels, done: loquet.NewChan[struct{}](struct{}{})}
}

// NewWithDeadline creates a Trace that becomes inactive at deadline.
func NewWithDeadline(deadline time.Time, labels map[string]any) *T {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	if labels == nil {
		labels = map[string]any{}
	}
	t := &T{ctx: ctx, cancel: cancel, labels: labels, done: loquet.NewChan[struct{}](struct{}{})}
	go t.watch()
	return t
}

func (t *T) watch() {
	<-t.ctx.Done()
	t.fireInactive()
}

func (t *T) fireInactive() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fns := t.inactiveFns
	t.inactiveFns = nil
	t.mu.Unlock()

	t.done.Close()
	for _, fn := range fns {
		fn()
	}
}

// Cancel makes the trace inactive immediately, e.g. on caller-initiated
// cancellation. Safe to call multiple times.
func (t *T) Cancel() {
	t.cancel()
	t.fireInactive()
}

func (t *T) Active() bool {
	select {
	case <-t.ctx.Done():
		return false
	default:
		return true
	}
}

func (t *T) Deadline() (time.Time, bool) {
	return t.ctx.Deadline()
}

func (t *T) Labels() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.labels
}

// MergeLabels adds entries from extra without clobbering existing keys,
// matching the gateway's handshake-meta label merge (spec §4.5 step 2c).
func (t *T) MergeLabels(extra map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range extra {
		if _, exists := t.labels[k]; !exists {
			t.labels[k] = v
		}
	}
}

func (t *T) OnceInactive(fn func()) (finalize func() bool) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		fn()
	} else {
		t.inactiveFns = append(t.inactiveFns, fn)
		t.mu.Unlock()
	}

	var finalized atomic.Bool
	return func() bool {
		return finalized.CompareAndSwap(false, true)
	}
}

// Done returns a channel that closes the moment the trace goes inactive,
// mirroring rpc25519's Message.DoneCh.WhenClosed() select idiom for callers
// that would rather select than register a callback.
func (t *T) Done() <-chan struct{} {
	return t.done.WhenClosed()
}

// Err returns the reason the trace's context ended, or nil if still active.
func (t *T) Err() error {
	return t.ctx.Err()
}
