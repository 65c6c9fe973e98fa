// Package bridge implements the client-side half of the transport (spec
// §4.4): one duplex stream, pending calls tracked by id, mismatch retry,
// and discovery. All pending-map and cache mutation happens on a single
// dispatch goroutine per Bridge (spec §5, §9's "handler task" design), so
// no locks guard them; public methods hand work to that goroutine over a
// channel instead of touching state directly.
package bridge

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	gjson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rasata/nettybridge/frame"
	"github.com/rasata/nettybridge/handshake"
	"github.com/rasata/nettybridge/internal/logx"
	"github.com/rasata/nettybridge/rpcerr"
	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/trace"
	"github.com/rasata/nettybridge/wire"
)

// Options are the recognized options on New (spec §6).
type Options struct {
	// Timeout is the deadline applied to a discovery Ping when the
	// caller does not supply its own Trace deadline. Zero means no
	// deadline.
	Timeout time.Duration
}

type callRecord struct {
	svc      service.Service // which service this call was issued as (usually clientSvc, Discovery for Ping)
	cont     func(resp *wire.Payload, err error)
	meta     map[string][]byte
	request  []byte
	retried  bool
	finalize func() bool
}

// Bridge owns one duplex stream and the calls in flight over it.
type Bridge struct {
	clientSvc service.Service
	opts      Options
	rw        io.ReadWriter
	closer    io.Closer
	log       zerolog.Logger

	actions   chan func()
	incoming  chan *frame.Group
	streamErr chan error
	stopped   chan struct{}
	stopOnce  sync.Once

	// owned exclusively by the run() goroutine.
	pending        map[int32]*callRecord
	serverServices map[[16]byte]service.Service
	hashes         map[[16]byte][16]byte
	nextID         int32
	closed         bool
	destroyed      bool

	// onDestroy, if set, is invoked once with the destroy error, e.g.
	// to let an owning router react (spec's "cyclic reference" note,
	// §9: break the cycle with a plain callback rather than a
	// back-reference to a router type this package doesn't know about).
	onDestroy atomic.Pointer[func(error)]
}

// New creates a Bridge over rw (and, if rw also implements io.Closer,
// closes it on release) speaking as clientSvc, and starts its reader and
// dispatch goroutines.
func New(rw io.ReadWriter, clientSvc service.Service, opts Options) *Bridge {
	var closer io.Closer
	if c, ok := rw.(io.Closer); ok {
		closer = c
	}
	b := &Bridge{
		clientSvc:      clientSvc,
		opts:           opts,
		rw:             rw,
		closer:         closer,
		log:            logx.New("bridge"),
		actions:        make(chan func()),
		incoming:       make(chan *frame.Group, 16),
		streamErr:      make(chan error, 2),
		stopped:        make(chan struct{}),
		pending:        make(map[int32]*callRecord),
		serverServices: make(map[[16]byte]service.Service),
		hashes:         make(map[[16]byte][16]byte),
	}
	go b.readLoop()
	go b.run()
	return b
}

func (b *Bridge) readLoop() {
	dec := frame.NewDecoder()
	buf := make([]byte, 64*1024)
	for {
		n, err := b.rw.Read(buf)
		if n > 0 {
			groups, decErr := dec.Feed(buf[:n])
			for _, g := range groups {
				select {
				case b.incoming <- g:
				case <-b.stopped:
					return
				}
			}
			if decErr != nil {
				b.reportStreamErr(fmt.Errorf("decode error: %w", decErr))
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("stream ended: %w", io.EOF)
			}
			b.reportStreamErr(err)
			return
		}
	}
}

func (b *Bridge) reportStreamErr(err error) {
	select {
	case b.streamErr <- err:
	default:
	}
}

func (b *Bridge) run() {
	for {
		select {
		case fn := <-b.actions:
			fn()
		case g := <-b.incoming:
			b.handleGroup(g)
		case err := <-b.streamErr:
			b.destroyLocked(err)
			return
		case <-b.stopped:
			return
		}
	}
}

// do serializes fn onto the dispatch goroutine and blocks until it runs,
// unless the bridge has already stopped.
func (b *Bridge) do(fn func()) {
	done := make(chan struct{})
	wrapped := func() { fn(); close(done) }
	select {
	case b.actions <- wrapped:
		<-done
	case <-b.stopped:
		// dispatch goroutine already exited (stream destroyed or
		// fully closed): run fn synchronously so callers still get a
		// (closed/destroyed) reply instead of silence.
		fn()
	}
}

// Call assigns request to a pending slot and sends it, per spec §4.4's
// tracking discipline. The continuation is invoked at most once. A
// response, an inactive trace, or Destroy delivers it on its own goroutine
// rather than the dispatch goroutine, so it may safely call back into the
// bridge (another Call, Ping, Close, or Destroy) without deadlocking against
// the very loop that would deliver it. A call refused before sending (bridge
// closed or destroyed, trace labels or deadline not serializable) fails its
// continuation before Call returns, on the dispatch goroutine while that
// goroutine is still running; a call back into the bridge from that
// continuation does not return.
func (b *Bridge) Call(tr trace.Trace, request []byte, cont func(resp []byte, err error)) {
	b.callAs(tr, b.clientSvc, request, func(resp *wire.Payload, err error) {
		if err != nil {
			cont(nil, err)
			return
		}
		cont(resp.Body, nil)
	})
}

func (b *Bridge) callAs(tr trace.Trace, svc service.Service, request []byte, cont func(resp *wire.Payload, err error)) {
	b.do(func() {
		if b.closed || b.destroyed {
			cont(nil, rpcerr.ErrBridgeClosed)
			return
		}

		meta := map[string][]byte{}
		labelBytes, err := gjson.Marshal(tr.Labels())
		if err != nil {
			// call-local error: fails only this call (spec §7).
			cont(nil, fmt.Errorf("serializing trace labels: %w", err))
			return
		}
		meta[wire.MetaTraceLabels] = labelBytes

		if dl, ok := tr.Deadline(); ok {
			db, err := dl.MarshalBinary()
			if err != nil {
				cont(nil, fmt.Errorf("serializing trace deadline: %w", err))
				return
			}
			meta[wire.MetaTraceDeadline] = db
		}

		id := b.allocID()
		finalize := tr.OnceInactive(func() {
			reason := tr.Err()
			b.do(func() { b.untrack(id, reason) })
		})

		delivered := func(resp *wire.Payload, err error) {
			if finalize() {
				cont(resp, err)
			}
		}

		b.pending[id] = &callRecord{svc: svc, cont: delivered, meta: meta, request: request, finalize: finalize}
		b.sendLocked(id, svc, meta, request, false)
	})
}

func (b *Bridge) allocID() int32 {
	for {
		id := atomic.AddInt32(&b.nextID, 1)
		if _, taken := b.pending[id]; !taken {
			return id
		}
	}
}

// sendLocked builds and writes the frame group for id; must run on the
// dispatch goroutine.
func (b *Bridge) sendLocked(id int32, svc service.Service, meta map[string][]byte, request []byte, attachProtocol bool) {
	hs := handshake.PrepareRequest(svc, b.hashes, attachProtocol)
	hs.Meta = meta
	g := &frame.Group{ID: id, Handshake: hs, Payload: &wire.Payload{Body: request}}
	buf := frame.Encode(g)
	if _, err := b.rw.Write(buf); err != nil {
		b.log.Error().Err(err).Int32("id", id).Str("client_hash", svc.ShortHash()).Msg("write failed")
		b.reportStreamErr(err)
	}
}

// untrack drops a pending call whose trace went inactive and delivers reason
// (the trace's own Err(), e.g. context.DeadlineExceeded or
// context.Canceled) to its continuation, rather than a generic message, so
// callers can tell an expired deadline from an explicit cancellation.
func (b *Bridge) untrack(id int32, reason error) {
	rec, ok := b.pending[id]
	if !ok {
		return
	}
	delete(b.pending, id)
	if reason == nil {
		reason = rpcerr.ErrTraceInactive
	}
	// rec.cont is the finalize-guarded "delivered" wrapper built in
	// callAs; it does its own CompareAndSwap, so untrack must not also
	// consume rec.finalize() here or the wrapper's own check would
	// always see it already spent.
	go rec.cont(nil, reason)
	b.maybeRelease()
}

// handleGroup applies the client receive policy (spec §4.3) to one
// incoming frame group.
func (b *Bridge) handleGroup(g *frame.Group) {
	rec, ok := b.pending[g.ID]
	if !ok {
		b.log.Debug().Int32("id", g.ID).Msg(rpcerr.ErrNoCallback.Error())
		return
	}

	if g.Handshake != nil {
		_, retry := handshake.HandleResponse(rec.svc, b.hashes, b.serverServices, g.Handshake, rec.retried)
		if retry {
			rec.retried = true
			b.sendLocked(g.ID, rec.svc, rec.meta, rec.request, true)
			return
		}
	}

	delete(b.pending, g.ID)
	if se, isErr := wire.AsSystemError(g.Payload); isErr {
		go rec.cont(nil, rpcerr.AsError(se))
	} else {
		go rec.cont(g.Payload, nil)
	}
	b.maybeRelease()
}

// withDefaultTimeout applies opts.Timeout as tr's deadline when the caller's
// trace doesn't already carry one of its own, so Options.Timeout (spec §6:
// "deadline applied to the discovery ping; defaults to no deadline") has an
// effect without every caller having to re-derive it into their own Trace.
func (b *Bridge) withDefaultTimeout(tr trace.Trace) trace.Trace {
	if b.opts.Timeout <= 0 {
		return tr
	}
	if _, ok := tr.Deadline(); ok {
		return tr
	}
	return trace.NewWithDeadline(time.Now().Add(b.opts.Timeout), tr.Labels())
}

// Ping issues a discovery call against discoverySvc (spec §4.4) and
// reports the protocol texts the remote peer advertises. A gateway answers
// with a header carrying the JSON array of all its services' protocols.
// Without that header, a response body holding a JSON array of protocol
// texts is reported instead; any other response reports discoverySvc's own
// protocol. A body holding a single bare protocol text, and a server
// protocol carried in the handshake response, are not reported.
func (b *Bridge) Ping(tr trace.Trace, discoverySvc service.Service, cont func(protocols []string, err error)) {
	tr = b.withDefaultTimeout(tr)
	b.callAs(tr, discoverySvc, nil, func(resp *wire.Payload, err error) {
		if err != nil {
			cont(nil, err)
			return
		}
		if raw, ok := resp.Headers[wire.HeaderDiscoveryProtocols]; ok {
			var protocols []string
			if uerr := gjson.Unmarshal(raw, &protocols); uerr == nil {
				cont(protocols, nil)
				return
			}
		}
		if len(resp.Body) > 0 {
			var protocols []string
			if uerr := gjson.Unmarshal(resp.Body, &protocols); uerr == nil {
				cont(protocols, nil)
				return
			}
		}
		cont([]string{discoverySvc.Protocol()}, nil)
	})
}

// Close stops accepting new calls; once every pending call has completed,
// naturally or via Destroy, the underlying stream is released.
func (b *Bridge) Close() {
	b.do(func() {
		b.closed = true
		b.maybeRelease()
	})
}

// Destroy closes the bridge and immediately fails every pending
// continuation with a "bridge destroyed" error (spec §4.4, §7).
func (b *Bridge) Destroy(err error) {
	b.do(func() { b.destroyLocked(err) })
}

func (b *Bridge) destroyLocked(err error) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.closed = true
	observerErr := err
	for id, rec := range b.pending {
		delete(b.pending, id)
		go rec.cont(nil, rpcerr.ErrBridgeDestroyed)
	}
	// onDestroy only fires for a caller-supplied error (spec §4.4): a plain
	// Destroy(nil) tears the bridge down without being treated as a fault
	// worth reporting to an observing router.
	if observerErr != nil {
		if fn := b.onDestroy.Load(); fn != nil {
			(*fn)(observerErr)
		}
	}
	b.release()
}

func (b *Bridge) maybeRelease() {
	if b.closed && len(b.pending) == 0 {
		b.release()
	}
}

func (b *Bridge) release() {
	b.stopOnce.Do(func() {
		close(b.stopped)
		if b.closer != nil {
			b.closer.Close()
		}
	})
}

// OnDestroy registers fn to be invoked once, with the non-nil error passed
// to Destroy (or the stream error that triggered it; Destroy(nil) does not
// invoke fn), letting an owning
// router observe bridge teardown without the bridge importing the router
// package back (spec §9's cyclic-reference note).
func (b *Bridge) OnDestroy(fn func(error)) {
	f := fn
	b.onDestroy.Store(&f)
}
