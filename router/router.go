// Package router defines the collaborator interfaces the gateway forwards
// decoded requests through (spec §6) and supplies a minimal in-memory
// implementation sufficient to exercise the gateway end-to-end.
package router

import (
	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/trace"
)

// Channel is where the gateway forwards a decoded request body. cont is
// invoked exactly once with the handler's response body or error.
type Channel interface {
	Call(tr trace.Trace, request []byte, cont func(response []byte, err error))
}

// Router resolves incoming client services to the server's own services
// and owns the Channel that actually executes requests (spec §6).
type Router interface {
	Services() []service.Service
	Channel() Channel
	// ServiceFor returns the server-side Service matching clientSvc's
	// hash, if the gateway serves that protocol.
	ServiceFor(clientSvc service.Service) (service.Service, bool)
	// Emit reports connection-scoped events (e.g. "error") the way
	// spec §7 describes the router being notified out-of-band.
	Emit(event string, payload any)
}

// HandlerFunc answers one request body with a response body or an error.
type HandlerFunc func(tr trace.Trace, request []byte) (response []byte, err error)

// StaticRouter is a fixed-service Router backed by a single HandlerFunc,
// enough to demonstrate and test the gateway without a real business
// dispatch layer (out of scope per spec §1's Non-goals).
type StaticRouter struct {
	services []service.Service
	handler  HandlerFunc
	onEvent  func(event string, payload any)
}

// NewStaticRouter builds a Router serving services, dispatching every
// request through handler.
func NewStaticRouter(handler HandlerFunc, services ...service.Service) *StaticRouter {
	return &StaticRouter{services: services, handler: handler}
}

// OnEvent installs a callback invoked by Emit; defaults to a no-op.
func (r *StaticRouter) OnEvent(fn func(event string, payload any)) {
	r.onEvent = fn
}

func (r *StaticRouter) Services() []service.Service { return r.services }

func (r *StaticRouter) Channel() Channel { return staticChannel{r.handler} }

func (r *StaticRouter) ServiceFor(clientSvc service.Service) (service.Service, bool) {
	target := clientSvc.Hash()
	for _, s := range r.services {
		if service.Equal(s.Hash(), target) {
			return s, true
		}
	}
	return nil, false
}

func (r *StaticRouter) Emit(event string, payload any) {
	if r.onEvent != nil {
		r.onEvent(event, payload)
	}
}

type staticChannel struct{ handler HandlerFunc }

func (c staticChannel) Call(tr trace.Trace, request []byte, cont func([]byte, error)) {
	resp, err := c.handler(tr, request)
	cont(resp, err)
}
