// Package gateway implements the server-side half of the transport (spec
// §4.5): demultiplexing incoming frame groups, handshake resolution,
// deadline/trace construction, and forwarding to a Router.
package gateway

import (
	"fmt"
	"io"
	"sync"
	"time"

	gjson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rasata/nettybridge/frame"
	"github.com/rasata/nettybridge/handshake"
	"github.com/rasata/nettybridge/internal/logx"
	"github.com/rasata/nettybridge/router"
	"github.com/rasata/nettybridge/rpcerr"
	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/trace"
	"github.com/rasata/nettybridge/wire"
)

// Gateway demultiplexes incoming connections onto a single Router.
// clientServices is shared, read-mostly cache across every connection this
// gateway accepts (spec §5's explicit carve-out from the single-goroutine
// rule), guarded by mu.
type Gateway struct {
	r   router.Router
	log zerolog.Logger

	mu             sync.RWMutex
	clientServices map[[16]byte]service.Service
}

// New builds a Gateway forwarding accepted connections' requests to r.
func New(r router.Router) *Gateway {
	return &Gateway{
		r:              r,
		log:            logx.New("gateway"),
		clientServices: make(map[[16]byte]service.Service),
	}
}

func (g *Gateway) lookupClient(hash [16]byte) (service.Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	svc, ok := g.clientServices[hash]
	return svc, ok
}

func (g *Gateway) storeClient(svc service.Service) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clientServices[svc.Hash()] = svc
}

// conn holds one accepted connection's state (spec §3's Server Gateway
// state): everything here is owned by the single goroutine running
// Accept, except writes, which are serialized by writeMu because Router
// responses can complete out of order and concurrently.
type conn struct {
	gw       *Gateway
	rw       io.ReadWriter
	writeMu  sync.Mutex
	finished bool

	clientSvc service.Service // last-seen, for stateful (no-handshake) requests
}

// Accept attaches a decoder/encoder pair to rw and processes frame groups
// until the stream ends or a protocol violation aborts it. It blocks for
// the lifetime of the connection; callers typically run it in its own
// goroutine per accepted connection.
func (g *Gateway) Accept(rw io.ReadWriter) {
	c := &conn{gw: g, rw: rw}
	dec := frame.NewDecoder()
	buf := make([]byte, 64*1024)

	for {
		n, err := rw.Read(buf)
		if n > 0 {
			groups, decErr := dec.Feed(buf[:n])
			for _, group := range groups {
				c.handleGroup(group)
			}
			if decErr != nil {
				g.log.Warn().Err(decErr).Msg("decode error, closing connection")
				g.r.Emit("error", decErr)
				c.closeConn()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				g.r.Emit("error", err)
			}
			c.closeConn()
			return
		}
	}
}

func (c *conn) closeConn() {
	if closer, ok := c.rw.(io.Closer); ok {
		closer.Close()
	}
}

// handleGroup runs accept steps 1-4 of spec §4.5 for one incoming frame
// group.
func (c *conn) handleGroup(g *frame.Group) {
	if g.Handshake == nil && c.clientSvc == nil {
		c.gw.log.Warn().Int32("id", g.ID).Msg(rpcerr.ErrExpectedHandshake.Error())
		c.gw.r.Emit("error", rpcerr.ErrExpectedHandshake)
		c.closeConn()
		return
	}

	if g.Handshake == nil {
		// stateful connection: reuse last-seen clientSvc (spec §4.5
		// step 3; only safe with one client per connection).
		c.forward(g.ID, trace.New(nil), g.Payload.Body, nil)
		return
	}

	hs := g.Handshake

	deadline, hasDeadline, err := decodeDeadline(hs.Meta)
	if err != nil {
		c.gw.log.Warn().Err(err).Msg("bad trace deadline")
		c.gw.r.Emit("error", err)
		c.closeConn()
		return
	}

	var tr *trace.T
	if hasDeadline {
		tr = trace.NewWithDeadline(deadline, nil)
	} else {
		tr = trace.New(nil)
	}
	if !tr.Active() {
		// already past deadline: drop silently (spec §4.5 step 2b).
		return
	}
	if labels, ok := decodeLabels(hs.Meta); ok {
		tr.MergeLabels(labels)
	}

	discoveryHash := service.Discovery.Hash()
	if service.Equal(hs.ClientHash, discoveryHash) {
		c.respondDiscovery(g.ID)
		return
	}

	clientSvc, known := c.gw.lookupClient(hs.ClientHash)
	if !known {
		if hs.ClientProtocol == nil {
			c.respondUnknownClientProtocol(g.ID, hs.ClientHash)
			return
		}
		clientSvc = service.NewWithHash(hs.ClientHash, *hs.ClientProtocol)
		c.gw.storeClient(clientSvc)
	}
	c.clientSvc = clientSvc

	serverSvc, serverKnown := c.gw.r.ServiceFor(clientSvc)
	respHS := &wire.Handshake{Match: handshake.ServerMatch(serverKnown)}
	if serverKnown {
		respHS.ServerHash = serverSvc.Hash()
	} else {
		// CLIENT: server hasn't matched this client protocol to one
		// of its own; attach server protocol + hash so the client can
		// cache it (spec §4.3). With no server service at all to
		// offer, fall back to echoing the client's own hash.
		if len(c.gw.r.Services()) > 0 {
			p := c.gw.r.Services()[0].Protocol()
			respHS.ServerProtocol = &p
			respHS.ServerHash = c.gw.r.Services()[0].Hash()
		} else {
			respHS.ServerHash = clientSvc.Hash()
		}
	}

	c.forward(g.ID, tr, g.Payload.Body, respHS)
}

// forward runs accept step 4/5: dispatch to the router and, on response,
// marshal it back with respHS attached (nil for stateful no-handshake
// requests).
func (c *conn) forward(id int32, tr trace.Trace, request []byte, respHS *wire.Handshake) {
	c.gw.r.Channel().Call(tr, request, func(response []byte, err error) {
		c.respond(id, respHS, response, err)
	})
}

func (c *conn) respond(id int32, respHS *wire.Handshake, response []byte, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.finished {
		return
	}

	if err != nil {
		se := rpcerr.OrCode(rpcerr.ChannelFailure, err)
		payload := wire.EncodeErrorPayload(nil, se)
		g := &frame.Group{ID: id, Handshake: respHS, Payload: payload}
		c.rw.Write(frame.Encode(g))
		c.finished = true
		c.closeConn()
		return
	}

	g := &frame.Group{ID: id, Handshake: respHS, Payload: &wire.Payload{Body: response}}
	if _, werr := c.rw.Write(frame.Encode(g)); werr != nil {
		ev := c.gw.log.Warn().Err(werr).Int32("id", id)
		if c.clientSvc != nil {
			ev = ev.Str("client_hash", c.clientSvc.ShortHash())
		}
		ev.Msg("write failed")
	}
}

// respondDiscovery answers a discovery ping directly (spec §4.5 step 2d),
// without invoking the router.
func (c *conn) respondDiscovery(id int32) {
	protocols := make([]string, 0, len(c.gw.r.Services()))
	for _, s := range c.gw.r.Services() {
		protocols = append(protocols, s.Protocol())
	}
	body, err := gjson.Marshal(protocols)
	if err != nil {
		body = []byte("[]")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.finished {
		return
	}
	hs := &wire.Handshake{Match: wire.MatchBoth}
	payload := &wire.Payload{
		Headers: map[string][]byte{wire.HeaderDiscoveryProtocols: body},
		Body:    wire.EmptyResponseBody,
	}
	g := &frame.Group{ID: id, Handshake: hs, Payload: payload}
	c.rw.Write(frame.Encode(g))
}

// respondUnknownClientProtocol answers a fully-unknown client with a
// retry-recoverable system error (spec §4.5 step 2e). If the router owns
// exactly one service, its protocol and hash are attached so the client
// can complete on its next retry without a further round trip — using
// that single service's own hash, per spec §9's resolution of the
// documented serverHash-construction bug in the original source.
func (c *conn) respondUnknownClientProtocol(id int32, clientHash [16]byte) {
	hs := &wire.Handshake{Match: wire.MatchNone}
	services := c.gw.r.Services()
	if len(services) == 1 {
		p := services[0].Protocol()
		hs.ServerProtocol = &p
		hs.ServerHash = services[0].Hash()
	} else {
		hs.ServerHash = clientHash
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.finished {
		return
	}
	se := rpcerr.New(rpcerr.UnknownClientProtocol, fmt.Sprintf("unknown client protocol hash %x", clientHash))
	payload := wire.EncodeErrorPayload(nil, se)
	g := &frame.Group{ID: id, Handshake: hs, Payload: payload}
	c.rw.Write(frame.Encode(g))
}

func decodeDeadline(meta map[string][]byte) (time.Time, bool, error) {
	raw, ok := meta[wire.MetaTraceDeadline]
	if !ok {
		return time.Time{}, false, nil
	}
	var t time.Time
	if err := t.UnmarshalBinary(raw); err != nil {
		return time.Time{}, false, fmt.Errorf("decoding trace deadline: %w", err)
	}
	return t, true, nil
}

func decodeLabels(meta map[string][]byte) (map[string]any, bool) {
	raw, ok := meta[wire.MetaTraceLabels]
	if !ok {
		return nil, false
	}
	var labels map[string]any
	if err := gjson.Unmarshal(raw, &labels); err != nil {
		return nil, false
	}
	return labels, true
}
