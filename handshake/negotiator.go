// Package handshake implements the stateless negotiation policy of spec
// §4.3. The bidirectional hash caches it reads and updates are owned by the
// caller (Client Bridge state per spec §3). The gateway uses only
// ServerMatch and keeps its clientServices cache to itself.
package handshake

import (
	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/wire"
)

// PrepareRequest builds the outgoing Handshake for a call under the client
// send policy (spec §4.3). hashes is the bridge's clientHash->serverHash
// cache (spec §3). attachProtocol is true only on a mismatch retry.
func PrepareRequest(clientSvc service.Service, hashes map[[16]byte][16]byte, attachProtocol bool) *wire.Handshake {
	ch := clientSvc.Hash()
	sh, ok := hashes[ch]
	if !ok {
		// "fall back to the client hash itself (acts as unknown)"
		sh = ch
	}
	hs := &wire.Handshake{ClientHash: ch, ServerHash: sh, Match: wire.MatchUnset}
	if attachProtocol {
		p := clientSvc.Protocol()
		hs.ClientProtocol = &p
	}
	return hs
}

// HandleResponse applies the client receive policy (spec §4.3): it updates
// hashes/serverServices in place from any serverProtocol the response
// carries, resolves which service actually answered, and reports whether
// the call must be retried (match == NONE and it has not retried before).
func HandleResponse(
	clientSvc service.Service,
	hashes map[[16]byte][16]byte,
	serverServices map[[16]byte]service.Service,
	hs *wire.Handshake,
	alreadyRetried bool,
) (resolved service.Service, retry bool) {
	ch := clientSvc.Hash()

	if hs.ServerProtocol != nil {
		svc := service.NewWithHash(hs.ServerHash, *hs.ServerProtocol)
		serverServices[hs.ServerHash] = svc
		hashes[ch] = hs.ServerHash
		resolved = svc
	} else {
		if sh, ok := hashes[ch]; ok {
			resolved = serverServices[sh]
		}
		if resolved == nil {
			// "defaulting to the client's own service if still unknown"
			resolved = clientSvc
		}
	}

	retry = hs.Match == wire.MatchNone && !alreadyRetried
	return resolved, retry
}

// ServerMatch computes the handshake outcome for a request whose client
// service is already known to the gateway (spec §4.3's server response
// policy; the fully-unknown-client NONE case is handled directly by the
// gateway since it also has to synthesize a system-error payload).
func ServerMatch(serverKnown bool) wire.Match {
	if serverKnown {
		return wire.MatchBoth
	}
	return wire.MatchClient
}
