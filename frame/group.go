// Package frame implements the wire-level frame group codec (spec §4.1):
// pure transformation between raw bytes and structured (id, handshake?,
// payload) groups, independent of any transport or scheduling concern.
package frame

import "github.com/rasata/nettybridge/wire"

// Group is one decoded frame group: a call id, an optional handshake
// record, and the packet payload (spec §3).
type Group struct {
	ID        int32
	Handshake *wire.Handshake
	Payload   *wire.Payload
}
