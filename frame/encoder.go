package frame

import (
	"encoding/binary"

	"github.com/rasata/nettybridge/wire"
)

// Encode serializes g to at most two length-prefixed frames (optional
// handshake bytes, then payload bytes) behind an 8-byte (id, frame_count)
// header, per spec §4.1. The whole group is returned as one contiguous
// slice so callers can write it to the wire atomically (spec §3's
// no-interleaving invariant).
func Encode(g *Group) []byte {
	var frames [][]byte
	if g.Handshake != nil {
		frames = append(frames, wire.EncodeHandshake(nil, g.Handshake))
	}
	frames = append(frames, wire.EncodePayload(g.Payload))

	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], uint32(g.ID))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(frames)))

	for _, f := range frames {
		lenPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lenPrefix, uint32(len(f)))
		out = append(out, lenPrefix...)
		out = append(out, f...)
	}
	return out
}
