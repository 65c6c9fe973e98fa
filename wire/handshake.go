package wire

import (
	"fmt"

	"github.com/glycerine/greenpack/msgp"
)

// Handshake is the wire record exchanged on requests and responses to
// negotiate protocol compatibility (spec §3). Field shapes match the Avro
// Netty transport's handshake request/response records exactly. Encoded
// by hand below rather than via greenpack codegen, since the field layout
// here is pinned by the wire format, not free to evolve with the struct.
type Handshake struct {
	ClientHash     [16]byte `zid:"0"`
	ClientProtocol *string  `zid:"1"`
	ServerHash     [16]byte `zid:"2"`
	ServerProtocol *string  `zid:"3"`
	Match          Match    `zid:"4"`
	Meta           map[string][]byte `zid:"5"`
}

// EncodeHandshake serializes h and appends it to b, returning the extended
// slice, following the standard greenpack append-style codec pattern (the
// buffer/offset shape spec §6 calls out for the schema layer's type codecs).
func EncodeHandshake(b []byte, h *Handshake) []byte {
	b = msgp.AppendMapHeader(b, 6)

	b = msgp.AppendString(b, "clientHash")
	b = msgp.AppendBytes(b, h.ClientHash[:])

	b = msgp.AppendString(b, "clientProtocol")
	if h.ClientProtocol == nil {
		b = msgp.AppendNil(b)
	} else {
		b = msgp.AppendString(b, *h.ClientProtocol)
	}

	b = msgp.AppendString(b, "serverHash")
	b = msgp.AppendBytes(b, h.ServerHash[:])

	b = msgp.AppendString(b, "serverProtocol")
	if h.ServerProtocol == nil {
		b = msgp.AppendNil(b)
	} else {
		b = msgp.AppendString(b, *h.ServerProtocol)
	}

	b = msgp.AppendString(b, "match")
	b = msgp.AppendInt8(b, int8(h.Match))

	b = msgp.AppendString(b, "meta")
	b = msgp.AppendMapHeader(b, uint32(len(h.Meta)))
	for k, v := range h.Meta {
		b = msgp.AppendString(b, k)
		b = msgp.AppendBytes(b, v)
	}

	return b
}

// DecodeHandshake parses a Handshake from the front of b and returns the
// remaining, unconsumed bytes. A negative-offset failure (spec §6's
// "offset < 0 means truncation") is surfaced here as ErrTruncatedHandshake.
func DecodeHandshake(b []byte) (h *Handshake, rest []byte, err error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTruncatedHandshake, err)
	}

	h = &Handshake{Match: MatchUnset}
	var scratch []byte
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading field name: %v", ErrTruncatedHandshake, err)
		}
		switch key {
		case "clientHash":
			scratch, b, err = msgp.ReadBytesBytes(b, scratch[:0])
			if err == nil {
				copy(h.ClientHash[:], scratch)
			}
		case "clientProtocol":
			h.ClientProtocol, b, err = readOptionalString(b)
		case "serverHash":
			scratch, b, err = msgp.ReadBytesBytes(b, scratch[:0])
			if err == nil {
				copy(h.ServerHash[:], scratch)
			}
		case "serverProtocol":
			h.ServerProtocol, b, err = readOptionalString(b)
		case "match":
			var m int8
			m, b, err = msgp.ReadInt8Bytes(b)
			h.Match = Match(m)
		case "meta":
			h.Meta, b, err = readBytesMap(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: field %q: %v", ErrTruncatedHandshake, key, err)
		}
	}
	return h, b, nil
}

func readOptionalString(b []byte) (*string, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	s, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return nil, b, err
	}
	return &s, b, nil
}

func readBytesMap(b []byte) (map[string][]byte, []byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, nil, err
	}
	m := make(map[string][]byte, sz)
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, nil, err
		}
		var val []byte
		val, b, err = msgp.ReadBytesBytes(b, nil)
		if err != nil {
			return nil, nil, err
		}
		m[key] = val
	}
	return m, b, nil
}
