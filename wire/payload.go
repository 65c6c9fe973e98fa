package wire

import (
	"fmt"

	"github.com/glycerine/greenpack/msgp"
)

// errorDiscriminator are the two mandatory, bit-exact bytes that open a
// system-error payload body (spec §4.2): 0x01 tags "this is an error union"
// and 0x00 selects the system-error variant.
var errorDiscriminator = []byte{0x01, 0x00}

// Payload is the in-memory form of a request/response body: a header map
// followed by an opaque body (spec §3).
type Payload struct {
	Headers map[string][]byte
	Body    []byte
}

// EncodePayload serializes headers as a schema-encoded map and concatenates
// body immediately after, per spec §4.2.
func EncodePayload(p *Payload) []byte {
	b := msgp.AppendMapHeader(nil, uint32(len(p.Headers)))
	for k, v := range p.Headers {
		b = msgp.AppendString(b, k)
		b = msgp.AppendBytes(b, v)
	}
	return append(b, p.Body...)
}

// DecodePayload reverses EncodePayload. It fails with ErrTruncatedHeaders
// if the header-map schema refuses buf (spec §4.2).
func DecodePayload(buf []byte) (*Payload, error) {
	sz, rest, err := msgp.ReadMapHeaderBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedHeaders, err)
	}
	headers := make(map[string][]byte, sz)
	for i := uint32(0); i < sz; i++ {
		var key string
		key, rest, err = msgp.ReadStringBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: reading header key: %v", ErrTruncatedHeaders, err)
		}
		var val []byte
		val, rest, err = msgp.ReadBytesBytes(rest, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: reading header %q: %v", ErrTruncatedHeaders, key, err)
		}
		headers[key] = val
	}
	return &Payload{Headers: headers, Body: rest}, nil
}

// SystemError is the schema-encoded error record carried after the
// discriminator bytes in an error payload (spec §4.2, §4.7).
type SystemError struct {
	Code    string `zid:"0"`
	Message string `zid:"1"`
}

func encodeSystemError(b []byte, e *SystemError) []byte {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, "code")
	b = msgp.AppendString(b, e.Code)
	b = msgp.AppendString(b, "message")
	b = msgp.AppendString(b, e.Message)
	return b
}

func decodeSystemError(b []byte) (*SystemError, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	e := &SystemError{}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}
		var val string
		val, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}
		switch key {
		case "code":
			e.Code = val
		case "message":
			e.Message = val
		}
	}
	return e, nil
}

// EncodeErrorPayload synthesizes a system-error payload: the two mandatory
// discriminator bytes followed by the schema-encoded error record, with the
// given (optional) headers (spec §4.2).
func EncodeErrorPayload(headers map[string][]byte, e *SystemError) *Payload {
	body := append([]byte{}, errorDiscriminator...)
	body = encodeSystemError(body, e)
	return &Payload{Headers: headers, Body: body}
}

// AsSystemError reports whether p's body carries a system-error
// discriminator and, if so, decodes and returns it.
func AsSystemError(p *Payload) (*SystemError, bool) {
	if len(p.Body) < len(errorDiscriminator) {
		return nil, false
	}
	for i, want := range errorDiscriminator {
		if p.Body[i] != want {
			return nil, false
		}
	}
	e, err := decodeSystemError(p.Body[len(errorDiscriminator):])
	if err != nil {
		return nil, false
	}
	return e, true
}

// EmptyResponseBody is the discovery response body: a single 0x00 byte
// meaning "no error, empty response" (spec §9's pinned open question).
var EmptyResponseBody = []byte{0x00}
