package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/rasata/nettybridge/wire"
)

// TrailingDataError is returned by Decoder.End when the stream ended with
// buffered, unconsumed bytes (spec §4.1, §8 scenario 5).
type TrailingDataError struct {
	Data []byte
}

func (e *TrailingDataError) Error() string {
	return fmt.Sprintf("trailing data: %d byte(s) left over at end of input", len(e.Data))
}

type decodeState int

const (
	stateNeedHeader decodeState = iota
	stateNeedFrame
)

// Decoder consumes bytes fed via Feed and emits complete frame Groups. It
// is resumable across arbitrary chunk boundaries (spec §3's "frame-group
// parsing is resumable" invariant) and is not safe for concurrent use.
type Decoder struct {
	buf []byte

	st        decodeState
	id        int32
	remaining int32
	frames    [][]byte

	// expectHandshake is the sticky handshake-mode flag (spec §4.1,
	// §9): starts true, flips to false the first time a payload
	// decodes cleanly without a handshake, and never flips back.
	expectHandshake bool

	err error
}

// NewDecoder returns a Decoder starting in "expect handshake" mode.
func NewDecoder() *Decoder {
	return &Decoder{expectHandshake: true}
}

// Feed appends data to the decoder's internal buffer and returns every
// frame group that becomes fully decodable as a result. Feeding fewer than
// 8 bytes total produces no output and no error (spec §8).
func (d *Decoder) Feed(data []byte) ([]*Group, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, data...)

	var groups []*Group
	for {
		switch d.st {
		case stateNeedHeader:
			if len(d.buf) < 8 {
				return groups, nil
			}
			d.id = int32(binary.BigEndian.Uint32(d.buf[0:4]))
			d.remaining = int32(binary.BigEndian.Uint32(d.buf[4:8]))
			d.buf = d.buf[8:]
			d.frames = d.frames[:0]
			d.st = stateNeedFrame
			if d.remaining == 0 {
				g, err := d.finishGroup()
				if err != nil {
					d.err = err
					return groups, err
				}
				groups = append(groups, g)
				d.st = stateNeedHeader
			}

		case stateNeedFrame:
			if len(d.buf) < 4 {
				return groups, nil
			}
			length := int32(binary.BigEndian.Uint32(d.buf[0:4]))
			if length < 0 || int64(len(d.buf)) < int64(4+length) {
				return groups, nil
			}
			frame := make([]byte, length)
			copy(frame, d.buf[4:4+length])
			d.buf = d.buf[4+length:]
			d.frames = append(d.frames, frame)
			d.remaining--
			if d.remaining == 0 {
				g, err := d.finishGroup()
				if err != nil {
					d.err = err
					return groups, err
				}
				groups = append(groups, g)
				d.st = stateNeedHeader
			}
		}
	}
}

// End signals that no more bytes are coming. It fails with a
// *TrailingDataError carrying whatever bytes were still buffered, whether
// that is a partial header, partial frame, or unconsumed complete data
// (spec §4.1).
func (d *Decoder) End() error {
	if d.err != nil {
		return d.err
	}
	var leftover []byte
	if d.st == stateNeedFrame {
		// frames already collected for a group that never completed.
		leftover = concat(d.frames)
	}
	leftover = append(leftover, d.buf...)
	if len(leftover) > 0 {
		return &TrailingDataError{Data: leftover}
	}
	return nil
}

func concat(frames [][]byte) []byte {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// finishGroup decodes the accumulated frames for d.id under the current
// handshake expectation, retrying in the other mode on failure and
// applying the sticky downgrade rule (spec §4.1).
func (d *Decoder) finishGroup() (*Group, error) {
	frames := d.frames

	tryHandshake := func() (*wire.Handshake, *wire.Payload, error) {
		if len(frames) < 1 {
			return nil, nil, fmt.Errorf("no frames available for handshake decode")
		}
		h, rest, err := wire.DecodeHandshake(frames[0])
		if err != nil {
			return nil, nil, err
		}
		if len(rest) != 0 {
			return nil, nil, fmt.Errorf("trailing bytes after handshake record")
		}
		p, err := wire.DecodePayload(concat(frames[1:]))
		if err != nil {
			return nil, nil, err
		}
		return h, p, nil
	}

	tryNoHandshake := func() (*wire.Payload, error) {
		return wire.DecodePayload(concat(frames))
	}

	if d.expectHandshake {
		if h, p, err := tryHandshake(); err == nil {
			return &Group{ID: d.id, Handshake: h, Payload: p}, nil
		}
		if p, err := tryNoHandshake(); err == nil {
			// first clean no-handshake decode: sticky downgrade.
			d.expectHandshake = false
			return &Group{ID: d.id, Payload: p}, nil
		}
		return nil, fmt.Errorf("id %d: could not decode frame group in handshake or no-handshake mode", d.id)
	}

	if p, err := tryNoHandshake(); err == nil {
		return &Group{ID: d.id, Payload: p}, nil
	}
	if h, p, err := tryHandshake(); err == nil {
		return &Group{ID: d.id, Handshake: h, Payload: p}, nil
	}
	return nil, fmt.Errorf("id %d: could not decode frame group in no-handshake or handshake mode", d.id)
}
