package wire

import "errors"

// ErrTruncatedHeaders is returned by DecodePayload when the
// header-map schema refuses the buffer (spec §4.2).
var ErrTruncatedHeaders = errors.New("truncated request headers")

// ErrTruncatedHandshake is returned by DecodeHandshake on a short buffer.
var ErrTruncatedHandshake = errors.New("truncated handshake record")
