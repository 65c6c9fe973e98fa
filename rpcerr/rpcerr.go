// Package rpcerr names the system-error kinds this core produces and wraps
// arbitrary handler errors into one, per spec §7.
package rpcerr

import (
	"errors"

	"github.com/rasata/nettybridge/wire"
)

const (
	UnknownClientProtocol = "UNKNOWN_CLIENT_PROTOCOL"
	ChannelFailure        = "CHANNEL_FAILURE"
	BridgeDestroyed       = "BRIDGE_DESTROYED"
)

// Sentinel errors surfaced to bridge callers and log lines; not carried on
// the wire themselves (only their message text is, via SystemError).
var (
	ErrBridgeClosed      = errors.New("bridge closed")
	ErrBridgeDestroyed   = errors.New("bridge destroyed")
	ErrExpectedHandshake = errors.New("expected handshake")
	ErrNoCallback        = errors.New("no callback for packet")
	ErrTraceInactive     = errors.New("trace inactive")
)

// New builds a wire SystemError of the given kind.
func New(code, message string) *wire.SystemError {
	return &wire.SystemError{Code: code, Message: message}
}

// OrCode wraps err as a CHANNEL_FAILURE system error unless it already
// carries a system-error record of its own (spec §4.5 step 5, §7).
func OrCode(code string, err error) *wire.SystemError {
	var se *wire.SystemError
	if errors.As(err, &se) {
		return se
	}
	return New(code, err.Error())
}

// AsError makes *wire.SystemError satisfy the error interface so handler
// code can return one directly and have OrCode recognize it unchanged.
func AsError(se *wire.SystemError) error { return wrappedSystemError{se} }

type wrappedSystemError struct{ se *wire.SystemError }

func (w wrappedSystemError) Error() string { return w.se.Code + ": " + w.se.Message }

func (w wrappedSystemError) Unwrap() error { return nil }

// As lets errors.As(err, &*wire.SystemError) find the wrapped record.
func (w wrappedSystemError) As(target any) bool {
	if p, ok := target.(**wire.SystemError); ok {
		*p = w.se
		return true
	}
	return false
}
