package socket

import "github.com/relaywire/iosocket/pkg/types"

// NewAuthError wraps a connection-middleware rejection reason as the
// payload of the Socket.IO ERROR packet sent back to a rejected connect
// (spec.md §7's AuthError).
func NewAuthError(message string, data any) *types.ExtendedError {
	return types.NewExtendedError(message, data)
}

// ErrTimeout is delivered to an emit's ack callback when its deadline
// elapses before a response arrives (spec.md §4.6's TimeoutError).
var ErrTimeout = types.NewExtendedError("operation has timed out", nil)

// ErrSocketClosed is delivered to every pending ack callback when the
// owning Socket is destroyed (spec.md §3's ACK-entry lifecycle).
var ErrSocketClosed = types.NewExtendedError("socket closed", nil)
