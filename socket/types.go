// Package socket implements the Socket.IO layer above the Engine.IO
// Session: the in-memory room Adapter, Namespace, Socket (per-attachment),
// BroadcastOperator, Client, and Server, grounded on the teacher's legacy
// socket/ package (servers/socket/adapter.go for the Adapter's current
// shape; socket/namespace.go, socket/socket.go, socket/broadcast-operator.go,
// socket/client.go, socket/server.go for the rest).
package socket

import (
	"time"

	"github.com/relaywire/iosocket/pkg/utils"
)

// Room is a broadcast selector: a named set of socket ids within a
// namespace.
type Room string

// SocketId identifies one Socket attachment. Every socket implicitly joins
// a room equal to its own id (spec.md §3's self-room invariant).
type SocketId string

// socketIdLen is the length of every generated SocketId.
const socketIdLen = 20

// AckCallback is invoked when a response to an outgoing EVENT arrives
// (args holds the values sent back by the client), when an ACK timer
// fires (args holds the single ErrTimeout), or when the owning socket is
// destroyed with pending acks (args holds the single ErrSocketClosed).
type AckCallback func(args ...any)

// ConnMiddleware runs at CONNECT time. Calling next with a non-nil error
// rejects the connection with an ERROR packet; calling it with nil
// proceeds to the next middleware in the chain.
type ConnMiddleware func(s *Socket, next func(error))

// EventMiddleware runs before each inbound EVENT dispatch. args points at
// the dispatcher's own slice variable, so a middleware may prepend or
// replace wholesale (*args = append([]any{"x"}, *args...)) and have the
// change visible to the next middleware and to the eventual dispatch, not
// just mutate elements in place (spec.md §4.6 step 1, §8 scenario 6).
// Calling next with a non-nil error raises the socket's "error" event and
// aborts dispatch for that packet.
type EventMiddleware func(args *[]any, next func(error))

// Disconnect reason vocabulary (spec.md §4.6).
const (
	ReasonServerNamespaceDisconnect = "server namespace disconnect"
	ReasonClientNamespaceDisconnect = "client namespace disconnect"
	ReasonServerShuttingDown        = "server shutting down"
	ReasonTransportClose            = "transport close"
	ReasonTransportError            = "transport error"
	ReasonPingTimeout               = "ping timeout"
	ReasonParseError                = "parse error"
	ReasonForcedClose               = "forced close"
)

// Handshake is the snapshot recorded when a Socket is created: headers,
// query, auth, issue time, and remote address, all taken verbatim from
// the external upgrade layer (spec.md §3, §6).
type Handshake struct {
	Headers *utils.ParameterBag
	Query   *utils.ParameterBag
	Auth    map[string]any
	Address string
	Issued  time.Time
}
