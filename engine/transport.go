package engine

import (
	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/types"
)

// Transport readyState values (spec.md §4.2).
const (
	TransportOpen    = "open"
	TransportClosing = "closing"
	TransportClosed  = "closed"
)

// Close reasons surfaced on the Session's "close" event, per spec.md §4.6 /
// §7's fixed vocabulary, as produced by the transport layer specifically.
const (
	ReasonParseError     = "parse error"
	ReasonTransportError = "transport error"
	ReasonTransportClose = "transport close"
	ReasonForcedClose    = "forced close"
)

// Transport owns a single WebSocket connection and exposes a framed duplex
// channel, raising "ready", "drain", "packet", "close", and "error" on its
// Events emitter, per spec.md §4.2.
type Transport interface {
	// Send enqueues packets for delivery. It returns false if the send
	// would exceed the configured backpressure limit.
	Send(packets []*parser.Packet) bool

	// Close begins an orderly shutdown. Any provided callback fires once
	// the underlying connection has actually closed.
	Close(done ...func())

	// Discard closes without waiting for any in-flight write to drain.
	Discard()

	ReadyState() string
	Writable() bool

	// Events exposes the transport's event emitter ("ready", "drain",
	// "packet", "close", "error").
	Events() *types.EventEmitter
}
