package engine

import (
	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/types"
)

// FakeTransport is an in-memory Transport with no backing network
// connection, used by this module's own test suites (engine and socket
// packages alike) to drive Session/Socket behavior deterministically.
type FakeTransport struct {
	events *types.EventEmitter
	state  types.Atomic[string]

	Sent [][]*parser.Packet
}

// NewFakeTransport returns an open FakeTransport.
func NewFakeTransport() *FakeTransport {
	t := &FakeTransport{events: types.NewEventEmitter()}
	t.state.Store(TransportOpen)
	return t
}

func (f *FakeTransport) Events() *types.EventEmitter { return f.events }
func (f *FakeTransport) ReadyState() string          { return f.state.Load() }
func (f *FakeTransport) Writable() bool              { return f.ReadyState() == TransportOpen }

// Send records the batch and immediately emits "drain", as a real
// transport would once the underlying connection's buffer clears.
func (f *FakeTransport) Send(packets []*parser.Packet) bool {
	f.Sent = append(f.Sent, packets)
	f.events.Emit("drain")
	return true
}

func (f *FakeTransport) Close(done ...func()) {
	f.state.Store(TransportClosed)
	f.events.Emit("close", ReasonTransportClose)
	for _, fn := range done {
		fn()
	}
}

func (f *FakeTransport) Discard() {
	f.state.Store(TransportClosed)
}

// DeliverFromClient simulates the client sending p over the wire.
func (f *FakeTransport) DeliverFromClient(p *parser.Packet) {
	f.events.Emit("packet", p)
}
