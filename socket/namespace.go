package socket

import (
	"sync"

	"github.com/relaywire/iosocket/engine"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
)

var namespaceLog = log.NewLog("iosocket/socket:namespace")

// Namespace is a communication channel splitting one shared connection
// into independently addressable event spaces, each with its own room
// adapter and connection middleware chain (spec.md §4.5), grounded on
// the legacy socket/namespace.go with dynamic parent-namespace regex
// matching and connection-state-recovery dropped (spec.md §1's
// Non-goals). Namespaces are created on demand by Server.of and are
// never garbage-collected (spec.md §3).
type Namespace struct {
	events *types.EventEmitter

	name    string
	server  *Server
	adapter Adapter
	sockets *types.Map[SocketId, *Socket]

	middlewareMu sync.RWMutex
	middleware   []ConnMiddleware
}

func newNamespace(server *Server, name string) *Namespace {
	n := &Namespace{
		events:  types.NewEventEmitter(),
		name:    name,
		server:  server,
		sockets: types.NewMap[SocketId, *Socket](),
	}
	n.adapter = NewInMemoryAdapter(n)
	return n
}

func (n *Namespace) Name() string               { return n.name }
func (n *Namespace) Server() *Server             { return n.server }
func (n *Namespace) Adapter() Adapter            { return n.adapter }
func (n *Namespace) Events() *types.EventEmitter { return n.events }
func (n *Namespace) Sockets() *types.Map[SocketId, *Socket] { return n.sockets }

// Use registers connection middleware, run in registration order for
// every incoming client attaching to this namespace.
func (n *Namespace) Use(fn ConnMiddleware) *Namespace {
	n.middlewareMu.Lock()
	n.middleware = append(n.middleware, fn)
	n.middlewareMu.Unlock()
	return n
}

// loadSocket is the Adapter's window onto live sockets: a matched socket
// id that no longer resolves here is silently skipped by broadcasts
// (spec.md §4.4/§5).
func (n *Namespace) loadSocket(id SocketId) (*Socket, bool) {
	return n.sockets.Load(id)
}

func (n *Namespace) remove(s *Socket) {
	if _, ok := n.sockets.LoadAndDelete(s.Id()); !ok {
		namespaceLog.Debugf("ignoring remove for %s", s.Id())
	}
}

// connect runs middleware over a freshly built Socket and, on
// acceptance, completes the CONNECT handshake; on rejection, sends an
// ERROR packet and discards the socket without ever registering it
// (spec.md §4.5, §4.6, §7's AuthError).
func (n *Namespace) connect(client *Client, handshake Handshake) {
	namespaceLog.Debugf("adding socket to nsp %s", n.name)
	s := newSocket(n, client, handshake)

	n.runMiddleware(s, func(err error) {
		if client.session.ReadyState() != engine.StateOpen {
			namespaceLog.Debugf("middleware finished after client closed - ignoring socket %s", s.Id())
			s.cleanup()
			return
		}
		if err != nil {
			namespaceLog.Debugf("middleware rejected connection: %v", err)
			s.cleanup()
			s.sendConnectError(err)
			return
		}
		n.sockets.Store(s.Id(), s)
		client.attach(s)
		s.onConnect()
		n.events.Emit("connect", s)
		n.events.Emit("connection", s)
	})
}

func (n *Namespace) runMiddleware(s *Socket, done func(error)) {
	n.middlewareMu.RLock()
	chain := append([]ConnMiddleware{}, n.middleware...)
	n.middlewareMu.RUnlock()
	if len(chain) == 0 {
		done(nil)
		return
	}
	var step func(i int)
	step = func(i int) {
		chain[i](s, func(err error) {
			if err != nil {
				done(err)
				return
			}
			if i == len(chain)-1 {
				done(nil)
				return
			}
			step(i + 1)
		})
	}
	step(0)
}

// On registers a listener for the namespace's reserved "connect"/
// "connection" events (spec.md §4.5).
func (n *Namespace) On(event types.EventName, listener types.EventListener) *Namespace {
	n.events.On(event, listener)
	return n
}

func (n *Namespace) To(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter).To(rooms...)
}

func (n *Namespace) In(rooms ...Room) *BroadcastOperator { return n.To(rooms...) }

func (n *Namespace) Except(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter).Except(rooms...)
}

func (n *Namespace) Emit(ev string, args ...any) error {
	return NewBroadcastOperator(n.adapter).Emit(ev, args...)
}

func (n *Namespace) Compress(compress bool) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter).Compress(compress)
}

func (n *Namespace) Volatile() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter).Volatile()
}

func (n *Namespace) FetchSockets() []*RemoteSocket {
	return NewBroadcastOperator(n.adapter).FetchSockets()
}

func (n *Namespace) DisconnectSockets(close bool) {
	NewBroadcastOperator(n.adapter).DisconnectSockets(close)
}
