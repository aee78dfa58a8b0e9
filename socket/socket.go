package socket

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywire/iosocket/engine"
	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
	"github.com/relaywire/iosocket/pkg/utils"
)

var socketLog = log.NewLog("iosocket/socket:socket")

// Socket is one client's attachment to a single Namespace: it owns the
// room membership, the inbound event-middleware chain, and the pending
// ack table, grounded on the legacy socket/socket.go.
type Socket struct {
	events *types.EventEmitter

	nsp       *Namespace
	client    *Client
	id        SocketId
	handshake Handshake

	data   types.Atomic[any]
	ids    atomic.Uint64
	joined atomic.Bool

	connected atomic.Bool

	acks *types.Map[uint64, AckCallback]

	middlewareMu sync.RWMutex
	middleware   []EventMiddleware

	anyListenersMu sync.RWMutex
	anyListeners   []types.EventListener

	anyOutgoingListenersMu sync.RWMutex
	anyOutgoingListeners   []types.EventListener

	flagsMu sync.Mutex
	flags   BroadcastFlags
	timeout *time.Duration
}

func newSocket(nsp *Namespace, client *Client, handshake Handshake) *Socket {
	s := &Socket{
		events:    types.NewEventEmitter(),
		nsp:       nsp,
		client:    client,
		handshake: handshake,
		acks:      types.NewMap[uint64, AckCallback](),
	}
	id, _ := utils.Base64Id().GenerateId()
	if len(id) > socketIdLen {
		id = id[:socketIdLen]
	}
	s.id = SocketId(id)
	s.joined.Store(true)
	return s
}

func (s *Socket) Id() SocketId         { return s.id }
func (s *Socket) Nsp() *Namespace      { return s.nsp }
func (s *Socket) Client() *Client      { return s.client }
func (s *Socket) Handshake() Handshake { return s.handshake }
func (s *Socket) Events() *types.EventEmitter { return s.events }
func (s *Socket) Connected() bool      { return s.connected.Load() }
func (s *Socket) Disconnected() bool   { return !s.connected.Load() }

func (s *Socket) Data() any          { return s.data.Load() }
func (s *Socket) SetData(data any)   { s.data.Store(data) }

func (s *Socket) Rooms() *types.Set[Room] {
	if rooms := s.nsp.adapter.SocketRooms(s.id); rooms != nil {
		return rooms
	}
	return types.NewSet[Room]()
}

// Join adds this socket to rooms. A no-op once disconnect cleanup has
// removed the socket from its rooms (spec.md §4.5).
func (s *Socket) Join(rooms ...Room) {
	if !s.joined.Load() {
		return
	}
	socketLog.Debugf("join room %v", rooms)
	s.nsp.adapter.AddAll(s.id, types.NewSet(rooms...))
}

// Leave removes this socket from room.
func (s *Socket) Leave(room Room) {
	socketLog.Debugf("leave room %s", room)
	s.nsp.adapter.Del(s.id, room)
}

func (s *Socket) leaveAll() {
	s.nsp.adapter.DelAll(s.id)
}

// Compress sets the compress flag for the next Emit on this socket.
func (s *Socket) Compress(compress bool) *Socket {
	s.flagsMu.Lock()
	s.flags.Compress = compress
	s.flagsMu.Unlock()
	return s
}

// Volatile marks the next Emit as droppable under backpressure.
func (s *Socket) Volatile() *Socket {
	s.flagsMu.Lock()
	s.flags.Volatile = true
	s.flagsMu.Unlock()
	return s
}

// Timeout bounds how long the next Emit's ack callback may wait.
func (s *Socket) Timeout(d time.Duration) *Socket {
	s.flagsMu.Lock()
	s.timeout = &d
	s.flagsMu.Unlock()
	return s
}

func (s *Socket) takeFlags() (BroadcastFlags, *time.Duration) {
	s.flagsMu.Lock()
	defer s.flagsMu.Unlock()
	flags := s.flags
	timeout := s.timeout
	s.flags = BroadcastFlags{}
	s.timeout = nil
	return flags, timeout
}

// To returns a BroadcastOperator targeting rooms, excluding this socket's
// own id so self is never re-notified through a room broadcast chained
// off the socket itself (spec.md §4.7).
func (s *Socket) To(rooms ...Room) *BroadcastOperator {
	return s.broadcastOperator().To(rooms...)
}

func (s *Socket) In(rooms ...Room) *BroadcastOperator { return s.To(rooms...) }

func (s *Socket) Except(rooms ...Room) *BroadcastOperator {
	return s.broadcastOperator().Except(rooms...)
}

// Broadcast returns an operator targeting every other socket in the
// namespace (self excluded).
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.broadcastOperator()
}

func (s *Socket) broadcastOperator() *BroadcastOperator {
	return NewBroadcastOperator(s.nsp.adapter).Except(Room(s.id))
}

// Emit sends an event to this socket only. If the final argument is a
// func(...any) (an unnamed func type; a value of the named AckCallback type
// does not match), an ack id is attached and the callback is registered,
// subject to any Timeout set on this socket (spec.md §4.6).
func (s *Socket) Emit(ev string, args ...any) error {
	if reservedEvents.Has(ev) {
		return newReservedEventError(ev)
	}
	var ack AckCallback
	if n := len(args); n > 0 {
		if cb, ok := args[n-1].(func(...any)); ok {
			ack = cb
			args = args[:n-1]
		}
	}
	flags, timeout := s.takeFlags()
	return s.send(ev, args, ack, flags, timeout)
}

// emitLocal is BroadcastOperator's fan-out path: the selector's own flags
// and timeout apply, not whatever per-socket flags this socket happens to
// have queued from a direct Emit call.
func (s *Socket) emitLocal(ev string, args []any, ack AckCallback, flags BroadcastFlags, timeout *time.Duration) error {
	return s.send(ev, args, ack, flags, timeout)
}

func (s *Socket) send(ev string, args []any, ack AckCallback, flags BroadcastFlags, timeout *time.Duration) error {
	s.fireAnyOutgoing(ev, args)

	data := append([]any{ev}, args...)
	packet := &parser.Packet{Type: parser.EVENT, Data: data}

	if ack != nil {
		id := s.ids.Add(1)
		packet.Id = &id
		s.registerAck(id, ack, timeout)
	}
	return s.writePacket(packet, &flags)
}

func (s *Socket) registerAck(id uint64, ack AckCallback, timeout *time.Duration) {
	if timeout == nil {
		s.acks.Store(id, ack)
		return
	}
	timer := utils.SetTimeout(func() {
		if _, ok := s.acks.LoadAndDelete(id); ok {
			ack(ErrTimeout)
		}
	}, *timeout)
	s.acks.Store(id, func(args ...any) {
		utils.ClearTimeout(timer)
		ack(args...)
	})
}

func (s *Socket) writePacket(p *parser.Packet, flags *BroadcastFlags) error {
	p.Namespace = s.nsp.Name()
	if s.client.session.ReadyState() != engine.StateOpen {
		return nil
	}
	if flags != nil {
		p.Compress = flags.Compress
		if flags.Volatile && !s.client.session.Writable() {
			socketLog.Debugf("dropping volatile packet to %s: session not writable", s.id)
			return nil
		}
	}
	s.client.session.Send(p, nil)
	return nil
}

// onPacket dispatches one decoded packet addressed to this socket's
// namespace (EVENT, ACK, DISCONNECT).
func (s *Socket) onPacket(p *parser.Packet) {
	switch p.Type {
	case parser.EVENT:
		s.onEvent(p)
	case parser.ACK:
		s.onAck(p)
	case parser.DISCONNECT:
		s.onClientDisconnect()
	}
}

func (s *Socket) onEvent(p *parser.Packet) {
	args, _ := p.Data.([]any)
	if p.Id != nil {
		id := *p.Id
		args = append(args, s.ackSender(id))
	}
	s.fireAny(args)
	s.dispatch(args)
}

// ackSender produces the callback handed to user code as the event's
// trailing ack argument; it fires the ACK packet back to the client at
// most once (spec.md §4.6's idempotent ack delivery).
func (s *Socket) ackSender(id uint64) func(...any) {
	var sent atomic.Bool
	return func(args ...any) {
		if !sent.CompareAndSwap(false, true) {
			return
		}
		s.writePacket(&parser.Packet{Type: parser.ACK, Id: &id, Data: args}, nil)
	}
}

func (s *Socket) onAck(p *parser.Packet) {
	if p.Id == nil {
		socketLog.Debugf("bad ack: no id")
		return
	}
	cb, ok := s.acks.LoadAndDelete(*p.Id)
	if !ok {
		socketLog.Debugf("bad ack %d: no matching callback", *p.Id)
		return
	}
	args, _ := p.Data.([]any)
	cb(args...)
}

func (s *Socket) dispatch(args []any) {
	s.runMiddleware(&args, func(err error) {
		if err != nil {
			s.onError(err)
			return
		}
		if !s.Connected() {
			return
		}
		if len(args) == 0 {
			return
		}
		ev, ok := args[0].(string)
		if !ok {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.onError(fmt.Errorf("event handler panic: %v", r))
			}
		}()
		s.events.Emit(types.EventName(ev), args[1:]...)
	})
}

// OnAny registers a listener invoked with (eventName, ...args) for every
// inbound event, before the event's own named listeners (spec.md §4.6
// step 3).
func (s *Socket) OnAny(listener types.EventListener) *Socket {
	s.anyListenersMu.Lock()
	s.anyListeners = append(s.anyListeners, listener)
	s.anyListenersMu.Unlock()
	return s
}

// OffAny removes a listener previously registered with OnAny, matched by
// reference equality (spec.md §9's listener-registry removal contract).
func (s *Socket) OffAny(listener types.EventListener) *Socket {
	s.anyListenersMu.Lock()
	defer s.anyListenersMu.Unlock()
	s.anyListeners = removeListener(s.anyListeners, listener)
	return s
}

func (s *Socket) fireAny(args []any) {
	s.anyListenersMu.RLock()
	listeners := append([]types.EventListener{}, s.anyListeners...)
	s.anyListenersMu.RUnlock()
	for _, listener := range listeners {
		listener(args...)
	}
}

// OnAnyOutgoing registers a listener invoked with (eventName, ...args) for
// every outbound emit on this socket, before the packet is enqueued
// (spec.md §4.6's outbound rule).
func (s *Socket) OnAnyOutgoing(listener types.EventListener) *Socket {
	s.anyOutgoingListenersMu.Lock()
	s.anyOutgoingListeners = append(s.anyOutgoingListeners, listener)
	s.anyOutgoingListenersMu.Unlock()
	return s
}

// OffAnyOutgoing removes a listener previously registered with
// OnAnyOutgoing, matched by reference equality.
func (s *Socket) OffAnyOutgoing(listener types.EventListener) *Socket {
	s.anyOutgoingListenersMu.Lock()
	defer s.anyOutgoingListenersMu.Unlock()
	s.anyOutgoingListeners = removeListener(s.anyOutgoingListeners, listener)
	return s
}

func (s *Socket) fireAnyOutgoing(ev string, args []any) {
	s.anyOutgoingListenersMu.RLock()
	listeners := append([]types.EventListener{}, s.anyOutgoingListeners...)
	s.anyOutgoingListenersMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	data := append([]any{ev}, args...)
	for _, listener := range listeners {
		listener(data...)
	}
}

// removeListener drops the first entry matching listener by reference
// equality, mirroring the teacher's reflect.ValueOf(...).Pointer() compare
// (func values are not comparable with ==).
func removeListener(listeners []types.EventListener, listener types.EventListener) []types.EventListener {
	if listener == nil {
		return []types.EventListener{}
	}
	target := reflect.ValueOf(listener).Pointer()
	for i, l := range listeners {
		if reflect.ValueOf(l).Pointer() == target {
			return append(listeners[:i:i], listeners[i+1:]...)
		}
	}
	return listeners
}

// Use registers inbound event middleware, run in registration order
// before every dispatched event (spec.md §4.6).
func (s *Socket) Use(fn EventMiddleware) *Socket {
	s.middlewareMu.Lock()
	s.middleware = append(s.middleware, fn)
	s.middlewareMu.Unlock()
	return s
}

// runMiddleware threads args through the chain by pointer: each middleware
// may reassign *args wholesale (prepend, replace) and the next middleware,
// and the eventual dispatch, observe the new slice (spec.md §4.6 step 1).
func (s *Socket) runMiddleware(args *[]any, done func(error)) {
	s.middlewareMu.RLock()
	chain := append([]EventMiddleware{}, s.middleware...)
	s.middlewareMu.RUnlock()
	if len(chain) == 0 {
		done(nil)
		return
	}
	var step func(i int)
	step = func(i int) {
		chain[i](args, func(err error) {
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

func (s *Socket) onError(err error) {
	if s.events.ListenerCount("error") > 0 {
		s.events.Emit("error", err)
		return
	}
	socketLog.Error("missing error handler on socket %s: %v", s.id, err)
}

// onConnect marks the socket connected, joins its own id-room, and sends
// the CONNECT reply. Called by Namespace after middleware acceptance
// (spec.md §4.5, §4.6).
func (s *Socket) onConnect() {
	s.connected.Store(true)
	s.Join(Room(s.id))
	s.writePacket(&parser.Packet{
		Type: parser.CONNECT,
		Data: map[string]any{"sid": string(s.id)},
	}, nil)
}

// onClientDisconnect handles a client-originated DISCONNECT packet.
func (s *Socket) onClientDisconnect() {
	s.close(ReasonClientNamespaceDisconnect)
}

// Disconnect ends this socket's namespace attachment. When close is true
// the underlying Engine.IO session is torn down too; otherwise the
// transport stays up for the client's other namespace attachments
// (spec.md §4.6).
func (s *Socket) Disconnect(close bool) *Socket {
	if !s.Connected() {
		return s
	}
	if close {
		s.client.disconnect()
	} else {
		s.writePacket(&parser.Packet{Type: parser.DISCONNECT}, nil)
		s.close(ReasonServerNamespaceDisconnect)
	}
	return s
}

// close performs the full teardown sequence: "disconnecting" fires while
// the socket is still room-joined so listeners can see its rooms, then
// the socket is removed from the room index, the namespace, and the
// client, finally "disconnect" fires (spec.md §4.6).
func (s *Socket) close(reason string) {
	if !s.Connected() {
		return
	}
	s.events.Emit("disconnecting", reason)
	s.cleanup()
	s.nsp.remove(s)
	s.client.remove(s)
	s.connected.Store(false)
	s.failPendingAcks()
	s.events.Emit("disconnect", reason)
}

func (s *Socket) cleanup() {
	s.leaveAll()
	s.joined.Store(false)
}

func (s *Socket) failPendingAcks() {
	for _, id := range s.acks.Keys() {
		if cb, ok := s.acks.LoadAndDelete(id); ok {
			cb(ErrSocketClosed)
		}
	}
}

// sendConnectError writes a Socket.IO ERROR packet back to a connection
// rejected by namespace middleware (spec.md §4.5, §7's AuthError).
func (s *Socket) sendConnectError(err error) {
	data := map[string]any{"message": err.Error()}
	if ee, ok := err.(*types.ExtendedError); ok && ee.Data != nil {
		data["data"] = ee.Data
	}
	s.writePacket(&parser.Packet{Type: parser.ERROR, Data: data}, nil)
}
