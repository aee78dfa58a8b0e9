package socket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywire/iosocket/pkg/types"
	"github.com/relaywire/iosocket/pkg/utils"
)

func newReservedEventError(ev string) error {
	return fmt.Errorf("%q is a reserved event name", ev)
}

// reservedEvents may not be targeted by Emit (spec.md §4.6).
var reservedEvents = types.NewSet("connect", "connect_error", "disconnect", "disconnecting", "new_namespace")

// BroadcastOperator is an immutable room/except/flags selector built up by
// chaining To/In/Except/Compress/Volatile/Local/Timeout, grounded on the
// legacy socket/broadcast-operator.go. Each chain call returns a new value
// so a partially-built selector can be safely reused or branched.
type BroadcastOperator struct {
	adapter Adapter
	rooms   *types.Set[Room]
	except  *types.Set[Room]
	flags   BroadcastFlags
	timeout *time.Duration
}

// NewBroadcastOperator returns the identity selector (every socket in the
// namespace, no exclusions, no flags).
func NewBroadcastOperator(adapter Adapter) *BroadcastOperator {
	return &BroadcastOperator{
		adapter: adapter,
		rooms:   types.NewSet[Room](),
		except:  types.NewSet[Room](),
	}
}

func (b *BroadcastOperator) clone() *BroadcastOperator {
	return &BroadcastOperator{
		adapter: b.adapter,
		rooms:   types.NewSet(b.rooms.Keys()...),
		except:  types.NewSet(b.except.Keys()...),
		flags:   b.flags,
		timeout: b.timeout,
	}
}

// To targets rooms when emitting; repeated calls accumulate.
func (b *BroadcastOperator) To(rooms ...Room) *BroadcastOperator {
	n := b.clone()
	n.rooms.Add(rooms...)
	return n
}

// In is an alias of To.
func (b *BroadcastOperator) In(rooms ...Room) *BroadcastOperator { return b.To(rooms...) }

// Except excludes rooms when emitting; repeated calls accumulate.
func (b *BroadcastOperator) Except(rooms ...Room) *BroadcastOperator {
	n := b.clone()
	n.except.Add(rooms...)
	return n
}

// Compress sets the per-emit compression flag.
func (b *BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	n := b.clone()
	n.flags.Compress = compress
	return n
}

// Volatile marks the emission as droppable under backpressure.
func (b *BroadcastOperator) Volatile() *BroadcastOperator {
	n := b.clone()
	n.flags.Volatile = true
	return n
}

// Local restricts the emission to this process (meaningful once a
// clustering Adapter exists; the in-memory Adapter is always local).
func (b *BroadcastOperator) Local() *BroadcastOperator {
	n := b.clone()
	n.flags.Local = true
	return n
}

// Timeout bounds how long EmitWithAck waits for every targeted socket to
// acknowledge before resolving with whatever responses arrived.
func (b *BroadcastOperator) Timeout(d time.Duration) *BroadcastOperator {
	n := b.clone()
	n.timeout = &d
	return n
}

func (b *BroadcastOperator) options() *BroadcastOptions {
	flags := b.flags
	return &BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: &flags}
}

// Emit fans ev out to every matching socket. If the final argument is an
// AckCallback, it is NOT treated as a per-socket ack request here — use
// EmitWithAck for acknowledged broadcast (spec.md §4.7 keeps Emit
// fire-and-forget and EmitWithAck as the aggregating form).
func (b *BroadcastOperator) Emit(ev string, args ...any) error {
	if reservedEvents.Has(ev) {
		return newReservedEventError(ev)
	}
	b.adapter.Apply(b.options(), func(s *Socket) {
		s.emitLocal(ev, args, nil, b.flags, b.timeout)
	})
	return nil
}

// EmitWithAck emits ev to every matching socket and returns a function
// that, once called with a callback, resolves with the aggregate of all
// per-socket responses once every targeted socket has acknowledged or the
// selector's Timeout elapses (spec.md §4.7).
func (b *BroadcastOperator) EmitWithAck(ev string, args ...any) func(func([]any, error)) {
	return func(done func([]any, error)) {
		if reservedEvents.Has(ev) {
			done(nil, newReservedEventError(ev))
			return
		}
		var targets []*Socket
		b.adapter.Apply(b.options(), func(s *Socket) { targets = append(targets, s) })

		if len(targets) == 0 {
			done(nil, nil)
			return
		}

		agg := newAckAggregator(len(targets), b.timeout, done)
		for _, s := range targets {
			s.emitLocal(ev, args, agg.socketCallback(), b.flags, nil)
		}
	}
}

// SocketsJoin makes every matched socket join the given rooms.
func (b *BroadcastOperator) SocketsJoin(rooms ...Room) {
	b.adapter.Apply(b.options(), func(s *Socket) { s.Join(rooms...) })
}

// SocketsLeave makes every matched socket leave the given rooms.
func (b *BroadcastOperator) SocketsLeave(rooms ...Room) {
	b.adapter.Apply(b.options(), func(s *Socket) {
		for _, room := range rooms {
			s.Leave(room)
		}
	})
}

// DisconnectSockets disconnects every matched socket, closing the
// underlying transport too when close is true.
func (b *BroadcastOperator) DisconnectSockets(close bool) {
	b.adapter.Apply(b.options(), func(s *Socket) { s.Disconnect(close) })
}

// FetchSockets materializes the selected set as lightweight read views
// (spec.md §4.7) that can still be acted upon individually.
func (b *BroadcastOperator) FetchSockets() []*RemoteSocket {
	var out []*RemoteSocket
	b.adapter.Apply(b.options(), func(s *Socket) {
		out = append(out, &RemoteSocket{
			id:        s.Id(),
			handshake: s.Handshake(),
			rooms:     s.Rooms(),
			data:      s.Data(),
			socket:    s,
		})
	})
	return out
}

// RemoteSocket is a read snapshot of a matched Socket plus the ability to
// act on it directly, since this Adapter never spans more than one
// process (spec.md §1's Non-goals exclude cross-process clustering).
type RemoteSocket struct {
	id        SocketId
	handshake Handshake
	rooms     *types.Set[Room]
	data      any
	socket    *Socket
}

func (r *RemoteSocket) Id() SocketId          { return r.id }
func (r *RemoteSocket) Handshake() Handshake  { return r.handshake }
func (r *RemoteSocket) Rooms() *types.Set[Room] { return r.rooms }
func (r *RemoteSocket) Data() any             { return r.data }

func (r *RemoteSocket) Emit(ev string, args ...any) error { return r.socket.Emit(ev, args...) }
func (r *RemoteSocket) Join(rooms ...Room)                { r.socket.Join(rooms...) }
func (r *RemoteSocket) Leave(room Room)                   { r.socket.Leave(room) }
func (r *RemoteSocket) Disconnect(close bool)             { r.socket.Disconnect(close) }

type ackAggregator struct {
	remaining int
	responses []any
	mu        sync.Mutex
	done      func([]any, error)
	fired     int32
	timer     *utils.Timer
}

func newAckAggregator(expected int, timeout *time.Duration, done func([]any, error)) *ackAggregator {
	a := &ackAggregator{remaining: expected, done: done}
	if timeout != nil {
		a.timer = utils.SetTimeout(func() {
			a.finish(ErrTimeout)
		}, *timeout)
	}
	return a
}

func (a *ackAggregator) socketCallback() AckCallback {
	return func(args ...any) {
		a.mu.Lock()
		a.responses = append(a.responses, args)
		a.remaining--
		remaining := a.remaining
		a.mu.Unlock()
		if remaining <= 0 {
			a.finish(nil)
		}
	}
}

func (a *ackAggregator) finish(err error) {
	if !atomic.CompareAndSwapInt32(&a.fired, 0, 1) {
		return
	}
	if a.timer != nil {
		utils.ClearTimeout(a.timer)
	}
	a.mu.Lock()
	responses := a.responses
	a.mu.Unlock()
	a.done(responses, err)
}
