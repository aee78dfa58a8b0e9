// Package engine implements the Engine.IO layer: the Transport (a single
// WebSocket carrier) and the Session (heartbeat state machine, write
// buffer, session id), grounded on the teacher's servers/engine package
// with transport-upgrade and protocol-v3 compatibility dropped, since
// this spec fixes WebSocket as the sole transport (spec.md §1).
package engine

import (
	"sync"
	"time"

	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
	"github.com/relaywire/iosocket/pkg/utils"
)

var sessionLog = log.NewLog("iosocket/engine:session")

// Session readyState values (spec.md §3).
const (
	StateOpening = "opening"
	StateOpen    = "open"
	StateClosing = "closing"
	StateClosed  = "closed"
)

// Handshake is the auth/address/header context supplied by the external
// upgrade layer before the Session is created (spec.md §6); it is
// recorded verbatim and handed down into the Socket's handshake snapshot.
type Handshake struct {
	Headers       *utils.ParameterBag
	Query         *utils.ParameterBag
	Auth          map[string]any
	RemoteAddress string
	IssuedAt      time.Time
}

// Session is the per-connection Engine.IO state machine: session id,
// heartbeat timers, and an ordered write buffer. It owns exactly one
// Transport at a time; closing the Session closes the Transport.
type Session struct {
	events *types.EventEmitter

	id        string
	handshake Handshake
	options   *Options

	readyState types.Atomic[string]
	transport  types.Atomic[Transport]

	writeBuffer    *types.Slice[*parser.Packet]
	sentCallbackFn *types.Slice[[]func()]
	pendingCbs     *types.Slice[func()]
	cleanupFn      *types.Slice[func()]

	pingIntervalTimer types.Atomic[*utils.Timer]
	pingTimeoutTimer  types.Atomic[*utils.Timer]

	flushMu sync.Mutex
}

// NewSession allocates a session id, wires transport, and sends the OPEN
// frame (spec.md §4.3 steps 1-4).
func NewSession(transport Transport, handshake Handshake, opts *Options) (*Session, error) {
	id, err := utils.Base64Id().GenerateId()
	if err != nil {
		return nil, err
	}
	if handshake.Headers == nil {
		handshake.Headers = utils.NewParameterBag(nil)
	}
	if handshake.Query == nil {
		handshake.Query = utils.NewParameterBag(nil)
	}

	s := &Session{
		events:         types.NewEventEmitter(),
		id:             id,
		handshake:      handshake,
		options:        opts,
		writeBuffer:    types.NewSlice[*parser.Packet](),
		sentCallbackFn: types.NewSlice[[]func()](),
		pendingCbs:     types.NewSlice[func()](),
		cleanupFn:      types.NewSlice[func()](),
	}
	s.readyState.Store(StateOpening)
	s.transport.Store(transport)
	s.setTransport(transport)
	s.onOpen()
	return s, nil
}

func (s *Session) Id() string            { return s.id }
func (s *Session) Handshake() Handshake   { return s.handshake }
func (s *Session) Events() *types.EventEmitter { return s.events }
func (s *Session) ReadyState() string     { return s.readyState.Load() }
func (s *Session) Transport() Transport   { return s.transport.Load() }

// Writable reports whether the session is open and its transport is
// currently able to accept a write, the condition a volatile emit checks
// before enqueuing (spec.md §4.6's volatile flag).
func (s *Session) Writable() bool {
	if s.ReadyState() != StateOpen {
		return false
	}
	t := s.Transport()
	return t != nil && t.Writable()
}

func (s *Session) setReadyState(state string) {
	sessionLog.Debug("readyState updated from %s to %s", s.ReadyState(), state)
	s.readyState.Store(state)
}

func (s *Session) onOpen() {
	s.setReadyState(StateOpen)

	s.sendPacket(&parser.Packet{
		Type: parser.OPEN,
		Data: &parser.OpenPayload{
			Sid:          s.id,
			Upgrades:     []string{"websocket"},
			PingInterval: int64(s.options.GetPingInterval() / time.Millisecond),
			PingTimeout:  int64(s.options.GetPingTimeout() / time.Millisecond),
			MaxPayload:   s.options.GetMaxPayload(),
		},
	}, nil)

	if initial := s.options.GetInitialPacket(); initial != "" {
		s.sendPacket(&parser.Packet{Type: parser.EVENT, Namespace: "/", Data: []any{initial}}, nil)
	}

	s.events.Emit("open")
	s.schedulePing()
}

func (s *Session) setTransport(t Transport) {
	onError := func(args ...any) {
		var err error
		if len(args) > 0 {
			if e, ok := args[0].(error); ok {
				err = e
			}
		}
		s.onTransportError(err)
	}
	onPacket := func(args ...any) {
		if len(args) > 0 {
			if p, ok := args[0].(*parser.Packet); ok {
				s.onPacket(p)
			}
		}
	}
	onDrain := func(args ...any) { s.onDrain() }
	onClose := func(args ...any) { s.OnClose(ReasonTransportClose) }

	t.Events().Once("error", onError)
	t.Events().On("packet", onPacket)
	t.Events().On("drain", onDrain)
	t.Events().Once("close", onClose)

	s.cleanupFn.Push(func() {
		t.Events().RemoveListener("error")
		t.Events().RemoveListener("packet")
		t.Events().RemoveListener("drain")
		t.Events().RemoveListener("close")
	})
}

func (s *Session) onTransportError(err error) {
	sessionLog.Debug("transport error %v", err)
	s.OnClose(ReasonTransportError)
}

func (s *Session) onPacket(p *parser.Packet) {
	if s.ReadyState() != StateOpen {
		return
	}
	s.events.Emit("packet", p)

	switch p.Type {
	case parser.PING:
		sessionLog.Debug("got ping")
		s.sendPacket(&parser.Packet{Type: parser.PONG}, nil)
		s.resetPingTimeout()
		s.events.Emit("heartbeat")
	case parser.PONG:
		sessionLog.Debug("got pong")
		utils.ClearTimeout(s.pingTimeoutTimer.Load())
		s.schedulePing()
		s.events.Emit("heartbeat")
	default:
		s.events.Emit("data", p)
	}
}

// schedulePing arms the server-driven ping timer (spec.md §4.3).
func (s *Session) schedulePing() {
	s.pingIntervalTimer.Store(utils.SetTimeout(func() {
		s.sendPacket(&parser.Packet{Type: parser.PING}, nil)
		s.resetPingTimeout()
	}, s.options.GetPingInterval()))
}

func (s *Session) resetPingTimeout() {
	utils.ClearTimeout(s.pingTimeoutTimer.Load())
	s.pingTimeoutTimer.Store(utils.SetTimeout(func() {
		if s.ReadyState() == StateClosed {
			return
		}
		s.OnClose("ping timeout")
	}, s.options.GetPingTimeout()))
}

// onDrain runs the callbacks queued alongside the most recently flushed
// batch, in submission order (spec.md §4.3's write-buffer semantics), then
// raises the session's own "drain" event.
func (s *Session) onDrain() {
	if batch, err := s.sentCallbackFn.Shift(); err == nil {
		for _, fn := range batch {
			if fn != nil {
				fn()
			}
		}
	}
	s.events.Emit("drain")
}

// sendPacket enqueues p on the write buffer and triggers a flush.
func (s *Session) sendPacket(p *parser.Packet, callback func()) {
	state := s.ReadyState()
	if state == StateClosing || state == StateClosed {
		return
	}
	s.writeBuffer.Push(p)
	if callback != nil {
		s.pendingCbs.Push(callback)
	} else {
		s.pendingCbs.Push(nil)
	}
	s.flush()
}

// Send appends an application packet to the write buffer. Used by the
// Socket.IO layer above to deliver EVENT/ACK/CONNECT/DISCONNECT/ERROR
// packets (spec.md §4.3's write buffer / flush / drain ordering).
func (s *Session) Send(p *parser.Packet, callback func()) {
	s.sendPacket(p, callback)
}

// flush hands the entire current write buffer to the transport in one
// Send call, preserving submission order (spec.md §4.3).
func (s *Session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if s.ReadyState() == StateClosed {
		return
	}
	t := s.Transport()
	if t == nil || !t.Writable() {
		return
	}

	batch := s.writeBuffer.AllAndClear()
	if len(batch) == 0 {
		return
	}
	callbacks := s.pendingCbs.AllAndClear()
	s.sentCallbackFn.Push(callbacks)
	s.events.Emit("flush", batch)
	t.Send(batch)
}

// Close begins orderly shutdown (spec.md §4.3's close-ordering rules):
// with discard=false, it waits for one drain if the buffer is non-empty;
// with discard=true, the transport is terminated immediately and the
// buffer cleared on the next tick.
func (s *Session) Close(discard bool) {
	if discard && (s.ReadyState() == StateOpen || s.ReadyState() == StateClosing) {
		s.closeTransport(discard)
		return
	}
	if s.ReadyState() != StateOpen {
		return
	}
	s.setReadyState(StateClosing)

	if s.writeBuffer.Len() > 0 {
		s.events.Once("drain", func(args ...any) {
			s.closeTransport(discard)
		})
		return
	}
	s.closeTransport(discard)
}

func (s *Session) closeTransport(discard bool) {
	t := s.Transport()
	if t == nil {
		s.OnClose(ReasonForcedClose)
		return
	}
	if discard {
		t.Discard()
	}
	t.Close(func() { s.OnClose(ReasonForcedClose) })
}

// OnClose transitions to CLOSED, cancels owned timers, and fans out the
// "close" event (consumed by the Socket.IO layer to cascade disconnects,
// spec.md §4.5/§7).
func (s *Session) OnClose(reason string) {
	if s.ReadyState() == StateClosed {
		return
	}
	s.setReadyState(StateClosed)

	utils.ClearTimeout(s.pingIntervalTimer.Load())
	utils.ClearTimeout(s.pingTimeoutTimer.Load())

	s.pendingCbs.Clear()
	s.sentCallbackFn.Clear()

	for _, cleanup := range s.cleanupFn.AllAndClear() {
		cleanup()
	}

	go s.writeBuffer.Clear()

	s.events.Emit("close", reason)
}
