package socket

import (
	"strings"
	"time"

	"github.com/relaywire/iosocket/engine"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
	"github.com/relaywire/iosocket/pkg/utils"
)

var serverLog = log.NewLog("iosocket/socket:server")

// ServerOptions configures a Server's Engine.IO defaults and the timeout
// applied to clients that never send CONNECT for any namespace, grounded
// on the legacy socket/server-options.go with HTTP attach/CORS/cookie/
// static-file knobs dropped (spec.md §4.8's external-collaborator upgrade
// boundary; spec.md §1's Non-goals exclude serving client assets).
type ServerOptions struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ConnectTimeout time.Duration

	MaxPayload        int64
	BackpressureLimit int64
	InitialPacket     string
}

func (o *ServerOptions) engineOptions() *engine.Options {
	if o == nil {
		return &engine.Options{}
	}
	return &engine.Options{
		PingInterval:      o.PingInterval,
		PingTimeout:       o.PingTimeout,
		ConnectTimeout:    o.ConnectTimeout,
		MaxPayload:        o.MaxPayload,
		BackpressureLimit: o.BackpressureLimit,
		InitialPacket:     o.InitialPacket,
	}
}

func (o *ServerOptions) connectTimeout() time.Duration {
	if o == nil || o.ConnectTimeout <= 0 {
		return 45 * time.Second
	}
	return o.ConnectTimeout
}

// Server owns the namespace registry and is the entry point the external
// upgrade collaborator (the HTTP/WebSocket listener) hands freshly
// upgraded connections to, grounded on the legacy socket/server.go with
// HTTP attach and static client-file serving dropped (spec.md §4.8).
type Server struct {
	events *types.EventEmitter

	opts       *ServerOptions
	engineOpts *engine.Options

	namespaces *types.Map[string, *Namespace]
	sockets    *Namespace // the default "/" namespace
}

// NewServer constructs a Server with its default "/" namespace already
// registered (spec.md §4.5: "/" always exists).
func NewServer(opts *ServerOptions) *Server {
	s := &Server{
		events:     types.NewEventEmitter(),
		opts:       opts,
		engineOpts: opts.engineOptions(),
		namespaces: types.NewMap[string, *Namespace](),
	}
	s.sockets, _ = s.of("/")
	return s
}

func (s *Server) Events() *types.EventEmitter { return s.events }

// EngineOptions exposes the resolved Engine.IO options so the external
// upgrade collaborator can construct a matching engine.WsTransport before
// calling Accept (spec.md §6's upgrade boundary).
func (s *Server) EngineOptions() *engine.Options { return s.engineOpts }

// Of returns (creating on first use) the namespace named by name,
// normalizing a missing leading slash. Namespaces are created on demand
// and never garbage-collected (spec.md §3, §4.5).
func (s *Server) Of(name string) *Namespace {
	nsp, _ := s.of(normalizeNamespace(name))
	return nsp
}

func normalizeNamespace(name string) string {
	if name == "" {
		return "/"
	}
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// of is Client's internal lookup/creation path; it never rejects a
// well-formed name since this module has no dynamic-namespace-denial
// middleware (spec.md §1's Non-goals).
func (s *Server) of(name string) (*Namespace, error) {
	if nsp, ok := s.namespaces.Load(name); ok {
		return nsp, nil
	}
	nsp := newNamespace(s, name)
	actual, loaded := s.namespaces.LoadOrStore(name, nsp)
	if loaded {
		return actual, nil
	}
	serverLog.Debugf("initializing namespace %s", name)
	s.events.Emit("new_namespace", actual)
	return actual, nil
}

// Accept is the boundary named by spec.md §6's external collaborator: it
// takes an already-upgraded WebSocket connection plus the handshake
// context the collaborator extracted (remote address, request headers
// and query string as ParameterBags; auth payload from the initial
// CONNECT is parsed later by the Namespace), allocates an Engine.IO
// Session over it, and wires a Client to route namespace attachments.
func (s *Server) Accept(transport engine.Transport, handshake engine.Handshake) (*Client, error) {
	session, err := engine.NewSession(transport, handshake, s.engineOpts)
	if err != nil {
		return nil, err
	}
	return newClient(s, session), nil
}

// Sockets returns the default namespace's root selector
// (io.emit(...) sugar is io.Sockets().Emit(...)).
func (s *Server) Sockets() *Namespace { return s.sockets }

// Emit is sugar for Sockets().Emit (spec.md §4.8: "io.emit(...) is sugar
// for io.sockets.emit(...)").
func (s *Server) Emit(ev string, args ...any) error {
	return s.sockets.Emit(ev, args...)
}

func (s *Server) To(rooms ...Room) *BroadcastOperator     { return s.sockets.To(rooms...) }
func (s *Server) In(rooms ...Room) *BroadcastOperator     { return s.sockets.In(rooms...) }
func (s *Server) Except(rooms ...Room) *BroadcastOperator { return s.sockets.Except(rooms...) }
func (s *Server) FetchSockets() []*RemoteSocket           { return s.sockets.FetchSockets() }
func (s *Server) DisconnectSockets(close bool)            { s.sockets.DisconnectSockets(close) }

// NamespaceStats is one Namespace's diagnostic snapshot: its socket count
// and the population of every non-empty room (spec.md §6 expansion).
type NamespaceStats struct {
	Name    string       `msgpack:"name"`
	Sockets int          `msgpack:"sockets"`
	Rooms   map[Room]int `msgpack:"rooms"`
}

// Stats snapshots every registered namespace. It never blocks on
// in-flight connects/disconnects; counts reflect a point-in-time read of
// each namespace's socket table and room index.
func (s *Server) Stats() []NamespaceStats {
	var out []NamespaceStats
	for _, name := range s.namespaces.Keys() {
		nsp, ok := s.namespaces.Load(name)
		if !ok {
			continue
		}
		stat := NamespaceStats{
			Name:    nsp.Name(),
			Sockets: nsp.Sockets().Len(),
			Rooms:   map[Room]int{},
		}
		for _, room := range nsp.Adapter().Rooms() {
			stat.Rooms[room] = nsp.Adapter().Sockets(types.NewSet(room)).Len()
		}
		out = append(out, stat)
	}
	return out
}

// StatsMsgpack encodes Stats with MessagePack, the compact alternate
// encoding named in this expansion's domain stack next to the protocol's
// own JSON framing.
func (s *Server) StatsMsgpack() ([]byte, error) {
	return utils.MsgPack().Encode(s.Stats())
}

// On registers a listener on the default namespace (e.g. "connection").
func (s *Server) On(event types.EventName, listener types.EventListener) *Server {
	s.sockets.On(event, listener)
	return s
}

// Use registers connection middleware on the default namespace.
func (s *Server) Use(fn ConnMiddleware) *Server {
	s.sockets.Use(fn)
	return s
}
