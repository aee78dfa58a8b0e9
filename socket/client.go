package socket

import (
	"sync/atomic"

	"github.com/relaywire/iosocket/engine"
	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
	"github.com/relaywire/iosocket/pkg/utils"
)

var clientLog = log.NewLog("iosocket/socket:client")

// Client owns one Engine.IO Session and every Socket it has attached to a
// Namespace through that session, grounded on the legacy socket/client.go
// with dynamic-namespace denial and protocol-v3 branching dropped (this
// spec has no dynamic namespaces, spec.md §1's Non-goals).
type Client struct {
	server  *Server
	session *engine.Session

	sockets   *types.Map[string, *Socket]
	connected atomic.Bool
}

func newClient(server *Server, session *engine.Session) *Client {
	c := &Client{
		server:  server,
		session: session,
		sockets: types.NewMap[string, *Socket](),
	}
	session.Events().On("data", func(args ...any) {
		if len(args) == 0 {
			return
		}
		p, ok := args[0].(*parser.Packet)
		if !ok {
			return
		}
		c.onPacket(p)
	})
	session.Events().Once("close", func(args ...any) {
		reason := ReasonTransportClose
		if len(args) > 0 {
			if r, ok := args[0].(string); ok && r != "" {
				reason = r
			}
		}
		c.onClose(reason)
	})
	c.armConnectTimeout()
	return c
}

// armConnectTimeout closes the session if no namespace CONNECT completes
// within the configured grace period (spec.md §4.3/§9's connect timeout).
func (c *Client) armConnectTimeout() {
	timeout := c.server.opts.connectTimeout()
	timer := utils.SetTimeout(func() {
		if !c.connected.Load() {
			clientLog.Debugf("session %s timed out waiting for CONNECT", c.session.Id())
			c.session.Close(true)
		}
	}, timeout)
	c.session.Events().Once("close", func(args ...any) {
		utils.ClearTimeout(timer)
	})
}

func (c *Client) Session() *engine.Session { return c.session }

func (c *Client) onPacket(p *parser.Packet) {
	nspName := p.Namespace
	if nspName == "" {
		nspName = "/"
	}
	switch p.Type {
	case parser.CONNECT:
		c.connect(nspName, p)
	default:
		if s, ok := c.sockets.Load(nspName); ok {
			s.onPacket(p)
		} else {
			clientLog.Debugf("packet for unattached namespace %s ignored", nspName)
		}
	}
}

func (c *Client) connect(nspName string, p *parser.Packet) {
	nsp, err := c.server.of(nspName)
	if err != nil {
		c.session.Send(&parser.Packet{
			Namespace: nspName,
			Type:      parser.ERROR,
			Data:      map[string]any{"message": err.Error()},
		}, nil)
		return
	}

	auth, _ := p.Data.(map[string]any)
	eh := c.session.Handshake()
	handshake := Handshake{
		Headers: eh.Headers,
		Query:   eh.Query,
		Auth:    auth,
		Address: eh.RemoteAddress,
		Issued:  eh.IssuedAt,
	}
	nsp.connect(c, handshake)
}

// attach records s as this client's attachment to its namespace.
func (c *Client) attach(s *Socket) {
	c.connected.Store(true)
	c.sockets.Store(s.nsp.Name(), s)
}

// remove drops s from this client's attachment table. Called by
// Socket.close once the namespace and adapter have already forgotten it.
func (c *Client) remove(s *Socket) {
	c.sockets.Delete(s.nsp.Name())
}

// disconnect tears down every namespace attachment, then closes the
// underlying Engine.IO session (spec.md §4.6, triggered by Socket's
// close-with-transport variant).
func (c *Client) disconnect() {
	for _, name := range c.sockets.Keys() {
		if s, ok := c.sockets.Load(name); ok {
			s.Disconnect(false)
		}
	}
	c.session.Close(false)
}

// onClose fires when the Engine.IO session ends for any reason (ping
// timeout, transport error/close); every attached socket is closed with
// that reason (spec.md §4.6's disconnect-reason propagation).
func (c *Client) onClose(reason string) {
	for _, name := range c.sockets.Keys() {
		if s, ok := c.sockets.Load(name); ok {
			s.close(reason)
		}
	}
}
