package socket

import (
	"errors"
	"testing"
	"time"

	"github.com/relaywire/iosocket/engine"
	"github.com/relaywire/iosocket/parser"
)

// testClient wraps a FakeTransport-backed Client for driving scenarios
// without a real network connection.
type testClient struct {
	t   *testing.T
	ft  *engine.FakeTransport
	c   *Client
}

func connectClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	ft := engine.NewFakeTransport()
	c, err := srv.Accept(ft, engine.Handshake{RemoteAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	ft.Sent = nil
	return &testClient{t: t, ft: ft, c: c}
}

// sendConnect simulates the client's CONNECT packet for nsp.
func (tc *testClient) sendConnect(nsp string, auth map[string]any) {
	var data any
	if auth != nil {
		data = auth
	}
	tc.ft.DeliverFromClient(&parser.Packet{Type: parser.CONNECT, Namespace: nsp, Data: data})
}

func (tc *testClient) sendEvent(nsp string, ackId *uint64, args ...any) {
	tc.ft.DeliverFromClient(&parser.Packet{Type: parser.EVENT, Namespace: nsp, Id: ackId, Data: args})
}

func (tc *testClient) sendAck(nsp string, id uint64, args ...any) {
	tc.ft.DeliverFromClient(&parser.Packet{Type: parser.ACK, Namespace: nsp, Id: &id, Data: args})
}

// lastEventTo returns the data of the last EVENT packet sent to this
// client, or nil if none was sent.
func (tc *testClient) lastEventTo() []any {
	for i := len(tc.ft.Sent) - 1; i >= 0; i-- {
		for _, p := range tc.ft.Sent[i] {
			if p.Type == parser.EVENT {
				data, _ := p.Data.([]any)
				return data
			}
		}
	}
	return nil
}

func (tc *testClient) countEvents() int {
	n := 0
	for _, batch := range tc.ft.Sent {
		for _, p := range batch {
			if p.Type == parser.EVENT {
				n++
			}
		}
	}
	return n
}

func waitForSocket(t *testing.T, nsp *Namespace) *Socket {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		var found *Socket
		nsp.Sockets().Range(func(id SocketId, s *Socket) bool {
			found = s
			return false
		})
		if found != nil {
			return found
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for socket to attach")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectAndEcho(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Events().On("echo", func(a ...any) {
			s.Emit("echo-reply", a...)
		})
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	waitForSocket(t, srv.Of("/"))

	tc.sendEvent("", nil, "echo", "hello")

	deadline := time.After(time.Second)
	for tc.countEvents() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for echo reply")
		case <-time.After(time.Millisecond):
		}
	}
	data := tc.lastEventTo()
	if len(data) != 2 || data[0] != "echo-reply" || data[1] != "hello" {
		t.Fatalf("unexpected echo reply: %+v", data)
	}
}

func TestAckRoundTrip(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	received := make(chan []any, 1)
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Events().On("with-ack", func(a ...any) {
			ack := a[len(a)-1].(func(...any))
			ack("ok")
			received <- a[:len(a)-1]
		})
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	waitForSocket(t, srv.Of("/"))

	id := uint64(7)
	tc.sendEvent("", &id, "with-ack", "payload")

	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "payload" {
			t.Fatalf("unexpected handler args: %+v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	deadline := time.After(time.Second)
	for {
		found := false
		for _, batch := range tc.ft.Sent {
			for _, p := range batch {
				if p.Type == parser.ACK && p.Id != nil && *p.Id == id {
					found = true
				}
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ack packet")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEmitAckTimeout(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	s := waitForSocket(t, srv.Of("/"))

	result := make(chan any, 1)
	s.Timeout(10 * time.Millisecond).Emit("ping", func(args ...any) {
		result <- args[0]
	})

	select {
	case v := <-result:
		if _, ok := v.(error); !ok {
			t.Fatalf("expected a timeout error, got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Events().On("join", func(a ...any) {
			s.Join(Room(a[0].(string)))
		})
		s.Events().On("shout", func(a ...any) {
			s.To(Room(a[0].(string))).Emit("shout", a[1])
		})
	})

	alice := connectClient(t, srv)
	alice.sendConnect("", nil)
	aliceSocket := waitForSocket(t, srv.Of("/"))
	aliceSocket.events.Emit("join", "room1")

	bob := connectClient(t, srv)
	bob.sendConnect("", nil)

	var bobSocket *Socket
	deadline := time.After(time.Second)
	for bobSocket == nil {
		srv.Of("/").Sockets().Range(func(id SocketId, s *Socket) bool {
			if s != aliceSocket {
				bobSocket = s
			}
			return true
		})
		if bobSocket == nil {
			select {
			case <-deadline:
				t.Fatal("bob never attached")
			case <-time.After(time.Millisecond):
			}
		}
	}
	bobSocket.events.Emit("join", "room1")

	alice.ft.Sent = nil
	bob.ft.Sent = nil
	aliceSocket.events.Emit("shout", "room1", "hi room1")

	deadline = time.After(time.Second)
	for bob.countEvents() == 0 {
		select {
		case <-deadline:
			t.Fatal("bob never received the room broadcast")
		case <-time.After(time.Millisecond):
		}
	}
	if alice.countEvents() != 0 {
		t.Fatalf("sender should not receive its own room broadcast, got %d events", alice.countEvents())
	}
}

func TestRoomExceptSelector(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	var sockets []*Socket
	attached := make(chan *Socket, 3)
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		attached <- s
	})

	clients := make([]*testClient, 3)
	for i := range clients {
		clients[i] = connectClient(t, srv)
		clients[i].sendConnect("", nil)
	}
	for range clients {
		select {
		case s := <-attached:
			sockets = append(sockets, s)
		case <-time.After(time.Second):
			t.Fatal("socket never attached")
		}
	}

	sockets[0].Join("a")
	sockets[1].Join("a", "b")
	sockets[2].Join("b")

	for _, c := range clients {
		c.ft.Sent = nil
	}

	// Target room "a", except room "b": only sockets[0] qualifies since
	// sockets[1] is in both "a" and "b".
	srv.Of("/").To("a").Except("b").Emit("union-except", "payload")

	deadline := time.After(time.Second)
	for clients[0].countEvents() == 0 {
		select {
		case <-deadline:
			t.Fatal("socket 0 never received")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	if clients[1].countEvents() != 0 {
		t.Fatalf("socket 1 (in excluded room) should not have received, got %d", clients[1].countEvents())
	}
	if clients[2].countEvents() != 0 {
		t.Fatalf("socket 2 (not in targeted room) should not have received, got %d", clients[2].countEvents())
	}
}

func TestMiddlewareChainRejectsConnection(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	srv.Use(func(s *Socket, next func(error)) {
		auth, _ := s.Handshake().Auth["token"].(string)
		if auth != "valid" {
			next(NewAuthError("invalid credentials", nil))
			return
		}
		next(nil)
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", map[string]any{"token": "bad"})

	deadline := time.After(time.Second)
	for {
		found := false
		for _, batch := range tc.ft.Sent {
			for _, p := range batch {
				if p.Type == parser.ERROR {
					found = true
				}
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected an ERROR packet for rejected connection")
		case <-time.After(time.Millisecond):
		}
	}
	if srv.Of("/").Sockets().Len() != 0 {
		t.Fatal("rejected connection should not be registered in the namespace")
	}
}

func TestEventMiddlewareMutatesArgs(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	seen := make(chan string, 1)
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Use(func(a *[]any, next func(error)) {
			if len(*a) > 1 {
				if str, ok := (*a)[1].(string); ok {
					(*a)[1] = "mutated:" + str
				}
			}
			next(nil)
		})
		s.Events().On("greet", func(a ...any) {
			seen <- a[0].(string)
		})
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	waitForSocket(t, srv.Of("/"))
	tc.sendEvent("", nil, "greet", "world")

	select {
	case v := <-seen:
		if v != "mutated:world" {
			t.Fatalf("expected middleware mutation to survive, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("event never dispatched")
	}
}

// TestEventMiddlewareChainPrepend exercises spec.md §8 scenario 6: the
// first middleware prepends "wrapped" to the event tuple, the second
// asserts the tuple equals ["wrapped", "join", "room1"], and the listener
// bound to "wrapped" observes ("join", "room1").
func TestEventMiddlewareChainPrepend(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	seen := make(chan []any, 1)
	runs := make(chan struct{}, 2)
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Use(func(a *[]any, next func(error)) {
			runs <- struct{}{}
			*a = append([]any{"wrapped"}, *a...)
			next(nil)
		})
		s.Use(func(a *[]any, next func(error)) {
			runs <- struct{}{}
			want := []any{"wrapped", "join", "room1"}
			if len(*a) != len(want) {
				next(errors.New("unexpected tuple length"))
				return
			}
			for i := range want {
				if (*a)[i] != want[i] {
					next(errors.New("unexpected tuple contents"))
					return
				}
			}
			next(nil)
		})
		s.Events().On("wrapped", func(a ...any) {
			seen <- a
		})
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	waitForSocket(t, srv.Of("/"))
	tc.sendEvent("", nil, "join", "room1")

	select {
	case v := <-seen:
		if len(v) != 2 || v[0] != "join" || v[1] != "room1" {
			t.Fatalf("expected listener args (join, room1), got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("event never dispatched")
	}

	if len(runs) != 2 {
		t.Fatalf("expected middleware chain to run exactly twice, ran %d times", len(runs))
	}
}

func TestEventMiddlewareRejectionBlocksDispatch(t *testing.T) {
	srv := NewServer(&ServerOptions{})
	dispatched := make(chan struct{}, 1)
	errored := make(chan error, 1)
	srv.Sockets().On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.Use(func(a *[]any, next func(error)) {
			next(errors.New("blocked"))
		})
		s.Events().On("never", func(a ...any) { dispatched <- struct{}{} })
		s.Events().On("error", func(a ...any) {
			if err, ok := a[0].(error); ok {
				errored <- err
			}
		})
	})

	tc := connectClient(t, srv)
	tc.sendConnect("", nil)
	waitForSocket(t, srv.Of("/"))
	tc.sendEvent("", nil, "never")

	select {
	case <-errored:
	case <-dispatched:
		t.Fatal("dispatch should have been blocked by middleware")
	case <-time.After(time.Second):
		t.Fatal("expected the middleware rejection to surface as an error event")
	}
}
