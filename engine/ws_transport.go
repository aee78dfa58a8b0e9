package engine

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"

	"github.com/relaywire/iosocket/parser"
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
)

var wsLog = log.NewLog("iosocket/engine:transport")

// WsTransport is the sole Transport implementation: one
// *websocket.Conn per Session, with every write made synchronously under
// writeMu so frames go out in submission order. Backpressure is tracked as
// outstanding bytes of the frame currently being written; since writes do
// not overlap, Send returns false only for a single frame larger than the
// backpressure limit.
type WsTransport struct {
	conn    *websocket.Conn
	events  *types.EventEmitter
	encoder *parser.Encoder
	decoder *parser.Decoder
	binary  *parser.Registry

	readyState types.Atomic[string]
	writeMu    sync.Mutex
	outstanding atomic.Int64

	backpressureLimit   int64
	maxPayload          int64
	compressionThreshold int64

	closeOnce sync.Once
}

// NewWsTransport wraps conn, starting its read loop in a new goroutine.
// The caller remains responsible for having already completed the
// WebSocket upgrade handshake — that belongs to the external HTTP layer
// per spec.md §6. compressionThreshold is the minimum frame size, in
// bytes, worth deflating (engine.Options.GetCompressionThreshold).
func NewWsTransport(conn *websocket.Conn, maxPayload, backpressureLimit, compressionThreshold int64) *WsTransport {
	t := &WsTransport{
		conn:                 conn,
		events:               types.NewEventEmitter(),
		encoder:              parser.NewEncoder(),
		decoder:              parser.NewDecoder(),
		binary:               parser.DefaultRegistry(),
		backpressureLimit:    backpressureLimit,
		maxPayload:           maxPayload,
		compressionThreshold: compressionThreshold,
	}
	t.readyState.Store(TransportOpen)
	conn.SetReadLimit(maxPayload)
	go t.readLoop()
	go func() { t.events.Emit("ready") }()
	return t
}

func (t *WsTransport) Events() *types.EventEmitter { return t.events }

func (t *WsTransport) ReadyState() string { return t.readyState.Load() }

func (t *WsTransport) Writable() bool {
	return t.ReadyState() == TransportOpen
}

func (t *WsTransport) readLoop() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(ReasonTransportError, err)
			return
		}
		if t.ReadyState() != TransportOpen {
			continue
		}

		if msgType == websocket.BinaryMessage && len(data) > 0 && data[0] == deflateMagic {
			inflated, err := inflate(data[1:])
			if err != nil {
				t.fail(ReasonParseError, err)
				return
			}
			p, err := t.decoder.Decode(string(inflated))
			if err != nil {
				t.fail(ReasonParseError, err)
				return
			}
			t.events.Emit("packet", p)
			continue
		}

		if msgType == websocket.BinaryMessage && parser.IsBinaryFrame(data) {
			name, payload, err := t.binary.DecodeBinary(data)
			if err != nil {
				t.fail(ReasonParseError, err)
				return
			}
			t.events.Emit("packet", &parser.Packet{
				Type:      parser.EVENT,
				Namespace: "/",
				Data:      []any{name, payload},
			})
			continue
		}

		p, err := t.decoder.Decode(string(data))
		if err != nil {
			t.fail(ReasonParseError, err)
			return
		}
		t.events.Emit("packet", p)
	}
}

// Send renders and writes packets in order. It and SendBinary are the only
// paths that write to the connection, both under writeMu, so frames never
// interleave. When a frame would exceed the backpressure limit, Send returns
// false; frames of the batch before it have already been written and the
// rest are not.
func (t *WsTransport) Send(packets []*parser.Packet) bool {
	if !t.Writable() {
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, p := range packets {
		frame, err := t.encoder.Encode(p)
		if err != nil {
			wsLog.Debug("encode error: %v", err)
			continue
		}

		msgType := websocket.TextMessage
		payload := []byte(frame)
		if p.Compress && int64(len(payload)) > t.compressionThreshold {
			compressed, err := deflate(payload)
			if err != nil {
				wsLog.Debug("deflate error: %v", err)
			} else {
				msgType = websocket.BinaryMessage
				payload = append([]byte{deflateMagic}, compressed...)
			}
		}

		size := int64(len(payload))
		if t.outstanding.Load()+size > t.backpressureLimit {
			return false
		}
		t.outstanding.Add(size)
		if err := t.conn.WriteMessage(msgType, payload); err != nil {
			t.outstanding.Add(-size)
			t.fail(ReasonTransportError, err)
			return false
		}
		t.outstanding.Add(-size)
	}
	t.events.Emit("drain")
	return true
}

// SendBinary writes a single pre-encoded binary-registry frame (spec.md
// §6). Nothing in this module calls it: Socket and BroadcastOperator emits
// always go through Send and the text framing.
func (t *WsTransport) SendBinary(frame []byte) bool {
	if !t.Writable() {
		return false
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.fail(ReasonTransportError, err)
		return false
	}
	t.events.Emit("drain")
	return true
}

// deflateMagic distinguishes a deflate-compressed text frame from the
// fixed-registry binary event frames decoded by parser.IsBinaryFrame;
// 0xFE keeps clear of that registry's 0xFF magic.
const deflateMagic = 0xFE

// deflate compresses payload with klauspost/compress's flate writer, used
// when a Socket's compress flag is set (spec.md §4.7's .compress(bool)).
func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inflate reverses deflate for an inbound compressed frame.
func inflate(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *WsTransport) fail(reason string, err error) {
	if t.ReadyState() == TransportClosed {
		return
	}
	if err != nil {
		t.events.Emit("error", err)
	}
	t.doClose(reason)
}

func (t *WsTransport) Close(done ...func()) {
	t.doClose(ReasonTransportClose)
	for _, fn := range done {
		fn()
	}
}

func (t *WsTransport) Discard() {
	t.readyState.Store(TransportClosed)
	_ = t.conn.Close()
}

func (t *WsTransport) doClose(reason string) {
	t.closeOnce.Do(func() {
		t.readyState.Store(TransportClosed)
		_ = t.conn.Close()
		t.events.Emit("close", reason)
	})
}
