package parser

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Encoder converts in-memory Packet values into their Socket.IO v5 text
// wire representation.
type Encoder struct {
	cache *cache
}

// NewEncoder returns an Encoder backed by the package's advisory
// (namespace, eventName) MRU cache.
func NewEncoder() *Encoder {
	return &Encoder{cache: newCache(defaultCacheSize)}
}

// Encode renders p as its text frame. Payload values are sanitized first:
// function-typed values are stripped and cyclic references are rewritten
// as the sentinel "[Circular]".
func (e *Encoder) Encode(p *Packet) (string, error) {
	var b strings.Builder

	if !p.Type.isMessage() {
		switch p.Type {
		case OPEN:
			b.WriteByte('0')
			return e.writeData(&b, p.Data)
		case CLOSE:
			return "1", nil
		case PING:
			return "2", nil
		case PONG:
			return "3", nil
		}
	}

	b.WriteByte('4')
	b.WriteByte(p.Type.socketIODigit())

	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}

	if p.Id != nil {
		b.WriteString(strconv.FormatUint(*p.Id, 10))
	}

	if p.Data == nil {
		return b.String(), nil
	}
	return e.writeData(&b, p.Data)
}

func (e *Encoder) writeData(b *strings.Builder, data any) (string, error) {
	clean := sanitize(data)
	encoded, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	b.Write(encoded)
	return b.String(), nil
}

// EncodeEventCached behaves like Encode for parameterless EVENT packets,
// but first checks the MRU cache for a previously rendered frame keyed on
// (namespace, eventName). The cache is advisory — a cache miss simply
// falls through to a normal Encode and stores the result.
func (e *Encoder) EncodeEventCached(p *Packet, eventName string) (string, error) {
	if arr, ok := p.Data.([]any); p.Type != EVENT || p.Id != nil || !ok || len(arr) != 1 {
		return e.Encode(p)
	}
	key := p.Namespace + "\x00" + eventName
	if hit, ok := e.cache.get(key); ok {
		return hit, nil
	}
	frame, err := e.Encode(p)
	if err != nil {
		return "", err
	}
	e.cache.put(key, frame)
	return frame, nil
}
