package parser

import (
	"encoding/json"
)

// Decoder parses Socket.IO v5 text frames into Packet values.
type Decoder struct{}

// NewDecoder returns a ready-to-use Decoder. Decoders carry no state
// between calls; the text protocol is fully self-contained per frame.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses a single text frame. It returns a *ParseError for any
// malformed input: unknown Engine.IO type, malformed namespace segment,
// non-array payload where one is required, or an unregistered binary
// event code (handled separately by DecodeBinary).
func (d *Decoder) Decode(frame string) (*Packet, error) {
	if len(frame) == 0 {
		return nil, newParseError("empty frame")
	}

	i := 0
	switch frame[i] {
	case '0':
		p := &Packet{Type: OPEN}
		if i+1 < len(frame) {
			var payload any
			if err := json.Unmarshal([]byte(frame[i+1:]), &payload); err != nil {
				return nil, newParseError("invalid OPEN payload: " + err.Error())
			}
			p.Data = payload
		}
		return p, nil
	case '1':
		return &Packet{Type: CLOSE}, nil
	case '2':
		return &Packet{Type: PING}, nil
	case '3':
		return &Packet{Type: PONG}, nil
	case '4':
		return d.decodeMessage(frame[1:])
	default:
		return nil, newParseError("unknown engine.io type")
	}
}

func (d *Decoder) decodeMessage(rest string) (*Packet, error) {
	if len(rest) == 0 {
		return nil, newParseError("missing socket.io type")
	}

	typ, ok := socketIOTypeFromDigit(rest[0])
	if !ok {
		return nil, newParseError("unknown socket.io type")
	}
	rest = rest[1:]

	p := &Packet{Type: typ, Namespace: "/"}

	if len(rest) > 0 && rest[0] == '/' {
		end := indexByte(rest, ',')
		if end < 0 {
			return nil, newParseError("malformed namespace segment")
		}
		p.Namespace = rest[:end]
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := parseUint(rest[:digits])
		if err != nil {
			return nil, newParseError("malformed ackId")
		}
		p.Id = &id
		rest = rest[digits:]
	}

	if len(rest) == 0 {
		if typ == EVENT || typ == ACK {
			return nil, newParseError("missing payload")
		}
		return p, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(rest), &payload); err != nil {
		return nil, newParseError("invalid JSON payload: " + err.Error())
	}

	if err := validatePayload(typ, payload); err != nil {
		return nil, err
	}

	p.Data = payload
	return p, nil
}

func validatePayload(typ Type, payload any) error {
	switch typ {
	case CONNECT:
		if payload == nil {
			return nil
		}
		if _, ok := payload.(map[string]any); !ok {
			return newParseError("CONNECT payload must be an object")
		}
	case EVENT:
		arr, ok := payload.([]any)
		if !ok || len(arr) == 0 {
			return newParseError("EVENT payload must be a non-empty array")
		}
		if _, ok := arr[0].(string); !ok {
			return newParseError("EVENT payload[0] must be the event name")
		}
	case ACK:
		if _, ok := payload.([]any); !ok {
			return newParseError("ACK payload must be an array")
		}
	case ERROR:
		switch payload.(type) {
		case map[string]any, string:
		default:
			return newParseError("ERROR payload must be an object or string")
		}
	}
	return nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		n = n*10 + uint64(s[i]-'0')
	}
	return n, nil
}
