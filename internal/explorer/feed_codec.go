package explorer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Engine.io packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
)

// Socket.io packet types, carried inside engine.io message packets.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioConnectError byte = '4'
)

var errEmptyPacket = errors.New("empty packet")

// packet is a decoded engine.io frame. For socket.io events Event and Data
// are set.
type packet struct {
	eio   byte
	sio   byte
	event string
	data  json.RawMessage
}

// openPayload is the engine.io handshake body.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
}

// decodePacket parses a text frame.
func decodePacket(msg []byte) (packet, error) {
	if len(msg) == 0 {
		return packet{}, errEmptyPacket
	}
	p := packet{eio: msg[0]}
	rest := msg[1:]

	switch p.eio {
	case eioOpen:
		p.data = json.RawMessage(rest)
		return p, nil
	case eioClose, eioPing, eioPong:
		return p, nil
	case eioMessage:
	default:
		return p, fmt.Errorf("unknown engine.io packet type %q", p.eio)
	}

	if len(rest) == 0 {
		return p, errEmptyPacket
	}
	p.sio = rest[0]
	rest = rest[1:]

	// Optional namespace "/ns," prefix.
	if len(rest) > 0 && rest[0] == '/' {
		i := strings.IndexByte(string(rest), ',')
		if i < 0 {
			rest = nil
		} else {
			rest = rest[i+1:]
		}
	}

	switch p.sio {
	case sioEvent:
		// Optional ack id.
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		rest = rest[i:]

		var args []json.RawMessage
		if err := json.Unmarshal(rest, &args); err != nil {
			return p, fmt.Errorf("decode event payload: %w", err)
		}
		if len(args) == 0 {
			return p, fmt.Errorf("event without name")
		}
		if err := json.Unmarshal(args[0], &p.event); err != nil {
			return p, fmt.Errorf("decode event name: %w", err)
		}
		if len(args) > 1 {
			p.data = args[1]
		}
	case sioConnect, sioConnectError, sioDisconnect:
		p.data = json.RawMessage(rest)
	}
	return p, nil
}

// encodeEvent builds a 42["name",data] frame.
func encodeEvent(name string, data any) ([]byte, error) {
	payload, err := json.Marshal([]any{name, data})
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, payload...), nil
}

// socketURL turns an http(s) or ws(s) base URL into the socket.io websocket
// endpoint.
func socketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
