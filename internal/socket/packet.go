package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types carried inside Engine.IO messages.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
)

// recordSeparator splits packets in a polling payload.
const recordSeparator = 0x1e

var errEmptyPacket = errors.New("socket: empty packet")

// Packet is a single Engine.IO packet.
type Packet struct {
	Type byte
	Data []byte
}

func (p Packet) encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, p.Type)
	return append(out, p.Data...)
}

func decodePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, errEmptyPacket
	}
	if b[0] < eioOpen || b[0] > eioNoop {
		return Packet{}, fmt.Errorf("socket: unknown packet type %q", b[0])
	}
	return Packet{Type: b[0], Data: b[1:]}, nil
}

func encodePayload(packets []Packet) []byte {
	var buf bytes.Buffer
	for i, p := range packets {
		if i > 0 {
			buf.WriteByte(recordSeparator)
		}
		buf.Write(p.encode())
	}
	return buf.Bytes()
}

func decodePayload(b []byte) ([]Packet, error) {
	var out []Packet
	for _, chunk := range bytes.Split(b, []byte{recordSeparator}) {
		if len(chunk) == 0 {
			continue
		}
		p, err := decodePacket(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Handshake is the payload of the Engine.IO open packet.
type Handshake struct {
	SID          string
	Upgrades     []string
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64
}

// ReadTimeout is how long the client waits for any packet before it
// considers the server gone.
func (h Handshake) ReadTimeout() time.Duration {
	d := h.PingInterval + h.PingTimeout
	if d <= 0 {
		return 45 * time.Second
	}
	return d
}

func parseHandshake(p Packet) (Handshake, error) {
	if p.Type != eioOpen {
		return Handshake{}, fmt.Errorf("socket: expected open packet, got %q", p.Type)
	}
	if !gjson.ValidBytes(p.Data) {
		return Handshake{}, errors.New("socket: malformed open packet")
	}
	v := gjson.ParseBytes(p.Data)
	h := Handshake{
		SID:          v.Get("sid").String(),
		PingInterval: time.Duration(v.Get("pingInterval").Int()) * time.Millisecond,
		PingTimeout:  time.Duration(v.Get("pingTimeout").Int()) * time.Millisecond,
		MaxPayload:   v.Get("maxPayload").Int(),
	}
	for _, u := range v.Get("upgrades").Array() {
		h.Upgrades = append(h.Upgrades, u.String())
	}
	if h.SID == "" {
		return Handshake{}, errors.New("socket: open packet without sid")
	}
	return h, nil
}

// socketPacket is a decoded Socket.IO packet.
type socketPacket struct {
	Type      byte
	Namespace string
	Payload   []byte
}

func decodeSocketPacket(b []byte) (socketPacket, error) {
	if len(b) == 0 {
		return socketPacket{}, errEmptyPacket
	}
	sp := socketPacket{Type: b[0], Namespace: "/"}
	rest := b[1:]

	// Binary attachment count, e.g. "1-".
	if i := bytes.IndexByte(rest, '-'); i > 0 && isDigits(rest[:i]) {
		rest = rest[i+1:]
	}
	if len(rest) > 0 && rest[0] == '/' {
		if i := bytes.IndexByte(rest, ','); i >= 0 {
			sp.Namespace = string(rest[:i])
			rest = rest[i+1:]
		} else {
			sp.Namespace = string(rest)
			rest = nil
		}
	}
	// Ack id.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	sp.Payload = rest[i:]
	return sp, nil
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(b) > 0
}

// Event is a named message delivered to subscribers.
type Event struct {
	Name string
	Args []gjson.Result
}

// Data returns the first argument, the payload of every server event.
func (e Event) Data() gjson.Result {
	if len(e.Args) == 0 {
		return gjson.Result{}
	}
	return e.Args[0]
}

func parseEvent(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, errors.New("socket: malformed event payload")
	}
	arr := gjson.ParseBytes(payload)
	if !arr.IsArray() {
		return Event{}, errors.New("socket: event payload is not an array")
	}
	items := arr.Array()
	if len(items) == 0 || items[0].Type != gjson.String {
		return Event{}, errors.New("socket: event without name")
	}
	return Event{Name: items[0].String(), Args: items[1:]}, nil
}

func encodeEvent(name string, data any) ([]byte, error) {
	args := []any{name}
	if data != nil {
		args = append(args, data)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte{sioEvent}, body...), nil
}

// NewEvent builds an event from Go values, each marshalled to JSON.
func NewEvent(name string, args ...any) Event {
	ev := Event{Name: name}
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		ev.Args = append(ev.Args, gjson.ParseBytes(raw))
	}
	return ev
}
