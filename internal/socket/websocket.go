package socket

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn abstracts the websocket so the transport can be tested without a
// server. *websocket.Conn satisfies it.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type websocketTransport struct {
	origin string
	header http.Header
	client *http.Client
	conn   wsConn
}

func newWebsocketTransport(origin string, header http.Header, client *http.Client) *websocketTransport {
	return &websocketTransport{origin: origin, header: header, client: client}
}

func (t *websocketTransport) Name() string { return TransportWebsocket }

func (t *websocketTransport) Open(ctx context.Context) (Handshake, error) {
	u, err := endpoint(t.origin, TransportWebsocket)
	if err != nil {
		return Handshake{}, err
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: t.client,
		HTTPHeader: t.header,
	})
	if err != nil {
		return Handshake{}, err
	}
	conn.SetReadLimit(1 << 20)
	return t.handshake(ctx, conn)
}

// handshake reads the open packet from an already dialed connection.
func (t *websocketTransport) handshake(ctx context.Context, conn wsConn) (Handshake, error) {
	t.conn = conn
	p, err := t.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no open packet")
		return Handshake{}, err
	}
	h, err := parseHandshake(p)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "bad open packet")
		return Handshake{}, err
	}
	return h, nil
}

func (t *websocketTransport) Read(ctx context.Context) (Packet, error) {
	if t.conn == nil {
		return Packet{}, errors.New("socket: websocket not open")
	}
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return Packet{}, err
		}
		if typ == websocket.MessageBinary {
			// Binary attachments are not used by the CRM backend.
			continue
		}
		return decodePacket(data)
	}
}

func (t *websocketTransport) Write(ctx context.Context, p Packet) error {
	if t.conn == nil {
		return errors.New("socket: websocket not open")
	}
	return t.conn.Write(ctx, websocket.MessageText, p.encode())
}

func (t *websocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
