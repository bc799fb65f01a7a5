package socket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Transport names.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

// Transport carries Engine.IO packets. Read is only called from one
// goroutine; Write may be called concurrently with Read.
type Transport interface {
	Name() string
	// Open connects and returns the server handshake.
	Open(ctx context.Context) (Handshake, error)
	Read(ctx context.Context) (Packet, error)
	Write(ctx context.Context, p Packet) error
	Close() error
}

// TransportFactory builds a transport of the given kind.
type TransportFactory func(kind string) Transport

// Origin strips a trailing /api from the API base so the stream connects
// to the server root.
func Origin(apiBase string) string {
	return strings.TrimSuffix(strings.TrimRight(apiBase, "/"), "/api")
}

// endpoint builds the Engine.IO URL for origin and transport kind.
func endpoint(origin, kind string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/") + "/socket.io/")
	if err != nil {
		return nil, err
	}
	if kind == TransportWebsocket {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", kind)
	u.RawQuery = q.Encode()
	return u, nil
}

// DefaultTransports returns a factory for the real websocket and polling
// transports.
func DefaultTransports(origin string, header http.Header, client *http.Client) TransportFactory {
	if client == nil {
		client = &http.Client{}
	}
	return func(kind string) Transport {
		if kind == TransportPolling {
			return newPollingTransport(origin, header, client)
		}
		return newWebsocketTransport(origin, header, client)
	}
}
