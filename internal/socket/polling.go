package socket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// pollingTransport implements Engine.IO HTTP long-polling: a GET blocks
// until the server has packets, a POST delivers client packets.
type pollingTransport struct {
	origin string
	header http.Header
	client *http.Client

	sid    string
	base   *url.URL
	closed atomic.Bool

	mu      sync.Mutex
	pending []Packet
}

func newPollingTransport(origin string, header http.Header, client *http.Client) *pollingTransport {
	return &pollingTransport{origin: origin, header: header, client: client}
}

func (t *pollingTransport) Name() string { return TransportPolling }

func (t *pollingTransport) url() string {
	u := *t.base
	q := u.Query()
	if t.sid != "" {
		q.Set("sid", t.sid)
	}
	q.Set("t", strconv.FormatInt(time.Now().UnixNano(), 36))
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *pollingTransport) Open(ctx context.Context) (Handshake, error) {
	base, err := endpoint(t.origin, TransportPolling)
	if err != nil {
		return Handshake{}, err
	}
	t.base = base

	packets, err := t.poll(ctx)
	if err != nil {
		return Handshake{}, err
	}
	if len(packets) == 0 {
		return Handshake{}, errors.New("socket: empty open response")
	}
	h, err := parseHandshake(packets[0])
	if err != nil {
		return Handshake{}, err
	}
	t.sid = h.SID

	t.mu.Lock()
	t.pending = append(t.pending, packets[1:]...)
	t.mu.Unlock()
	return h, nil
}

func (t *pollingTransport) poll(ctx context.Context) ([]Packet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(), nil)
	if err != nil {
		return nil, err
	}
	t.setHeaders(req)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("socket: poll returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return decodePayload(body)
}

func (t *pollingTransport) setHeaders(req *http.Request) {
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (t *pollingTransport) Read(ctx context.Context) (Packet, error) {
	for {
		if t.closed.Load() {
			return Packet{}, errors.New("socket: polling transport closed")
		}
		t.mu.Lock()
		if len(t.pending) > 0 {
			p := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			return p, nil
		}
		t.mu.Unlock()

		packets, err := t.poll(ctx)
		if err != nil {
			return Packet{}, err
		}
		t.mu.Lock()
		t.pending = append(t.pending, packets...)
		t.mu.Unlock()
	}
}

func (t *pollingTransport) Write(ctx context.Context, p Packet) error {
	if t.closed.Load() {
		return errors.New("socket: polling transport closed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), bytes.NewReader(encodePayload([]Packet{p})))
	if err != nil {
		return err
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("socket: post returned %d", resp.StatusCode)
	}
	return nil
}

func (t *pollingTransport) Close() error {
	if t.base == nil || t.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), bytes.NewReader(Packet{Type: eioClose}.encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	return nil
}
