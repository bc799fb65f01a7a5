package socket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/retry"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// fakeTransport is an in-memory Engine.IO transport driven by the test.
type fakeTransport struct {
	kind    string
	openErr error
	in      chan Packet
	out     chan Packet
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport(kind string) *fakeTransport {
	return &fakeTransport{
		kind:   kind,
		in:     make(chan Packet, 16),
		out:    make(chan Packet, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Name() string { return f.kind }

func (f *fakeTransport) Open(ctx context.Context) (Handshake, error) {
	if f.openErr != nil {
		return Handshake{}, f.openErr
	}
	return Handshake{SID: "eio-1", PingInterval: time.Second, PingTimeout: time.Second}, nil
}

func (f *fakeTransport) Read(ctx context.Context) (Packet, error) {
	select {
	case p := <-f.in:
		return p, nil
	case <-f.closed:
		return Packet{}, errors.New("closed")
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, p Packet) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.out <- p
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) serverSend(s string) {
	f.in <- Packet{Type: eioMessage, Data: []byte(s)}
}

func (f *fakeTransport) expectWrite(t *testing.T, want string) {
	t.Helper()
	select {
	case p := <-f.out:
		assert.Equal(t, want, string(p.encode()))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for client to write %q", want)
	}
}

type transportLog struct {
	// gate, when set, holds every dial until it is closed.
	gate  chan struct{}
	mu    sync.Mutex
	kinds []string
	live  []*fakeTransport
}

func (l *transportLog) factory(openErr error) TransportFactory {
	return func(kind string) Transport {
		if l.gate != nil {
			<-l.gate
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		ft := newFakeTransport(kind)
		ft.openErr = openErr
		l.kinds = append(l.kinds, kind)
		l.live = append(l.live, ft)
		return ft
	}
}

func (l *transportLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.kinds...)
}

func (l *transportLog) latest(t *testing.T, n int) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.live) >= n
	}, 2*time.Second, 5*time.Millisecond)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live[n-1]
}

func fastReconnect() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestConnectIsSingletonAndAuthenticates(t *testing.T) {
	var log transportLog
	m := NewManager(Options{
		Origin:       "http://crm.test",
		Tokens:       staticToken("tok"),
		Reconnect:    fastReconnect(),
		NewTransport: log.factory(nil),
	})
	defer m.Disconnect()

	var connects atomic.Int32
	c := m.Connect()
	c.On(EventConnect, func(Event) { connects.Add(1) })
	assert.Same(t, c, m.Connect())

	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.serverSend(`0{"sid":"sio-1"}`)
	ft.expectWrite(t, `42["auth",{"token":"tok"}]`)

	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), connects.Load())
	assert.False(t, c.IsAuthenticated())

	ft.serverSend(`2["auth:success",{"userId":"u1"}]`)
	require.Eventually(t, c.IsAuthenticated, time.Second, 5*time.Millisecond)

	ft.serverSend(`2["auth:error",{"message":"bad token"}]`)
	require.Eventually(t, func() bool { return !c.IsAuthenticated() }, time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConnected(), "auth failure does not drop the stream")
}

func TestNoTokenStaysUnauthenticated(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})
	defer m.Disconnect()

	m.Connect()
	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.serverSend(`0{"sid":"s"}`)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	select {
	case p := <-ft.out:
		t.Fatalf("unexpected write %q", p.encode())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPingIsAnswered(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})
	defer m.Disconnect()

	m.Connect()
	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.in <- Packet{Type: eioPing}
	ft.expectWrite(t, "3")
}

func TestEventsDispatchedToSubscribers(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})
	defer m.Disconnect()

	got := make(chan Event, 4)
	sub := m.On(EventMessageIncoming, func(ev Event) { got <- ev })
	m.On(EventMessageIncoming, func(Event) { panic("bad handler") })
	after := make(chan struct{}, 4)
	m.On(EventMessageIncoming, func(Event) { after <- struct{}{} })

	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.serverSend(`0{"sid":"s"}`)
	ft.serverSend(`2["message:incoming",{"chatId":"c1","message":{"id":"m1"}}]`)

	select {
	case ev := <-got:
		assert.Equal(t, "c1", ev.Data().Get("chatId").String())
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("handler after a panicking one was not called")
	}

	sub.Off()
	sub.Off()
	ft.serverSend(`2["message:incoming",{"chatId":"c2"}]`)
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("remaining handler not called")
	}
	select {
	case ev := <-got:
		t.Fatalf("unsubscribed handler received %v", ev.Name)
	default:
	}
}

func TestEmitRequiresConnection(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})
	defer m.Disconnect()

	err := m.Emit(context.Background(), "ping", nil)
	assert.True(t, apperr.Is(err, apperr.CodeNetwork))

	c := m.Connect()
	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.serverSend(`0{"sid":"s"}`)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Emit(context.Background(), "typing", map[string]string{"chatId": "c1"}))
	ft.expectWrite(t, `42["typing",{"chatId":"c1"}]`)
}

func TestFallbackToPollingThenGiveUp(t *testing.T) {
	log := transportLog{gate: make(chan struct{})}
	m := NewManager(Options{
		Reconnect:         fastReconnect(),
		ReconnectAttempts: 4,
		FallbackAfter:     3,
		NewTransport:      log.factory(errors.New("refused")),
	})
	defer m.Disconnect()

	failed := make(chan struct{}, 1)
	var attempts []int
	var mu sync.Mutex
	c := m.Connect()
	c.On(EventReconnectAttempt, func(ev Event) {
		mu.Lock()
		attempts = append(attempts, int(ev.Data().Int()))
		mu.Unlock()
	})
	c.On(EventReconnectFailed, func(Event) { failed <- struct{}{} })
	close(log.gate)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect_failed not raised")
	}

	assert.Equal(t, []string{TransportWebsocket, TransportWebsocket, TransportWebsocket, TransportPolling, TransportPolling}, log.snapshot())
	assert.Equal(t, TransportPolling, c.TransportName())
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	mu.Unlock()

	// Reconnect restarts with a fresh budget on the preferred transport.
	c.Reconnect()
	require.Eventually(t, func() bool { return len(log.snapshot()) > 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TransportWebsocket, log.snapshot()[5])
}

func TestServerCloseTriggersReconnect(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})
	defer m.Disconnect()

	disconnects := make(chan string, 2)
	c := m.Connect()
	c.On(EventDisconnect, func(ev Event) { disconnects <- ev.Data().String() })

	first := log.latest(t, 1)
	first.expectWrite(t, "40")
	first.serverSend(`0{"sid":"s"}`)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	first.in <- Packet{Type: eioClose}
	select {
	case reason := <-disconnects:
		assert.Equal(t, "transport close", reason)
	case <-time.After(time.Second):
		t.Fatal("disconnect not raised")
	}

	second := log.latest(t, 2)
	second.expectWrite(t, "40")
	second.serverSend(`0{"sid":"s2"}`)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
}

func TestDisconnectClearsSingleton(t *testing.T) {
	var log transportLog
	m := NewManager(Options{Reconnect: fastReconnect(), NewTransport: log.factory(nil)})

	c := m.Connect()
	ft := log.latest(t, 1)
	ft.expectWrite(t, "40")
	ft.serverSend(`0{"sid":"s"}`)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	m.Disconnect()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection loop did not stop")
	}
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.Current())

	next := m.Connect()
	defer m.Disconnect()
	assert.NotSame(t, c, next)
	log.latest(t, 2).expectWrite(t, "40")
}
