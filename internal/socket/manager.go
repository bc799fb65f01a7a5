package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/retry"
)

// Lifecycle events raised locally.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectFailed  = "reconnect_failed"
)

// Server events.
const (
	EventAuth                 = "auth"
	EventAuthSuccess          = "auth:success"
	EventAuthError            = "auth:error"
	EventWhatsAppReady        = "whatsapp:ready"
	EventWhatsAppQR           = "whatsapp:qr"
	EventWhatsAppDisconnected = "whatsapp:disconnected"
	EventMessageIncoming      = "message:incoming"
	EventMessageSent          = "message:sent"
	EventMessageStatus        = "message:status"
)

const (
	defaultReconnectAttempts = 10
	defaultFallbackAfter     = 3
	openTimeout              = 20 * time.Second
	writeTimeout             = 10 * time.Second
)

var (
	errServerClosed     = errors.New("socket: server closed the connection")
	errServerDisconnect = errors.New("socket: server disconnected the namespace")
)

// TokenSource supplies the credential sent in the auth event.
type TokenSource interface {
	Token() string
}

// Options configures a Manager.
type Options struct {
	// Origin is the server root, see Origin.
	Origin string
	Tokens TokenSource
	// Reconnect shapes the delay between attempts.
	Reconnect retry.Policy
	// ReconnectAttempts is the number of reconnects after the first
	// failure before giving up.
	ReconnectAttempts int
	// FallbackAfter is the number of consecutive failures after which
	// the websocket transport is abandoned for polling.
	FallbackAfter int
	Header        http.Header
	HTTPClient    *http.Client
	Logger        *zap.Logger
	// NewTransport overrides the transport factory, used by tests.
	NewTransport TransportFactory
}

// Manager owns the process-wide stream connection. Connect returns the
// live handle, building it on first use; Disconnect tears it down so the
// next Connect starts fresh.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	conn *Conn
}

// NewManager creates a Manager. It does not connect.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.FallbackAfter <= 0 {
		opts.FallbackAfter = defaultFallbackAfter
	}
	if opts.Reconnect.BaseDelay <= 0 {
		opts.Reconnect = retry.Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: 0.5}
	}
	if opts.NewTransport == nil {
		opts.NewTransport = DefaultTransports(opts.Origin, opts.Header, opts.HTTPClient)
	}
	return &Manager{opts: opts, logger: opts.Logger.Named("socket")}
}

// Connect returns the singleton connection, starting it if needed.
func (m *Manager) Connect() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		m.conn = newConn(m.opts, m.logger)
		m.logger.Info("socket created", zap.String("origin", m.opts.Origin))
	}
	return m.conn
}

// Current returns the live connection without creating one.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// IsConnected reports whether the stream is connected.
func (m *Manager) IsConnected() bool {
	if c := m.Current(); c != nil {
		return c.IsConnected()
	}
	return false
}

// Reconnect forces a fresh connection attempt, creating the connection if
// it was torn down.
func (m *Manager) Reconnect() {
	m.Connect().Reconnect()
}

// Disconnect tears down the connection and clears the singleton.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c != nil {
		c.shutdown()
		m.logger.Info("socket disconnected by client")
	}
}

// On subscribes to an event on the live connection.
func (m *Manager) On(event string, fn Handler) *Subscription {
	return m.Connect().On(event, fn)
}

// Emit sends an event on the live connection.
func (m *Manager) Emit(ctx context.Context, event string, data any) error {
	c := m.Current()
	if c == nil {
		return apperr.New(apperr.CodeNetwork, "socket not connected")
	}
	return c.Emit(ctx, event, data)
}

// Conn is a single logical stream connection that survives transport
// failures by reconnecting.
type Conn struct {
	opts     Options
	logger   *zap.Logger
	handlers *Hub

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}

	writeMu sync.Mutex

	mu            sync.Mutex
	transport     Transport
	closeSession  context.CancelFunc
	preferred     string
	connected     bool
	authenticated bool
}

func newConn(opts Options, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:      opts,
		logger:    logger,
		handlers:  NewHub(logger),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		kick:      make(chan struct{}, 1),
		preferred: TransportWebsocket,
	}
	go c.run()
	return c
}

// On registers fn for event.
func (c *Conn) On(event string, fn Handler) *Subscription {
	return c.handlers.On(event, fn)
}

// Done is closed once the connection has been shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// IsConnected reports whether the Socket.IO namespace is connected.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsAuthenticated reports the advisory result of the auth handshake.
func (c *Conn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// TransportName returns the transport currently preferred.
func (c *Conn) TransportName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferred
}

// Emit sends a named event.
func (c *Conn) Emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	t, connected := c.transport, c.connected
	c.mu.Unlock()
	if t == nil || !connected {
		return apperr.New(apperr.CodeNetwork, "socket not connected")
	}
	return c.send(ctx, t, event, data)
}

func (c *Conn) send(ctx context.Context, t Transport, event string, data any) error {
	body, err := encodeEvent(event, data)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "encode event "+event)
	}
	return c.write(ctx, t, Packet{Type: eioMessage, Data: body})
}

func (c *Conn) write(ctx context.Context, t Transport, p Packet) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := t.Write(ctx, p); err != nil {
		return apperr.Wrap(err, apperr.CodeNetwork, "socket write")
	}
	return nil
}

// Reconnect drops the current transport, if any, and restarts the
// connection loop with a fresh attempt budget.
func (c *Conn) Reconnect() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
	c.mu.Lock()
	closeSession := c.closeSession
	c.mu.Unlock()
	if closeSession != nil {
		closeSession()
	}
	c.logger.Info("reconnect requested")
}

func (c *Conn) shutdown() {
	c.cancel()
}

func (c *Conn) kicked() bool {
	select {
	case <-c.kick:
		return true
	default:
		return false
	}
}

func (c *Conn) run() {
	defer close(c.done)

	bo := c.opts.Reconnect.Backoff()
	failures := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		kind := c.preferred
		c.mu.Unlock()

		established, err := c.session(kind)
		if c.ctx.Err() != nil {
			return
		}
		if c.kicked() {
			failures = 0
			bo.Reset()
			c.setPreferred(TransportWebsocket)
			continue
		}
		if established {
			failures = 0
			bo.Reset()
		}
		failures++
		c.logger.Warn("socket connection lost",
			zap.String("transport", kind),
			zap.Int("failures", failures),
			zap.Error(err),
		)

		if kind == TransportWebsocket && failures >= c.opts.FallbackAfter {
			c.setPreferred(TransportPolling)
			c.logger.Warn("downgrading transport",
				zap.String("from", TransportWebsocket),
				zap.String("to", TransportPolling),
			)
		}

		if failures > c.opts.ReconnectAttempts {
			c.logger.Error("giving up reconnecting", zap.Int("attempts", c.opts.ReconnectAttempts))
			c.handlers.Dispatch(NewEvent(EventReconnectFailed))
			select {
			case <-c.ctx.Done():
				return
			case <-c.kick:
				failures = 0
				bo.Reset()
				c.setPreferred(TransportWebsocket)
				continue
			}
		}

		delay := bo.NextBackOff()
		c.logger.Info("reconnect attempt",
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
		)
		c.handlers.Dispatch(NewEvent(EventReconnectAttempt, failures))

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-c.kick:
			timer.Stop()
			failures = 0
			bo.Reset()
			c.setPreferred(TransportWebsocket)
		case <-timer.C:
		}
	}
}

func (c *Conn) setPreferred(kind string) {
	c.mu.Lock()
	c.preferred = kind
	c.mu.Unlock()
}

// session runs one transport until it fails. established is true when the
// namespace connect completed.
func (c *Conn) session(kind string) (established bool, err error) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	c.mu.Lock()
	c.closeSession = cancel
	c.mu.Unlock()

	t := c.opts.NewTransport(kind)
	c.logger.Info("socket dialing", zap.String("transport", kind), zap.String("origin", c.opts.Origin))

	openCtx, openCancel := context.WithTimeout(ctx, openTimeout)
	hs, err := t.Open(openCtx)
	openCancel()
	if err != nil {
		c.mu.Lock()
		c.closeSession = nil
		c.mu.Unlock()
		t.Close()
		return false, fmt.Errorf("open %s: %w", kind, err)
	}
	c.logger.Info("engine open",
		zap.String("transport", kind),
		zap.String("sid", hs.SID),
		zap.Duration("ping_interval", hs.PingInterval),
	)

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	reason := "transport error"
	defer func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.transport = nil
		c.closeSession = nil
		c.connected = false
		c.authenticated = false
		c.mu.Unlock()
		t.Close()
		if wasConnected {
			c.logger.Info("socket disconnected", zap.String("reason", reason))
			c.handlers.Dispatch(NewEvent(EventDisconnect, reason))
		}
	}()

	if err := c.write(ctx, t, Packet{Type: eioMessage, Data: []byte{sioConnect}}); err != nil {
		return false, err
	}

	timeout := hs.ReadTimeout()
	for {
		readCtx, readCancel := context.WithTimeout(ctx, timeout)
		p, err := t.Read(readCtx)
		readCancel()
		if err != nil {
			if ctx.Err() != nil {
				reason = "io client disconnect"
			} else {
				reason = "ping timeout or transport close"
			}
			return established, err
		}

		switch p.Type {
		case eioPing:
			if err := c.write(ctx, t, Packet{Type: eioPong, Data: p.Data}); err != nil {
				return established, err
			}
		case eioClose:
			reason = "transport close"
			return established, errServerClosed
		case eioMessage:
			ok, err := c.handleMessage(ctx, t, p.Data)
			if ok {
				established = true
			}
			if err != nil {
				reason = "io server disconnect"
				return established, err
			}
		}
	}
}

// handleMessage processes a Socket.IO packet. connected is true when the
// packet completed the namespace connect.
func (c *Conn) handleMessage(ctx context.Context, t Transport, data []byte) (connected bool, err error) {
	sp, err := decodeSocketPacket(data)
	if err != nil {
		c.logger.Debug("dropping malformed packet", zap.Error(err))
		return false, nil
	}
	if sp.Namespace != "/" {
		return false, nil
	}

	switch sp.Type {
	case sioConnect:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.logger.Info("socket connected",
			zap.String("transport", t.Name()),
			zap.String("sid", gjson.GetBytes(sp.Payload, "sid").String()),
		)
		c.authenticate(ctx, t)
		c.handlers.Dispatch(NewEvent(EventConnect))
		return true, nil

	case sioDisconnect:
		return false, errServerDisconnect

	case sioConnectError:
		c.logger.Warn("socket connect error", zap.ByteString("payload", sp.Payload))
		return false, fmt.Errorf("socket: connect error: %s", sp.Payload)

	case sioEvent:
		ev, err := parseEvent(sp.Payload)
		if err != nil {
			c.logger.Debug("dropping malformed event", zap.Error(err))
			return false, nil
		}
		c.observe(ev)
		c.handlers.Dispatch(ev)
	}
	return false, nil
}

func (c *Conn) authenticate(ctx context.Context, t Transport) {
	token := ""
	if c.opts.Tokens != nil {
		token = c.opts.Tokens.Token()
	}
	if token == "" {
		c.logger.Warn("no credential token, stream stays unauthenticated")
		return
	}
	if err := c.send(ctx, t, EventAuth, map[string]string{"token": token}); err != nil {
		c.logger.Warn("auth emit failed", zap.Error(err))
		return
	}
	c.logger.Debug("auth emitted")
}

// observe tracks the advisory auth flag.
func (c *Conn) observe(ev Event) {
	switch ev.Name {
	case EventAuthSuccess:
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.logger.Info("socket authenticated", zap.String("user_id", ev.Data().Get("userId").String()))
	case EventAuthError:
		c.mu.Lock()
		c.authenticated = false
		c.mu.Unlock()
		c.logger.Warn("socket auth rejected", zap.String("message", ev.Data().Get("message").String()))
	}
}
