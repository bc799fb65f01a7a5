package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/gateway"
	"github.com/Xfuse1/whatsapp-crm/internal/socket"
)

// Source is the REST side of the upstream link status.
type Source interface {
	Status(ctx context.Context) (gateway.LinkStatus, error)
	QR(ctx context.Context) (string, error)
}

// EventSource delivers stream events.
type EventSource interface {
	On(event string, fn socket.Handler) *socket.Subscription
}

// MonitorOptions configures polling.
type MonitorOptions struct {
	StatusInterval time.Duration
	QRInterval     time.Duration
	// Cooldown is how long polling pauses after a rate-limited response.
	Cooldown time.Duration
	Logger   *zap.Logger
}

// Monitor keeps the Tracker current. Polling and stream events feed the
// same tracker updates.
type Monitor struct {
	src     Source
	tracker *Tracker
	opts    MonitorOptions
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	pairing     bool
	pausedUntil time.Time
	subs        []*socket.Subscription
	wake        chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(src Source, tracker *Tracker, opts MonitorOptions) *Monitor {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 10 * time.Second
	}
	if opts.QRInterval <= 0 {
		opts.QRInterval = 3 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Monitor{
		src:     src,
		tracker: tracker,
		opts:    opts,
		logger:  opts.Logger.Named("status"),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Attach subscribes to stream events. Subscriptions are released by Stop.
func (m *Monitor) Attach(events EventSource) {
	subs := []*socket.Subscription{
		events.On(socket.EventWhatsAppReady, func(ev socket.Event) {
			d := ev.Data()
			m.logger.Info("whatsapp ready", zap.String("session_id", d.Get("sessionId").String()))
			m.StopPairing()
			m.tracker.SetLinked(d.Get("phoneNumber").String(), d.Get("sessionId").String())
		}),
		events.On(socket.EventWhatsAppQR, func(ev socket.Event) {
			d := ev.Data()
			if qr := d.Get("qr").String(); qr != "" {
				m.tracker.SetQR(d.Get("sessionId").String(), qr)
			}
		}),
		events.On(socket.EventWhatsAppDisconnected, func(ev socket.Event) {
			reason := ev.Data().Get("reason").String()
			m.logger.Warn("whatsapp disconnected", zap.String("reason", reason))
			if reason == "" {
				reason = "disconnected"
			}
			m.tracker.SetUnlinked(reason)
		}),
		events.On(socket.EventConnect, func(socket.Event) { m.transport(Connected) }),
		events.On(socket.EventAuthSuccess, func(socket.Event) { m.transport(Authenticated) }),
		events.On(socket.EventAuthError, func(socket.Event) { m.transport(Connected) }),
		events.On(socket.EventDisconnect, func(socket.Event) { m.transport(Reconnecting) }),
		events.On(socket.EventReconnectAttempt, func(socket.Event) { m.transport(Reconnecting) }),
		events.On(socket.EventReconnectFailed, func(socket.Event) { m.transport(Disconnected) }),
	}
	m.mu.Lock()
	m.subs = append(m.subs, subs...)
	m.mu.Unlock()
}

func (m *Monitor) transport(to Transport) {
	if err := m.tracker.SetTransport(to); err != nil {
		m.logger.Debug("ignoring transport change", zap.Error(err))
	}
}

// Start begins polling. It is a no-op when already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.done)
	m.logger.Info("status monitor started", zap.Duration("interval", m.opts.StatusInterval))
}

// Stop halts polling, clears its timers and releases stream subscriptions.
func (m *Monitor) Stop() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	cancel, done, running := m.cancel, m.done, m.running
	m.running = false
	m.mu.Unlock()

	for _, s := range subs {
		s.Off()
	}
	if running {
		cancel()
		<-done
		m.logger.Info("status monitor stopped")
	}
}

// StartPairing additionally polls the QR endpoint until the bridge links.
func (m *Monitor) StartPairing() {
	m.mu.Lock()
	m.pairing = true
	m.mu.Unlock()
	m.logger.Info("pairing started")
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// StopPairing ends QR polling.
func (m *Monitor) StopPairing() {
	m.mu.Lock()
	m.pairing = false
	m.mu.Unlock()
}

// Pairing reports whether QR polling is active.
func (m *Monitor) Pairing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairing
}

// Paused reports whether polling is in a rate-limit cool-down.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.pausedUntil)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	statusTicker := time.NewTicker(m.opts.StatusInterval)
	defer statusTicker.Stop()
	qrTicker := time.NewTicker(m.opts.QRInterval)
	defer qrTicker.Stop()

	m.PollStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			m.PollStatus(ctx)
		case <-qrTicker.C:
			if m.Pairing() {
				m.PollQR(ctx)
			}
		case <-m.wake:
			m.PollQR(ctx)
		}
	}
}

// PollStatus fetches the link status once and applies it.
func (m *Monitor) PollStatus(ctx context.Context) {
	if m.Paused() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	st, err := m.src.Status(ctx)
	if err != nil {
		m.handleError("status", err)
		return
	}
	if st.IsConnected {
		if m.Pairing() {
			m.logger.Info("pairing complete", zap.String("session_id", st.SessionID))
		}
		m.StopPairing()
		m.tracker.SetLinked(st.PhoneNumber, st.SessionID)
		return
	}
	m.tracker.SetUnlinked("")
}

// PollQR fetches the pairing code once.
func (m *Monitor) PollQR(ctx context.Context) {
	if m.Paused() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	qr, err := m.src.QR(ctx)
	if err != nil {
		m.handleError("qr", err)
		return
	}
	if qr != "" {
		m.tracker.SetQR("", qr)
	}
}

func (m *Monitor) handleError(what string, err error) {
	if apperr.Is(err, apperr.CodeRateLimited) {
		until := m.now().Add(m.opts.Cooldown)
		m.mu.Lock()
		m.pausedUntil = until
		m.mu.Unlock()
		m.tracker.SetRateLimited(until)
		m.logger.Warn("polling paused", zap.String("endpoint", what), zap.Duration("cooldown", m.opts.Cooldown))
		return
	}
	m.logger.Warn("poll failed", zap.String("endpoint", what), zap.Error(err))
}
