// Package app wires the client components together.
package app

import (
	"context"
	"sync/atomic"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Xfuse1/whatsapp-crm/internal/bus"
	"github.com/Xfuse1/whatsapp-crm/internal/config"
	"github.com/Xfuse1/whatsapp-crm/internal/credentials"
	"github.com/Xfuse1/whatsapp-crm/internal/gateway"
	"github.com/Xfuse1/whatsapp-crm/internal/inbox"
	"github.com/Xfuse1/whatsapp-crm/internal/logging"
	"github.com/Xfuse1/whatsapp-crm/internal/notify"
	"github.com/Xfuse1/whatsapp-crm/internal/outbox"
	"github.com/Xfuse1/whatsapp-crm/internal/profile"
	"github.com/Xfuse1/whatsapp-crm/internal/socket"
	"github.com/Xfuse1/whatsapp-crm/internal/status"
)

// Params holds the resolved profile and configuration passed to the module.
type Params struct {
	Profile string
	Config  *config.Config
	// Console also logs warnings to stderr.
	Console bool
	// Live connects the event stream and starts status polling on start.
	Live bool
	// Logger replaces the file logger, used by tests.
	Logger *zap.Logger
}

// Focus tracks whether the open conversation is on screen.
type Focus struct {
	visible atomic.Bool
}

// Set records whether the conversation view is showing.
func (f *Focus) Set(v bool) { f.visible.Store(v) }

// Visible reports the last value passed to Set.
func (f *Focus) Visible() bool { return f.visible.Load() }

// Client exposes the wired components to the front ends.
type Client struct {
	Profile  string
	Config   *config.Config
	Logger   *zap.Logger
	Bus      *bus.Bus
	Creds    *credentials.Store
	Gateway  *gateway.Client
	Socket   *socket.Manager
	Tracker  *status.Tracker
	Monitor  *status.Monitor
	Notifier *notify.Dispatcher
	Sender   *outbox.Sender
	Chats    *inbox.ChatList
	Inbox    *inbox.Reconciler
	Engine   *inbox.Engine
	Focus    *Focus
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("crm",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideCredentials,
			provideGateway,
			provideTracker,
			provideMonitor,
			provideSocket,
			provideNotifier,
			provideSender,
			provideChatList,
			provideFocus,
			provideReconciler,
			provideEngine,
			NewClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Logger routes fx's own events into the zap logger.
func Logger() fx.Option {
	return fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
		zl := &fxevent.ZapLogger{Logger: l.Named("fx")}
		zl.UseLogLevel(zapcore.DebugLevel)
		return zl
	})
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Config.LogLevel, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideCredentials(p Params) (*credentials.Store, error) {
	return credentials.Open(profile.CredentialsPath(p.Profile))
}

func provideGateway(p Params, creds *credentials.Store, logger *zap.Logger) *gateway.Client {
	return gateway.New(gateway.Options{
		BaseURL:  p.Config.APIBaseURL,
		Tokens:   creds,
		Policy:   p.Config.RetryPolicy(),
		Cooldown: p.Config.RateLimitCooldown.Duration,
		Logger:   logger,
	})
}

func provideTracker(b *bus.Bus) *status.Tracker {
	return status.NewTracker(b)
}

func provideMonitor(p Params, gw *gateway.Client, tracker *status.Tracker, logger *zap.Logger) *status.Monitor {
	return status.NewMonitor(gw, tracker, status.MonitorOptions{
		StatusInterval: p.Config.StatusPollInterval.Duration,
		QRInterval:     p.Config.QRPollInterval.Duration,
		Cooldown:       p.Config.RateLimitCooldown.Duration,
		Logger:         logger,
	})
}

func provideSocket(p Params, creds *credentials.Store, logger *zap.Logger) *socket.Manager {
	return socket.NewManager(socket.Options{
		Origin:            socket.Origin(p.Config.APIBaseURL),
		Tokens:            creds,
		Reconnect:         p.Config.ReconnectPolicy(),
		ReconnectAttempts: p.Config.Socket.ReconnectAttempts,
		FallbackAfter:     p.Config.Socket.FallbackAfter,
		Logger:            logger,
	})
}

func provideNotifier(p Params, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(notify.NewDesktopPlatform(), notify.Options{
		Enabled: p.Config.Notifications,
		Sound:   p.Config.Sound,
		Logger:  logger,
	})
}

func provideSender(gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(gw, b, logger)
}

func provideChatList(gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *inbox.ChatList {
	return inbox.NewChatList(gw, b, logger)
}

func provideFocus() *Focus {
	return &Focus{}
}

func provideReconciler(gw *gateway.Client, sender *outbox.Sender, chats *inbox.ChatList, b *bus.Bus, n *notify.Dispatcher, tracker *status.Tracker, focus *Focus, logger *zap.Logger) *inbox.Reconciler {
	return inbox.NewReconciler(gw, sender, chats, b, inbox.Options{
		Notifier: n,
		Tracker:  tracker,
		Visible:  focus.Visible,
		Logger:   logger,
	})
}

func provideEngine(rec *inbox.Reconciler, logger *zap.Logger) *inbox.Engine {
	return inbox.NewEngine(rec, logger)
}

// NewClient collects the components.
func NewClient(p Params, logger *zap.Logger, b *bus.Bus, creds *credentials.Store, gw *gateway.Client, sm *socket.Manager,
	tracker *status.Tracker, mon *status.Monitor, n *notify.Dispatcher, sender *outbox.Sender,
	chats *inbox.ChatList, rec *inbox.Reconciler, engine *inbox.Engine, focus *Focus) *Client {
	return &Client{
		Profile:  p.Profile,
		Config:   p.Config,
		Logger:   logger,
		Bus:      b,
		Creds:    creds,
		Gateway:  gw,
		Socket:   sm,
		Tracker:  tracker,
		Monitor:  mon,
		Notifier: n,
		Sender:   sender,
		Chats:    chats,
		Inbox:    rec,
		Engine:   engine,
		Focus:    focus,
	}
}

// GoLive connects the event stream and starts the status monitor. It is
// safe to call again after Offline.
func (c *Client) GoLive(ctx context.Context) {
	c.Notifier.RequestPermission()
	if err := c.Tracker.SetTransport(status.Connecting); err != nil {
		c.Logger.Debug("transport already active", zap.Error(err))
	}
	conn := c.Socket.Connect()
	c.Monitor.Attach(conn)
	c.Engine.Start(conn)
	c.Monitor.Start(ctx)
}

// Offline stops polling, releases stream subscriptions and tears the
// event stream down.
func (c *Client) Offline() {
	c.Engine.Stop()
	c.Monitor.Stop()
	c.Socket.Disconnect()
	if err := c.Tracker.SetTransport(status.Disconnected); err != nil {
		c.Logger.Debug("transport change ignored", zap.Error(err))
	}
}

// Reconnect restarts the event stream, going live again when the client
// was taken offline.
func (c *Client) Reconnect(ctx context.Context) {
	if c.Socket.Current() == nil {
		c.GoLive(ctx)
		return
	}
	c.Socket.Reconnect()
}

// Logout forgets the stored credentials and drops the stream, which was
// authenticated with them.
func (c *Client) Logout() error {
	c.Offline()
	return c.Creds.Clear()
}

func registerLifecycle(lc fx.Lifecycle, p Params, c *Client) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if p.Live {
				c.GoLive(context.Background())
			}
			c.Logger.Info("client started", zap.Bool("live", p.Live), zap.String("api", p.Config.APIBaseURL))
			return nil
		},
		OnStop: func(_ context.Context) error {
			if p.Live {
				c.Offline()
			}
			c.Logger.Info("client stopped")
			_ = c.Logger.Sync()
			return nil
		},
	})
}
