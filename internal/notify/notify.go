// Package notify shows desktop notifications for inbound messages.
package notify

import (
	"os"
	"runtime"
	"sync"
	"unicode/utf8"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
)

const maxBody = 120

// Platform is the OS notifier.
type Platform interface {
	// Available reports whether notifications can be shown at all.
	Available() bool
	Notify(title, body string) error
	Beep() error
}

// DesktopPlatform notifies through beeep.
type DesktopPlatform struct {
	GOOS   string
	Getenv func(string) string
}

// NewDesktopPlatform returns the platform of the running process.
func NewDesktopPlatform() *DesktopPlatform {
	return &DesktopPlatform{GOOS: runtime.GOOS, Getenv: os.Getenv}
}

// Available is false on Linux without a display or session bus, where
// notify-send has nowhere to go.
func (p *DesktopPlatform) Available() bool {
	if p.GOOS != "linux" && p.GOOS != "freebsd" {
		return true
	}
	for _, k := range []string{"DISPLAY", "WAYLAND_DISPLAY", "DBUS_SESSION_BUS_ADDRESS"} {
		if p.Getenv(k) != "" {
			return true
		}
	}
	return false
}

func (p *DesktopPlatform) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}

func (p *DesktopPlatform) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Options configures a Dispatcher.
type Options struct {
	Enabled bool
	Sound   bool
	Logger  *zap.Logger
}

// Dispatcher decides whether a message deserves a notification.
type Dispatcher struct {
	platform Platform
	opts     Options
	logger   *zap.Logger

	once    sync.Once
	mu      sync.Mutex
	allowed bool
}

// NewDispatcher creates a dispatcher. A nil platform disables notifications.
func NewDispatcher(p Platform, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{platform: p, opts: opts, logger: opts.Logger.Named("notify")}
}

// RequestPermission probes the platform once. Later calls return the
// first answer. A refusal silently disables notifications.
func (d *Dispatcher) RequestPermission() bool {
	d.once.Do(func() {
		ok := d.opts.Enabled && d.platform != nil && d.platform.Available()
		d.mu.Lock()
		d.allowed = ok
		d.mu.Unlock()
		d.logger.Info("notification permission", zap.Bool("granted", ok))
	})
	return d.Allowed()
}

// Allowed reports the outcome of RequestPermission.
func (d *Dispatcher) Allowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allowed
}

// MessageArrived notifies about m unless it is not inbound or the user is
// already looking at its conversation. It reports whether a notification
// was shown.
func (d *Dispatcher) MessageArrived(m chat.Message, title string, focused bool) bool {
	if m.Direction != chat.DirectionIn || focused {
		return false
	}
	if !d.RequestPermission() {
		return false
	}
	if title == "" {
		title = m.SenderAddress
	}
	if title == "" {
		title = "New message"
	}
	if err := d.platform.Notify(title, truncate(m.Body)); err != nil {
		d.logger.Warn("notification failed", zap.Error(err))
		return false
	}
	if d.opts.Sound {
		if err := d.platform.Beep(); err != nil {
			d.logger.Debug("beep failed", zap.Error(err))
		}
	}
	return true
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxBody {
		return s
	}
	r := []rune(s)
	return string(r[:maxBody-1]) + "…"
}
