package status

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Xfuse1/whatsapp-crm/internal/bus"
)

// Transport is the state of the event-stream link.
type Transport string

const (
	Disconnected  Transport = "DISCONNECTED"
	Connecting    Transport = "CONNECTING"
	Connected     Transport = "CONNECTED"
	Authenticated Transport = "AUTHENTICATED"
	Reconnecting  Transport = "RECONNECTING"
)

// validTransitions defines allowed transport transitions.
var validTransitions = map[Transport][]Transport{
	Disconnected:  {Connecting, Connected, Reconnecting},
	Connecting:    {Connected, Reconnecting, Disconnected},
	Connected:     {Authenticated, Reconnecting, Disconnected},
	Authenticated: {Connected, Reconnecting, Disconnected},
	Reconnecting:  {Connecting, Connected, Disconnected},
}

// Upstream is the state of the backend's WhatsApp bridge.
type Upstream string

const (
	UpstreamUnknown  Upstream = "UNKNOWN"
	UpstreamUnlinked Upstream = "UNLINKED"
	UpstreamPairing  Upstream = "PAIRING"
	UpstreamLinked   Upstream = "LINKED"
)

// Snapshot is a consistent copy of both link axes.
type Snapshot struct {
	Transport        Transport
	Upstream         Upstream
	PhoneNumber      string
	SessionID        string
	QR               string
	Reason           string
	RateLimitedUntil time.Time
}

// Tracker holds the advisory connection state. Neither axis gates REST
// calls; they only drive banners and pairing.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *bus.Bus
	now  func() time.Time
}

// NewTracker starts disconnected with an unknown upstream.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		snap: Snapshot{Transport: Disconnected, Upstream: UpstreamUnknown},
		bus:  b,
		now:  time.Now,
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Transport returns the current transport state.
func (t *Tracker) Transport() Transport {
	return t.Snapshot().Transport
}

// Upstream returns the current upstream state.
func (t *Tracker) Upstream() Upstream {
	return t.Snapshot().Upstream
}

// SetTransport moves the transport axis. Moving to the current state is a
// no-op; an invalid move returns an error and leaves the state unchanged.
func (t *Tracker) SetTransport(to Transport) error {
	t.mu.Lock()
	from := t.snap.Transport
	if from == to {
		t.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		t.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	t.snap.Transport = to
	snap := t.snap
	t.mu.Unlock()

	t.publish(bus.KindLinkChanged, Change{Snapshot: snap, TransportFrom: from})
	return nil
}

// SetLinked records a paired bridge.
func (t *Tracker) SetLinked(phone, sessionID string) {
	t.updateUpstream(func(s *Snapshot) {
		s.Upstream = UpstreamLinked
		if phone != "" {
			s.PhoneNumber = phone
		}
		if sessionID != "" {
			s.SessionID = sessionID
		}
		s.QR = ""
		s.Reason = ""
	})
}

// SetUnlinked records that the bridge has no paired session. A pending
// pairing keeps its QR.
func (t *Tracker) SetUnlinked(reason string) {
	t.updateUpstream(func(s *Snapshot) {
		if s.Upstream == UpstreamPairing && reason == "" {
			return
		}
		s.Upstream = UpstreamUnlinked
		s.PhoneNumber = ""
		s.Reason = reason
		s.QR = ""
	})
}

// SetQR records a pairing code.
func (t *Tracker) SetQR(sessionID, qr string) {
	t.updateUpstream(func(s *Snapshot) {
		s.Upstream = UpstreamPairing
		s.QR = qr
		if sessionID != "" {
			s.SessionID = sessionID
		}
	})
	t.publish(bus.KindLinkQR, qr)
}

// SetRateLimited records the end of a rate-limit cool-down.
func (t *Tracker) SetRateLimited(until time.Time) {
	t.mu.Lock()
	t.snap.RateLimitedUntil = until
	snap := t.snap
	t.mu.Unlock()
	t.publish(bus.KindLinkChanged, Change{Snapshot: snap, TransportFrom: snap.Transport})
}

func (t *Tracker) updateUpstream(fn func(*Snapshot)) {
	t.mu.Lock()
	before := t.snap
	fn(&t.snap)
	snap := t.snap
	t.mu.Unlock()
	if snap != before {
		t.publish(bus.KindLinkChanged, Change{Snapshot: snap, TransportFrom: snap.Transport})
	}
}

func (t *Tracker) publish(kind string, payload any) {
	if t.bus != nil {
		t.bus.Emit(kind, payload)
	}
}

// Change is the payload of link.changed events.
type Change struct {
	Snapshot
	TransportFrom Transport
}

// Banner returns the degraded-mode message for the current state, or ""
// when everything is healthy.
func (t *Tracker) Banner() string {
	s := t.Snapshot()
	var parts []string
	switch s.Upstream {
	case UpstreamUnlinked:
		parts = append(parts, "WhatsApp is not linked. Press c to scan the QR code.")
	case UpstreamPairing:
		parts = append(parts, "Scan the QR code with WhatsApp to link this account.")
	}
	switch s.Transport {
	case Disconnected:
		parts = append(parts, "Live updates unavailable. Use :reconnect to retry.")
	case Reconnecting:
		parts = append(parts, "Reconnecting to live updates...")
	}
	if wait := s.RateLimitedUntil.Sub(t.now()); wait > 0 {
		parts = append(parts, fmt.Sprintf("Rate limited. Retrying in %ds.", int(wait.Round(time.Second)/time.Second)))
	}
	return strings.Join(parts, " | ")
}
