// Package netlink defines the network-link interface the lifecycle
// controller (engine's C7) consumes to learn when a usable network
// connection appears and disappears, per spec §6/§4.7.
package netlink

import "context"

// Bearer identifies the physical or logical carrier of a network
// Configuration. Only Ethernet, WLAN, and Unknown are acceptable bearers
// for opening a Session (P8); all others (Cellular, etc.) are never
// reported by [PollingWatchdog].
type Bearer int

const (
	// Ethernet is a wired network interface.
	Ethernet Bearer = iota

	// WLAN is a wireless network interface.
	WLAN

	// Unknown is any bearer the watchdog cannot otherwise classify but
	// that is still eligible for a Session, per §6.
	Unknown

	// Cellular and any other bearer type the watchdog can positively
	// identify as ineligible are never surfaced as a Configuration; see
	// [Watchdog].
	Cellular
)

// String returns a human-readable name for the bearer.
func (b Bearer) String() string {
	switch b {
	case Ethernet:
		return "ethernet"
	case WLAN:
		return "wlan"
	case Unknown:
		return "unknown"
	case Cellular:
		return "cellular"
	default:
		return "bearer"
	}
}

// Eligible reports whether b is an acceptable bearer for opening a
// Session, per P8 (sessions are opened only on Ethernet/WLAN/Unknown).
func (b Bearer) Eligible() bool {
	return b == Ethernet || b == WLAN || b == Unknown
}

// Configuration is one candidate network configuration the watchdog has
// discovered, named after the host's interface.
type Configuration struct {
	// Name is the interface name (e.g. "eth0", "en0").
	Name string

	// Bearer is the link type carrying this configuration.
	Bearer Bearer

	// IsDefault is true for the configuration the watchdog considers the
	// system's default route, used to break ties when more than one
	// eligible Configuration is available (§4.7: "prefer the
	// system-default configuration").
	IsDefault bool
}

// Session represents an open binding to one Configuration. Opening and
// closing a Session are the triggers for the lifecycle controller's
// networkReady transitions (§4.7).
type Session interface {
	// Open binds the session to its configuration, returning an error if
	// it cannot; Open corresponds to the "Session opened"/error events of
	// §4.7.
	Open(ctx context.Context) error

	// Close releases the session. Corresponds to the "Session closed"
	// event of §4.7.
	Close() error

	// Configuration returns the configuration this session was opened
	// against.
	Configuration() Configuration
}

// Event describes a single link-state change reported by a [Watchdog].
type Event struct {
	// Kind classifies the event.
	Kind EventKind

	// Configuration is populated for EventLinkDiscovered, EventLinkLost and
	// EventSessionOpened; it names the configuration that changed state.
	Configuration Configuration

	// Session is populated for EventSessionOpened and EventSessionClosed.
	Session Session

	// Err is populated for EventSessionError.
	Err error
}

// EventKind classifies a [Event].
type EventKind int

const (
	// EventLinkDiscovered reports a newly eligible Configuration, per
	// §4.7's "Link discovered" transition.
	EventLinkDiscovered EventKind = iota

	// EventLinkLost reports a previously eligible Configuration that is no
	// longer available.
	EventLinkLost

	// EventSessionOpened reports a Session successfully opened.
	EventSessionOpened

	// EventSessionClosed reports a Session closing, whether requested or
	// due to the underlying link disappearing.
	EventSessionClosed

	// EventSessionError reports a Session open/runtime error.
	EventSessionError
)

// Watchdog observes the host's network configurations and emits [Event]
// values describing their lifecycle, per §4.7's "start network watchdog
// (periodic 3s configuration refresh)".
type Watchdog interface {
	// Run starts the watchdog's observation loop, delivering events on the
	// returned channel until ctx is canceled, at which point the channel
	// is closed.
	Run(ctx context.Context) <-chan Event
}
