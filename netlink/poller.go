package netlink

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultPollInterval is the watchdog's configuration refresh period, per
// §4.7's "periodic 3s configuration refresh".
const DefaultPollInterval = 3 * time.Second

// PollingWatchdog is a [Watchdog] built on net.Interfaces(), the only
// portable, unprivileged way to observe interface presence across
// platforms; see DESIGN.md for why this component is stdlib-only rather
// than built on a third-party dependency.
type PollingWatchdog struct {
	// Interval is how often the interface list is re-read. Defaults to
	// DefaultPollInterval.
	Interval time.Duration

	// Interfaces returns the current configurations available. Defaults
	// to [SystemInterfaces]; overridable for testing.
	Interfaces func() ([]Configuration, error)
}

// Run implements [Watchdog]. It polls Interfaces every Interval, diffing
// against the previously seen eligible set and emitting EventLinkDiscovered
// / EventLinkLost accordingly.
func (w *PollingWatchdog) Run(ctx context.Context) <-chan Event {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	list := w.Interfaces
	if list == nil {
		list = SystemInterfaces
	}

	events := make(chan Event)

	go func() {
		defer close(events)

		seen := map[string]Configuration{}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		poll := func() {
			configs, err := list()
			if err != nil {
				return
			}

			current := map[string]Configuration{}
			for _, c := range configs {
				if !c.Bearer.Eligible() {
					continue
				}
				current[c.Name] = c
			}

			for name, c := range current {
				if _, ok := seen[name]; !ok {
					select {
					case events <- Event{Kind: EventLinkDiscovered, Configuration: c}:
					case <-ctx.Done():
						return
					}
				}
			}

			for name, c := range seen {
				if _, ok := current[name]; !ok {
					select {
					case events <- Event{Kind: EventLinkLost, Configuration: c}:
					case <-ctx.Done():
						return
					}
				}
			}

			seen = current
		}

		poll()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return events
}

// SystemInterfaces enumerates the host's up, non-loopback network
// interfaces and classifies each by [Bearer], preferring the interface
// that owns the default route as the default Configuration.
//
// Bearer classification is a name-prefix heuristic (no example in the
// retrieved corpus classifies interfaces by bearer type); it recognizes the
// conventional Linux/BSD/Windows/macOS prefixes and otherwise reports
// Unknown, which remains eligible per P8.
func SystemInterfaces() ([]Configuration, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netlink: unable to enumerate network interfaces: %w", err)
	}

	defaultName := defaultRouteInterfaceName()

	var configs []Configuration
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		configs = append(configs, Configuration{
			Name:      iface.Name,
			Bearer:    classifyBearer(iface.Name),
			IsDefault: iface.Name == defaultName,
		})
	}

	return configs, nil
}

func classifyBearer(name string) Bearer {
	lower := strings.ToLower(name)

	switch {
	case strings.HasPrefix(lower, "eth"), strings.HasPrefix(lower, "en"), strings.HasPrefix(lower, "eno"):
		return Ethernet
	case strings.HasPrefix(lower, "wl"), strings.HasPrefix(lower, "wifi"), strings.HasPrefix(lower, "ath"):
		return WLAN
	case strings.HasPrefix(lower, "wwan"), strings.HasPrefix(lower, "ppp"), strings.HasPrefix(lower, "rmnet"):
		return Cellular
	default:
		return Unknown
	}
}

// defaultRouteInterfaceName best-efforts the name of the interface that
// would carry a packet to an arbitrary public address, by opening a UDP
// "connection" (no packet is sent) and inspecting the local address it
// would use. It returns the empty string if this cannot be determined.
func defaultRouteInterfaceName() string {
	conn, err := net.Dial("udp", "203.0.113.1:65535")
	if err != nil {
		return ""
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.Equal(local.IP) {
				return iface.Name
			}
		}
	}

	return ""
}

// session is the default [Session] implementation, opened against a
// Configuration discovered by a [PollingWatchdog].
type session struct {
	config Configuration
}

// NewSession returns a [Session] bound to config. Open/Close are no-ops
// beyond bookkeeping: the underlying socket binding happens in the lookup
// backend's Init, not here — this Session only represents "a network path
// exists", per §4.7's separation between link sessions and the lookup
// backend.
func NewSession(config Configuration) Session {
	return &session{config: config}
}

func (s *session) Open(ctx context.Context) error {
	return nil
}

func (s *session) Close() error {
	return nil
}

func (s *session) Configuration() Configuration {
	return s.config
}
