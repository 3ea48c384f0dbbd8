package engine

import (
	"time"

	"github.com/fenwick-io/dnsdisco/lookup"
	"github.com/fenwick-io/dnsdisco/lookup/multicast"
	"github.com/fenwick-io/dnsdisco/lookup/unicast"
	"github.com/fenwick-io/dnsdisco/netlink"
)

// Option changes the behavior of a newly constructed [Engine], following
// the functional-options pattern.
type Option func(*config)

// WithLookupMode sets the engine's initial [lookup.Mode]. Defaults to
// lookup.Multicast.
func WithLookupMode(mode lookup.Mode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithUnicastLookupInterval sets the unicast refresh timer period, per
// §6's unicastLookupInterval. Defaults to 5 seconds.
func WithUnicastLookupInterval(d time.Duration) Option {
	return func(c *config) {
		c.unicastInterval = d
	}
}

// WithUnicastErrorThreshold sets the purge pass's errorCount ceiling, per
// §6's unicastErrorThreshold. Defaults to 2.
func WithUnicastErrorThreshold(n int) Option {
	return func(c *config) {
		c.unicastErrorThreshold = n
	}
}

// WithWatchdogInterval sets the network watchdog's polling period, per
// §4.7's "periodic 3s configuration refresh". Defaults to
// [netlink.DefaultPollInterval].
func WithWatchdogInterval(d time.Duration) Option {
	return func(c *config) {
		c.watchdogInterval = d
	}
}

// WithWatchdog replaces the [netlink.Watchdog] the engine uses to observe
// link state. Defaults to a [netlink.PollingWatchdog].
func WithWatchdog(w netlink.Watchdog) Option {
	return func(c *config) {
		c.watchdog = w
	}
}

// WithBackendFactory replaces how the engine constructs a [lookup.Backend]
// for a given mode. Defaults to the real unicast/multicast backends;
// tests substitute a factory that returns a [lookuptest.Fake].
func WithBackendFactory(f func(lookup.Mode, lookup.Callbacks) lookup.Backend) Option {
	return func(c *config) {
		c.newBackend = f
	}
}

// WithNameServers seeds the engine's initial unicast name server list.
func WithNameServers(servers ...lookup.NameServer) Option {
	return func(c *config) {
		c.nameServers = append([]lookup.NameServer(nil), servers...)
	}
}

type config struct {
	mode                  lookup.Mode
	unicastInterval       time.Duration
	unicastErrorThreshold int
	watchdogInterval      time.Duration
	watchdog              netlink.Watchdog
	newBackend            func(lookup.Mode, lookup.Callbacks) lookup.Backend
	nameServers           []lookup.NameServer
}

func resolveOptions(options []Option) config {
	c := config{
		mode:                  lookup.Multicast,
		unicastInterval:       5 * time.Second,
		unicastErrorThreshold: 2,
		watchdogInterval:      netlink.DefaultPollInterval,
	}

	for _, opt := range options {
		opt(&c)
	}

	if c.watchdog == nil {
		c.watchdog = &netlink.PollingWatchdog{Interval: c.watchdogInterval}
	}

	if c.newBackend == nil {
		c.newBackend = defaultBackendFactory
	}

	return c
}

func defaultBackendFactory(mode lookup.Mode, cb lookup.Callbacks) lookup.Backend {
	if mode == lookup.Unicast {
		return unicast.New(cb)
	}
	return multicast.New(cb)
}
