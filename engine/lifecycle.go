package engine

import (
	"context"
	"time"

	"github.com/fenwick-io/dnsdisco/dnssd"
	"github.com/fenwick-io/dnsdisco/lookup"
	"github.com/fenwick-io/dnsdisco/netlink"
)

// lifecycle is the controller described by spec §4.7: it owns the network
// watchdog, the current network/lookup session, the unicast refresh timer,
// and drives the resolver through link-up/link-down/mode-change
// transitions.
//
// Per §5's single-threaded cooperative event-loop model, every state
// transition runs inside lifecycle.run's single goroutine; commands from
// the façade (C8) and events from the watchdog/backend/timers are all
// serialized through the same select loop, so the resolver and instance
// tables never need locks.
type lifecycle struct {
	resolver *resolver
	cfg      config

	watchdog netlink.Watchdog

	networkReady  bool
	lookupReady   bool
	running       bool
	mode          lookup.Mode
	nameServers   []lookup.NameServer
	primaryFilter dnssd.Filter

	session netlink.Session
	backend lookup.Backend
	queries []*UserQuery

	refreshTicker *time.Ticker

	commands chan func()
	done     chan struct{}
}

func newLifecycle(cfg config) *lifecycle {
	return &lifecycle{
		cfg:         cfg,
		watchdog:    cfg.watchdog,
		mode:        cfg.mode,
		nameServers: cfg.nameServers,
		commands:    make(chan func()),
		done:        make(chan struct{}),
	}
}

// run is the controller's single event-loop goroutine. It implements the
// ComponentComplete transition of §4.7 ("start network watchdog; begin
// link-up sequence") and then services watchdog events, façade commands,
// and the unicast refresh timer until ctx is canceled.
func (l *lifecycle) run(ctx context.Context) {
	defer close(l.done)

	events := l.watchdog.Run(ctx)

	for {
		var refreshC <-chan time.Time
		if l.refreshTicker != nil {
			refreshC = l.refreshTicker.C
		}

		select {
		case <-ctx.Done():
			l.teardownSession()
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			l.handleLinkEvent(ctx, ev)

		case cmd := <-l.commands:
			cmd()

		case <-refreshC:
			if l.mode == lookup.Unicast && l.lookupReady {
				for _, serviceType := range l.resolver.table.serviceTypes() {
					l.resolver.refreshQuery(serviceType)
				}
			}
		}
	}
}

// do submits fn to run inside the event loop and blocks until it has. The
// façade (C8) uses this to serialize every public mutation, per §5.
func (l *lifecycle) do(fn func()) {
	done := make(chan struct{})
	select {
	case l.commands <- func() { fn(); close(done) }:
		<-done
	case <-l.done:
	}
}

// handleLinkEvent implements §4.7's Link discovered / Session opened /
// Session closed transitions.
//
// §4.7 requires preferring "the system-default configuration" when more
// than one eligible Configuration is available. Configurations are
// discovered one at a time as separate events, so this is enforced by
// swapping to a newly discovered default configuration whenever the
// currently open session isn't already on one, rather than by only ever
// considering whichever configuration happens to be discovered first.
func (l *lifecycle) handleLinkEvent(ctx context.Context, ev netlink.Event) {
	switch ev.Kind {
	case netlink.EventLinkDiscovered:
		if l.session != nil {
			if !ev.Configuration.IsDefault || l.session.Configuration().IsDefault {
				return
			}
			l.teardownSession()
		}
		sess := netlink.NewSession(ev.Configuration)
		if err := sess.Open(ctx); err != nil {
			return
		}
		l.session = sess
		l.onSessionOpened()

	case netlink.EventLinkLost:
		if l.session == nil || l.session.Configuration().Name != ev.Configuration.Name {
			return
		}
		l.teardownSession()

	case netlink.EventSessionError:
		l.teardownSession()
	}
}

// onSessionOpened implements the "Session opened" transition: networkReady
// becomes true, then initLookup is attempted.
func (l *lifecycle) onSessionOpened() {
	l.networkReady = true
	l.initLookup()
}

// initLookup implements §4.7's initLookup(): construct and initialize the
// lookup backend for the current mode. On success, lookupReady becomes
// true, nameservers are pushed in unicast mode, the refresh timer starts,
// and queries start if running. On failure, networkReady is forced back to
// false so the watchdog retries (§7 error kind 1).
func (l *lifecycle) initLookup() {
	r := newResolver(nil)
	backend := l.cfg.newBackend(l.mode, r.bind())
	r.backend = backend
	r.unicastErrorThreshold = l.cfg.unicastErrorThreshold
	r.running = l.running
	r.primaryFilter = l.primaryFilter

	if err := backend.Init(context.Background(), l.mode, ""); err != nil {
		l.networkReady = false
		return
	}

	l.backend = backend
	l.resolver = r
	l.lookupReady = true

	if l.queries != nil {
		r.updateServices(l.queries)
	}

	if l.mode == lookup.Unicast {
		l.pushNameServers()
		l.startRefreshTimer()
	}

	if l.running {
		r.startAllQueries()
	}
}

// teardownSession implements §4.7's "Session closed" transition: tear down
// the lookup backend, flush the registry and all InstanceTables, and clear
// networkReady.
func (l *lifecycle) teardownSession() {
	l.stopRefreshTimer()

	if l.lookupReady {
		l.resolver.reset()
		_ = l.backend.Shutdown()
		l.lookupReady = false
		l.backend = nil
		l.resolver = nil
	}

	if l.session != nil {
		_ = l.session.Close()
		l.session = nil
	}

	l.networkReady = false
}

// setMode implements §4.7's Mode change transition: if lookupReady, tear
// down and re-initialize the backend in the new mode, resuming the prior
// running state.
func (l *lifecycle) setMode(mode lookup.Mode) {
	if l.mode == mode {
		return
	}
	l.mode = mode

	if !l.lookupReady {
		return
	}

	l.stopRefreshTimer()
	l.resolver.reset()
	_ = l.backend.Shutdown()
	l.lookupReady = false
	l.backend = nil
	l.resolver = nil

	l.initLookup()
}

// setRunning implements §4.7's Running set true/false transitions.
func (l *lifecycle) setRunning(running bool) {
	if l.running == running {
		return
	}
	l.running = running

	if l.resolver != nil {
		l.resolver.running = running
	}

	if !l.networkReady || !l.lookupReady {
		return
	}

	if running {
		l.resolver.startAllQueries()
		if l.mode == lookup.Unicast {
			l.startRefreshTimer()
		}
	} else {
		l.resolver.stopAllQueries()
		if l.mode == lookup.Unicast {
			l.stopRefreshTimer()
		}
	}
}

// setNameServers implements §4.7's NameServers changed transition.
func (l *lifecycle) setNameServers(servers []lookup.NameServer) {
	l.nameServers = append([]lookup.NameServer(nil), servers...)

	if l.mode != lookup.Unicast || !l.lookupReady {
		return
	}

	l.pushNameServers()

	if l.running {
		for _, serviceType := range l.resolver.table.serviceTypes() {
			l.resolver.refreshQuery(serviceType)
		}
	}
}

// setPrimaryFilter implements §6's updateFilter: the filter is persisted on
// the controller itself (surviving a backend teardown/reinit) and, if a
// resolver currently exists, applied to it immediately so every UserQuery
// re-projects (P5).
func (l *lifecycle) setPrimaryFilter(f dnssd.Filter) {
	l.primaryFilter = f
	if l.resolver != nil {
		l.resolver.setPrimaryFilter(f)
	}
}

func (l *lifecycle) pushNameServers() {
	servers := l.nameServers
	if len(servers) == 0 {
		// §7 error kind 6: fall back to system-provided nameservers.
		if sys, err := l.backend.SystemNameServers(); err == nil {
			servers = sys
		}
	}
	_ = l.backend.SetNameServers(servers)
}

func (l *lifecycle) startRefreshTimer() {
	l.stopRefreshTimer()
	l.refreshTicker = time.NewTicker(l.cfg.unicastInterval)
}

func (l *lifecycle) stopRefreshTimer() {
	if l.refreshTicker != nil {
		l.refreshTicker.Stop()
		l.refreshTicker = nil
	}
}
