// Package engine implements the DNS-SD service discovery resolution engine:
// the state machine that turns user-declared queries into live, filtered
// collections of resolved service instances, plus the lifecycle controller
// that brings it up and down with the network.
package engine

import (
	"context"
	"sync"

	"github.com/fenwick-io/dnsdisco/dnssd"
	"github.com/fenwick-io/dnsdisco/lookup"
)

// Engine is the public façade (C8) over the resolution state machine and
// its lifecycle controller. All of its methods are safe to call from any
// goroutine: they submit a command to the single-threaded event loop and
// block until it has run, per §5's concurrency model.
type Engine struct {
	lc     *lifecycle
	cancel context.CancelFunc

	mu      sync.Mutex
	queries []*UserQuery
}

// New constructs and starts an Engine. The returned Engine is not running
// (see [Engine.SetRunning]) until the caller explicitly starts it; the
// network watchdog and lifecycle goroutine are live immediately, so that
// networkReady/lookupReady can become true in the background.
func New(options ...Option) *Engine {
	cfg := resolveOptions(options)

	lc := newLifecycle(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{lc: lc, cancel: cancel}

	go lc.run(ctx)

	return e
}

// Close stops the lifecycle goroutine, tearing down any open session and
// lookup backend. An Engine must not be used after Close returns.
func (e *Engine) Close() {
	e.cancel()
	<-e.lc.done
}

// Running reports whether the engine has been told to run queries.
func (e *Engine) Running() bool {
	var v bool
	e.lc.do(func() { v = e.lc.running })
	return v
}

// SetRunning implements §6's running property setter, driving §4.7's
// "Running set true/false" transitions.
func (e *Engine) SetRunning(running bool) {
	e.lc.do(func() { e.lc.setRunning(running) })
}

// NetworkReady reports §4.7's networkReady flag.
func (e *Engine) NetworkReady() bool {
	var v bool
	e.lc.do(func() { v = e.lc.networkReady })
	return v
}

// LookupReady reports §4.7's lookupReady flag.
func (e *Engine) LookupReady() bool {
	var v bool
	e.lc.do(func() { v = e.lc.lookupReady })
	return v
}

// LookupMode returns the engine's current [lookup.Mode].
func (e *Engine) LookupMode() lookup.Mode {
	var v lookup.Mode
	e.lc.do(func() { v = e.lc.mode })
	return v
}

// SetLookupMode implements §4.7's Mode change transition.
func (e *Engine) SetLookupMode(mode lookup.Mode) {
	e.lc.do(func() { e.lc.setMode(mode) })
}

// NameServers returns the unicast name servers most recently configured.
func (e *Engine) NameServers() []lookup.NameServer {
	var v []lookup.NameServer
	e.lc.do(func() { v = append([]lookup.NameServer(nil), e.lc.nameServers...) })
	return v
}

// UpdateNameServers implements §6's updateNameServers/NameServers changed
// transition, replacing the entire list.
func (e *Engine) UpdateNameServers(servers []lookup.NameServer) {
	e.lc.do(func() { e.lc.setNameServers(servers) })
}

// AddNameServer implements §6's addNameServer.
func (e *Engine) AddNameServer(server lookup.NameServer) {
	e.lc.do(func() {
		servers := append(append([]lookup.NameServer(nil), e.lc.nameServers...), server)
		e.lc.setNameServers(servers)
	})
}

// RemoveNameServer implements §6's removeNameServer(index).
func (e *Engine) RemoveNameServer(index int) {
	e.lc.do(func() {
		if index < 0 || index >= len(e.lc.nameServers) {
			return
		}
		servers := append([]lookup.NameServer(nil), e.lc.nameServers...)
		servers = append(servers[:index], servers[index+1:]...)
		e.lc.setNameServers(servers)
	})
}

// ClearNameServers implements §6's clearNameServers.
func (e *Engine) ClearNameServers() {
	e.lc.do(func() { e.lc.setNameServers(nil) })
}

// Filter returns the engine's current primary [dnssd.Filter]. This reflects
// the lifecycle controller's persisted value (see [Engine.UpdateFilter]),
// not just whatever the current resolver happens to hold.
func (e *Engine) Filter() dnssd.Filter {
	var v dnssd.Filter
	e.lc.do(func() { v = e.lc.primaryFilter })
	return v
}

// UpdateFilter implements §6's updateFilter, replacing the engine-wide
// primary filter and re-projecting every UserQuery (P5). The filter is
// persisted on the lifecycle controller, so it survives a backend
// teardown/reinitialization (a link flap, or [Engine.SetLookupMode])
// instead of being silently reset to match-all.
func (e *Engine) UpdateFilter(f dnssd.Filter) {
	e.lc.do(func() { e.lc.setPrimaryFilter(f) })
}

// AddQuery registers q with the engine and immediately calls
// [Engine.UpdateServices] to reconcile the required ServiceType set. It
// returns an error, rejecting q without registering it, if q.ServiceType
// is not syntactically valid (see [dnssd.ValidateServiceType]).
func (e *Engine) AddQuery(q *UserQuery) error {
	if err := dnssd.ValidateServiceType(q.ServiceType); err != nil {
		return err
	}

	e.mu.Lock()
	e.queries = append(e.queries, q)
	queries := append([]*UserQuery(nil), e.queries...)
	e.mu.Unlock()

	return e.UpdateServices(queries)
}

// RemoveQuery unregisters q and reconciles.
func (e *Engine) RemoveQuery(q *UserQuery) {
	e.mu.Lock()
	for i, existing := range e.queries {
		if existing == q {
			e.queries = append(e.queries[:i], e.queries[i+1:]...)
			break
		}
	}
	queries := append([]*UserQuery(nil), e.queries...)
	e.mu.Unlock()

	_ = e.UpdateServices(queries)
}

// UpdateServices implements §4.5's updateServices against an explicit
// query list, replacing the engine's tracked set of UserQueries. Most
// callers should prefer [Engine.AddQuery]/[Engine.RemoveQuery]; this is
// exposed directly for callers that manage their own UserQuery slice and
// want §6's updateServices idempotence (P6) without going through
// add/remove.
//
// Every query's ServiceType is validated (see [dnssd.ValidateServiceType])
// before any change is applied; if any is malformed, UpdateServices returns
// an error and leaves the engine's tracked query set unchanged.
func (e *Engine) UpdateServices(queries []*UserQuery) error {
	for _, q := range queries {
		if err := dnssd.ValidateServiceType(q.ServiceType); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.queries = append([]*UserQuery(nil), queries...)
	e.mu.Unlock()

	e.lc.do(func() {
		e.lc.queries = queries
		if e.lc.resolver != nil {
			e.lc.resolver.updateServices(queries)
		}
	})

	return nil
}
