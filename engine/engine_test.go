package engine_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenwick-io/dnsdisco/dnssd"
	. "github.com/fenwick-io/dnsdisco/engine"
	"github.com/fenwick-io/dnsdisco/lookup"
	"github.com/fenwick-io/dnsdisco/lookup/lookuptest"
	"github.com/fenwick-io/dnsdisco/netlink"
)

// fakeWatchdog lets a test drive link-discovered/link-lost events on its own
// schedule, standing in for a real netlink.PollingWatchdog the way
// lookuptest.Fake stands in for a real lookup.Backend.
type fakeWatchdog struct {
	events chan netlink.Event
}

func newFakeWatchdog() *fakeWatchdog {
	return &fakeWatchdog{events: make(chan netlink.Event)}
}

func (w *fakeWatchdog) Run(ctx context.Context) <-chan netlink.Event {
	return w.events
}

func (w *fakeWatchdog) discover(name string) {
	w.events <- netlink.Event{
		Kind:          netlink.EventLinkDiscovered,
		Configuration: netlink.Configuration{Name: name, Bearer: netlink.Ethernet, IsDefault: true},
	}
}

// fakeBackendFactory hands out lookuptest.Fake backends, remembering the
// most recently constructed one so a test can push records into whichever
// backend the lifecycle controller currently has live (it builds a fresh one
// on every (re-)initialization).
type fakeBackendFactory struct {
	mu     sync.Mutex
	latest *lookuptest.Fake
}

func (f *fakeBackendFactory) build(mode lookup.Mode, cb lookup.Callbacks) lookup.Backend {
	fake := lookuptest.NewFake(cb)

	f.mu.Lock()
	f.latest = fake
	f.mu.Unlock()

	return fake
}

func (f *fakeBackendFactory) current() *lookuptest.Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// watcher observes a UserQuery's ResolvedInstances via OnChange, which the
// resolver invokes on the engine's own event-loop goroutine (§5). A test
// must not read a UserQuery's fields directly from outside that goroutine;
// this mutex is the synchronization the façade actually promises (see
// UserQuery.OnChange).
type watcher struct {
	mu    sync.Mutex
	names []string
}

func newWatcher() *watcher {
	return &watcher{}
}

func (w *watcher) onChange(q *UserQuery) {
	names := make([]string, len(q.ResolvedInstances))
	for i, inst := range q.ResolvedInstances {
		names[i] = inst.Name
	}

	w.mu.Lock()
	w.names = names
	w.mu.Unlock()
}

func (w *watcher) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.names...)
}

func pushResolvedInstance(fake *lookuptest.Fake, serviceType, name string) {
	fake.Push(serviceType, lookup.Answer{
		Type: lookup.RecordTypePTR,
		TTL:  120,
		Name: name + "." + serviceType,
	})
	fake.Push(name+"."+serviceType, lookup.Answer{
		Type:  lookup.RecordTypeTXT,
		TTL:   120,
		Texts: []string{"path=/"},
	})
	fake.Push(name+"."+serviceType, lookup.Answer{
		Type: lookup.RecordTypeSRV,
		TTL:  120,
		Name: name + ".local.",
		Port: 8080,
	})
	fake.Push(name+".local.", lookup.Answer{
		Type:    lookup.RecordTypeA,
		TTL:     120,
		Address: "192.0.2.1",
	})
}

var _ = Describe("type Engine", func() {
	const serviceType = "_http._tcp.local."

	var (
		wd      *fakeWatchdog
		factory *fakeBackendFactory
		e       *Engine
		w       *watcher
		q       *UserQuery
	)

	BeforeEach(func() {
		wd = newFakeWatchdog()
		factory = &fakeBackendFactory{}
		w = newWatcher()
		q = &UserQuery{ServiceType: serviceType, RecordType: lookup.RecordTypeSRV, OnChange: w.onChange}

		e = New(
			WithWatchdog(wd),
			WithBackendFactory(factory.build),
			WithUnicastLookupInterval(10*time.Millisecond),
			WithUnicastErrorThreshold(1),
		)
		e.SetRunning(true)
	})

	AfterEach(func() {
		e.Close()
	})

	// Seed scenario: a single instance is discovered once the link comes up
	// and multicast queries begin.
	It("discovers a single instance once the network becomes ready", func() {
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.NetworkReady).Should(BeTrue())
		Eventually(e.LookupReady).Should(BeTrue())

		pushResolvedInstance(factory.current(), serviceType, "printer")

		Eventually(w.snapshot).Should(ConsistOf("printer"))
	})

	// Seed scenario: a goodbye (TTL zero) PTR answer removes a previously
	// resolved instance from every watching UserQuery.
	It("removes an instance on a goodbye message", func() {
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.LookupReady).Should(BeTrue())

		fake := factory.current()
		pushResolvedInstance(fake, serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))

		fake.Withdraw(serviceType, "printer."+serviceType)

		Eventually(w.snapshot).Should(BeEmpty())
	})

	// Seed scenario: in unicast mode, an instance that stops re-responding
	// to the periodic refresh is pruned once its errorCount exceeds the
	// configured threshold.
	It("prunes a stale instance under unicast refresh", func() {
		e.SetLookupMode(lookup.Unicast)
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.LookupReady).Should(BeTrue())

		fake := factory.current()
		pushResolvedInstance(fake, serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))

		// Stop re-announcing "printer"; the refresh timer (10ms) purges it
		// once its errorCount (threshold 1) is exceeded.
		Eventually(w.snapshot, time.Second, 5*time.Millisecond).Should(BeEmpty())
	})

	// Seed scenario: UpdateFilter narrows and then widens the visible set,
	// and is idempotent when reapplied with no change (P5).
	It("applies and relaxes the primary filter", func() {
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.LookupReady).Should(BeTrue())

		pushResolvedInstance(factory.current(), serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))

		e.UpdateFilter(dnssd.Filter{NamePattern: "scanner*"})
		Eventually(w.snapshot).Should(BeEmpty())

		e.UpdateFilter(dnssd.Filter{NamePattern: "scanner*"})
		Consistently(w.snapshot).Should(BeEmpty())

		e.UpdateFilter(dnssd.Filter{})
		Eventually(w.snapshot).Should(ConsistOf("printer"))
	})

	// Seed scenario: flipping the lookup mode while running tears down and
	// reinitializes the backend, but the previously registered UserQuery
	// list survives and resumes resolving against the new backend.
	It("preserves registered queries across a mode flip while running", func() {
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.LookupReady).Should(BeTrue())

		multicastFake := factory.current()
		pushResolvedInstance(multicastFake, serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))

		e.SetLookupMode(lookup.Unicast)
		Expect(e.LookupMode()).To(Equal(lookup.Unicast))

		// The mode flip rebuilt the backend and its resolver from scratch;
		// the old instance does not survive the flip, but the query itself
		// is still registered against the new backend.
		Eventually(w.snapshot).Should(BeEmpty())

		unicastFake := factory.current()
		Expect(unicastFake).NotTo(BeIdenticalTo(multicastFake))

		pushResolvedInstance(unicastFake, serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))
	})

	// Seed scenario: a result delivered for a query that has already been
	// cancelled (because its UserQuery was removed) must not resurrect
	// state for a query the engine no longer cares about.
	It("ignores a late callback delivered after its query is removed", func() {
		e.AddQuery(q)

		wd.discover("eth0")
		Eventually(e.LookupReady).Should(BeTrue())

		fake := factory.current()
		pushResolvedInstance(fake, serviceType, "printer")
		Eventually(w.snapshot).Should(ConsistOf("printer"))

		e.RemoveQuery(q)

		// Removing q drops it from the resolver's queued list outright: the
		// resolver never re-projects onto a query it no longer owns, so its
		// last OnChange snapshot is simply left stale rather than cleared.
		last := w.snapshot()
		Expect(last).To(ConsistOf("printer"))

		// The backend's PTR/TXT/SRV/A queries for "printer" were cancelled
		// when its service type was dropped; a stray Push now reaches no
		// listeners and must not trigger a further OnChange.
		pushResolvedInstance(fake, serviceType, "printer")
		Consistently(w.snapshot).Should(Equal(last))
	})
})
