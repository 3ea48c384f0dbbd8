// Package lookuptest provides a [lookup.Backend] test double that resolves
// queries from an in-memory record set instead of the network.
//
// It plays the same role for the resolution engine's tests as
// dogmatiq-dissolve's advertisertest.server plays for the advertiser
// conformance suite: a stand-in that lets the engine's behavior be
// exercised deterministically, without sockets.
package lookuptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/fenwick-io/dnsdisco/lookup"
)

// record is one simulated answer set, keyed by name and record type.
type record struct {
	name  string
	rtype lookup.RecordType
}

// Fake is an in-memory [lookup.Backend]. Results are only delivered in
// response to [Fake.Push] and [Fake.Withdraw]; QueryStart never delivers
// anything on its own, so a test fully controls the timing of every
// callback.
type Fake struct {
	Callbacks lookup.Callbacks

	mu        sync.Mutex
	mode      lookup.Mode
	live      bool
	nextID    lookup.QueryID
	queries   map[lookup.QueryID]record
	listeners map[record][]lookup.QueryID
	servers   []lookup.NameServer
}

// NewFake returns an uninitialized Fake backend that reports results and
// errors via cb, mirroring the New(cb) constructor shape of the real
// [lookup.Backend] implementations.
func NewFake(cb lookup.Callbacks) *Fake {
	return &Fake{Callbacks: cb}
}

// Init marks the backend live for mode.
func (f *Fake) Init(ctx context.Context, mode lookup.Mode, bindAddress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mode = mode
	f.live = true
	f.nextID = 0
	f.queries = make(map[lookup.QueryID]record)
	f.listeners = make(map[record][]lookup.QueryID)

	return nil
}

// Shutdown marks the backend no longer live and forgets every query.
func (f *Fake) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.live = false
	f.queries = nil
	f.listeners = nil

	return nil
}

// SetNameServers records the configured servers for later inspection via
// [Fake.NameServers]; it otherwise has no effect, since a Fake never
// actually dials out.
func (f *Fake) SetNameServers(servers []lookup.NameServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.servers = append([]lookup.NameServer(nil), servers...)
	return nil
}

// NameServers returns the servers most recently passed to SetNameServers.
func (f *Fake) NameServers() []lookup.NameServer {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]lookup.NameServer(nil), f.servers...)
}

// SystemNameServers always returns a single canned entry, distinguishable
// in tests from any server passed explicitly via SetNameServers.
func (f *Fake) SystemNameServers() ([]lookup.NameServer, error) {
	return []lookup.NameServer{{Host: "198.51.100.53", Port: 53}}, nil
}

// Mode returns the mode most recently passed to Init.
func (f *Fake) Mode() lookup.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mode
}

// QueryStart registers interest in name/rtype. It never delivers a result
// on its own; use [Fake.Push] to do so.
func (f *Fake) QueryStart(name string, rtype lookup.RecordType) (lookup.QueryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.live {
		return 0, fmt.Errorf("lookuptest: backend is not initialized")
	}

	f.nextID++
	id := f.nextID

	r := record{name: name, rtype: rtype}
	f.queries[id] = r
	f.listeners[r] = append(f.listeners[r], id)

	return id, nil
}

// QueryCancel stops listening for name/rtype changes on id. Canceling an
// unknown ID is a no-op, per the [lookup.Backend] contract.
func (f *Fake) QueryCancel(id lookup.QueryID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.queries[id]
	if !ok {
		return
	}
	delete(f.queries, id)

	ids := f.listeners[r]
	for i, other := range ids {
		if other == id {
			f.listeners[r] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Push delivers answers to every query currently registered for name/rtype,
// where rtype is inferred from the type of the first answer's Type field
// (all answers in a single Push must share the same Type).
func (f *Fake) Push(name string, answers ...lookup.Answer) {
	if len(answers) == 0 {
		return
	}

	f.mu.Lock()
	ids := append([]lookup.QueryID(nil), f.listeners[record{name: name, rtype: answers[0].Type}]...)
	f.mu.Unlock()

	if f.Callbacks.Result == nil {
		return
	}
	for _, id := range ids {
		f.Callbacks.Result(id, answers)
	}
}

// Withdraw delivers a goodbye (TTL zero) PTR answer naming instance under
// service, to every query registered for service/PTR.
func (f *Fake) Withdraw(service, instance string) {
	f.Push(service, lookup.Answer{
		Owner: service,
		Type:  lookup.RecordTypePTR,
		TTL:   0,
		Name:  instance,
	})
}

// Fail delivers an error of kind to every query currently registered for
// name/rtype.
func (f *Fake) Fail(name string, rtype lookup.RecordType, kind lookup.ErrorKind) {
	f.mu.Lock()
	ids := append([]lookup.QueryID(nil), f.listeners[record{name: name, rtype: rtype}]...)
	f.mu.Unlock()

	if f.Callbacks.Error == nil {
		return
	}
	for _, id := range ids {
		f.Callbacks.Error(id, kind)
	}
}
