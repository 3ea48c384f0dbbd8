// Package multicast provides a [lookup.Backend] that resolves DNS-SD queries
// using multicast DNS (mDNS), as described in RFC 6762.
//
// The packet-level plumbing (group addresses, per-family PacketConn
// transports, interface joining) is grounded on dogmatiq-dissolve's
// mdns._ipv4.go/_ipv6.go/_transport.go draft files, filled out using the
// non-stub equivalents in jmalloc-dissolve's mdns/transport package. The
// query-message construction and repeat-query backoff are grounded on
// jmalloc-dissolve's mdns/query.go and mdns/time.go.
package multicast

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/fenwick-io/dnsdisco/lookup"
)

// initialQueryDelay bounds the random delay before a query's first
// transmission, per RFC 6762 §5.2.
const initialQueryDelay = 120 * time.Millisecond

// maxQueryInterval is the cap on the repeat-query backoff, per RFC 6762
// §5.2 ("the interval between the first two queries MUST be at least one
// second... must increase... to a maximum of 60 minutes").
const maxQueryInterval = 60 * time.Minute

var recordTypeToDNS = map[lookup.RecordType]uint16{
	lookup.RecordTypePTR:  dns.TypePTR,
	lookup.RecordTypeTXT:  dns.TypeTXT,
	lookup.RecordTypeSRV:  dns.TypeSRV,
	lookup.RecordTypeA:    dns.TypeA,
	lookup.RecordTypeAAAA: dns.TypeAAAA,
}

var dnsToRecordType = map[uint16]lookup.RecordType{
	dns.TypePTR:  lookup.RecordTypePTR,
	dns.TypeTXT:  lookup.RecordTypeTXT,
	dns.TypeSRV:  lookup.RecordTypeSRV,
	dns.TypeA:    lookup.RecordTypeA,
	dns.TypeAAAA: lookup.RecordTypeAAAA,
}

// query tracks one live QueryStart call.
type query struct {
	name   string
	qtype  uint16
	cancel context.CancelFunc
}

// Backend is a [lookup.Backend] that resolves names using multicast DNS.
//
// Unlike the unicast backend, a query of any record type never completes: it keeps
// repeating at an increasing interval and keeps delivering Result
// callbacks as new answers (or goodbye records with a zero TTL) arrive, per
// spec §4.1's description of how the engine expects a Multicast backend to
// behave.
type Backend struct {
	Callbacks lookup.Callbacks

	mu        sync.Mutex
	v4        transport
	v6        transport
	queries   map[lookup.QueryID]*query
	nextID    lookup.QueryID
	group     *errgroup.Group
	cancelAll context.CancelFunc
}

// New returns a Backend that reports results and errors via cb.
func New(cb lookup.Callbacks) *Backend {
	return &Backend{Callbacks: cb}
}

// Init joins the mDNS multicast groups on every up, multicast-capable
// interface and starts the read loops. bindAddress is currently unused: the
// backend always listens on the wildcard address per family, matching
// dogmatiq-dissolve's draft transports.
func (b *Backend) Init(ctx context.Context, mode lookup.Mode, bindAddress string) error {
	if mode != lookup.Multicast {
		return fmt.Errorf("multicast: backend only supports lookup.Multicast mode")
	}

	ifaces, err := multicastInterfaces()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	v4 := newIPv4Transport()
	v6 := newIPv6Transport()

	err4 := v4.listen(ifaces)
	err6 := v6.listen(ifaces)
	if err4 != nil && err6 != nil {
		return fmt.Errorf("multicast: unable to join mdns group on either ip family: %w, %w", err4, err6)
	}

	if err4 == nil {
		b.v4 = v4
	}
	if err6 == nil {
		b.v6 = v6
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancelAll = cancel
	b.queries = make(map[lookup.QueryID]*query)
	b.group = &errgroup.Group{}

	if b.v4 != nil {
		t := b.v4
		b.group.Go(func() error { b.readLoop(loopCtx, t); return nil })
	}
	if b.v6 != nil {
		t := b.v6
		b.group.Go(func() error { b.readLoop(loopCtx, t); return nil })
	}

	return nil
}

// Shutdown stops the read loops, cancels every outstanding query, and
// closes the underlying sockets.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	if b.cancelAll != nil {
		b.cancelAll()
	}
	for _, q := range b.queries {
		q.cancel()
	}
	b.queries = nil

	v4, v6, group := b.v4, b.v6, b.group
	b.v4, b.v6, b.group = nil, nil, nil
	b.mu.Unlock()

	// Close the sockets first: a read loop blocked in read() only returns
	// once its socket is closed.
	if v4 != nil {
		v4.close()
	}
	if v6 != nil {
		v6.close()
	}

	if group != nil {
		_ = group.Wait()
	}

	return nil
}

// SetNameServers is a no-op in multicast mode: mDNS has no concept of a
// configured name server, per spec §4.1.
func (b *Backend) SetNameServers(servers []lookup.NameServer) error {
	return nil
}

// SystemNameServers always returns an empty list in multicast mode.
func (b *Backend) SystemNameServers() ([]lookup.NameServer, error) {
	return nil, nil
}

// QueryStart begins repeating an mDNS query for name/rtype, per the
// exponential backoff described in RFC 6762 §5.2. The query keeps running,
// and keeps delivering Result callbacks, until it is canceled.
func (b *Backend) QueryStart(name string, rtype lookup.RecordType) (lookup.QueryID, error) {
	qtype, ok := recordTypeToDNS[rtype]
	if !ok {
		return 0, fmt.Errorf("multicast: unsupported record type %v", rtype)
	}

	b.mu.Lock()
	if b.queries == nil {
		b.mu.Unlock()
		return 0, fmt.Errorf("multicast: backend is not initialized")
	}

	b.nextID++
	id := b.nextID

	ctx, cancel := context.WithCancel(context.Background())
	q := &query{name: dns.Fqdn(name), qtype: qtype, cancel: cancel}
	b.queries[id] = q
	group := b.group
	b.mu.Unlock()

	group.Go(func() error {
		b.queryLoop(ctx, q)
		return nil
	})

	return id, nil
}

// QueryCancel stops repeating a query. Canceling an unknown or already
// retired ID is a no-op, per spec §4.2.
func (b *Backend) QueryCancel(id lookup.QueryID) {
	b.mu.Lock()
	q, ok := b.queries[id]
	if ok {
		delete(b.queries, id)
	}
	b.mu.Unlock()

	if ok {
		q.cancel()
	}
}

// queryLoop repeatedly transmits q until ctx is canceled, backing off per
// RFC 6762 §5.2: "the interval between the first two queries MUST be at
// least one second... with the interval between successive queries at
// least twice as long as the previous interval".
func (b *Backend) queryLoop(ctx context.Context, q *query) {
	if err := sleep(ctx, randDuration(initialQueryDelay)); err != nil {
		return
	}

	interval := time.Second

	for {
		b.transmit(q)

		if err := sleep(ctx, interval); err != nil {
			return
		}

		interval *= 2
		if interval > maxQueryInterval {
			interval = maxQueryInterval
		}
	}
}

func (b *Backend) transmit(q *query) {
	msg := newQueryMessage(dns.Question{
		Name:   q.name,
		Qtype:  q.qtype,
		Qclass: dns.ClassINET,
	})

	buf, err := msg.Pack()
	if err != nil {
		return
	}

	b.mu.Lock()
	v4, v6 := b.v4, b.v6
	b.mu.Unlock()

	if v4 != nil {
		_ = v4.write(buf, endpoint{address: v4.group()})
	}
	if v6 != nil {
		_ = v6.write(buf, endpoint{address: v6.group()})
	}
}

// readLoop delivers every inbound packet on t to every query whose name
// and type match an answer in the packet, for as long as ctx is live.
func (b *Backend) readLoop(ctx context.Context, t transport) {
	for {
		if ctx.Err() != nil {
			return
		}

		pkt, err := t.read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		b.handlePacket(pkt)
		pkt.release()
	}
}

func (b *Backend) handlePacket(pkt *inboundPacket) {
	msg, err := pkt.message()
	if err != nil || !msg.Response {
		return
	}

	byName := map[string][]lookup.Answer{}
	for _, rr := range msg.Answer {
		rtype, ok := dnsToRecordType[rr.Header().Rrtype]
		if !ok {
			continue
		}
		byName[rr.Header().Name] = append(byName[rr.Header().Name], convertRecord(rr, rtype))
	}

	if len(byName) == 0 {
		return
	}

	b.mu.Lock()
	matches := make(map[lookup.QueryID][]lookup.Answer)
	for id, q := range b.queries {
		answers, ok := byName[q.name]
		if !ok {
			continue
		}
		for _, a := range answers {
			if a.Type == dnsToRecordType[q.qtype] {
				matches[id] = append(matches[id], a)
			}
		}
	}
	b.mu.Unlock()

	if b.Callbacks.Result == nil {
		return
	}
	for id, answers := range matches {
		b.Callbacks.Result(id, answers)
	}
}

func convertRecord(rr dns.RR, rtype lookup.RecordType) lookup.Answer {
	a := lookup.Answer{
		Owner: rr.Header().Name,
		Type:  rtype,
		TTL:   rr.Header().Ttl,
	}

	switch rec := rr.(type) {
	case *dns.PTR:
		a.Name = rec.Ptr
	case *dns.SRV:
		a.Name = rec.Target
		a.Port = rec.Port
	case *dns.TXT:
		a.Texts = rec.Txt
	case *dns.A:
		a.Address = rec.A.String()
	case *dns.AAAA:
		a.Address = rec.AAAA.String()
	}

	return a
}

// newQueryMessage builds an mDNS query message, applying the transmission
// rules of RFC 6762 §18.
func newQueryMessage(q ...dns.Question) *dns.Msg {
	m := &dns.Msg{Question: q}

	m.Id = 0
	m.Opcode = dns.OpcodeQuery
	m.Authoritative = false
	m.Truncated = false
	m.RecursionDesired = false
	m.RecursionAvailable = false
	m.Zero = false
	m.AuthenticatedData = false
	m.CheckingDisabled = false
	m.Rcode = dns.RcodeSuccess
	m.Compress = true

	return m
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
