// Package unicast provides a [lookup.Backend] that resolves DNS-SD queries
// using conventional unicast DNS requests.
//
// The per-server dial-and-exchange loop is adapted from
// dogmatiq-dissolve's dnssd.UnicastResolver.query/queryServer, changed from
// a synchronous request/response call into a goroutine that reports back
// through [lookup.Callbacks] so it satisfies the asynchronous [lookup.Backend]
// contract.
package unicast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/fenwick-io/dnsdisco/lookup"
)

// DefaultTimeout bounds how long a single query waits for any one name
// server to answer before moving on to the next.
const DefaultTimeout = 3 * time.Second

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

// Backend is a [lookup.Backend] that queries conventional unicast DNS name
// servers.
type Backend struct {
	Callbacks lookup.Callbacks

	// Client is the DNS client used to exchange messages. If nil, a
	// zero-value *dns.Client is used, as in UnicastResolver.queryServer.
	Client *dns.Client

	// Timeout bounds how long a single server is given to respond before
	// the next server in the list is tried. Defaults to DefaultTimeout.
	Timeout time.Duration

	mu      sync.Mutex
	servers []lookup.NameServer
	nextID  lookup.QueryID
	queries map[lookup.QueryID]context.CancelFunc
	group   *errgroup.Group
}

// New returns a Backend that reports results and errors via cb.
func New(cb lookup.Callbacks) *Backend {
	return &Backend{Callbacks: cb}
}

// Init prepares the backend. bindAddress is currently unused by the unicast
// backend: outbound connections are dialed per-query, per-server.
func (b *Backend) Init(ctx context.Context, mode lookup.Mode, bindAddress string) error {
	if mode != lookup.Unicast {
		return fmt.Errorf("unicast: backend only supports lookup.Unicast mode")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.queries = make(map[lookup.QueryID]context.CancelFunc)
	b.group = &errgroup.Group{}

	return nil
}

// Shutdown cancels every outstanding query and waits for their goroutines
// to unwind.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	for _, cancel := range b.queries {
		cancel()
	}
	b.queries = nil
	group := b.group
	b.group = nil
	b.mu.Unlock()

	if group != nil {
		_ = group.Wait()
	}

	return nil
}

// SetNameServers replaces the servers queried by subsequent QueryStart
// calls. It does not affect already in-flight queries.
func (b *Backend) SetNameServers(servers []lookup.NameServer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.servers = append([]lookup.NameServer(nil), servers...)
	return nil
}

// SystemNameServers returns the servers listed in /etc/resolv.conf, read
// with dns.ClientConfigFromFile, per spec §7
// error kind 6 (fallback when the caller has configured none).
func (b *Backend) SystemNameServers() ([]lookup.NameServer, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("unicast: unable to read system name servers: %w", err)
	}

	servers := make([]lookup.NameServer, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, lookup.NameServer{Host: s, Port: 53})
	}

	return servers, nil
}

// QueryStart begins a query for name/rtype against every configured name
// server, in order, stopping at the first authoritative answer. The
// dial-and-exchange retry loop below is the asynchronous form of
// dogmatiq-dissolve's UnicastResolver.query/queryServer.
func (b *Backend) QueryStart(name string, rtype lookup.RecordType) (lookup.QueryID, error) {
	qtype, ok := recordTypeToDNS[rtype]
	if !ok {
		return 0, fmt.Errorf("unicast: unsupported record type %v", rtype)
	}

	b.mu.Lock()
	if b.queries == nil {
		b.mu.Unlock()
		return 0, fmt.Errorf("unicast: backend is not initialized")
	}

	b.nextID++
	id := b.nextID

	ctx, cancel := context.WithCancel(context.Background())
	b.queries[id] = cancel

	servers := append([]lookup.NameServer(nil), b.servers...)
	client := b.Client
	timeout := b.Timeout
	group := b.group
	b.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(name), qtype)

	group.Go(func() error {
		defer b.retire(id)

		answers, kind, err := b.exchange(ctx, client, servers, req, timeout)
		if err != nil {
			if b.Callbacks.Error != nil {
				b.Callbacks.Error(id, kind)
			}
			return nil
		}

		if b.Callbacks.Result != nil {
			b.Callbacks.Result(id, answers)
		}

		return nil
	})

	return id, nil
}

// QueryCancel stops a query. Canceling an unknown or already-retired ID is
// a no-op, per spec §4.2.
func (b *Backend) QueryCancel(id lookup.QueryID) {
	b.mu.Lock()
	cancel, ok := b.queries[id]
	if ok {
		delete(b.queries, id)
	}
	b.mu.Unlock()

	if ok {
		cancel()
	}
}

func (b *Backend) retire(id lookup.QueryID) {
	b.mu.Lock()
	delete(b.queries, id)
	b.mu.Unlock()
}

// exchange performs req against each server in turn, returning the first
// authoritative answer (success or NXDOMAIN).
func (b *Backend) exchange(
	ctx context.Context,
	client *dns.Client,
	servers []lookup.NameServer,
	req *dns.Msg,
	timeout time.Duration,
) ([]lookup.Answer, lookup.ErrorKind, error) {
	timedOut := false

	for _, s := range servers {
		if ctx.Err() != nil {
			return nil, lookup.ErrorTimeout, ctx.Err()
		}

		port := s.Port
		if port == 0 {
			port = 53
		}
		addr := net.JoinHostPort(s.Host, fmt.Sprint(port))

		serverCtx, cancel := context.WithTimeout(ctx, timeout)
		res, ok := b.queryServer(serverCtx, client, addr, req)
		if serverCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		}
		cancel()
		if !ok {
			continue
		}

		if res.Rcode == dns.RcodeNameError {
			return nil, lookup.ErrorNXDomain, fmt.Errorf("unicast: %s: name does not exist", req.Question[0].Name)
		}

		if res.Rcode == dns.RcodeSuccess {
			return convertAnswers(res), 0, nil
		}
	}

	if ctx.Err() != nil {
		return nil, lookup.ErrorTimeout, ctx.Err()
	}
	if timedOut {
		return nil, lookup.ErrorTimeout, context.DeadlineExceeded
	}

	return nil, lookup.ErrorGeneric, fmt.Errorf("unicast: no server returned an answer for %s", req.Question[0].Name)
}

// queryServer dials addr and exchanges req, mirroring
// UnicastResolver.queryServer.
func (b *Backend) queryServer(
	ctx context.Context,
	client *dns.Client,
	addr string,
	req *dns.Msg,
) (*dns.Msg, bool) {
	if client == nil {
		client = &dns.Client{}
	}

	conn, err := client.Dial(addr)
	if err != nil {
		return nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	res, _, _ := client.ExchangeWithConn(req, conn)
	return res, res != nil
}

func convertAnswers(msg *dns.Msg) []lookup.Answer {
	answers := make([]lookup.Answer, 0, len(msg.Answer))

	for _, rr := range msg.Answer {
		rtype, ok := dnsToRecordType[rr.Header().Rrtype]
		if !ok {
			continue
		}

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

		answers = append(answers, a)
	}

	return answers
}
