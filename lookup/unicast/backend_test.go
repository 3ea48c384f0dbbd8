package unicast_test

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/miekg/dns"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenwick-io/dnsdisco/lookup"
	"github.com/fenwick-io/dnsdisco/lookup/unicast"
)

// fakeServer is a minimal miekg/dns-backed DNS server used to exercise the
// unicast Backend without involving the network stack's public resolvers.
// Grounded on the dns.Server/dns.HandlerFunc pattern used throughout the DNS
// server implementations in the retrieved corpus.
type fakeServer struct {
	server *dns.Server

	mu      sync.Mutex
	records map[uint16][]dns.RR // keyed by qtype
}

func startFakeServer() (*fakeServer, string) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	Expect(err).ShouldNot(HaveOccurred())

	fs := &fakeServer{records: map[uint16][]dns.RR{}}
	fs.server = &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(fs.handle)}

	go fs.server.ActivateAndServe()

	return fs, pc.LocalAddr().String()
}

func (fs *fakeServer) handle(w dns.ResponseWriter, req *dns.Msg) {
	res := new(dns.Msg)
	res.SetReply(req)

	if len(req.Question) == 1 {
		fs.mu.Lock()
		res.Answer = fs.records[req.Question[0].Qtype]
		fs.mu.Unlock()

		if len(res.Answer) == 0 {
			res.Rcode = dns.RcodeNameError
		}
	}

	_ = w.WriteMsg(res)
}

func (fs *fakeServer) setRecords(qtype uint16, rr ...dns.RR) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.records[qtype] = rr
}

func (fs *fakeServer) stop() {
	_ = fs.server.Shutdown()
}

var _ = Describe("type Backend", func() {
	var (
		fs       *fakeServer
		addr     string
		host     string
		port     uint16
		results  chan struct {
			id lookup.QueryID
			as []lookup.Answer
		}
		errs chan struct {
			id   lookup.QueryID
			kind lookup.ErrorKind
		}
		backend *unicast.Backend
	)

	BeforeEach(func() {
		fs, addr = startFakeServer()

		h, p, err := net.SplitHostPort(addr)
		Expect(err).ShouldNot(HaveOccurred())
		host = h

		portNum, err := strconv.Atoi(p)
		Expect(err).ShouldNot(HaveOccurred())
		port = uint16(portNum)

		results = make(chan struct {
			id lookup.QueryID
			as []lookup.Answer
		}, 8)
		errs = make(chan struct {
			id   lookup.QueryID
			kind lookup.ErrorKind
		}, 8)

		backend = unicast.New(lookup.Callbacks{
			Result: func(id lookup.QueryID, as []lookup.Answer) {
				results <- struct {
					id lookup.QueryID
					as []lookup.Answer
				}{id, as}
			},
			Error: func(id lookup.QueryID, kind lookup.ErrorKind) {
				errs <- struct {
					id   lookup.QueryID
					kind lookup.ErrorKind
				}{id, kind}
			},
		})

		Expect(backend.Init(context.Background(), lookup.Unicast, "")).To(Succeed())
		Expect(backend.SetNameServers([]lookup.NameServer{{Host: host, Port: port}})).To(Succeed())
	})

	AfterEach(func() {
		Expect(backend.Shutdown()).To(Succeed())
		fs.stop()
	})

	It("delivers PTR answers via the Result callback", func() {
		fs.setRecords(dns.TypePTR, &dns.PTR{
			Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Ttl: 120},
			Ptr: "myprinter._http._tcp.local.",
		})

		id, err := backend.QueryStart("_http._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		Eventually(results).Should(Receive(WithTransform(
			func(r struct {
				id lookup.QueryID
				as []lookup.Answer
			}) lookup.QueryID {
				return r.id
			},
			Equal(id),
		)))
	})

	It("reports an error when the name does not exist", func() {
		_, err := backend.QueryStart("_missing._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		Eventually(errs).Should(Receive())
	})
})
