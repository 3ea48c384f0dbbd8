package lookuptest_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenwick-io/dnsdisco/lookup"
	"github.com/fenwick-io/dnsdisco/lookup/lookuptest"
)

var _ = Describe("type Fake", func() {
	var (
		results []lookup.Answer
		errKind *lookup.ErrorKind
		backend *lookuptest.Fake
	)

	BeforeEach(func() {
		results = nil
		errKind = nil

		backend = lookuptest.NewFake(lookup.Callbacks{
			Result: func(id lookup.QueryID, as []lookup.Answer) {
				results = append(results, as...)
			},
			Error: func(id lookup.QueryID, kind lookup.ErrorKind) {
				k := kind
				errKind = &k
			},
		})

		Expect(backend.Init(context.Background(), lookup.Multicast, "")).To(Succeed())
	})

	It("delivers a Push only to matching queries", func() {
		_, err := backend.QueryStart("_http._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		backend.Push("_http._tcp.local", lookup.Answer{
			Owner: "_http._tcp.local",
			Type:  lookup.RecordTypePTR,
			Name:  "printer._http._tcp.local",
		})

		Expect(results).To(HaveLen(1))
		Expect(results[0].Name).To(Equal("printer._http._tcp.local"))
	})

	It("does not deliver to a canceled query", func() {
		id, err := backend.QueryStart("_http._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		backend.QueryCancel(id)
		backend.Push("_http._tcp.local", lookup.Answer{Type: lookup.RecordTypePTR})

		Expect(results).To(BeEmpty())
	})

	It("delivers a goodbye record via Withdraw", func() {
		_, err := backend.QueryStart("_http._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		backend.Withdraw("_http._tcp.local", "printer._http._tcp.local")

		Expect(results).To(HaveLen(1))
		Expect(results[0].TTL).To(BeZero())
	})

	It("delivers a Fail to matching queries", func() {
		_, err := backend.QueryStart("_http._tcp.local", lookup.RecordTypePTR)
		Expect(err).ShouldNot(HaveOccurred())

		backend.Fail("_http._tcp.local", lookup.RecordTypePTR, lookup.ErrorTimeout)

		Expect(errKind).NotTo(BeNil())
		Expect(*errKind).To(Equal(lookup.ErrorTimeout))
	})

	It("rejects QueryStart before Init", func() {
		fresh := lookuptest.NewFake(lookup.Callbacks{})
		_, err := fresh.QueryStart("x", lookup.RecordTypePTR)
		Expect(err).Should(HaveOccurred())
	})

	It("reports the mode passed to Init", func() {
		Expect(backend.Mode()).To(Equal(lookup.Multicast))
	})

	It("records the servers passed to SetNameServers", func() {
		Expect(backend.SetNameServers([]lookup.NameServer{{Host: "192.0.2.1"}})).To(Succeed())
		Expect(backend.NameServers()).To(Equal([]lookup.NameServer{{Host: "192.0.2.1"}}))
	})
})
