package engine

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenwick-io/dnsdisco/lookup"
)

var _ = Describe("type queryRegistry", func() {
	var r *queryRegistry

	BeforeEach(func() {
		r = newQueryRegistry()
	})

	Describe("func registerServiceTypeQuery()/serviceType()", func() {
		It("correlates a PTR query ID to its service type", func() {
			r.registerServiceTypeQuery(1, lookup.RecordTypePTR, "_http._tcp.local.")

			s, ok := r.serviceType(1)
			Expect(ok).To(BeTrue())
			Expect(s).To(Equal("_http._tcp.local."))

			rtype, ok := r.recordType(1)
			Expect(ok).To(BeTrue())
			Expect(rtype).To(Equal(lookup.RecordTypePTR))
		})
	})

	Describe("func registerInstanceQuery()/instance()", func() {
		It("correlates a sub-query ID to its instance and adds it as outstanding", func() {
			inst := newInstance("a", "_http._tcp.local.")

			r.registerInstanceQuery(1, lookup.RecordTypeTXT, inst)

			got, ok := r.instance(1)
			Expect(ok).To(BeTrue())
			Expect(got).To(BeIdenticalTo(inst))
			Expect(inst.FullyResolved()).To(BeFalse())
		})
	})

	Describe("func forget()", func() {
		It("removes every entry for the ID and clears the instance's outstanding set", func() {
			inst := newInstance("a", "_http._tcp.local.")
			r.registerInstanceQuery(1, lookup.RecordTypeTXT, inst)

			r.forget(1)

			_, ok := r.instance(1)
			Expect(ok).To(BeFalse())
			Expect(inst.FullyResolved()).To(BeTrue())
		})
	})

	Describe("func findQueryByServiceType()", func() {
		It("returns the live PTR query ID for a service type", func() {
			r.registerServiceTypeQuery(7, lookup.RecordTypePTR, "_http._tcp.local.")

			id, ok := r.findQueryByServiceType("_http._tcp.local.")
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(lookup.QueryID(7)))
		})

		It("reports false once the query is forgotten", func() {
			r.registerServiceTypeQuery(7, lookup.RecordTypePTR, "_http._tcp.local.")
			r.forget(7)

			_, ok := r.findQueryByServiceType("_http._tcp.local.")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func reset()", func() {
		It("discards every entry", func() {
			inst := newInstance("a", "_http._tcp.local.")
			r.registerServiceTypeQuery(1, lookup.RecordTypePTR, "_http._tcp.local.")
			r.registerInstanceQuery(2, lookup.RecordTypeTXT, inst)

			r.reset()

			_, ok := r.serviceType(1)
			Expect(ok).To(BeFalse())
			_, ok = r.instance(2)
			Expect(ok).To(BeFalse())
		})
	})
})
