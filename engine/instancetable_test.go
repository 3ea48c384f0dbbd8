package engine

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenwick-io/dnsdisco/lookup"
)

var _ = Describe("type instanceTable", func() {
	var t *instanceTable

	BeforeEach(func() {
		t = newInstanceTable()
	})

	Describe("func addServiceType()/hasServiceType()/recordType()", func() {
		It("registers a new service type", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			Expect(t.hasServiceType("_http._tcp.local.")).To(BeTrue())

			rtype, ok := t.recordType("_http._tcp.local.")
			Expect(ok).To(BeTrue())
			Expect(rtype).To(Equal(lookup.RecordTypePTR))
		})

		It("is idempotent", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)
			t.addItem("a", "_http._tcp.local.")

			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			Expect(t.items("_http._tcp.local.")).To(HaveLen(1))
		})
	})

	Describe("func addItem()", func() {
		It("returns nil, false for an unregistered service type", func() {
			inst, created := t.addItem("a", "_http._tcp.local.")
			Expect(inst).To(BeNil())
			Expect(created).To(BeFalse())
		})

		It("creates a new instance on first insertion", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			inst, created := t.addItem("a", "_http._tcp.local.")
			Expect(created).To(BeTrue())
			Expect(inst.Name).To(Equal("a"))
			Expect(inst.Type).To(Equal("_http._tcp.local."))
		})

		It("returns the existing instance on a second insertion", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			first, _ := t.addItem("a", "_http._tcp.local.")
			second, created := t.addItem("a", "_http._tcp.local.")

			Expect(created).To(BeFalse())
			Expect(second).To(BeIdenticalTo(first))
		})
	})

	Describe("func getItem()", func() {
		It("reports false for an instance that does not exist", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			_, ok := t.getItem("a", "_http._tcp.local.")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func removeItem()", func() {
		It("invokes onCancel for every outstanding query before removing", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)
			inst, _ := t.addItem("a", "_http._tcp.local.")
			inst.addOutstanding(1)
			inst.addOutstanding(2)

			var cancelled []lookup.QueryID
			ok := t.removeItem("a", "_http._tcp.local.", func(id lookup.QueryID) {
				cancelled = append(cancelled, id)
			})

			Expect(ok).To(BeTrue())
			Expect(cancelled).To(ConsistOf(lookup.QueryID(1), lookup.QueryID(2)))
			Expect(t.items("_http._tcp.local.")).To(BeEmpty())
		})

		It("is a no-op for an unknown instance", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)

			ok := t.removeItem("a", "_http._tcp.local.", func(lookup.QueryID) {
				Fail("onCancel should not be called")
			})
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func clearItems()", func() {
		It("removes every instance and invokes onRemove for each", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)
			t.addItem("a", "_http._tcp.local.")
			t.addItem("b", "_http._tcp.local.")

			var removed []string
			t.clearItems("_http._tcp.local.", func(inst *Instance) {
				removed = append(removed, inst.Name)
			})

			Expect(removed).To(ConsistOf("a", "b"))
			Expect(t.items("_http._tcp.local.")).To(BeEmpty())
		})
	})

	Describe("func removeServiceType()", func() {
		It("cascades through clearItems and forgets the service type", func() {
			t.addServiceType("_http._tcp.local.", lookup.RecordTypePTR)
			t.addItem("a", "_http._tcp.local.")

			var removed []string
			t.removeServiceType("_http._tcp.local.", func(inst *Instance) {
				removed = append(removed, inst.Name)
			})

			Expect(removed).To(ConsistOf("a"))
			Expect(t.hasServiceType("_http._tcp.local.")).To(BeFalse())
		})
	})
})
