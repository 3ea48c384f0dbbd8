package dnssd_test

import (
	. "github.com/fenwick-io/dnsdisco/dnssd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Filter", func() {
	Describe("func IsEmpty()", func() {
		It("returns true for the zero-value filter", func() {
			Expect(Filter{}.IsEmpty()).To(BeTrue())
		})

		It("returns false if a name pattern is set", func() {
			Expect(Filter{NamePattern: "prod-*"}.IsEmpty()).To(BeFalse())
		})

		It("returns false if TXT patterns are set", func() {
			Expect(Filter{TXTPatterns: []string{"path=*"}}.IsEmpty()).To(BeFalse())
		})
	})

	Describe("func Matches()", func() {
		It("matches any instance when empty", func() {
			ok, err := Filter{}.Matches("anything", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("matches names against the glob pattern", func() {
			f := Filter{NamePattern: "prod-*"}

			ok, err := f.Matches("prod-1", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = f.Matches("dev-1", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("is case-sensitive", func() {
			f := Filter{NamePattern: "Printer*"}

			ok, err := f.Matches("printer-1", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("ANDs successive TXT patterns", func() {
			f := Filter{TXTPatterns: []string{"path=*", "*cgi*"}}

			ok, err := f.Matches("any", []string{"path=/cgi-bin", "tls"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("does not match if any TXT pattern eliminates all strings", func() {
			f := Filter{TXTPatterns: []string{"path=*", "version=2"}}

			ok, err := f.Matches("any", []string{"path=/cgi-bin", "version=1"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("requires both the name and TXT predicates to hold", func() {
			f := Filter{NamePattern: "prod-*", TXTPatterns: []string{"tls"}}

			ok, err := f.Matches("prod-1", []string{"plain"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			ok, err = f.Matches("prod-1", []string{"tls"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("returns an error for an invalid pattern", func() {
			_, err := Filter{NamePattern: "[unterminated"}.Matches("x", nil)
			Expect(err).Should(HaveOccurred())
		})
	})
})
