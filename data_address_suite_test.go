package ftp

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDataAddressSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Data address suite")
}

var _ = Describe("parsePASV", func() {
	Context("with a well-formed 227 reply", func() {
		It("extracts host and port from the six-octet group", func() {
			addr, err := parsePASV("227 Entering Passive Mode (127,0,0,1,195,149)")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr.IP.String()).To(Equal("127.0.0.1"))
			Expect(addr.Port).To(Equal(195*256 + 149))
		})
	})

	Context("with a leading '=' before the address group", func() {
		It("still anchors on the first '(' and parses correctly", func() {
			addr, err := parsePASV("227 =(10,0,0,5,4,210).")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr.IP.String()).To(Equal("10.0.0.5"))
			Expect(addr.Port).To(Equal(4*256 + 210))
		})
	})

	Context("at the edges of the octet range", func() {
		It("parses an all-zero address and a maximal port", func() {
			addr, err := parsePASV("227 (0,0,0,0,255,255)")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr.IP.String()).To(Equal("0.0.0.0"))
			Expect(addr.Port).To(Equal(65535))
		})
	})

	Context("with a reply that carries no address group", func() {
		It("returns an error instead of panicking", func() {
			_, err := parsePASV("227 Entering Passive Mode")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with a malformed octet", func() {
		It("returns an error", func() {
			_, err := parsePASV("227 (127,0,0,1,xx,149)")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("formatPORT", func() {
	It("renders the six-octet argument the control channel expects", func() {
		addr, err := parsePASV("227 (192,168,1,1,195,149)")
		Expect(err).NotTo(HaveOccurred())

		arg, err := formatPORT(addr)
		Expect(err).NotTo(HaveOccurred())
		Expect(arg).To(Equal("192,168,1,1,195,149"))
	})

	It("round-trips through parsePASV for an arbitrary address", func() {
		original, err := parsePASV("227 (8,8,8,8,1,1)")
		Expect(err).NotTo(HaveOccurred())

		arg, err := formatPORT(original)
		Expect(err).NotTo(HaveOccurred())

		reparsed, err := parsePASV("227 (" + arg + ")")
		Expect(err).NotTo(HaveOccurred())
		Expect(reparsed.IP.String()).To(Equal(original.IP.String()))
		Expect(reparsed.Port).To(Equal(original.Port))
	})
})

var _ = Describe("resolveDataAddr", func() {
	It("substitutes the control host when the server reports 0.0.0.0", func() {
		addr, err := parsePASV("227 (0,0,0,0,1,1)")
		Expect(err).NotTo(HaveOccurred())

		resolved := resolveDataAddr(addr, "203.0.113.5")
		Expect(resolved.IP.String()).To(Equal("203.0.113.5"))
		Expect(resolved.Port).To(Equal(addr.Port))
	})

	It("leaves a routable address untouched", func() {
		addr, err := parsePASV("227 (198,51,100,7,4,210)")
		Expect(err).NotTo(HaveOccurred())

		resolved := resolveDataAddr(addr, "203.0.113.5")
		Expect(resolved.IP.String()).To(Equal("198.51.100.7"))
	})
})
