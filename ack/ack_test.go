package ack

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sukhanov/goliteserver/protocol/chunk"
)

func TestAck(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ack")
}

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) SendDatagram(b []byte) error {
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeSender) MaxDatagramSize() int { return 65507 }
func (f *fakeSender) Close() error         { return nil }

var _ = Describe("Tracker", func() {
	var (
		tr     *Tracker
		sender *fakeSender
		key    Key
	)

	BeforeEach(func() {
		tr = New(nil)
		sender = &fakeSender{}
		key = Key{Socket: "udp:5001", Client: "10.0.0.1:9000"}
	})

	It("tracks an outstanding delivery until acked", func() {
		dgs, err := chunk.Split([]byte("hello world"), 4)
		Expect(err).NotTo(HaveOccurred())

		tr.Register(key, sender, dgs)
		Expect(tr.Outstanding(key)).To(BeTrue())

		tr.Ack(key)
		Expect(tr.Outstanding(key)).To(BeFalse())
	})

	It("retransmits the exact chunk at a given offset", func() {
		dgs, err := chunk.Split([]byte("0123456789"), 4)
		Expect(err).NotTo(HaveOccurred())
		tr.Register(key, sender, dgs)

		found, err := tr.Retransmit(key, 4, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(sender.sent).To(HaveLen(1))

		offset, body, err := chunk.DecodeDatagram(sender.sent[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(offset).To(Equal(4))
		Expect(string(body)).To(Equal("4567"))
	})

	It("reports no match for an unknown offset", func() {
		dgs, err := chunk.Split([]byte("abcd"), 4)
		Expect(err).NotTo(HaveOccurred())
		tr.Register(key, sender, dgs)

		found, err := tr.Retransmit(key, 9999, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	It("invokes OnUnresponsive once the countdown expires", func() {
		tr.MaxAckCount = 2
		var evicted []Key
		tr.OnUnresponsive = func(k Key) { evicted = append(evicted, k) }

		dgs, err := chunk.Split([]byte("x"), 4)
		Expect(err).NotTo(HaveOccurred())
		tr.Register(key, sender, dgs)

		tr.tick()
		Expect(evicted).To(BeEmpty())
		tr.tick()
		Expect(evicted).To(ConsistOf(key))
	})

	It("removes an entry without sending anything", func() {
		dgs, err := chunk.Split([]byte("y"), 4)
		Expect(err).NotTo(HaveOccurred())
		tr.Register(key, sender, dgs)

		tr.Remove(key)
		Expect(tr.Outstanding(key)).To(BeFalse())
	})
})
