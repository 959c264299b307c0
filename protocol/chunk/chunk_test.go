package chunk

import (
	"bytes"
	"math/rand"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestChunk(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chunk")
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

var _ = Describe("Split/Assembler round trip", func() {
	It("reassembles a payload smaller than one chunk", func() {
		payload := []byte("hello, lite data object")
		dgs, err := Split(payload, DefaultSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(dgs).To(HaveLen(1))

		offset, body, err := DecodeDatagram(dgs[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(offset).To(Equal(0))
		Expect(body).To(Equal(payload))
	})

	It("splits and reassembles a multi-chunk payload in descending order", func() {
		payload := randomPayload(250000)
		dgs, err := Split(payload, 60000)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(dgs)).To(BeNumerically(">", 1))

		// Descending offset order; last datagram is offset 0.
		var prevOffset = -1
		for i, dg := range dgs {
			off, _, err := DecodeDatagram(dg)
			Expect(err).NotTo(HaveOccurred())
			if i > 0 {
				Expect(off).To(BeNumerically("<", prevOffset))
			}
			prevOffset = off
		}
		Expect(prevOffset).To(Equal(0))

		var a Assembler
		for _, dg := range dgs {
			a.AddDatagram(dg)
		}
		got, err := a.Payload()
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(got, payload)).To(BeTrue())
	})

	It("detects a gap and reports it for retransmit, then heals once resent", func() {
		payload := randomPayload(250000)
		dgs, err := Split(payload, 60000)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(dgs)).To(BeNumerically(">=", 3))

		// Drop a non-last chunk.
		dropped := dgs[1]
		var a Assembler
		for i, dg := range dgs {
			if i == 1 {
				continue
			}
			a.AddDatagram(dg)
		}

		_, err = a.Payload()
		Expect(err).To(HaveOccurred())
		gaps := a.Gaps()
		Expect(gaps).To(HaveLen(1))

		droppedOffset, droppedBody, err := DecodeDatagram(dropped)
		Expect(err).NotTo(HaveOccurred())
		Expect(gaps[0].Offset).To(Equal(droppedOffset))
		Expect(gaps[0].Length).To(Equal(len(droppedBody)))

		a.AddDatagram(dropped)
		got, err := a.Payload()
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(got, payload)).To(BeTrue())
	})

	It("ignores stale beacon echoes before the first real chunk", func() {
		beacon, err := EncodeDatagram(0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(IsBeacon(beacon)).To(BeTrue())

		payload := []byte("abc")
		dgs, err := Split(payload, DefaultSize)
		Expect(err).NotTo(HaveOccurred())

		var a Assembler
		done, err := a.AddDatagram(beacon)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeFalse())

		done, err = a.AddDatagram(dgs[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())

		got, err := a.Payload()
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(payload))
	})
})
