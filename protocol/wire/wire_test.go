package wire

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

func TestWire(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wire")
}

var _ = Describe("Encode/Decode round trip", func() {
	DescribeTable("scalars and arrays",
		func(v Value) {
			encoded, err := Encode(v)
			Expect(err).NotTo(HaveOccurred())

			decoded, err := DecodeAll(encoded)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded).To(Equal(v))
		},
		Entry("int", Int(42)),
		Entry("negative int", Int(-7)),
		Entry("large int", Int(1<<40)),
		Entry("float", Float(3.25)),
		Entry("string", String("frequency")),
		Entry("bool true", True),
		Entry("bool false", False),
		Entry("null", Null),
		Entry("array of floats", Array(Float(1.0), Float(2.0), Float(3.0))),
		Entry("nested array", Array(Array(Int(1), Int(2)), String("x"))),
	)

	It("round-trips an object", func() {
		v := Object(map[string]Value{
			"value":     Array(Float(1.0)),
			"timestamp": Float(12345.6),
		})
		encoded, err := Encode(v)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := DecodeAll(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Object["value"]).To(Equal(Array(Float(1.0))))
		Expect(decoded.Object["timestamp"]).To(Equal(Float(12345.6)))
	})

	It("round-trips the numpy binary shortcut bit-exact", func() {
		raw := make([]byte, 960*1280*3)
		for i := range raw {
			raw[i] = byte(i)
		}
		n := &Numpy{Shape: []int{960, 1280, 3}, Dtype: "uint8", Raw: raw}
		v := NumpyValue(n)

		encoded, err := Encode(v)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := DecodeAll(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Numpy).NotTo(BeNil())
		Expect(decoded.Numpy.Shape).To(Equal(n.Shape))
		Expect(decoded.Numpy.Dtype).To(Equal(n.Dtype))
		Expect(decoded.Numpy.Raw).To(Equal(raw))
	})

	It("decodes a request message", func() {
		req := Object(map[string]Value{
			"cmd": Array(String("get"), Array(
				Array(String("h:dev1"), Array(Array(String("frequency")))),
			)),
			"username": String("alice"),
			"pid":      Int(1234),
		})
		encoded, err := Encode(req)
		Expect(err).NotTo(HaveOccurred())

		decodedVal, err := DecodeAll(encoded)
		Expect(err).NotTo(HaveOccurred())

		parsed, err := DecodeRequest(decodedVal)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Command).To(Equal("get"))
		Expect(parsed.Username).To(Equal("alice"))
		Expect(parsed.PID).To(Equal(int64(1234)))
		Expect(parsed.Args).To(HaveLen(1))
		Expect(parsed.Args[0].CNSDeviceName).To(Equal("h:dev1"))
		Expect(parsed.Args[0].Parameters).To(Equal([]string{"frequency"}))
	})

	It("flags ERR-prefixed replies as errors", func() {
		Expect(IsError(String("ERR.LS bad command"))).To(BeTrue())
		Expect(IsError(String("WARNING something"))).To(BeFalse())
		Expect(IsError(Float(1))).To(BeFalse())
	})
})
