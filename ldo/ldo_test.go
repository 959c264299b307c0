package ldo

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sukhanov/goliteserver/protocol/wire"
)

func TestLDO(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LDO")
}

var _ = Describe("LDO.Set", func() {
	It("rejects out-of-range values and leaves the LDO unchanged", func() {
		lo, hi := 0.0, 10.0
		l := New("frequency", Readable|Writable, wire.Float(1.0))
		l.OpLimits = &Limits{Low: &lo, High: &hi}

		err := l.Set([]wire.Value{wire.Float(20.0)})
		Expect(err).To(HaveOccurred())

		v, _ := l.Value()
		Expect(v).To(Equal([]wire.Value{wire.Float(1.0)}))
	})

	It("rejects values outside legalValues and leaves the LDO unchanged", func() {
		l := New("mode", Readable|Writable, wire.String("auto"))
		l.LegalValues = []wire.Value{wire.String("auto"), wire.String("manual")}

		err := l.Set([]wire.Value{wire.String("bogus")})
		Expect(err).To(HaveOccurred())

		v, _ := l.Value()
		Expect(v).To(Equal([]wire.Value{wire.String("auto")}))
	})

	It("coerces a truthy value on a bool LDO", func() {
		l := New("enabled", Readable|Writable, wire.False)
		l.Type = "bool"

		Expect(l.Set([]wire.Value{wire.Int(5)})).To(Succeed())
		v, _ := l.Value()
		Expect(v).To(Equal([]wire.Value{wire.True}))
	})

	It("coerces an int value to the declared type on a float LDO", func() {
		l := New("frequency", Readable|Writable, wire.Float(1.0))
		l.Type = "float"

		Expect(l.Set([]wire.Value{wire.Int(7)})).To(Succeed())
		v, _ := l.Value()
		Expect(v).To(Equal([]wire.Value{wire.Float(7.0)}))
	})

	It("rejects writes to a non-writable LDO", func() {
		l := New("status", Readable, wire.String("ok"))
		Expect(l.Set([]wire.Value{wire.String("bad")})).To(HaveOccurred())
	})

	It("reverts the value when the setter fails", func() {
		l := New("frequency", Readable|Writable, wire.Float(1.0))
		l.Setter = SetterFunc(func(old, new []wire.Value) error {
			return errBoom
		})

		err := l.Set([]wire.Value{wire.Float(2.0)})
		Expect(err).To(Equal(errBoom))

		v, _ := l.Value()
		Expect(v).To(Equal([]wire.Value{wire.Float(1.0)}))
	})

	It("advances the timestamp on every mutating set", func() {
		l := New("frequency", Readable|Writable, wire.Float(1.0))
		t0 := l.Timestamp()

		Expect(l.Set([]wire.Value{wire.Float(2.0)})).To(Succeed())
		Expect(l.Timestamp()).To(BeNumerically(">=", t0))
	})
})

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
