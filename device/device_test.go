package device

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/wire"
)

func TestDevice(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Device")
}

var _ = Describe("Device", func() {
	var d *Device

	BeforeEach(func() {
		d = New("dev1", nil)
	})

	It("registers run and status by default", func() {
		Expect(d.LDO("run")).NotTo(BeNil())
		Expect(d.LDO("status")).NotTo(BeNil())
	})

	It("expands a wildcard parameter list in declaration order", func() {
		d.Register(ldo.New("frequency", ldo.Readable|ldo.Writable, wire.Float(1.0)))
		d.Register(ldo.New("counters", ldo.Readable, wire.Int(0)))

		names, err := d.ExpandParameters([]string{"*"})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"run", "status", "frequency", "counters"}))
	})

	It("rejects an unknown explicit parameter", func() {
		_, err := d.ExpandParameters([]string{"nope"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects run=Exit on a non-server device", func() {
		Expect(d.LDO("run").Set([]wire.Value{wire.String("Exit")})).To(HaveOccurred())
	})

	It("accepts run=Exit on a device with AllowExit set", func() {
		d.AllowExit = true
		Expect(d.LDO("run").Set([]wire.Value{wire.String("Exit")})).To(Succeed())
	})
})
