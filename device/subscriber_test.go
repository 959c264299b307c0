package device

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Subscriber table", func() {
	var d *Device

	BeforeEach(func() {
		d = New("dev1", nil)
	})

	It("isolates disjoint parameter sets between two subscribers", func() {
		d.RegisterSubscriber("a:1", nil, []string{"counters"})
		d.RegisterSubscriber("b:1", nil, []string{"status"})

		a := d.Subscriber("a:1")
		b := d.Subscriber("b:1")
		Expect(a.Parameters).To(Equal([]string{"counters"}))
		Expect(b.Parameters).To(Equal([]string{"status"}))
	})

	It("evicting one subscriber leaves the other untouched", func() {
		d.RegisterSubscriber("a:1", nil, []string{"counters"})
		d.RegisterSubscriber("b:1", nil, []string{"status"})

		d.EvictSubscriber("a:1")
		Expect(d.Subscriber("a:1")).To(BeNil())
		Expect(d.Subscriber("b:1")).NotTo(BeNil())
	})

	It("merges new parameters into an existing subscription", func() {
		d.RegisterSubscriber("a:1", nil, []string{"counters"})
		d.RegisterSubscriber("a:1", nil, []string{"status", "counters"})

		Expect(d.Subscriber("a:1").Parameters).To(Equal([]string{"counters", "status"}))
	})
})
