package nameresolve

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestNameResolve(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "NameResolve")
}

var _ = Describe("ParseTable", func() {
	It("parses a declarative name-resolution table", func() {
		input := `
# comment line
dev1 = 192.168.1.10;18020;dev1
dev2 =10.0.0.5 ; 18021 ; dev2

`
		table, err := ParseTable(strings.NewReader(input))
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(2))
		Expect(table["dev1"]).To(Equal(Target{Host: "192.168.1.10", Port: 18020, Device: "dev1"}))
		Expect(table["dev2"]).To(Equal(Target{Host: "10.0.0.5", Port: 18021, Device: "dev2"}))
	})

	It("rejects a malformed line", func() {
		_, err := ParseTable(strings.NewReader("dev1 18020"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a target missing a field", func() {
		_, err := ParseTable(strings.NewReader("dev1 = host;18020"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Table.Resolve", func() {
	It("errors on an unknown name", func() {
		_, err := Table{}.Resolve("nope")
		Expect(err).To(HaveOccurred())
	})

	It("resolves a known name", func() {
		table := Table{"dev1": {Host: "h", Port: 1, Device: "dev1"}}
		target, err := table.Resolve("dev1")
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Device).To(Equal("dev1"))
	})
})
