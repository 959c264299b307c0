package publish

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/broker"
	"github.com/sukhanov/goliteserver/device"
)

var _ = Describe("Heartbeat", func() {
	It("refreshes server perf/statistics/clientsInfo and publishes them", func() {
		reg := device.NewRegistry()
		srv := device.NewServer("1.0", "h", nil)
		reg.Register(srv.Device)

		dev1 := device.New("dev1", nil)
		reg.Register(dev1)

		acks := ack.New(nil)
		b := &broker.Broker{Registry: reg, Acks: acks}
		p := New(b, acks, nil, "sock", "h")

		sender := &fakeSender{}
		srv.RegisterSubscriber("c:1", sender, []string{"statistics"})
		dev1.RegisterSubscriber("c:2", sender, []string{"status"})

		hb := &Heartbeat{Registry: reg, Server: srv, Publisher: p}
		hb.Tick()

		info, _ := srv.LDO("clientsInfo").Value()
		Expect(info[0].Str).To(ContainSubstring("dev1"))
		Expect(sender.sent).NotTo(BeEmpty())
	})
})
