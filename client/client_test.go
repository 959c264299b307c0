package client

import (
	"net"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/broker"
	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/nameresolve"
	"github.com/sukhanov/goliteserver/protocol/wire"
	"github.com/sukhanov/goliteserver/support/network"
)

func TestClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Client")
}

// udpSender replies to one specific client address over a shared listening
// socket, mirroring how a real server socket addresses its replies.
type udpSender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (s *udpSender) SendDatagram(b []byte) error {
	_, err := s.conn.WriteToUDP(b, s.addr)
	return err
}
func (s *udpSender) MaxDatagramSize() int { return network.MaxUDPSize }
func (s *udpSender) Close() error         { return nil }

// startTestServer runs a minimal UDP server loop dispatching every
// datagram through b, for the lifetime of the test.
func startTestServer(b *broker.Broker) (addr string, stop func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	Expect(err).NotTo(HaveOccurred())

	go func() {
		buf := make([]byte, 65507)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			dg := append([]byte(nil), buf[:n]...)
			sender := &udpSender{conn: conn, addr: raddr}
			_ = b.Dispatch(dg, "test", raddr.String(), sender)
		}
	}()

	return conn.LocalAddr().String(), func() { conn.Close() }
}

var _ = Describe("Access", func() {
	var (
		reg      *device.Registry
		dev      *device.Device
		b        *broker.Broker
		addr     string
		stop     func()
		access   *Access
		resolver nameresolve.Table
	)

	BeforeEach(func() {
		reg = device.NewRegistry()
		dev = device.New("dev1", nil)
		counters := ldo.New("counters", ldo.Readable|ldo.Writable, wire.Int(0))
		dev.Register(counters)
		reg.Register(dev)

		b = &broker.Broker{Registry: reg, Acks: ack.New(nil)}
		addr, stop = startTestServer(b)

		host, portStr, err := net.SplitHostPort(addr)
		Expect(err).NotTo(HaveOccurred())
		port, err := strconv.Atoi(portStr)
		Expect(err).NotTo(HaveOccurred())

		resolver = nameresolve.Table{"dev1": {Host: host, Port: port, Device: "dev1"}}
		access = NewAccess(resolver, nil)
	})

	AfterEach(func() {
		stop()
	})

	It("gets a value from a remote device", func() {
		cells, err := access.Get([]PV{{Device: "dev1", Parameter: "counters"}})
		Expect(err).NotTo(HaveOccurred())
		cell, ok := cells["client:dev1:counters"]
		Expect(ok).To(BeTrue())
		Expect(cell.Object["value"].Int).To(Equal(int64(0)))
	})

	It("sets a value on a remote device", func() {
		reply, err := access.Set(PV{Device: "dev1", Parameter: "counters"}, []wire.Value{wire.Int(7)})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Object["client:dev1:counters"].Object["value"].Int).To(Equal(int64(7)))
		Expect(dev.LDO("counters").Count()).To(Equal(1))
	})

	It("gets info including metadata", func() {
		cells, err := access.Info([]PV{{Device: "dev1", Parameter: "counters"}}, "*")
		Expect(err).NotTo(HaveOccurred())
		Expect(cells["client:dev1:counters"].Object).To(HaveKey("features"))
	})

	It("delivers a subscribed publish to the registered callback", func() {
		received := make(chan map[string]wire.Value, 1)
		err := access.Subscribe([]PV{{Device: "dev1", Parameter: "counters"}}, func(cells map[string]wire.Value) {
			received <- cells
		})
		Expect(err).NotTo(HaveOccurred())

		clientHostPort := localAddrFor(access, addr)
		sub := dev.Subscriber(clientHostPort)
		Expect(sub).NotTo(BeNil())

		Expect(b.PublishRead("test", "client", clientHostPort, dev, sub.Parameters, sub.Socket)).To(Succeed())

		Eventually(received, time.Second).Should(Receive())
	})
})

// localAddrFor returns the local address of Access's subscription socket to
// addr, which is exactly the clientHostPort key the server recorded on
// subscribe.
func localAddrFor(a *Access, addr string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.subs[addr]
	if !ok {
		return ""
	}
	return sub.conn.LocalAddr().String()
}
