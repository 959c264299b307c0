package counter

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/broker"
	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/publish"
	"github.com/sukhanov/goliteserver/support/network"
)

// Main is the "counter" demo app's entry point: it registers a single
// counting device alongside the required server device, starts counting
// immediately, and serves the lite data object protocol on a UDP port,
// exercising the subscribe-then-produce scenario end to end.
func Main() {
	port := flag.IntP("port", "p", 18022, "UDP port to listen on")
	name := flag.String("name", "dev1", "device name to register the counter under")
	interval := flag.Duration("interval", DefaultInterval, "how often the counter advances")
	flag.Parse()

	logger := zap.NewExample().Sugar()

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	registry := device.NewRegistry()
	srv := device.NewServer("demo-counter", host, func() error { return nil })
	registry.Register(srv.Device)

	cd := New(*name)
	cd.Interval = *interval
	registry.Register(cd.Device)
	if err := cd.Start(); err != nil {
		logger.Fatalf("starting counter: %v", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: *port})
	if err != nil {
		logger.Fatalf("listening on port %d: %v", *port, err)
	}
	defer conn.Close()

	acks := ack.New(logger)
	b := &broker.Broker{Registry: registry, Acks: acks, Logger: logger, OnSend: srv.RecordSend}
	socketID := conn.LocalAddr().String()
	pub := publish.New(b, acks, logger, socketID, host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publishLoop(ctx, cd.Device, pub)
	go serve(ctx, conn, b, socketID, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	cancel()
}

// publishLoop invokes PublishDevice on a fixed 200ms ticker, independent of
// when the counter advances.
func publishLoop(ctx context.Context, d *device.Device, pub *publish.Publisher) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pub.PublishDevice(d)
		}
	}
}

func serve(ctx context.Context, conn *net.UDPConn, b *broker.Broker, socketID string, logger *zap.SugaredLogger) {
	buf := make([]byte, network.MaxUDPSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Warnf("reading UDP: %v", err)
			continue
		}
		dg := append([]byte(nil), buf[:n]...)
		sender := &replySender{conn: conn, addr: raddr}
		if err := b.Dispatch(dg, socketID, raddr.String(), sender); err != nil {
			logger.Warnf("dispatching request from %s: %v", raddr, err)
		}
	}
}

type replySender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (s *replySender) SendDatagram(b []byte) error {
	_, err := s.conn.WriteToUDP(b, s.addr)
	return err
}
func (s *replySender) MaxDatagramSize() int { return network.MaxUDPSize }
func (s *replySender) Close() error         { return nil }
