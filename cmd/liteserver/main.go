// Command liteserver runs a lite data object server: it listens on a UDP
// socket, dispatches requests through a broker against a device registry,
// and drives the subscription publish loop and heartbeat.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/broker"
	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/nameresolve"
	"github.com/sukhanov/goliteserver/publish"
	"github.com/sukhanov/goliteserver/support/network"
)

// version is stamped into the server device's `version` LDO.
const version = "0.1.0"

func main() {
	var (
		iface       = flag.StringP("interface", "i", "", "network interface to bind on (default: all)")
		port        = flag.IntP("port", "p", 18021, "UDP port to listen on")
		verbose     = flag.CountP("verbose", "v", "increase log verbosity (repeatable)")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
		resolveFile = flag.String("resolve-file", "", "path to a static name-resolution table (see nameresolve.ParseTable)")
	)
	flag.Parse()

	zapLevel := zap.WarnLevel
	switch {
	case *verbose >= 2:
		zapLevel = zap.DebugLevel
	case *verbose == 1:
		zapLevel = zap.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapLogger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	registry := device.NewRegistry()

	conn, err := listen(*iface, *port)
	if err != nil {
		logger.Fatalf("listening on port %d: %v", *port, err)
	}

	reg := prometheus.NewRegistry()
	device.RegisterMonitoring(reg)
	publish.RegisterMonitoring(reg)
	ack.RegisterMonitoring(reg)

	srv := device.NewServer(version, host, func() error {
		logger.Info("server reset requested")
		return nil
	})
	srv.SetLastPID(strconv.Itoa(os.Getpid()))
	registry.Register(srv.Device)

	acks := ack.New(logger)
	acks.OnUnresponsive = func(k ack.Key) {
		logger.Warnf("client %s unresponsive on socket %s", k.Client, k.Socket)
	}

	b := &broker.Broker{
		Registry:     registry,
		Acks:         acks,
		Logger:       logger,
		OnSend:       srv.RecordSend,
		OnRetransmit: srv.RecordRetransmit,
	}

	socketID := conn.LocalAddr().String()
	pub := publish.New(b, acks, logger, socketID, host)
	pub.OnDropped = srv.RecordDropped
	pub.OnItemsLost = srv.RecordItemsLost

	hb := &publish.Heartbeat{
		Registry:  registry,
		Server:    srv,
		Publisher: pub,
		Logger:    logger,
	}

	if *resolveFile != "" {
		f, err := os.Open(*resolveFile)
		if err != nil {
			logger.Fatalf("opening resolve file: %v", err)
		}
		table, err := nameresolve.ParseTable(f)
		f.Close()
		if err != nil {
			logger.Fatalf("parsing resolve file: %v", err)
		}
		logger.Infof("loaded %d name resolution entries", len(table))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hb.Run(ctx)
	go acks.Run(ctx)
	go pollDevices(ctx, registry, srv, logger)
	go serveMetrics(*metricsAddr, reg, logger)
	go serveUDP(ctx, conn, b, socketID, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	cancel()
	conn.Close()
}

// listen binds the server's UDP socket. With no interface given it listens
// on every interface; otherwise it resolves the named interface's address
// and binds to that address specifically.
func listen(iface string, port int) (*net.UDPConn, error) {
	if iface == "" {
		return net.ListenUDP("udp", &net.UDPAddr{Port: port})
	}

	rc, err := network.ResolveUDPAddress(network.AddressOptions{Interface: iface})
	if err != nil {
		return nil, errors.Wrapf(err, "resolving interface %q", iface)
	}
	rc.Port = port
	return rc.ListenUDP4()
}

// serveUDP is the receive loop: one read per iteration, dispatched through
// the broker, with replies sent back through a per-datagram DatagramSender
// bound to the sender's address.
func serveUDP(ctx context.Context, conn *net.UDPConn, b *broker.Broker, socketID string, logger *zap.SugaredLogger) {
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

// replySender addresses replies back to one specific client on the
// server's shared listening socket.
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

// pollDevices invokes Hooks.Poll on every non-server device every
// devsPollingInterval seconds.
func pollDevices(ctx context.Context, registry *device.Registry, srv *device.Server, logger *zap.SugaredLogger) {
	for {
		interval := srv.PollingInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		for _, d := range registry.All() {
			if d == srv.Device {
				continue
			}
			if err := d.Hooks.Poll(); err != nil {
				logger.Warnf("polling device %s: %v", d.Name, err)
			}
		}
	}
}

// serveMetrics exposes the Prometheus registry over HTTP until ctx's
// process exits; errors are logged, not fatal (metrics are ancillary).
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warnf("metrics server: %v", err)
	}
}
