package dhcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
)

// listenerKey names a bound socket for Server.listeners, which tracks them
// in bind order so Shutdown can close them deterministically.
type listenerKey struct {
	iface string
	addr  string
}

// maxTrackedIdentifiers bounds the number of distinct identifiers a single
// configured RateLimiter keeps state for, per the original spec's §5
// "Resource caps".
const maxTrackedIdentifiers = 10000

// Server owns the listening sockets, LeaseStore, Pipeline, StateMachine and
// background timers that together implement the server loop described by
// the original spec's §4.6 "Server loop" and §5 "Concurrency model".
type Server struct {
	logger *slog.Logger

	store    *LeaseStore
	pipeline *Pipeline
	machine  *StateMachine
	registry *Registry

	conf *Config

	// listeners are the bound UDP sockets opened in Run, tracked in bind
	// order so Shutdown closes them deterministically.
	listeners container.KeyValues[listenerKey, *net.UDPConn]

	clock timeutil.Clock

	wg sync.WaitGroup

	cancel context.CancelFunc
}

// ServerConfig configures a new Server.
type ServerConfig struct {
	Logger *slog.Logger
	Config *Config
	Clock  timeutil.Clock
}

// NewServer builds a Server and its core components (LeaseStore, Pipeline,
// StateMachine) from conf. conf must already have passed Config.Validate.
func NewServer(sc ServerConfig) (srv *Server, err error) {
	logger := sc.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	clock := sc.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	conf := sc.Config

	registry := NewRegistry()

	ring := NewEventRing(1024)
	sink := EventSinkFunc(func(ev SecurityEvent) {
		ring.Notify(ev)
		IncrementSecurityEvent(ev)
	})

	rateLimiters := make(map[string]*RateLimiter, len(conf.Security.RateLimits))
	for _, rl := range conf.Security.RateLimits {
		rateLimiters[rl.Identifier] = NewRateLimiter(rl.Rule, maxTrackedIdentifiers)
	}

	pipeline := NewPipeline(PipelineConfig{
		Sink:              sink,
		TrustedInterfaces: toSet(conf.Security.TrustedInterfaces),
		MACRules:          conf.Security.MACRules,
		IPRules:           conf.Security.IPRules,
		MACDefaultAction:  conf.Security.MACDefaultAction,
		RateLimiters:      rateLimiters,
		Option82:          conf.Security.Option82,
		Auth:              conf.Security.Auth,
		SnoopingEnabled:   conf.Security.SnoopingEnabled,
	})

	store := NewLeaseStore(LeaseStoreConfig{
		Clock:            clock,
		Sink:             sink,
		ConflictStrategy: conf.ConflictStrategy,
		DeclineCooldown:  conf.DeclineCooldown,
		MaxLeases:        conf.MaxLeases,
	})

	subnets := NewSubnetSet(conf.Subnets)
	machine := NewStateMachine(StateMachineConfig{
		Registry: registry,
		Store:    store,
		Subnets:  subnets,
		Sink:     sink,
	})

	srv = &Server{
		logger:   logger,
		store:    store,
		pipeline: pipeline,
		machine:  machine,
		registry: registry,
		conf:     conf,
		clock:    clock,
	}

	return srv, nil
}

// LoadLeaseFile restores persisted leases and reservations from the
// configured lease file, if it exists. A missing file is not an error.
func (srv *Server) LoadLeaseFile() (err error) {
	if srv.conf.LeaseFilePath == "" {
		return nil
	}

	data, readErr := os.ReadFile(srv.conf.LeaseFilePath)
	if errors.Is(readErr, os.ErrNotExist) {
		return nil
	} else if readErr != nil {
		return fmt.Errorf("reading lease file: %w", readErr)
	}

	loaded, err := LoadLeases(data, srv.logger)
	if err != nil {
		return fmt.Errorf("loading lease file: %w", err)
	}

	for _, s := range srv.conf.Subnets {
		for _, r := range loaded.Reservations {
			if s.ContainsAddr(r.IP) {
				s.Reservations[r.MAC] = r
			}
		}
	}

	for _, l := range loaded.Leases {
		srv.store.AddReservation(StaticReservation{MAC: l.MAC, IP: l.IP})

		subnet := srv.subnetFor(l.IP)
		if subnet == nil {
			srv.logger.Warn("dropping stale lease on load", "mac", l.MAC, "ip", l.IP, slogutil.KeyError, ErrNoMatchingSubnet)

			continue
		}

		_, allocErr := srv.store.Allocate(l.MAC, l.IP, subnet, l.ClientID)
		if allocErr != nil {
			srv.logger.Warn("dropping stale lease on load", "mac", l.MAC, "ip", l.IP, slogutil.KeyError, allocErr)
		}
	}

	return nil
}

// subnetFor returns the configured subnet containing ip, or nil.
func (srv *Server) subnetFor(ip IPAddress) (subnet *Subnet) {
	for _, s := range srv.conf.Subnets {
		if s.ContainsAddr(ip) {
			return s
		}
	}

	return nil
}

// Run opens a UDP socket for every configured listen address and serves
// DHCP requests until ctx is canceled. It also starts the background
// expiration sweep and, if configured, the periodic lease-file auto-save.
func (srv *Server) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel

	var errs []error
	for _, l := range srv.conf.Listen {
		conn, openErr := openListener(l)
		if openErr != nil {
			errs = append(errs, fmt.Errorf("listen %s: %w", l.IP, openErr))

			continue
		}

		srv.listeners = append(srv.listeners, container.KeyValue[listenerKey, *net.UDPConn]{
			Key:   listenerKey{iface: l.Interface, addr: conn.LocalAddr().String()},
			Value: conn,
		})

		srv.wg.Add(1)
		go srv.serve(ctx, l, conn)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	srv.wg.Add(1)
	go srv.runSweepLoop(ctx)

	if srv.conf.AutoSaveInterval > 0 {
		srv.wg.Add(1)
		go srv.runAutoSaveLoop(ctx)
	}

	return nil
}

// openListener binds a UDP socket for l. Binding to port 67 generally
// requires elevated privileges; callers running unprivileged should
// configure an alternate port for testing.
func openListener(l ListenAddress) (conn *net.UDPConn, err error) {
	port := l.Port
	if port == 0 {
		port = ServerPort
	}

	addr := &net.UDPAddr{IP: net.IP(l.IP.Bytes()[:]), Port: port}

	conn, err = net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Shutdown stops accepting new datagrams, persists the lease store if a
// lease file is configured, and closes every listener. It blocks until all
// serve loops have exited or ctx is done.
func (srv *Server) Shutdown(ctx context.Context) (err error) {
	if srv.cancel != nil {
		srv.cancel()
	}

	var errs []error
	for _, kv := range srv.listeners {
		if closeErr := kv.Value.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("closing listener %s: %w", kv.Key.addr, closeErr))
		}
	}

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if saveErr := srv.saveLeaseFile(); saveErr != nil {
		errs = append(errs, saveErr)
	}

	return errors.Join(errs...)
}

func (srv *Server) saveLeaseFile() (err error) {
	if srv.conf.LeaseFilePath == "" {
		return nil
	}

	var reservations []StaticReservation
	for _, s := range srv.conf.Subnets {
		for _, r := range s.Reservations {
			reservations = append(reservations, r)
		}
	}

	return SaveLeases(srv.conf.LeaseFilePath, srv.store.Snapshot(), reservations, srv.clock.Now())
}

// serve is the per-listener receive loop: decode, admit, dispatch, reply.
func (srv *Server) serve(ctx context.Context, l ListenAddress, conn *net.UDPConn) {
	defer srv.wg.Done()

	buf := make([]byte, DefaultMaxMessageSize*4)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, raddr, readErr := conn.ReadFromUDP(buf)
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}

			srv.logger.Warn("reading datagram", "interface", l.Interface, slogutil.KeyError, readErr)

			continue
		}

		srv.handleDatagram(ctx, conn, l, raddr, buf[:n])
	}
}

// handleDatagram runs one inbound datagram through Parse, the security
// pipeline, and the state machine, transmitting any reply.
func (srv *Server) handleDatagram(ctx context.Context, conn *net.UDPConn, l ListenAddress, raddr *net.UDPAddr, data []byte) {
	now := srv.clock.Now()

	msg, parseErr := Parse(data)
	if parseErr != nil {
		srv.logger.DebugContext(ctx, "discarding unparseable datagram", "interface", l.Interface, slogutil.KeyError, parseErr)

		return
	}

	if validateErr := Validate(msg); validateErr != nil {
		srv.logger.DebugContext(ctx, "discarding invalid message", "interface", l.Interface, slogutil.KeyError, validateErr)

		return
	}

	if macErr := msg.Header.ClientHWAddr.Validate(); macErr != nil {
		srv.logger.DebugContext(ctx, "discarding message with invalid client hwaddr", "interface", l.Interface, slogutil.KeyError, macErr)

		return
	}

	IncrementMessage(msg.Type, "in")

	sourceIP, _ := netip.AddrFromSlice(raddr.IP.To4())

	verdict, ev := srv.pipeline.Admit(AdmitRequest{
		Message:   msg,
		Interface: l.Interface,
		SourceIP:  ipAddressFromNetip(sourceIP),
		SourceMAC: msg.Header.ClientHWAddr,
	}, now)
	if verdict == Deny {
		srv.logger.InfoContext(ctx, "admission denied", "kind", ev.Kind, "severity", ev.Severity, "description", ev.Description)

		return
	}

	out, handleErr := srv.machine.Handle(HandleRequest{
		Message:       msg,
		InterfaceAddr: l.IP,
		VendorClass:   vendorClassOf(msg),
	}, now)
	if handleErr != nil {
		srv.logger.ErrorContext(ctx, "handling message", slogutil.KeyError, handleErr)

		return
	}

	if out == nil {
		return
	}

	srv.transmit(ctx, conn, msg, out)
}

// transmit serializes and sends out's message per its transport decision,
// capping its size by the client's option 57 in the inbound message in.
func (srv *Server) transmit(ctx context.Context, conn *net.UDPConn, in *Message, out *Outbound) {
	maxSize := 0
	if v, ok := in.GetOption(OptMaxMessageSize); ok && len(v) == 2 {
		maxSize = int(v[0])<<8 | int(v[1])
	}

	buf, err := Serialize(out.Message, maxSize)
	if err != nil {
		srv.logger.ErrorContext(ctx, "serializing reply", slogutil.KeyError, err)

		return
	}

	destIP := out.DestIP
	if out.Broadcast {
		destIP = BroadcastIP
	}

	addr := &net.UDPAddr{IP: net.IP(destIP.Bytes()[:]), Port: out.DestPort}

	if _, writeErr := conn.WriteToUDP(buf, addr); writeErr != nil {
		srv.logger.ErrorContext(ctx, "sending reply", "dest", addr, slogutil.KeyError, writeErr)

		return
	}

	IncrementMessage(out.Message.Type, "out")
}

// runSweepLoop periodically removes expired leases, per the original
// spec's §4.3 "Expiration sweep".
func (srv *Server) runSweepLoop(ctx context.Context) {
	defer srv.wg.Done()

	interval := srv.conf.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := srv.store.SweepExpired(srv.clock.Now())
			if removed > 0 {
				srv.logger.Debug("swept expired leases", "removed", removed)
			}
		}
	}
}

// runAutoSaveLoop periodically persists the lease store to disk.
func (srv *Server) runAutoSaveLoop(ctx context.Context) {
	defer srv.wg.Done()

	ticker := time.NewTicker(srv.conf.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := srv.saveLeaseFile(); err != nil {
				srv.logger.Error("auto-saving lease file", slogutil.KeyError, err)
			}
		}
	}
}

// Leases returns every active lease currently held.
func (srv *Server) Leases() (leases []Lease) {
	return srv.store.Snapshot()
}

// HostByIP returns the hostname leased to ip, if any.
func (srv *Server) HostByIP(ip IPAddress) (host string) {
	if l, ok := srv.store.GetByIP(ip); ok {
		return l.Hostname
	}

	return ""
}

// MACByIP returns the MAC address leased to ip, if any.
func (srv *Server) MACByIP(ip IPAddress) (mac MacAddress, ok bool) {
	l, ok := srv.store.GetByIP(ip)
	if !ok {
		return MacAddress{}, false
	}

	return l.MAC, true
}

// IPByHost returns the address leased to the client with the given
// hostname, if any.
func (srv *Server) IPByHost(host string) (ip IPAddress, ok bool) {
	for _, l := range srv.store.Snapshot() {
		if l.Hostname == host {
			return l.IP, true
		}
	}

	return IPAddress(0), false
}

// Reload atomically swaps the running configuration: a new Server's core
// components are built from newConf and substituted in place, without
// interrupting listener sockets. The lease store is carried over rather
// than rebuilt, so active leases survive a reload.
func (srv *Server) Reload(newConf *Config) (err error) {
	if validateErr := newConf.Validate(srv.registry); validateErr != nil {
		return fmt.Errorf("validating reloaded config: %w", validateErr)
	}

	rateLimiters := make(map[string]*RateLimiter, len(newConf.Security.RateLimits))
	for _, rl := range newConf.Security.RateLimits {
		rateLimiters[rl.Identifier] = NewRateLimiter(rl.Rule, maxTrackedIdentifiers)
	}

	newPipeline := NewPipeline(PipelineConfig{
		Sink:              srv.pipeline.conf.Sink,
		TrustedInterfaces: toSet(newConf.Security.TrustedInterfaces),
		MACRules:          newConf.Security.MACRules,
		IPRules:           newConf.Security.IPRules,
		MACDefaultAction:  newConf.Security.MACDefaultAction,
		RateLimiters:      rateLimiters,
		Option82:          newConf.Security.Option82,
		Auth:              newConf.Security.Auth,
		SnoopingEnabled:   newConf.Security.SnoopingEnabled,
	})

	newSubnets := NewSubnetSet(newConf.Subnets)
	newMachine := NewStateMachine(StateMachineConfig{
		Registry: srv.registry,
		Store:    srv.store,
		Subnets:  newSubnets,
		Sink:     srv.pipeline.conf.Sink,
	})

	srv.pipeline = newPipeline
	srv.machine = newMachine
	srv.conf = newConf

	srv.logger.Info("reloaded configuration", "subnets", len(newConf.Subnets))

	return nil
}

// vendorClassOf extracts the vendor class identifier (option 60) from msg,
// if present.
func vendorClassOf(msg *Message) (vendorClass string) {
	if v, ok := msg.GetOption(OptVendorClass); ok {
		return string(v)
	}

	return ""
}

// ipAddressFromNetip converts a netip.Addr (as returned by net.UDPAddr's
// parsed source address) to the package's host-order IPAddress.
func ipAddressFromNetip(addr netip.Addr) (ip IPAddress) {
	if !addr.Is4() {
		return 0
	}

	b := addr.As4()
	ip, _ = IPFromSlice(b[:])

	return ip
}
