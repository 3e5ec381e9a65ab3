// Package agentrpc ingests flow reports streamed by host capture
// agents. Reports enter the same pipeline as switch counters: they
// refresh liveness, feed profiling sessions, and surface as
// FlowSample events for the behavioral detector.
package agentrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"

	pb "github.com/lcalzada-xor/ztcore/api/proto"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/baseline"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// Server implements the FlowAgent service. Agents on the LAN see the
// network from the host side, so a MAC the core has never met is a
// discovery: it enters the enrollment pipeline as pending, and its
// traffic is dropped until an operator approves it.
type Server struct {
	pb.UnimplementedFlowAgentServer

	store      ports.Store
	onboarding ports.OnboardingControl
	acc        *baseline.Accumulator
	bus        ports.EventBus
	clock      clockwork.Clock
	log        *slog.Logger
}

// Option customizes the server.
type Option func(*Server)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates the ingest service. acc may be nil when profiling
// is handled elsewhere; reports for profiling devices are then only
// published, not accumulated.
func NewServer(store ports.Store, onboarding ports.OnboardingControl, acc *baseline.Accumulator, bus ports.EventBus, opts ...Option) *Server {
	s := &Server{
		store:      store,
		onboarding: onboarding,
		acc:        acc,
		bus:        bus,
		clock:      clockwork.NewRealClock(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGRPCServer wraps the service in a ready-to-serve gRPC server.
func NewGRPCServer(s *Server) *grpc.Server {
	srv := grpc.NewServer()
	pb.RegisterFlowAgentServer(srv, s)
	return srv
}

// ReportFlows consumes one agent's report stream. A report that fails
// to ingest is logged and dropped; the stream stays up so one bad
// record does not cost the window's remaining devices.
func (s *Server) ReportFlows(stream pb.FlowAgent_ReportFlowsServer) error {
	var summary pb.ReportSummary
	for {
		report, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&summary)
		}
		if err != nil {
			return err
		}

		registered, err := s.ingest(stream.Context(), report)
		if err != nil {
			s.log.Warn("flow report dropped", "agent", report.GetAgentId(), "mac", report.GetMac(), "error", err)
			continue
		}
		summary.Accepted++
		if registered {
			summary.Registered++
		}
	}
}

// ingest applies one report. Returns whether the report triggered a
// pending registration.
func (s *Server) ingest(ctx context.Context, report *pb.FlowReport) (bool, error) {
	mac := domain.NormalizeMAC(report.GetMac())
	if mac == "" {
		return false, fmt.Errorf("report without MAC")
	}

	ts := time.Unix(report.GetTimestampUnix(), 0).UTC()
	now := s.clock.Now().UTC()
	if report.GetTimestampUnix() == 0 || ts.After(now) {
		// A skewed agent clock must not push liveness into the future.
		ts = now
	}

	dev, err := s.store.GetDeviceByMAC(ctx, mac)
	if domain.IsNotFound(err) {
		if _, rerr := s.onboarding.RegisterPending(ctx, mac, "", ""); rerr != nil {
			var dup *domain.DuplicateMACError
			if errors.As(rerr, &dup) {
				// Lost a race with another discovery path. The device
				// exists now; its reports count from the next window.
				return false, nil
			}
			return false, fmt.Errorf("register %s: %w", mac, rerr)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if dev.Status == domain.StatusPending {
		return false, nil
	}

	if report.GetPackets() > 0 {
		if err := s.store.SetLastSeen(ctx, dev.DeviceID, ts); err != nil && !domain.IsNotFound(err) {
			return false, err
		}
	}

	// Agents sit beside the devices and see DHCP churn before the core
	// does; adopt the address they report.
	if ip := report.GetSrcIp(); ip != "" && ip != dev.IP && domain.IsValidIP(ip) {
		dev.IP = ip
		if err := s.store.UpdateDevice(ctx, dev); err != nil && !domain.IsNotFound(err) {
			return false, err
		}
	}

	if dev.Status == domain.StatusProfiling && s.acc != nil {
		dstPorts := make([]int, 0, len(report.GetDstPorts()))
		for _, p := range report.GetDstPorts() {
			dstPorts = append(dstPorts, int(p))
		}
		s.acc.ObserveAggregate(mac, report.GetPackets(), report.GetBytes(), report.GetDstIps(), dstPorts, report.GetProtocols())
	}

	window := report.GetWindowSeconds()
	if window <= 0 {
		window = 1
	}
	stats := domain.FlowStats{
		Packets:        report.GetPackets(),
		Bytes:          report.GetBytes(),
		PPS:            float64(report.GetPackets()) / window,
		BPS:            float64(report.GetBytes()) / window,
		UniqueDstIPs:   len(report.GetDstIps()),
		UniqueDstPorts: len(report.GetDstPorts()),
		Protocols:      report.GetProtocols(),
		WindowSeconds:  window,
	}
	s.bus.Publish(domain.TopicFlowSample, domain.FlowSample{
		DeviceID:  dev.DeviceID,
		MAC:       mac,
		Stats:     stats,
		Timestamp: ts,
	})
	telemetry.FlowSamples.Inc()
	return false, nil
}
