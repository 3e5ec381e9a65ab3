// Package sniffer turns raw pcap capture into PacketObservation values.
// It is a secondary observation source: the switch adapter's recording
// channel stays primary, the sniffer covers segments the switch cannot
// see (agent hosts, mirror ports).
package sniffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Config selects the interface and capture parameters.
type Config struct {
	Interface string
	// BPF is an optional capture filter, e.g. "ip". Empty captures
	// everything the interface sees.
	BPF     string
	SnapLen int32
	Promisc bool
}

// Sniffer owns one live capture handle and fans observations out to
// registered callbacks, mirroring the switch adapter's recording
// channel so both sources wire identically.
type Sniffer struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	handlers []ports.ObservationFunc
}

// Option customizes the sniffer.
type Option func(*Sniffer)

// WithLogger sets the sniffer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sniffer) { s.log = l }
}

// New creates a sniffer for the configured interface. Nothing is opened
// until Run.
func New(cfg Config, opts ...Option) *Sniffer {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 1600
	}
	s := &Sniffer{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordObservation registers a callback invoked for every parsed
// packet.
func (s *Sniffer) RecordObservation(fn ports.ObservationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Run captures until the context is cancelled. An interface that cannot
// be opened is an error the caller decides about; the core degrades to
// switch-side observation, the agent gives up.
func (s *Sniffer) Run(ctx context.Context) error {
	handle, err := pcap.OpenLive(s.cfg.Interface, s.cfg.SnapLen, s.cfg.Promisc, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Interface, err)
	}
	defer handle.Close()

	if s.cfg.BPF != "" {
		if err := handle.SetBPFFilter(s.cfg.BPF); err != nil {
			return fmt.Errorf("bpf filter %q: %w", s.cfg.BPF, err)
		}
	}

	s.log.Info("capture started", "iface", s.cfg.Interface, "bpf", s.cfg.BPF, "promisc", s.cfg.Promisc)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			obs, ok := Parse(pkt)
			if !ok {
				continue
			}
			s.mu.Lock()
			handlers := s.handlers
			s.mu.Unlock()
			for _, fn := range handlers {
				fn(obs)
			}
		}
	}
}
