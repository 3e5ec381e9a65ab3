// Package mock drives the whole pipeline with fabricated traffic so a
// deployment can be demonstrated without a switch, devices or a live
// honeypot. It walks a small IoT fleet through the real onboarding
// flow, advances the in-memory switch's counters every tick, feeds the
// profiling accumulator, and appends Cowrie-style records to the
// honeypot log. Demo mode only; production wiring never touches it.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/adapters/switching"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

const (
	defaultTick           = 2 * time.Second
	defaultIncidentChance = 0.02 // per tick; one incident every minute or two

	// burstDuration keeps an incident elevated long enough to span at
	// least one flow poll window at any sane cadence.
	burstDuration = 12 * time.Second

	dosFactor = 25 // multiplies steady pps/bps, comfortably past the 10x rule
	dosTarget = "203.0.113.66"

	noiseChance = 0.03
	strayChance = 0.004

	cowrieTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// Sweep sets injected by a scan burst. Sized to clear the detection
// floors (20 distinct IPs, 10 distinct ports) against any baseline a
// small-office device can have learned.
var (
	sweepPorts = func() []int {
		ps := make([]int, 120)
		for i := range ps {
			ps[i] = i + 1
		}
		return ps
	}()

	sweepIPs = func() []string {
		ips := make([]string, 40)
		for i := range ips {
			ips[i] = fmt.Sprintf("192.168.1.%d", 100+i)
		}
		return ips
	}()
)

type burstKind string

const (
	burstScan burstKind = "scan"
	burstDoS  burstKind = "dos"
)

type burstState struct {
	kind  burstKind
	until time.Time
	// injected marks that the scan's sweep sets already reached the
	// switch counters; the union only needs them once.
	injected bool
}

// Simulator fabricates the demo fleet and its traffic. Seed runs once
// at startup; Step is scheduled at Tick. On-demand incidents are safe
// from other goroutines, the scheduler not least.
type Simulator struct {
	store   ports.Store
	control ports.OnboardingControl
	sw      *switching.MemorySwitch
	observe ports.ObservationFunc
	logPath string

	clock clockwork.Clock
	log   *slog.Logger
	tick  time.Duration

	mu             sync.Mutex
	rng            *rand.Rand
	fleet          []persona
	byMAC          map[string]persona
	bursts         map[string]*burstState // keyed by MAC
	incidentChance float64
	strayDone      bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock injects a test clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

// WithLogger sets the simulator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithTick overrides the emission cadence.
func WithTick(d time.Duration) Option {
	return func(s *Simulator) { s.tick = d }
}

// WithRandSeed makes duty cycles, jitter and incident draws
// reproducible.
func WithRandSeed(seed int64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithIncidentChance overrides the per-tick probability of a
// self-triggered incident. Zero disables them; bursts and strikes stay
// available on demand.
func WithIncidentChance(p float64) Option {
	return func(s *Simulator) { s.incidentChance = p }
}

// New creates a simulator. observe may be nil when no profiling
// accumulator is wired; logPath may be empty when honeypot ingestion is
// disabled.
func New(store ports.Store, control ports.OnboardingControl, sw *switching.MemorySwitch, observe ports.ObservationFunc, logPath string, opts ...Option) *Simulator {
	s := &Simulator{
		store:          store,
		control:        control,
		sw:             sw,
		observe:        observe,
		logPath:        logPath,
		clock:          clockwork.NewRealClock(),
		log:            slog.Default(),
		tick:           defaultTick,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		fleet:          defaultFleet,
		bursts:         make(map[string]*burstState),
		incidentChance: defaultIncidentChance,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.byMAC = make(map[string]persona, len(s.fleet))
	for _, p := range s.fleet {
		s.byMAC[domain.NormalizeMAC(p.MAC)] = p
	}
	return s
}

// Tick is the cadence Step wants to be scheduled at.
func (s *Simulator) Tick() time.Duration { return s.tick }

// Seed registers the fleet and walks the auto-approve personas into
// their profiling window, adopting each one's LAN address the way an
// agent report would. Personas already known to the store are left
// alone, so a demo restart over a persisted database is quiet.
func (s *Simulator) Seed(ctx context.Context) error {
	existing, err := s.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("seed: list devices: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, dev := range existing {
		known[dev.MAC] = struct{}{}
	}

	seeded := 0
	for _, p := range s.fleet {
		if _, ok := known[domain.NormalizeMAC(p.MAC)]; ok {
			continue
		}
		dev, err := s.control.RegisterPending(ctx, p.MAC, p.ID, p.Type)
		if err != nil {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
		seeded++
		if !p.AutoApprove {
			continue
		}
		dev, err = s.control.Approve(ctx, dev.DeviceID, "demo fleet")
		if err != nil {
			return fmt.Errorf("seed approve %s: %w", p.ID, err)
		}
		dev.IP = p.IP
		if err := s.store.UpdateDevice(ctx, dev); err != nil {
			return fmt.Errorf("seed address %s: %w", p.ID, err)
		}
	}

	s.log.Info("demo fleet seeded", "fleet", len(s.fleet), "registered", seeded)
	return nil
}

// Step emits one tick of traffic: counter advances for every persona
// past pending, packet observations for the ones still profiling, and
// the occasional incident, honeypot noise line or stray discovery.
func (s *Simulator) Step(ctx context.Context) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.log.Warn("demo step skipped, device list failed", "error", err)
		return
	}

	now := s.clock.Now()
	var active []domain.Device
	for _, dev := range devices {
		p, ok := s.byMAC[dev.MAC]
		if !ok {
			continue // stray or operator-added, not ours to animate
		}
		if dev.Status == domain.StatusPending || dev.Status == domain.StatusRevoked {
			continue
		}
		if dev.Status == domain.StatusActive {
			active = append(active, dev)
		}
		// Quarantined devices keep talking: containment is the
		// switch's job, not the device's.
		s.emit(dev, p, now)
	}

	s.maybeIncident(active)
	s.maybeNoise(now)
	s.maybeStray(ctx)
}

// emit advances one device's counters for this tick and, while it is
// profiling, hands a few packet summaries to the accumulator.
func (s *Simulator) emit(dev domain.Device, p persona, now time.Time) {
	b := s.burstFor(dev.MAC, now)
	if b == nil && p.DutyCycle < 1 && !s.chance(p.DutyCycle) {
		return
	}

	secs := s.tick.Seconds()
	jitter := 0.7 + 0.6*s.float64n()
	packets := uint64(p.PPS * secs * jitter)
	if packets == 0 {
		packets = 1
	}
	bytes := uint64(p.BPS * secs * jitter)
	if bytes < 64 {
		bytes = 64
	}

	dstIPs, dstPorts, protos := p.DstIPs, p.DstPorts, p.Protos
	if b != nil {
		switch b.kind {
		case burstDoS:
			packets *= dosFactor
			bytes *= dosFactor
			dstIPs = append([]string{dosTarget}, dstIPs...)
			dstPorts = append([]int{80}, dstPorts...)
		case burstScan:
			packets *= 3
			if !b.injected {
				dstIPs = append(append([]string{}, sweepIPs...), dstIPs...)
				dstPorts = append(append([]int{}, sweepPorts...), dstPorts...)
				b.injected = true
			}
		}
	}

	s.sw.Advance(dev.MAC, packets, bytes, dstIPs, dstPorts, protos...)

	if dev.Status == domain.StatusProfiling && s.observe != nil {
		n := 1 + s.intn(3)
		for i := 0; i < n; i++ {
			s.observe(domain.PacketObservation{
				MAC:       dev.MAC,
				SrcIP:     p.IP,
				DstIP:     p.DstIPs[s.intn(len(p.DstIPs))],
				DstPort:   p.DstPorts[s.intn(len(p.DstPorts))],
				Protocol:  p.Protos[s.intn(len(p.Protos))],
				Size:      120 + s.intn(1080),
				Timestamp: now.UTC(),
			})
		}
	}
}

// ScanBurst makes a device sweep the LAN for roughly burstDuration: a
// large set of distinct destination ports and hosts lands in its next
// flow windows. Meaningful on devices with a finalized baseline.
func (s *Simulator) ScanBurst(ctx context.Context, deviceID string) error {
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	s.startBurst(dev.MAC, dev.DeviceID, burstScan)
	return nil
}

// DoSBurst floods a single external target from the device, inflating
// its packet and byte rates well past the detection multipliers.
func (s *Simulator) DoSBurst(ctx context.Context, deviceID string) error {
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	s.startBurst(dev.MAC, dev.DeviceID, burstDoS)
	return nil
}

// HoneypotStrike writes a Cowrie session from the device's address to
// the honeypot log: a connect, five failed logins (the fifth escalates
// server-side) and one command. Threat intel ties it back to the
// device by IP.
func (s *Simulator) HoneypotStrike(ctx context.Context, deviceID string) error {
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.IP == "" {
		return fmt.Errorf("strike %s: device has no known address", deviceID)
	}
	s.strike(dev.DeviceID, dev.IP)
	return nil
}

func (s *Simulator) startBurst(mac, deviceID string, kind burstKind) {
	s.mu.Lock()
	s.bursts[domain.NormalizeMAC(mac)] = &burstState{
		kind:  kind,
		until: s.clock.Now().Add(burstDuration),
	}
	s.mu.Unlock()
	s.log.Info("demo incident started", "device", deviceID, "kind", string(kind))
}

// burstFor returns the device's running burst, retiring it once it has
// run its course. Retiring resets the switch counters so the sweep's
// distinct-set unions do not haunt every later window; the poller
// reads the reset as a switch reboot and carries on.
func (s *Simulator) burstFor(mac string, now time.Time) *burstState {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bursts[mac]
	if !ok {
		return nil
	}
	if now.After(b.until) {
		delete(s.bursts, mac)
		s.sw.ResetCounters(mac)
		s.log.Info("demo incident ended", "mac", mac, "kind", string(b.kind))
		return nil
	}
	return b
}

func (s *Simulator) maybeIncident(active []domain.Device) {
	if len(active) == 0 || !s.chance(s.incidentChance) {
		return
	}
	dev := active[s.intn(len(active))]
	switch s.intn(3) {
	case 0:
		s.startBurst(dev.MAC, dev.DeviceID, burstScan)
	case 1:
		s.startBurst(dev.MAC, dev.DeviceID, burstDoS)
	default:
		if dev.IP != "" {
			s.strike(dev.DeviceID, dev.IP)
		}
	}
}

// maybeNoise drops a background-radiation line into the honeypot log:
// internet scanners probing the box without any fleet involvement.
// Unmapped event kinds are part of the point, the tailer must shrug
// them off.
func (s *Simulator) maybeNoise(now time.Time) {
	if s.logPath == "" || !s.chance(noiseChance) {
		return
	}
	src := noiseSources[s.intn(len(noiseSources))]
	eventid := s.weightedChoice([]string{
		"cowrie.session.connect",
		"cowrie.login.failed",
		"cowrie.client.version",
	}, []float32{0.6, 0.3, 0.1})

	rec := cowrieRecord{Timestamp: now.UTC().Format(cowrieTimeLayout), EventID: eventid, SrcIP: src}
	if eventid == "cowrie.login.failed" {
		i := s.intn(len(loginUsers))
		rec.Username, rec.Password = loginUsers[i], loginPasswords[i]
	}
	s.appendHoneypot(rec)
}

// maybeStray registers one unknown consumer device per run, so the
// pending queue gets organic growth beyond the seeded sensor.
func (s *Simulator) maybeStray(ctx context.Context) {
	s.mu.Lock()
	done := s.strayDone
	s.mu.Unlock()
	if done || !s.chance(strayChance) {
		return
	}

	vendor := strayVendors[s.intn(len(strayVendors))]
	mac := fmt.Sprintf("%s:%02x:%02x:%02x", vendorPrefixes[vendor],
		s.intn(256), s.intn(256), s.intn(256))
	if _, err := s.control.RegisterPending(ctx, mac, "", "phone"); err != nil {
		s.log.Warn("stray registration failed", "mac", mac, "error", err)
		return
	}

	s.mu.Lock()
	s.strayDone = true
	s.mu.Unlock()
	s.log.Info("stray device wandered in", "mac", mac, "vendor", vendor)
}

func (s *Simulator) strike(deviceID, ip string) {
	ts := s.clock.Now().UTC()
	stamp := func(offset time.Duration) string {
		return ts.Add(offset).Format(cowrieTimeLayout)
	}

	recs := []cowrieRecord{{Timestamp: stamp(0), EventID: "cowrie.session.connect", SrcIP: ip}}
	for i := 0; i < len(loginUsers); i++ {
		recs = append(recs, cowrieRecord{
			Timestamp: stamp(time.Duration(i+1) * time.Second),
			EventID:   "cowrie.login.failed",
			SrcIP:     ip,
			Username:  loginUsers[i],
			Password:  loginPasswords[i],
		})
	}
	recs = append(recs, cowrieRecord{
		Timestamp: stamp(7 * time.Second),
		EventID:   "cowrie.command.input",
		SrcIP:     ip,
		Input:     attackCommands[s.intn(len(attackCommands))],
	})

	s.appendHoneypot(recs...)
	s.log.Info("demo honeypot strike", "device", deviceID, "ip", ip)
}

// cowrieRecord is the slice of Cowrie's NDJSON schema the ingestor
// reads.
type cowrieRecord struct {
	Timestamp string `json:"timestamp"`
	EventID   string `json:"eventid"`
	SrcIP     string `json:"src_ip"`
	Input     string `json:"input,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

func (s *Simulator) appendHoneypot(recs ...cowrieRecord) {
	if s.logPath == "" {
		return
	}
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn("honeypot log append failed", "path", s.logPath, "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			s.log.Warn("honeypot record write failed", "error", err)
			return
		}
	}
}

// rng helpers; rand.Rand is not goroutine-safe and on-demand incidents
// may race the scheduled Step.

func (s *Simulator) chance(p float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

func (s *Simulator) float64n() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// weightedChoice picks one of choices with the given relative weights.
func (s *Simulator) weightedChoice(choices []string, weights []float32) string {
	total := float32(0)
	for _, w := range weights {
		total += w
	}

	r := float32(s.float64n()) * total
	cumulative := float32(0)
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return choices[i]
		}
	}
	return choices[0]
}
