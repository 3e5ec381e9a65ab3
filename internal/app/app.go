// Package app assembles the policy core. It owns construction order
// (storage, CA, bus, services, enforcement, servers), the periodic task
// table, and the run/shutdown lifecycle; every component is built here
// and nowhere else.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"

	auditstore "github.com/lcalzada-xor/ztcore/internal/adapters/audit"
	"github.com/lcalzada-xor/ztcore/internal/adapters/honeypotlog"
	"github.com/lcalzada-xor/ztcore/internal/adapters/reporting"
	"github.com/lcalzada-xor/ztcore/internal/adapters/sniffer"
	"github.com/lcalzada-xor/ztcore/internal/adapters/storage"
	"github.com/lcalzada-xor/ztcore/internal/adapters/switching"
	webserver "github.com/lcalzada-xor/ztcore/internal/adapters/web/server"
	"github.com/lcalzada-xor/ztcore/internal/bus"
	"github.com/lcalzada-xor/ztcore/internal/config"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/services/agentrpc"
	"github.com/lcalzada-xor/ztcore/internal/core/services/anomaly"
	"github.com/lcalzada-xor/ztcore/internal/core/services/attestation"
	"github.com/lcalzada-xor/ztcore/internal/core/services/audit"
	"github.com/lcalzada-xor/ztcore/internal/core/services/auth"
	"github.com/lcalzada-xor/ztcore/internal/core/services/baseline"
	"github.com/lcalzada-xor/ztcore/internal/core/services/ca"
	"github.com/lcalzada-xor/ztcore/internal/core/services/flow"
	"github.com/lcalzada-xor/ztcore/internal/core/services/honeypot"
	"github.com/lcalzada-xor/ztcore/internal/core/services/identity"
	"github.com/lcalzada-xor/ztcore/internal/core/services/mitigation"
	"github.com/lcalzada-xor/ztcore/internal/core/services/onboarding"
	"github.com/lcalzada-xor/ztcore/internal/core/services/orchestrator"
	reportingService "github.com/lcalzada-xor/ztcore/internal/core/services/reporting"
	"github.com/lcalzada-xor/ztcore/internal/core/services/trust"
	"github.com/lcalzada-xor/ztcore/internal/mock"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

const (
	// finalizeSweepInterval is how often profiling windows are checked
	// for expiry. Much shorter than any sane profiling duration so
	// finalization lands close to the window edge.
	finalizeSweepInterval = 5 * time.Second

	// threatSweepInterval drives honeypot threat TTL expiry.
	threatSweepInterval = time.Minute

	// reconnectInterval is the probe cadence for a down switch session.
	reconnectInterval = 5 * time.Second

	// positiveTickInterval matches the +2/uneventful-hour trust drift.
	positiveTickInterval = time.Hour

	// resyncTimeout bounds the full decision resubmission that follows
	// a switch session coming (back) up.
	resyncTimeout = 30 * time.Second

	// demoHoneypotPort stands in for a real honeypot uplink so demo
	// mode can exercise REDIRECT without hardware.
	demoHoneypotPort = 7
)

// Application holds the core components of the system. It acts as the
// facade for the entire process: construction in New, execution in Run.
type Application struct {
	Config *config.Config

	Store     *storage.SQLiteAdapter
	AuditRepo *auditstore.SQLiteRepository
	CA        *ca.Authority
	Bus       *bus.Bus
	Scheduler *bus.Scheduler
	Switch    *switching.Manager

	Trust        *trust.Service
	Accumulator  *baseline.Accumulator
	Baselines    *baseline.Service
	Poller       *flow.Poller
	Detector     *anomaly.Detector
	Attestation  *attestation.Loop
	Honeypot     *honeypot.Service
	Mitigations  *mitigation.Generator
	Onboarding   *onboarding.Coordinator
	Finalizer    *onboarding.Watcher
	Orchestrator *orchestrator.Orchestrator
	Inventory    *identity.Service
	Journal      *reportingService.Journal
	Reports      *reportingService.Service
	AuditService *audit.AuditService
	AuthService  *auth.Service

	WebServer  *webserver.Server
	GrpcServer *grpc.Server
	Tailer     *honeypotlog.Tailer
	Sniffer    *sniffer.Sniffer
	Simulator  *mock.Simulator

	// memSwitch is the in-process rule table behind the switch manager.
	// Demo mode advances its counters; core and sniff modes leave it to
	// hold installed rules while observations arrive from the agent or
	// the local capture.
	memSwitch *switching.MemorySwitch
	clock     clockwork.Clock
}

// New creates an Application from validated configuration and
// bootstraps every component. No goroutines start here; Run does that.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{
		Config: cfg,
		clock:  clockwork.NewRealClock(),
	}

	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	app.applyDemoDefaults()

	if err := app.initStorage(); err != nil {
		return err
	}
	if err := app.initCA(); err != nil {
		return err
	}

	app.Bus = bus.New(app.Config.EventQueueSize)
	app.Scheduler = bus.NewScheduler()
	app.initSwitch()

	if err := app.initServices(); err != nil {
		return err
	}
	app.initModeSources()
	app.ensureBootstrapAdmin()
	app.initServers()
	app.initTasks()

	return nil
}

// applyDemoDefaults fills the demo-only gaps so `-mode demo` works with
// zero configuration: a honeypot log to write strikes into and a switch
// port to redirect to. Production modes get no such invention.
func (app *Application) applyDemoDefaults() {
	if app.Config.Mode != config.ModeDemo {
		return
	}
	if app.Config.HoneypotLogPath == "" {
		app.Config.HoneypotLogPath = filepath.Join(filepath.Dir(app.Config.DBPath), "demo_honeypot.ndjson")
		slog.Info("demo honeypot log defaulted", "path", app.Config.HoneypotLogPath)
	}
	if app.Config.HoneypotPort == 0 {
		app.Config.HoneypotPort = demoHoneypotPort
	}
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.AuditDBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create audit DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init system storage: %w", err)
	}
	app.Store = store

	repo, err := auditstore.NewSQLiteRepository(app.Config.AuditDBPath)
	if err != nil {
		return fmt.Errorf("failed to init audit storage: %w", err)
	}
	app.AuditRepo = repo
	return nil
}

func (app *Application) initCA() error {
	authority, err := ca.NewAuthority(app.Config.CADir)
	if err != nil {
		return fmt.Errorf("failed to init certificate authority: %w", err)
	}
	app.CA = authority
	return nil
}

// initSwitch builds the switch adapter: the reconnect/queueing manager
// over the in-process rule table. Hardware southbounds plug in behind
// the same Driver seam; none ships yet, so every mode runs on the
// memory driver and differs only in what feeds it.
func (app *Application) initSwitch() {
	app.memSwitch = switching.NewMemorySwitch()
	app.Switch = switching.NewManager(app.memSwitch,
		switching.WithQueueLimit(app.Config.SwitchMaxQueue),
		switching.WithDisconnectBudget(app.Config.SwitchMaxDisconnect),
	)
}

func (app *Application) initServices() error {
	cfg := app.Config
	var thresholds [3]int
	copy(thresholds[:], cfg.TrustThresholds)

	app.Trust = trust.NewService(app.Store, app.Bus, cfg.InitialTrustScore, thresholds, cfg.TrustHysteresis,
		trust.WithPositiveTick(cfg.PositiveTick))
	app.Accumulator = baseline.NewAccumulator(app.clock)
	app.Baselines = baseline.NewService(app.Store, cfg.BaselineEMAAlpha, app.clock)
	app.AuditService = audit.NewAuditService(app.AuditRepo)

	app.Orchestrator = orchestrator.NewOrchestrator(app.Store, app.Switch, app.Trust, app.AuditService, app.Bus, cfg.HoneypotPort,
		orchestrator.WithThresholds(thresholds),
		orchestrator.WithHysteresis(cfg.TrustHysteresis),
		orchestrator.WithAlertWindow(cfg.AlertWindow),
		orchestrator.WithRecoveryWindow(cfg.RecoveryWindow),
		orchestrator.WithRetries(cfg.RuleInstallRetries),
	)

	app.Onboarding = onboarding.NewCoordinator(app.Store, app.CA, app.Trust, app.Accumulator, app.Bus,
		app.Orchestrator, cfg.ProfilingDuration, cfg.ProfilingMinPackets, app.clock)
	app.Finalizer = onboarding.NewWatcher(app.Store, app.Onboarding, cfg.ProfilingDuration, app.clock)

	app.Poller = flow.NewPoller(app.Store, app.Switch, app.Bus, app.clock)
	app.Detector = anomaly.NewDetector(app.Baselines, app.Trust, app.Bus, cfg.AnomalyWindow, app.clock)
	app.Attestation = attestation.NewLoop(app.Store, app.CA, app.Trust, app.Bus, cfg.AttestationInterval, app.clock)
	app.Honeypot = honeypot.NewService(app.Store, app.Trust, app.Bus, cfg.ThreatTTL, app.clock)
	app.Mitigations = mitigation.NewGenerator(app.Store, app.Orchestrator, app.clock)

	app.Inventory = identity.NewService(app.Store, app.Orchestrator)
	app.Journal = reportingService.NewJournal(reportingService.DefaultJournalCapacity, reportingService.DefaultJournalRetention, app.clock)
	app.Reports = reportingService.NewService(app.Store, app.Orchestrator, app.AuditService, app.Journal)

	secret, err := app.sessionSecret()
	if err != nil {
		return err
	}
	app.AuthService = auth.NewService(app.Store, secret, cfg.SessionTimeout)

	// Per-packet observations reach the profiling accumulator through
	// the coordinator, whichever capture source produced them.
	app.Switch.RecordObservation(app.Onboarding.Observe)

	// A switch session coming up, first connect included, invalidates
	// every assumption about installed rules. Reinstall from state.
	app.Switch.OnReconnect(func() {
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		if err := app.Orchestrator.ResyncAll(ctx); err != nil {
			slog.Error("decision resync failed", "error", err)
		}
		if err := app.Mitigations.Resync(ctx); err != nil {
			slog.Error("mitigation resync failed", "error", err)
		}
	})

	return nil
}

// sessionSecret returns the configured JWT secret, or generates an
// ephemeral one. Tokens signed with a generated secret die with the
// process; production deployments should set jwt_secret.
func (app *Application) sessionSecret() (string, error) {
	if app.Config.JWTSecret != "" {
		return app.Config.JWTSecret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	slog.Warn("jwt_secret not configured; sessions will not survive a restart")
	return hex.EncodeToString(buf), nil
}

// initModeSources wires the observation sources the run mode asks for.
// Core mode needs nothing extra: the agent ingest and the honeypot tail
// are configured independently of mode.
func (app *Application) initModeSources() {
	cfg := app.Config

	switch cfg.Mode {
	case config.ModeDemo:
		app.Simulator = mock.New(app.Store, app.Onboarding, app.memSwitch, app.Switch.Observe, cfg.HoneypotLogPath)
	case config.ModeSniff:
		app.Sniffer = sniffer.New(sniffer.Config{
			Interface: cfg.SniffIface,
			BPF:       "ip",
			Promisc:   true,
		})
		app.Sniffer.RecordObservation(app.Switch.Observe)
	}

	if cfg.HoneypotLogPath != "" {
		var opts []honeypotlog.Option
		if cfg.Mode == config.ModeDemo {
			// Replay whatever the simulator wrote on earlier runs so a
			// fresh demo start shows threat intel immediately.
			opts = append(opts, honeypotlog.WithReadFromStart())
		}
		app.Tailer = honeypotlog.NewTailer(cfg.HoneypotLogPath, app.Honeypot.HandleEvent, opts...)
	}
}

// ensureBootstrapAdmin seeds the first admin account. Outside demo mode
// the password must come from the environment (or cmd/ca_init); an
// empty user table with no bootstrap password leaves the API without
// accounts, which is only a warning because enforcement keeps running.
func (app *Application) ensureBootstrapAdmin() {
	user := os.Getenv("ZT_ADMIN_USER")
	if user == "" {
		user = "admin"
	}
	pass := os.Getenv("ZT_ADMIN_PASSWORD")
	if pass == "" && app.Config.Mode == config.ModeDemo {
		pass = "changeit"
	}

	if err := app.AuthService.EnsureBootstrapAdmin(context.Background(), user, pass); err != nil {
		log.Printf("Warning: no admin account provisioned: %v", err)
	}
}

func (app *Application) initServers() {
	cfg := app.Config

	app.WebServer = webserver.NewServer(
		cfg.ListenAddr,
		app.AuthService,
		cfg.SessionTimeout,
		app.Inventory,
		app.Onboarding,
		app.Trust,
		app.Orchestrator,
		app.AuditService,
		app.Store,
		app.Reports,
		reporting.NewPDFExporter(),
		app.Bus,
		app.Switch,
	)
	app.WebServer.APIRateLimit = cfg.APIRateLimitPerMin
	app.WebServer.LoginRateLimit = cfg.LoginRateLimitPerMin

	if cfg.GRPCAddr != "" {
		app.GrpcServer = agentrpc.NewGRPCServer(
			agentrpc.NewServer(app.Store, app.Onboarding, app.Accumulator, app.Bus))
	}
}

// initTasks fills the periodic task table. Event-driven work hangs off
// bus subscriptions in Run; everything time-driven lives here.
func (app *Application) initTasks() {
	cfg := app.Config

	app.Scheduler.Add(bus.Task{
		Name:           "flow-poll",
		Interval:       cfg.FlowPollInterval,
		RunImmediately: true,
		Fn: func(ctx context.Context) {
			if err := app.Poller.Poll(ctx); err != nil {
				slog.Error("flow poll failed", "error", err)
			}
		},
	})

	app.Scheduler.Add(bus.Task{
		Name:     "attestation-sweep",
		Interval: cfg.AttestationInterval,
		Fn: func(ctx context.Context) {
			if err := app.Attestation.Sweep(ctx); err != nil {
				slog.Error("attestation sweep failed", "error", err)
			}
		},
	})

	app.Scheduler.Add(bus.Task{
		Name:     "finalize-profiling",
		Interval: finalizeSweepInterval,
		Fn: func(ctx context.Context) {
			if err := app.Finalizer.Sweep(ctx); err != nil {
				slog.Error("profiling finalization sweep failed", "error", err)
			}
		},
	})

	app.Scheduler.Add(bus.Task{
		Name:     "threat-expiry",
		Interval: threatSweepInterval,
		Fn: func(ctx context.Context) {
			if err := app.Honeypot.AgeOut(ctx); err != nil {
				slog.Error("threat expiry failed", "error", err)
			}
		},
	})

	app.Scheduler.Add(bus.Task{
		Name:     "switch-reconnect",
		Interval: reconnectInterval,
		Fn: func(ctx context.Context) {
			if err := app.Switch.Reconnect(ctx); err != nil {
				slog.Debug("switch reconnect probe failed", "error", err)
			}
		},
	})

	if cfg.PositiveTick {
		app.Scheduler.Add(bus.Task{
			Name:     "trust-positive-tick",
			Interval: positiveTickInterval,
			Fn: func(ctx context.Context) {
				if err := app.Trust.PositiveTick(ctx); err != nil {
					slog.Error("positive trust tick failed", "error", err)
				}
			},
		})
	}

	if app.Simulator != nil {
		app.Scheduler.Add(bus.Task{
			Name:           "demo-traffic",
			Interval:       app.Simulator.Tick(),
			RunImmediately: true,
			Fn:             app.Simulator.Step,
		})
	}
}

// Run starts every component and blocks until the context is cancelled
// or a server fails. Subscriptions are live before the switch connects
// and before any traffic is fabricated, so no startup event is lost.
func (app *Application) Run(ctx context.Context) error {
	slog.Info("Starting policy core", "mode", app.Config.Mode)

	go app.Orchestrator.Run(ctx, app.Bus.Subscribe("orchestrator",
		domain.TopicTrustChanged, domain.TopicAlert, domain.TopicThreatUpdated,
		domain.TopicPolicyReplace, domain.TopicDeviceStatus))
	go app.Detector.Run(ctx, app.Bus.Subscribe("anomaly", domain.TopicFlowSample))
	go app.Attestation.Run(ctx, app.Bus.Subscribe("attestation", domain.TopicFlowSample))
	go app.Mitigations.Run(ctx, app.Bus.Subscribe("mitigation", domain.TopicThreatUpdated))
	go app.Journal.Run(ctx, app.Bus.Subscribe("alert-journal", domain.TopicAlert))

	// First connect replays nothing but triggers the resync callback,
	// converging the rule table with persisted decisions before any
	// sample is read.
	if err := app.Switch.Connect(ctx); err != nil {
		slog.Warn("switch connect failed; writes queue until a probe succeeds", "error", err)
	}

	if app.Simulator != nil {
		if err := app.Simulator.Seed(ctx); err != nil {
			return fmt.Errorf("demo fleet seed failed: %w", err)
		}
	}

	errChan := make(chan error, 2)

	go func() {
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	if app.GrpcServer != nil {
		go func() {
			lis, err := net.Listen("tcp", app.Config.GRPCAddr)
			if err != nil {
				errChan <- fmt.Errorf("grpc listen error: %w", err)
				return
			}
			log.Printf("gRPC agent ingest listening on %s", app.Config.GRPCAddr)

			go func() {
				<-ctx.Done()
				app.GrpcServer.GracefulStop()
			}()

			if err := app.GrpcServer.Serve(lis); err != nil {
				errChan <- fmt.Errorf("grpc server error: %w", err)
			}
		}()
	}

	if app.Tailer != nil {
		go func() {
			if err := app.Tailer.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("honeypot tail stopped", "error", err)
			}
		}()
	}

	if app.Sniffer != nil {
		go func() {
			if err := app.Sniffer.Run(ctx); err != nil && ctx.Err() == nil {
				// Capture is a secondary observation source; losing it
				// degrades profiling detail, nothing else.
				slog.Warn("passive capture unavailable", "iface", app.Config.SniffIface, "error", err)
			}
		}()
	}

	go app.Scheduler.Run(ctx)

	slog.Info("Policy core ready", "addr", app.Config.ListenAddr)

	select {
	case <-ctx.Done():
		slog.Info("Termination signal received")
	case err := <-errChan:
		app.cleanup()
		return err
	}

	return app.cleanup()
}

func (app *Application) cleanup() error {
	slog.Info("Cleaning up resources...")

	app.Bus.Close()

	if app.Switch != nil {
		if err := app.Switch.Close(); err != nil {
			slog.Warn("switch close failed", "error", err)
		}
	}
	if app.AuditRepo != nil {
		if err := app.AuditRepo.Close(); err != nil {
			slog.Warn("audit store close failed", "error", err)
		}
	}
	if app.Store != nil {
		return app.Store.Close()
	}
	return nil
}
