package server

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/ztcore/internal/adapters/reporting"
	"github.com/lcalzada-xor/ztcore/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/ztcore/internal/adapters/web/middleware"
	web "github.com/lcalzada-xor/ztcore/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/identity"
	reportingService "github.com/lcalzada-xor/ztcore/internal/core/services/reporting"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr        string
	AuthService ports.AuthService
	WSManager   *web.WSManager

	// Per-IP request budgets, in requests per minute. NewServer seeds
	// the defaults; the app overrides them from configuration.
	APIRateLimit   int
	LoginRateLimit int

	AuthHandler   *handlers.AuthHandler
	DeviceHandler *handlers.DeviceHandler
	AuditHandler  *handlers.AuditHandler
	ThreatHandler *handlers.ThreatHandler
	ReportHandler *handlers.ReportHandler
	HealthHandler *handlers.HealthHandler

	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new management API server.
func NewServer(
	addr string,
	authService ports.AuthService,
	sessionTTL time.Duration,
	inventory *identity.Service,
	control ports.OnboardingControl,
	trust ports.TrustScorer,
	decisions ports.DecisionProvider,
	auditService ports.AuditService,
	store ports.Store,
	reports *reportingService.Service,
	pdfExporter *reporting.PDFExporter,
	eventBus ports.EventBus,
	switchHealth ports.SwitchHealth,
) *Server {
	// The health handler doubles as the stats source for the dashboard
	// feed, so both see the same cached snapshot.
	healthHandler := handlers.NewHealthHandler(store, eventBus, reports, switchHealth)

	return &Server{
		Addr:        addr,
		AuthService: authService,
		WSManager:   web.NewWSManager(inventory, healthHandler, eventBus),

		APIRateLimit:   60,
		LoginRateLimit: 5,

		AuthHandler:   handlers.NewAuthHandler(authService, sessionTTL),
		DeviceHandler: handlers.NewDeviceHandler(inventory, control, trust, decisions),
		AuditHandler:  handlers.NewAuditHandler(auditService),
		ThreatHandler: handlers.NewThreatHandler(store),
		ReportHandler: handlers.NewReportHandler(reports, pdfExporter),
		HealthHandler: healthHandler,

		logger: slog.Default(),
	}
}

// Run starts the server and the dashboard feed.
func (s *Server) Run(ctx context.Context) error {
	// Start WS Manager
	s.WSManager.Start(ctx)

	// Setup Routes
	handler := SetupRoutes(s)

	// Request logging, then OpenTelemetry instrumentation outermost.
	logged := middleware.RequestLogger(s.logger)(handler)
	instrumentedHandler := otelhttp.NewHandler(logged, "ztcore-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumentedHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful Shutdown implementation
	go func() {
		<-ctx.Done()
		log.Println("Web Server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Web Server shutdown error: %v", err)
		}
	}()

	log.Printf("Web server listening on %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
