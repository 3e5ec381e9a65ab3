package server

import (
	"net/http"
	"time"

	gmux "github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/ztcore/internal/adapters/web/middleware"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func SetupRoutes(s *Server) http.Handler {
	mux := http.NewServeMux()

	// Rate limiters
	loginLimiter := middleware.NewRateLimiter(s.LoginRateLimit, 1*time.Minute)
	apiLimiter := middleware.NewRateLimiter(s.APIRateLimit, 1*time.Minute)
	rated := middleware.RateLimitMiddleware(apiLimiter)

	// Public API (with rate limiting)
	mux.Handle("POST /api/login", middleware.RateLimitMiddleware(loginLimiter)(http.HandlerFunc(s.AuthHandler.HandleLogin)))
	mux.Handle("POST /api/logout", rated(http.HandlerFunc(s.AuthHandler.HandleLogout)))
	mux.Handle("GET /api/health", rated(http.HandlerFunc(s.HealthHandler.HandleHealth)))

	// Protected API
	auth := middleware.AuthMiddleware(s.AuthService)
	protect := func(h http.HandlerFunc) http.Handler {
		return rated(auth(h))
	}

	// RBAC Middleware Helper (Admin Level)
	requireAdmin := middleware.RoleMiddleware(domain.RoleAdmin)
	protectAdmin := func(h http.HandlerFunc) http.Handler {
		return rated(auth(requireAdmin(h)))
	}

	// WebSocket endpoint (protected)
	mux.Handle("/ws", protect(s.WSManager.HandleWebSocket))

	mux.Handle("GET /api/me", protect(s.AuthHandler.HandleMe))

	// Inventory
	mux.Handle("GET /api/devices", protect(s.DeviceHandler.HandleList))
	mux.Handle("GET /api/devices/pending", protect(s.DeviceHandler.HandlePending))
	mux.Handle("GET /api/topology", protect(s.DeviceHandler.HandleTopology))

	// Per-device routes carry a path variable; a gorilla subrouter
	// handles those. Exact patterns above win over this prefix.
	r := gmux.NewRouter()
	devices := r.PathPrefix("/api/devices").Subrouter()
	devices.Handle("/{id}", protect(s.DeviceHandler.HandleGet)).Methods(http.MethodGet)
	devices.Handle("/{id}/trust", protect(s.DeviceHandler.HandleTrust)).Methods(http.MethodGet)
	devices.Handle("/{id}/trust/history", protect(s.DeviceHandler.HandleTrustHistory)).Methods(http.MethodGet)
	devices.Handle("/{id}/history", protect(s.DeviceHandler.HandleHistory)).Methods(http.MethodGet)
	devices.Handle("/{id}/policy", protect(s.DeviceHandler.HandlePolicy)).Methods(http.MethodGet)
	devices.Handle("/{id}/baseline", protect(s.DeviceHandler.HandleBaseline)).Methods(http.MethodGet)

	// Lifecycle actions (admin only)
	devices.Handle("/{id}/approve", protectAdmin(s.DeviceHandler.HandleApprove)).Methods(http.MethodPost)
	devices.Handle("/{id}/reject", protectAdmin(s.DeviceHandler.HandleReject)).Methods(http.MethodPost)
	devices.Handle("/{id}/revoke", protectAdmin(s.DeviceHandler.HandleRevoke)).Methods(http.MethodPost)
	devices.Handle("/{id}/finalize", protectAdmin(s.DeviceHandler.HandleFinalize)).Methods(http.MethodPost)
	devices.Handle("/{id}/reinstate", protectAdmin(s.DeviceHandler.HandleReinstate)).Methods(http.MethodPost)

	mux.Handle("/api/devices/", r)

	// Decision trail and admin action log
	mux.Handle("GET /api/audit", protect(s.AuditHandler.HandleDecisions))
	mux.Handle("GET /api/audit/logs", protectAdmin(s.AuditHandler.HandleLogs))
	mux.Handle("GET /api/audit/verify", protectAdmin(s.AuditHandler.HandleVerify))

	// Threat intelligence
	mux.Handle("GET /api/threats", protect(s.ThreatHandler.HandleThreats))
	mux.Handle("GET /api/mitigations", protect(s.ThreatHandler.HandleMitigations))

	// Posture snapshot for the dashboard header
	mux.Handle("GET /api/stats", protect(s.HealthHandler.HandleStats))

	// Reports
	mux.Handle("GET /api/report/security", protect(s.ReportHandler.HandleSecurityReport))
	mux.Handle("GET /api/report/security/pdf", protect(s.ReportHandler.HandleSecurityReportPDF))

	// Metrics endpoint (protected - requires authentication)
	mux.Handle("GET /metrics", protect(func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	}))

	return mux
}
