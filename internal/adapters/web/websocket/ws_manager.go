package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/ztcore/internal/adapters/web/middleware"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/identity"
)

// sweepInterval paces the periodic topology and stats pushes.
const sweepInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Allow same-origin (no Origin header)
		if origin == "" {
			return true
		}

		// Allowed origins
		allowedOrigins := []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
			"http://[::1]:8080",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: Rejected origin: %s", origin)
		return false
	},
}

// WSMessage is the envelope pushed to dashboard clients. Type carries
// the bus topic name ("trust.changed", "alert", ...) or "topology" and
// "stats" for the periodic sweeps.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatsSource produces the composed posture snapshot the dashboard
// header renders. The health handler implements it.
type StatsSource interface {
	Snapshot(ctx context.Context) (domain.SystemStats, error)
}

// WSManager fans bus events, topology snapshots and posture stats out
// to connected dashboard clients.
type WSManager struct {
	Inventory *identity.Service
	Posture   StatsSource
	Bus       ports.EventBus
	Clients   map[*websocket.Conn]*domain.User
	mu        sync.Mutex
}

// NewWSManager creates the dashboard feed. posture may be nil; clients
// then get topology sweeps only.
func NewWSManager(inventory *identity.Service, posture StatsSource, bus ports.EventBus) *WSManager {
	return &WSManager{
		Inventory: inventory,
		Posture:   posture,
		Bus:       bus,
		Clients:   make(map[*websocket.Conn]*domain.User),
	}
}

// Start subscribes to the dashboard-relevant topics and begins the
// periodic topology and stats sweep.
func (m *WSManager) Start(ctx context.Context) {
	sub := m.Bus.Subscribe("ws-dashboard",
		domain.TopicTrustChanged,
		domain.TopicAlert,
		domain.TopicThreatUpdated,
		domain.TopicDecision,
	)
	go m.forwardEvents(ctx, sub)
	go m.sweep(ctx)
}

// HandleWebSocket upgrades an authenticated request into a feed
// connection.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract user from context (set by AuthMiddleware)
	user := middleware.UserFrom(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	m.mu.Lock()
	m.Clients[conn] = user
	m.mu.Unlock()

	log.Printf("WebSocket connected: user=%s, role=%s", user.Username, user.Role)

	// Clean up on disconnect
	go func() {
		defer conn.Close()
		defer func() {
			m.mu.Lock()
			delete(m.Clients, conn)
			m.mu.Unlock()
			log.Printf("WebSocket disconnected: user=%s", user.Username)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

// forwardEvents relays bus events to clients until the context or the
// subscription ends.
func (m *WSManager) forwardEvents(ctx context.Context, sub ports.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.broadcastMessage(WSMessage{Type: string(ev.Topic), Payload: ev.Payload})
		}
	}
}

func (m *WSManager) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.clientCount() == 0 {
				continue
			}
			m.broadcastTopology(ctx)
			m.broadcastStats(ctx)
		}
	}
}

func (m *WSManager) broadcastTopology(ctx context.Context) {
	nodes, err := m.Inventory.Topology(ctx)
	if err != nil {
		log.Println("Error getting topology:", err)
		return
	}

	m.broadcastMessage(WSMessage{
		Type:    "topology",
		Payload: nodes,
	})
}

func (m *WSManager) broadcastStats(ctx context.Context) {
	if m.Posture == nil {
		return
	}
	stats, err := m.Posture.Snapshot(ctx)
	if err != nil {
		log.Println("Error getting stats:", err)
		return
	}

	m.broadcastMessage(WSMessage{
		Type:    "stats",
		Payload: stats,
	})
}

func (m *WSManager) clientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Clients)
}

func (m *WSManager) broadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("JSON marshal error:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.Clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(m.Clients, conn)
		}
	}
}
