package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DashboardEvent is pushed to connected dashboard clients when server
// state they render changes.
type DashboardEvent struct {
	Type     string `json:"type"`
	EpiYear  int    `json:"anio"`
	EpiWeek  int    `json:"semana"`
	Bulletin int64  `json:"bulletin_id,omitempty"`
}

// Hub fans dashboard events out to websocket subscribers. All client
// set mutation happens on the Run goroutine.
type Hub struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan DashboardEvent
	log        *logrus.Logger
}

// NewHub creates a dashboard event hub. Call Run to start it.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan DashboardEvent, 16),
		log:        logger,
	}
}

// Run owns the client set until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*websocket.Conn]bool)
	defer func() {
		for conn := range clients {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			clients[conn] = true
		case conn := <-h.unregister:
			if clients[conn] {
				delete(clients, conn)
				conn.Close()
			}
		case event := <-h.events:
			for conn := range clients {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(event); err != nil {
					h.log.WithError(err).Debug("Dropping slow dashboard client")
					delete(clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// Broadcast queues an event for all subscribers. Never blocks request
// handlers; events are dropped when the queue is full.
func (h *Hub) Broadcast(event DashboardEvent) {
	select {
	case h.events <- event:
	default:
		h.log.Warn("Dashboard event queue full, dropping event")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST layer already allows any origin; the socket follows.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleDashboardSocket upgrades the connection, pushes the current
// summary once and keeps the client subscribed to hub events.
func (s *Server) handleDashboardSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.deps.Logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	if summary, err := s.computeDashboardSummary(c, time.Now().UTC()); err == nil {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(summary); err != nil {
			conn.Close()
			return
		}
	}

	s.hub.register <- conn

	// Reader loop detects client disconnects; inbound messages are
	// ignored.
	go func() {
		defer func() { s.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
