// Package api provides the HTTP and WebSocket surface exposing the
// trading loop's health, status, and live event stream: /healthz,
// /status, /metrics (delegated to promhttp), and /ws streaming
// events.Event.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/breaker"
	"github.com/atlas-desktop/scalper-core/internal/events"
	"github.com/atlas-desktop/scalper-core/internal/ids"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config controls the listen address and allowed CORS origins.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// StatusProvider supplies the live snapshot for GET /status. The trading
// loop implements it.
type StatusProvider interface {
	PortfolioSnapshot() domain.PortfolioSnapshot
	CircuitState() domain.CircuitState
	OpenPositionCount() int
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Server is the HTTP/WebSocket API surface.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	status StatusProvider
	bus    *events.Bus
}

// New constructs a Server wired to status (for /status) and bus (for
// /ws event fan-out).
func New(logger *zap.Logger, cfg Config, status StatusProvider, bus *events.Bus) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		cfg:     cfg,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		status:  status,
		bus:     bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	s.subscribeEvents()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	forward := func(evt events.Event) error {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		s.broadcast(data)
		return nil
	}
	for _, t := range []events.EventType{
		events.EventCircuitTransition,
		events.EventCircuitReset,
		events.EventOrderRejected,
		events.EventOrderSubmitted,
		events.EventTradeClosed,
		events.EventSignalGenerated,
	} {
		s.bus.Subscribe(t, forward)
	}
}

// Start begins serving HTTP requests; it blocks until Stop shuts the
// server down.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server and closes all WebSocket
// connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	circuit := s.status.CircuitState()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"circuit_level":  circuit.Level,
		"open_positions": s.status.OpenPositionCount(),
		"portfolio":      s.status.PortfolioSnapshot(),
		"manual_override": circuit.ManualOverride,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: ids.New("client"), Conn: conn, Send: make(chan []byte, 256)}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("websocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.Send <- msg:
		default:
			s.logger.Warn("client send buffer full, dropping", zap.String("id", c.ID))
		}
	}
}

var _ breaker.Notifier = (*events.Bus)(nil)
