// Package server exposes the detector over HTTP.
//
// EventServer streams diagnostic bus events to WebSocket clients as JSON and
// serves the detector counters on a health endpoint.
//
// Endpoints:
//   - /events: WebSocket, one JSON events.Event per text message
//   - /healthz: JSON detector.Stats, 503 once the detector has halted
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/realtime-ai/footstep/pkg/detector"
	"github.com/realtime-ai/footstep/pkg/events"
)

// EventServerConfig holds configuration for EventServer.
type EventServerConfig struct {
	// Address is the listen address (e.g., ":8090").
	Address string

	// EventsPath is the WebSocket path (default: "/events").
	EventsPath string

	// HealthPath is the health check path (default: "/healthz").
	HealthPath string

	// WriteTimeout bounds each WebSocket write (default: 2s).
	WriteTimeout time.Duration

	// ClientBuffer is the number of events queued per client before events
	// are dropped for it (default: 64).
	ClientBuffer int

	// ReadBufferSize for WebSocket (default: 1024).
	ReadBufferSize int

	// WriteBufferSize for WebSocket (default: 1024).
	WriteBufferSize int
}

// StatsSource provides the counters served on the health endpoint.
type StatsSource interface {
	Stats() detector.Stats
}

// EventServer streams bus events to WebSocket clients.
type EventServer struct {
	config EventServerConfig
	bus    *events.Bus
	stats  StatsSource

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clients   map[string]*client
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// client is one connected WebSocket subscriber.
type client struct {
	id     string
	conn   *websocket.Conn
	events chan events.Event
	done   chan struct{}
}

// NewEventServer creates a server publishing bus events and stats.
func NewEventServer(config EventServerConfig, bus *events.Bus, stats StatsSource) *EventServer {
	if config.EventsPath == "" {
		config.EventsPath = "/events"
	}
	if config.HealthPath == "" {
		config.HealthPath = "/healthz"
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 2 * time.Second
	}
	if config.ClientBuffer == 0 {
		config.ClientBuffer = 64
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventServer{
		config: config,
		bus:    bus,
		stats:  stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP handler serving both endpoints.
func (s *EventServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.EventsPath, s.handleWebSocket)
	mux.HandleFunc(s.config.HealthPath, s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *EventServer) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("[EventServer] Listening on %s (events=%s health=%s)", ln.Addr(), s.config.EventsPath, s.config.HealthPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[EventServer] Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listen address once started.
func (s *EventServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop disconnects every client and shuts the server down.
func (s *EventServer) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[EventServer] Server stopped")
	return err
}

// ClientCount returns the number of connected clients.
func (s *EventServer) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *EventServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EventServer] WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		events: make(chan events.Event, s.config.ClientBuffer),
		done:   make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.bus.SubscribeAll(c.events)

	log.Printf("[EventServer] Client %s connected from %s", c.id, r.RemoteAddr)

	s.wg.Add(2)
	go s.readLoop(c)
	go s.writeLoop(c)
}

// readLoop discards client messages and notices when the client goes away.
func (s *EventServer) readLoop(c *client) {
	defer s.wg.Done()
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventServer) writeLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		select {
		case evt := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteJSON(evt); err != nil {
				log.Printf("[EventServer] Client %s write failed: %v", c.id, err)
				return
			}
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *EventServer) removeClient(c *client) {
	s.bus.UnsubscribeAll(c.events)

	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	c.conn.Close()
	log.Printf("[EventServer] Client %s disconnected", c.id)
}

func (s *EventServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()

	w.Header().Set("Content-Type", "application/json")
	if stats.State == detector.Halted.String() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(struct {
		detector.Stats
		Clients int `json:"clients"`
	}{stats, s.ClientCount()}); err != nil {
		log.Printf("[EventServer] Failed to encode health: %v", err)
	}
}
