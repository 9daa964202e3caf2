// Package api provides the HTTP status surface: current snapshot and facet
// values as JSON, a health endpoint, and a WebSocket stream of facet updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"airbridge/internal/device"
)

// SnapshotSource exposes the last-accepted device snapshot.
type SnapshotSource interface {
	Current() device.Snapshot
}

// Server serves the status API and fans facet updates out to WebSocket
// clients. It implements the update sink, so it can sit next to other
// presentation surfaces in a sink.Multi.
type Server struct {
	source SnapshotSource
	logger *zap.Logger
	server *http.Server

	upgrader websocket.Upgrader

	mu     sync.RWMutex
	facets map[string]any
	conns  map[*websocket.Conn]chan facetUpdate
}

type facetUpdate struct {
	Facet string `json:"facet"`
	Value any    `json:"value"`
}

// NewServer creates the API server on the given port.
func NewServer(source SnapshotSource, port int, logger *zap.Logger) *Server {
	s := &Server{
		source: source,
		logger: logger.Named("api"),
		facets: make(map[string]any),
		conns:  make(map[*websocket.Conn]chan facetUpdate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/facets", s.handleFacets)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down, closing any WebSocket clients.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	for conn, ch := range s.conns {
		close(ch)
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]chan facetUpdate)
	s.mu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("API server shutdown", zap.Error(err))
	}
}

// Push records the facet value and broadcasts it to connected WebSocket
// clients. Slow clients drop updates rather than stall the poll cycle.
func (s *Server) Push(facet string, value any) {
	update := facetUpdate{Facet: facet, Value: value}

	s.mu.Lock()
	s.facets[facet] = value
	for conn, ch := range s.conns {
		select {
		case ch <- update:
		default:
			s.logger.Debug("Dropping update for slow client",
				zap.String("remote_addr", conn.RemoteAddr().String()))
		}
	}
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSnapshot returns every declared property from the current snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.source.Current()
	props := make(map[string]any, len(device.AllProps))
	for _, p := range device.AllProps {
		props[string(p.Key)] = snap.Get(p.Key)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(props); err != nil {
		s.logger.Error("Failed to encode snapshot", zap.Error(err))
	}
}

// handleFacets returns the last-pushed value of every facet.
func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	facets := make(map[string]any, len(s.facets))
	for k, v := range s.facets {
		facets[k] = v
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(facets); err != nil {
		s.logger.Error("Failed to encode facets", zap.Error(err))
	}
}

// handleWS upgrades the connection and streams facet updates until the
// client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan facetUpdate, 64)
	s.mu.Lock()
	s.conns[conn] = ch
	s.mu.Unlock()
	s.logger.Debug("WebSocket client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()))

	go s.writeLoop(conn, ch)
	go s.readLoop(conn)
}

func (s *Server) writeLoop(conn *websocket.Conn, ch <-chan facetUpdate) {
	for update := range ch {
		if err := conn.WriteJSON(update); err != nil {
			s.dropConn(conn)
			return
		}
	}
}

// readLoop discards inbound frames; its job is noticing the disconnect.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.dropConn(conn)
			return
		}
	}
}

func (s *Server) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if ch, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		close(ch)
	}
	s.mu.Unlock()
	conn.Close()
}
