package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-dispatch/internal/models"
)

const wsWriteTimeout = 5 * time.Second

// WSMessage is the frame pushed to a connected driver app.
type WSMessage struct {
	Type  string                   `json:"type"`
	Offer models.OfferNotification `json:"offer"`
}

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(msg WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds driver sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger.With("component", "ws_registry")}
}

// Add registers conn for driverID, replacing any previous session.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

// Remove drops the session only if it still belongs to conn.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *WSRegistry) Notify(_ context.Context, d *models.Driver, offer models.OfferNotification) error {
	r.mu.RLock()
	s, ok := r.sessions[d.ID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("driver %s: %w", d.ID, ErrNoSession)
	}
	if err := s.Send(WSMessage{Type: offerType, Offer: offer}); err != nil {
		r.logger.Warn("ws send error", "driver_id", d.ID, "error", err)
		r.Remove(d.ID, s.conn)
		return err
	}
	return nil
}
