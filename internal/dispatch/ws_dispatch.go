package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/request-marketplace/internal/models"
)

// WSSession is a single connected socket. Providers connect to receive
// new-request alerts; clients connect under their request ID to hear the
// responded signal that stops their countdown.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live sessions keyed by provider code or request ID.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(key string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

func (r *WSRegistry) send(key string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		r.logger.Warn("ws send failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Alert implements Dispatcher over a live websocket.
func (r *WSRegistry) Alert(sp models.ServiceProvider, alert models.RequestAlert) error {
	return r.send(sp.Code, alert)
}

// NotifyResponded tells the originating client's countdown to stop waiting.
func (r *WSRegistry) NotifyResponded(requestID string) error {
	return r.send(requestID, map[string]string{"event": "responded", "request_id": requestID})
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
