package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Error texts sent to clients. Viewers map them back onto sentinel errors.
const (
	errTextNoSharer           = "No sharer in room"
	errTextSharerDisconnected = "Sharer disconnected"
	errTextNotJoined          = "Join the room first"
	errTextUnknownViewer      = "Unknown viewer"
)

// Client represents a connected WebSocket client
type Client struct {
	conn   *websocket.Conn
	room   string
	role   string // RoleSharer or RoleViewer once joined
	peerID string // assigned to viewers on join
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	server *Server
	log    *logrus.Entry
}

// Room holds connected clients for a session
type Room struct {
	code     string
	password string
	sharer   *Client
	viewers  map[string]*Client // keyed by peer ID
	mu       sync.RWMutex
}

// Server relays viewer offers to the sharer of a room and routes the
// sharer's answers back to the viewer that asked
type Server struct {
	rooms    map[string]*Room
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	peerSeq  atomic.Uint64
	log      logrus.FieldLogger
}

// NewServer creates a new signaling server. A nil logger falls back to the
// logrus standard logger.
func NewServer(logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		rooms: make(map[string]*Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger,
	}
}

func (s *Server) getOrCreateRoom(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomLocked(code)
}

func (s *Server) roomLocked(code string) *Room {
	if room, exists := s.rooms[code]; exists {
		return room
	}

	room := &Room{
		code:    code,
		viewers: make(map[string]*Client),
	}
	s.rooms[code] = room
	return room
}

// withRoom runs fn with the room locked. The server lock is held too, so the
// room cannot be removed while a client joins it.
func (s *Server) withRoom(code string, fn func(room *Room)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.roomLocked(code)
	room.mu.Lock()
	defer room.mu.Unlock()
	fn(room)
}

func (s *Server) lookupRoom(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[NormalizeRoomCode(code)]
	return room, ok
}

// removeClient drops client from its room and tells the other side
func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[client.room]
	if !exists {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	switch {
	case client.role == RoleSharer && room.sharer == client:
		room.sharer = nil
		for _, viewer := range room.viewers {
			viewer.queue(SignalMessage{Type: TypeError, Room: room.code, Error: errTextSharerDisconnected})
		}
	case client.role == RoleViewer && room.viewers[client.peerID] == client:
		delete(room.viewers, client.peerID)
		if room.sharer != nil {
			room.sharer.queue(SignalMessage{Type: TypeViewerLeft, Room: room.code, PeerID: client.peerID})
		}
	}

	if room.sharer == nil && len(room.viewers) == 0 {
		delete(s.rooms, client.room)
	}
}

// HandleWebSocket upgrades requests on /ws/{room-code}
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomCode := NormalizeRoomCode(strings.TrimPrefix(r.URL.Path, "/ws/"))
	if !ValidateRoomCode(roomCode) {
		http.Error(w, "Invalid room code", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "HandleWebSocket",
			"room":     roomCode,
			"error":    err,
		}).Warn("WebSocket upgrade failed")
		return
	}

	client := &Client{
		conn:   conn,
		room:   roomCode,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		server: s,
		log:    s.log.WithField("room", roomCode),
	}

	go client.writePump()
	go client.readPump()
}

// Handler returns the HTTP routes served by the relay
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// ListenAndServe serves the relay on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithFields(logrus.Fields{
				"function": "ListenAndServe",
				"error":    err,
			}).Warn("Signal server shutdown failed")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     addr,
	}).Info("Signal server starting")

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return fmt.Errorf("failed to serve signaling on %s: %w", addr, err)
}

// ViewerCount returns number of viewers in a room
func (s *Server) ViewerCount(roomCode string) int {
	room, ok := s.lookupRoom(roomCode)
	if !ok {
		return 0
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.viewers)
}

// HasSharer reports whether a sharer is connected to the room
func (s *Server) HasSharer(roomCode string) bool {
	room, ok := s.lookupRoom(roomCode)
	if !ok {
		return false
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.sharer != nil
}

// queue hands msg to the write pump, dropping it if the client is gone or
// its buffer is full
func (c *Client) queue(msg SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"function": "queue",
			"error":    err,
		}).Error("Failed to encode message")
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.WithFields(logrus.Fields{
			"function": "queue",
			"type":     msg.Type,
		}).Warn("Send buffer full, dropping message")
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}
