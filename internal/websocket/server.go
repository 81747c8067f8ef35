package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skydz/dropwatch/pkg/logger"
)

// Event types streamed to connected clients
const (
	MessageTypeSessionStarted = "session_started"
	MessageTypeSessionStopped = "session_stopped"
	MessageTypeSessionErrored = "session_errored"
	MessageTypeTransition     = "transition"
)

// Message is a single event pushed to clients
type Message struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data"`
}

// Client represents one connected WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
}

// Server is a broadcast hub for session lifecycle and transition events
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket event hub
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("websocket"),
	}
}

// Run processes client registration and message fan-out. Run it in its own
// goroutine.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket event hub")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.mu.RLock()
			var stale []*Client
			for client := range s.clients {
				client.mu.Lock()
				if client.closed {
					client.mu.Unlock()
					stale = append(stale, client)
					continue
				}
				client.mu.Unlock()

				select {
				case client.send <- message:
				default:
					// Send buffer full; drop the client rather than block
					stale = append(stale, client)
				}
			}
			s.mu.RUnlock()

			if len(stale) > 0 {
				s.mu.Lock()
				for _, client := range stale {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.mu.Lock()
						if !client.closed {
							client.closed = true
							close(client.send)
						}
						client.mu.Unlock()
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// HandleConnection upgrades an HTTP request and attaches the client to the hub
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("WebSocket connection established",
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, 64),
		server: s,
	}

	s.register <- client

	go client.readPump()
	go client.writePump()
}

// BroadcastEvent sends an event to all connected clients
func (s *Server) BroadcastEvent(eventType string, data map[string]any) {
	message := &Message{
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	}

	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast channel full, dropping event",
			logger.String("event_type", eventType))
	}
}

// readPump drains the connection so close frames are noticed; inbound
// payloads are ignored (the hub is one-way).
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}
	}
}

// writePump pushes hub messages out to the connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		data, err := json.Marshal(message)
		if err != nil {
			c.server.logger.Error("Failed to marshal message", logger.Error(err))
			continue
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
