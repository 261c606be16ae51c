package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"camlink/internal/coordinator"
	"camlink/internal/protocol"
)

// WSHub manages WebSocket connections and broadcasts coordinator events.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan coordinator.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	device string // only events for this device; empty means all
}

func (c *wsClient) wants(event coordinator.Event) bool {
	return c.device == "" || c.device == event.DeviceID
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan coordinator.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "device", client.device, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws marshal", "type", event.Type, "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for all interested clients.
func (h *WSHub) Broadcast(event coordinator.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

func (s *Server) acceptWS(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// Without allowed origins nhooyr enforces same-origin.
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return nil, false
	}
	conn.SetReadLimit(4096)
	return conn, true
}

// handleWS streams every coordinator event, or only one device's events
// with ?device=<id>.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.acceptWS(w, r)
	if !ok {
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		device: r.URL.Query().Get("device"),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}

// signalFrame is one signaling event pushed to a viewer.
type signalFrame struct {
	Kind    protocol.SignalKind    `json:"kind"`
	Device  string                 `json:"device_id"`
	Message protocol.WebRTCMessage `json:"message"`
}

// handleSignalingWS bridges a device's signaling listener to one websocket
// for the lifetime of the connection.
func (s *Server) handleSignalingWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := protocol.ValidateDeviceID(deviceID); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	conn, ok := s.acceptWS(w, r)
	if !ok {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := make(chan []byte, 64)
	unsubscribe := s.coord.SubscribeSignaling(deviceID, func(id string, kind protocol.SignalKind, msg protocol.WebRTCMessage) {
		data, err := json.Marshal(signalFrame{Kind: kind, Device: id, Message: msg})
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
			s.logger.Warn("signaling ws client too slow, dropping", "device", id, "kind", kind)
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("signaling stream opened", "device", deviceID)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("signaling stream closed", "device", deviceID)
			return
		case <-s.wsHub.done:
			return
		case data := <-send:
			wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}
