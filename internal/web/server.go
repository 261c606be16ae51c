// Package web serves the internal control API: device state queries,
// device commands, WebRTC signaling relay, and live event streams.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camlink/internal/coordinator"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey requires key on /api/ and /ws routes, either as the X-API-Key
// header or the api_key query parameter.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the control API.
type Server struct {
	coord          *coordinator.Coordinator
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts streaming coordinator events to
// websocket clients.
func NewServer(coord *coordinator.Coordinator, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		coord:  coord,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = coord.Events().OnAll(func(event coordinator.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Device state
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleAPIGetDevice)
	s.mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	s.mux.HandleFunc("POST /api/devices/{id}/secret", s.handleAPIRegisterSecret)
	s.mux.HandleFunc("POST /api/devices/{id}/check", s.handleAPICheckDevice)

	// Device commands
	s.mux.HandleFunc("POST /api/devices/{id}/info", s.handleAPIRequestInfo)
	s.mux.HandleFunc("POST /api/devices/{id}/format", s.handleAPIFormatStorage)
	s.mux.HandleFunc("POST /api/devices/{id}/reboot", s.handleAPIReboot)
	s.mux.HandleFunc("POST /api/devices/{id}/rotate", s.handleAPISetRotation)
	s.mux.HandleFunc("POST /api/devices/{id}/floodlight", s.handleAPISetFloodlight)
	s.mux.HandleFunc("POST /api/devices/{id}/ptz", s.handleAPIDirection)
	s.mux.HandleFunc("POST /api/devices/{id}/command", s.handleAPISendCommand)

	// WebRTC signaling
	s.mux.HandleFunc("POST /api/devices/{id}/webrtc/offer", s.handleAPIRequestOffer)
	s.mux.HandleFunc("POST /api/devices/{id}/webrtc/answer", s.handleAPISendAnswer)
	s.mux.HandleFunc("POST /api/devices/{id}/webrtc/candidate", s.handleAPISendCandidate)
	s.mux.HandleFunc("GET /api/webrtc/offer/{sid}", s.handleAPIGetOffer)
	s.mux.HandleFunc("GET /api/webrtc/candidates/{sid}", s.handleAPIDrainCandidates)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /ws/devices/{id}/signaling", s.handleSignalingWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" && needsAPIKey(r.URL.Path) && !s.validAPIKey(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func needsAPIKey(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/ws" || strings.HasPrefix(path, "/ws/")
}

// validAPIKey accepts the X-API-Key header, or an api_key query parameter
// since browsers cannot set headers on WebSocket upgrades.
func (s *Server) validAPIKey(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write json response", "err", err)
	}
}
