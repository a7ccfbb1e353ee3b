package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"can-channel-server/internal/can"
	"can-channel-server/internal/driver"
)

const serviceVersion = "2.0"

// Server is the HTTP shell over the CAN core.
type Server struct {
	server         *http.Server
	drv            driver.Driver
	directory      *can.Directory
	registry       *can.Registry
	defaultBitrate int
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	DefaultBitrate int
}

// NewServer creates the API server over the given driver and capture
// registry.
func NewServer(config ServerConfig, drv driver.Driver, registry *can.Registry) *Server {
	if config.DefaultBitrate == 0 {
		config.DefaultBitrate = driver.Bitrate250K
	}

	server := &Server{
		drv:            drv,
		directory:      can.NewDirectory(drv),
		registry:       registry,
		defaultBitrate: config.DefaultBitrate,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      loggingMiddleware(corsMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	// Channel directory
	mux.HandleFunc("/channels", s.handleChannels)
	mux.HandleFunc("/channels/", s.handleChannel)

	// Message sending
	mux.HandleFunc("/messages/send", s.handleSendMessage)

	// Monitoring
	mux.HandleFunc("/monitoring/start", s.handleMonitoringStart)
	mux.HandleFunc("/monitoring/stop", s.handleMonitoringStop)
	mux.HandleFunc("/monitoring/messages", s.handleMonitoringMessages)
	mux.HandleFunc("/monitoring/status", s.handleMonitoringStatus)

	// Diagnostics
	mux.HandleFunc("/troubleshoot", s.handleTroubleshoot)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server.
func (s *Server) Start() error {
	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server: any running capture session is
// cancelled and joined before the listener shuts down.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Stopping API server...")

	if s.registry.Stop() {
		if err := s.registry.Join(ctx); err != nil {
			log.Printf("Timed out waiting for capture session: %v", err)
		}
	}

	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)

		next.ServeHTTP(w, r)

		duration := time.Since(start)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, duration)
	})
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
