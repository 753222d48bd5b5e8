// Package server provides the HTTP REST API for the research agent.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/company-researcher/internal/config"
	"github.com/jonathan/company-researcher/internal/db"
	"github.com/jonathan/company-researcher/internal/pipeline"
	"github.com/jonathan/company-researcher/internal/server/middleware"
	"github.com/jonathan/company-researcher/internal/server/ratelimit"
)

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	orchestrator *pipeline.Orchestrator
	db           *db.DB // nil when persistence is not configured
	rateLimiter  *ratelimit.Limiter
	jwtService   *JWTService // nil when auth is not configured
}

// Config holds server configuration
type Config struct {
	Addr string
}

// New creates a new server instance. The database is optional; without
// it jobs live only in process memory. Auth is enabled when JWT_SECRET
// is set.
func New(orch *pipeline.Orchestrator, database *db.DB, cfg Config) (*Server, error) {
	s := &Server{
		orchestrator: orch,
		db:           database,
	}

	s.rateLimiter = ratelimit.NewLimiter(ratelimit.LoadConfig())

	if os.Getenv("JWT_SECRET") != "" {
		jwtConfig, err := config.NewJWTConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT config: %w", err)
		}
		s.jwtService = NewJWTService(jwtConfig)
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /research", s.handleSubmit)
	api.HandleFunc("GET /research", s.handleListJobs)
	api.HandleFunc("GET /research/{id}", s.handleGetJob)
	api.HandleFunc("GET /research/{id}/events", s.handleEvents)
	api.HandleFunc("GET /research/{id}/report", s.handleReport)
	api.HandleFunc("POST /research/{id}/cancel", s.handleCancel)
	api.HandleFunc("DELETE /research/{id}", s.handleDeleteJob)

	var protected http.Handler = api
	if s.jwtService != nil {
		protected = middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(api)
	}

	// Health stays outside auth so probes work without a token.
	handler := http.NewServeMux()
	handler.HandleFunc("GET /health", s.handleHealth)
	handler.Handle("/", protected)

	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultAddr
	}

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.withRateLimit(s.withLogging(s.withCORS(handler))),
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open for the life of a job, so no write
		// timeout on the server; the job deadline bounds them instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.db != nil {
		s.db.Close()
	}
	log.Println("Server stopped")
	return nil
}

// Handler exposes the configured handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		if !allowed {
			s.setRateLimitHeaders(w, info)
			s.rateLimitResponse(w, info)
			return
		}

		s.setRateLimitHeaders(w, info)
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.db != nil {
		if counts, err := s.db.PhaseCounts(r.Context()); err == nil {
			resp["jobs"] = counts
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID extracts the client identifier from the request.
// Uses the IP address from RemoteAddr; X-Forwarded-For would only be
// trustworthy behind a known proxy.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d Reset=%s",
		info.Limit, info.Remaining, info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
