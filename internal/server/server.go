package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hubx/pagamentos/internal/config"
	"github.com/hubx/pagamentos/internal/handlers"
	custom "github.com/hubx/pagamentos/internal/middleware"
)

// Server wraps the HTTP server
type Server struct {
	router  *chi.Mux
	handler *handlers.Handler
	config  *config.Config
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, h *handlers.Handler) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: h,
		config:  cfg,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes and middleware
func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Public health check
	r.Get("/health", s.handler.HealthCheck)

	// Checkout and transaction polling are called by the storefront
	r.Post("/checkout", s.handler.Checkout)
	r.Get("/transactions/{id}", s.handler.TransactionStatus)

	// Gateway webhooks (IP filtered + size limited)
	r.Group(func(r chi.Router) {
		r.Use(custom.GatewayIPFilter(s.config.GatewayIPs))
		r.Use(custom.MaxBodySize(s.config.MaxRequestSize))
		r.Post("/webhook/{gateway}", s.handler.Webhook)
	})

	// Review and export endpoints (internal authentication required)
	r.Group(func(r chi.Router) {
		r.Use(custom.InternalAuth(s.config.InternalSecret))
		r.Get("/transactions", s.handler.ListTransactions)
		r.Get("/transactions/export", s.handler.ExportTransactionsCSV)
	})

	log.Println("Routes configured successfully")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := ":" + s.config.ServerPort
	log.Printf("Starting HTTP server on %s", addr)

	return http.ListenAndServe(addr, s.router)
}
