package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
	"github.com/alanyoungcy/weathercover/internal/server/handler"
	"github.com/alanyoungcy/weathercover/internal/server/middleware"
	"github.com/alanyoungcy/weathercover/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	AuthMode        string
	SignatureMaxAge time.Duration
	RateLimit       int
	RateWindow      time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Requests   *handler.RequestHandler
	Reputation *handler.ReputationHandler
}

// Server is the HTTP + WebSocket API of the marketplace.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in
// CORS, logging, wallet identity and rate limiting (outermost first).
// limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := NewMux(handlers, hub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.WalletAuth(cfg.AuthMode, cfg.SignatureMaxAge, nil)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewMux returns the bare route table.
func NewMux(handlers Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)

	r := handlers.Requests
	mux.HandleFunc("GET /api/requests", r.ListRequests)
	mux.HandleFunc("GET /api/requests/ids", r.ListRequestIDs)
	mux.HandleFunc("POST /api/requests", r.CreateRequest)
	mux.HandleFunc("GET /api/requests/{id}", r.GetRequest)
	mux.HandleFunc("GET /api/requests/{id}/conditions", r.GetConditions)
	mux.HandleFunc("GET /api/requests/{id}/offers", r.GetOffers)
	mux.HandleFunc("GET /api/requests/{id}/investments", r.GetInvestments)
	mux.HandleFunc("GET /api/requests/{id}/disbursements", r.GetDisbursements)
	mux.HandleFunc("GET /api/requests/{id}/receipt", r.GetReceipt)
	mux.HandleFunc("POST /api/requests/{id}/offers", r.SubmitOffer)
	mux.HandleFunc("POST /api/requests/{id}/select", r.SelectOffer)
	mux.HandleFunc("POST /api/requests/{id}/fund", r.FundPool)
	mux.HandleFunc("POST /api/requests/{id}/premium", r.PayPremium)
	// Settlement is permissionless; identity is recorded when present.
	mux.HandleFunc("POST /api/requests/{id}/settle", r.SettlePolicy)

	mux.HandleFunc("GET /api/experts/{address}/reputation", handlers.Reputation.GetReputation)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	return mux
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
