package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/redeem"
)

/*
Server exposes the allocation ledger and claim engine over HTTP.

Admin routes (body is a transportSigner.SignedMessage, the recovered signer is the caller):
  POST /v1/allocations      payload: SeedAllocationsRequest, action "seedAllocations"
  POST /v1/owner            payload: TransferOwnershipRequest, action "transferOwnership"

A signed payload is accepted once, on the route its action names, within AuthMaxAge of issuedAt.

Claim routes (rate limited):
  POST /v1/claims           ClaimRequest
  POST /v1/claims/batch     BatchClaimRequest

Queries:
  POST /v1/claims/verify                 ClaimRequest, never mutates
  GET  /v1/claims/{epoch}/{recipient}    claim status
  GET  /v1/allocations                   every seeded epoch
  GET  /v1/allocations/{epoch}
  GET  /v1/roots?start=&end=             inclusive range, unseeded epochs are the zero hash
  GET  /v1/owner
  GET  /healthz
  GET  /metrics                          when a metrics handler is configured

Errors are JSON ErrorResponse bodies with a stable code.
*/

const (
	defaultReadHeaderTimeout = 10 * time.Second
	maxRequestBodyBytes      = 1 << 20
)

// Config holds the HTTP level settings of the server.
type Config struct {
	Port int

	// AuthMaxAge rejects signed admin requests issued longer ago than this. Zero disables the check.
	AuthMaxAge time.Duration

	// ClaimRateLimit is claim requests per second; zero disables limiting
	ClaimRateLimit float64
	ClaimRateBurst int

	MetricsHandler http.Handler
}

type Server struct {
	ledger  *redeem.Ledger
	engine  *redeem.Engine
	logger  *zap.Logger
	config  *Config
	limiter *rate.Limiter
	replay  *replayGuard
	now     func() time.Time

	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *Config, ledger *redeem.Ledger, engine *redeem.Engine, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if ledger == nil || engine == nil {
		return nil, fmt.Errorf("ledger and engine are required")
	}

	s := &Server{
		ledger: ledger,
		engine: engine,
		logger: logger,
		config: cfg,
		replay: newReplayGuard(cfg.AuthMaxAge),
		now:    time.Now,
	}
	if cfg.ClaimRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ClaimRateLimit), cfg.ClaimRateBurst)
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware, s.loggingMiddleware)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	v1 := router.PathPrefix("/v1").Subrouter()

	// Admin endpoints
	v1.HandleFunc("/allocations", s.handleSeedAllocations).Methods(http.MethodPost)
	v1.HandleFunc("/owner", s.handleTransferOwnership).Methods(http.MethodPost)

	// Claim endpoints
	claims := v1.PathPrefix("/claims").Subrouter()
	claims.HandleFunc("/verify", s.handleVerifyClaim).Methods(http.MethodPost)
	claims.HandleFunc("/{epoch:[0-9]+}/{recipient}", s.handleClaimStatus).Methods(http.MethodGet)

	claims.Handle("", s.rateLimited(s.handleClaim)).Methods(http.MethodPost)
	claims.Handle("/batch", s.rateLimited(s.handleClaimBatch)).Methods(http.MethodPost)

	// Query endpoints
	v1.HandleFunc("/allocations", s.handleListAllocations).Methods(http.MethodGet)
	v1.HandleFunc("/allocations/{epoch:[0-9]+}", s.handleGetAllocation).Methods(http.MethodGet)
	v1.HandleFunc("/roots", s.handleRootRange).Methods(http.MethodGet)
	v1.HandleFunc("/owner", s.handleGetOwner).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
