// Package server exposes the queue node over HTTP: JSON queries, signed
// mutating calls and a WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"atomicqueue/core/types"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
)

// Backend is the node surface the server drives.
type Backend interface {
	UpdateRequest(caller, offer, want common.Address, req *queue.Request) error
	Solve(ctx context.Context, caller, offer, want common.Address, users []common.Address, runData []byte, solver common.Address, clearingPrice *big.Int) (*queue.SolveReport, error)
	ToggleApprovedCallers(caller common.Address, identities []common.Address) error
	SetPaused(caller common.Address, paused bool) error
	Approve(owner, asset, spender common.Address, amount *big.Int) error

	GetRequest(owner, offer, want common.Address) (*queue.Request, error)
	ListRequests(offer, want common.Address) ([]common.Address, error)
	IsRequestValid(offer, owner common.Address, req *queue.Request) (bool, error)
	ViewSolveMetadata(offer, want common.Address, users []common.Address, price *big.Int) ([]queue.SolveMetadata, *big.Int, *big.Int, error)
	IsApprovedCaller(identity common.Address) (bool, error)
	Owner() (common.Address, error)
	Paused() (bool, error)
	Balance(asset, holder common.Address) (*big.Int, error)
	Allowance(asset, owner, spender common.Address) (*big.Int, error)
	Assets() ([]*ledger.Asset, error)
	QueueAddress() common.Address
	Root() common.Hash
	Height() uint64
	Subscribe(capacity int) (<-chan *types.Event, func())
}

// NonceReserver consumes envelope nonces.
type NonceReserver interface {
	Reserve(sender common.Address, nonce uint64) error
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress     string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	EventBuffer       int
}

// Server hosts the queue API.
type Server struct {
	cfg     Config
	backend Backend
	nonces  NonceReserver
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// New constructs a new HTTP server. auth and limiter may be nil.
func New(cfg Config, backend Backend, nonces NonceReserver, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if nonces == nil {
		return nil, fmt.Errorf("nonce store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Server{cfg: cfg, backend: backend, nonces: nonces, auth: auth, limiter: limiter, logger: logger}, nil
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.Use(s.auth.Middleware(ScopeRead))
			read.Get("/queue", s.handleQueueInfo)
			read.Get("/assets", s.handleAssets)
			read.Get("/assets/{asset}/balances/{holder}", s.handleBalance)
			read.Get("/assets/{asset}/allowances/{owner}/{spender}", s.handleAllowance)
			read.Get("/requests/{offer}/{want}", s.handleListRequests)
			read.Get("/requests/{owner}/{offer}/{want}", s.handleGetRequest)
			read.Post("/requests/validate", s.handleValidateRequest)
			read.Post("/metadata", s.handleMetadata)
			read.Get("/solvers/{address}", s.handleSolverStatus)
			read.Get("/events", s.handleEvents)
		})
		v.Group(func(write chi.Router) {
			write.Use(s.limiter.Middleware("write"))
			write.Use(s.auth.Middleware(ScopeWrite))
			write.Post("/requests", s.handleUpdateRequest)
			write.Post("/solve", s.handleSolve)
			write.Post("/admin/solvers/toggle", s.handleToggleSolvers)
			write.Post("/admin/pause", s.handleSetPaused)
			write.Post("/ledger/approve", s.handleApprove)
		})
	})
	return otelhttp.NewHandler(r, "queued")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("queued: http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
