package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fxchain/core"
	nativecommon "fxchain/native/common"
	"fxchain/native/settlement"
)

// Config assembles the HTTP surface.
type Config struct {
	ListenAddress      string
	Auth               AuthConfig
	RateLimitPerSecond float64
	RateLimitBurst     int
	AdminStateID       string
	Logger             *slog.Logger
}

// Server exposes the protocol over HTTP: read-side views, the mutating
// operation surface and the Prometheus scrape endpoint.
type Server struct {
	proto   *core.Protocol
	cfg     Config
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(proto *core.Protocol, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		proto:   proto,
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:  logger,
	}
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.limiter.Middleware)

	r.With(metricsMiddleware("healthz")).Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(metricsMiddleware("read"))
			read.Get("/protocol/state", s.handleState)
			read.Get("/protocol/level", s.handleLevel)
			read.Get("/quotes/mint/stable", s.handleQuoteMintStable)
			read.Get("/quotes/mint/leverage", s.handleQuoteMintLeverage)
			read.Get("/quotes/redeem/stable", s.handleQuoteRedeemStable)
			read.Get("/quotes/redeem/leverage", s.handleQuoteRedeemLeverage)
			read.Get("/tickets/{id}", s.handleTicket)
			read.Get("/accounts/{address}", s.handleAccount)
			read.Get("/pool/{address}", s.handlePoolPosition)
		})

		v1.Group(func(trade chi.Router) {
			trade.Use(metricsMiddleware("trade"))
			trade.Use(s.auth.Middleware(ScopeTrade))
			trade.Post("/mint/stable", s.handleMintStable)
			trade.Post("/mint/leverage", s.handleMintLeverage)
			trade.Post("/redeem/stable", s.handleRedeemStable)
			trade.Post("/redeem/leverage", s.handleRedeemLeverage)
			trade.Post("/tickets/{id}/claim", s.handleClaimTicket)
			trade.Post("/tickets/{id}/reclaim", s.handleReclaimTicket)
			trade.Post("/pool/deposit", s.handlePoolDeposit)
			trade.Post("/pool/withdraw", s.handlePoolWithdraw)
			trade.Post("/pool/claim-reward", s.handleClaimPoolReward)
		})

		v1.Group(func(keeper chi.Router) {
			keeper.Use(metricsMiddleware("keeper"))
			keeper.Use(s.auth.Middleware(ScopeKeeper))
			keeper.Post("/oracle/price", s.handleUpdatePrice)
			keeper.Post("/maintenance/rebalance-buffer", s.handleRebalanceBuffer)
			keeper.Post("/maintenance/settle", s.handleSettle)
			keeper.Post("/maintenance/harvest", s.handleHarvestYield)
		})

		v1.Group(func(admin chi.Router) {
			admin.Use(metricsMiddleware("admin"))
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Post("/admin/pause", s.handleSetPaused)
			admin.Post("/admin/fees", s.handleSetFeeConfig)
			admin.Post("/admin/buffer-target", s.handleSetBufferTarget)
			admin.Post("/admin/delegate-fee", s.handleSetDelegateFee)
			admin.Post("/admin/ticket-expiration", s.handleSetTicketExpiration)
			admin.Post("/admin/treasury/withdraw", s.handleWithdrawFeeTreasury)
			admin.Post("/admin/emergency-rebalance", s.handleEmergencyRebalance)
		})
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) adminCap() settlement.AdminCap {
	return settlement.AdminCap{StateID: s.cfg.AdminStateID}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrActionBlockedByLevel),
		errors.Is(err, settlement.ErrInsufficientReserve),
		errors.Is(err, settlement.ErrTicketExpired),
		errors.Is(err, settlement.ErrTicketNotYetExpired),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrOracleStale),
		errors.Is(err, settlement.ErrOracleStepTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrUnauthorized),
		errors.Is(err, nativecommon.ErrCapabilityMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
