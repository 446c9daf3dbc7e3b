// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/solsentry/solsentry/internal/approvals"
	"github.com/solsentry/solsentry/internal/circuitbreaker"
	"github.com/solsentry/solsentry/internal/config"
	"github.com/solsentry/solsentry/internal/exploits"
	"github.com/solsentry/solsentry/internal/idgen"
	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/metrics"
	"github.com/solsentry/solsentry/internal/ratelimit"
	"github.com/solsentry/solsentry/internal/realtime"
	"github.com/solsentry/solsentry/internal/receipts"
	"github.com/solsentry/solsentry/internal/risk"
	"github.com/solsentry/solsentry/internal/security"
	"github.com/solsentry/solsentry/internal/solana"
	"github.com/solsentry/solsentry/internal/sources"
	"github.com/solsentry/solsentry/internal/validation"
	"github.com/solsentry/solsentry/internal/webhooks"
	"github.com/solsentry/solsentry/internal/x402"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg             *config.Config
	logger          *slog.Logger
	router          *gin.Engine
	httpSrv         *http.Server
	db              *sql.DB // nil if using in-memory receipts
	dataService     *exploits.Service
	riskEngine      *risk.Engine
	approvalFetcher approvals.Fetcher
	chainLookup     x402.ChainLookup
	verifier        *x402.Verifier
	verifyCache     *x402.VerificationCache
	receiptSvc      *receipts.Service
	hub             *realtime.Hub
	webhookStore    webhooks.Store
	webhookEmitter  *webhooks.Emitter
	rateLimiter     *ratelimit.Limiter
	extraSources    []exploits.Source
	descriptors     []x402.ResourceDescriptor
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithChainLookup injects a chain lookup collaborator (for testing).
func WithChainLookup(lookup x402.ChainLookup) Option {
	return func(s *Server) { s.chainLookup = lookup }
}

// WithSources replaces the configured upstream exploit sources (for testing).
func WithSources(srcs ...exploits.Source) Option {
	return func(s *Server) { s.extraSources = srcs }
}

// WithApprovalFetcher injects an approvals fetcher (for testing).
func WithApprovalFetcher(f approvals.Fetcher) Option {
	return func(s *Server) { s.approvalFetcher = f }
}

// defaultRouterTable maps known DEX router and spender contracts to the
// protocol behind them. Operators extend it via ROUTER_TABLE_FILE.
var defaultRouterTable = map[string]string{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "uniswap",
	"0xe592427a0aece92de3edee1f18e0157c05861564": "uniswap",
	"0xdef1c0ded9bec7f1a1670819833240f027b25eff": "zeroex",
	"0x1111111254eeb25477b68fb85ed929f73a960582": "oneinch",
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": "sushiswap",
}

// defaultDenyList holds spender addresses flagged as drainers. Operators
// extend it via DENY_LIST_FILE.
var defaultDenyList = []string{
	"0x0000000000000000000000000000000000000bad",
	"0x00000000ae347930bd1e7b0f35588b92280f9e75",
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Refuse upstreams pointing at internal infrastructure in production.
	if cfg.IsProduction() {
		for name, u := range map[string]string{
			"SOLANA_RPC_URL":    cfg.SolanaRPCURL,
			"LLAMAHACKS_URL":    cfg.LlamaHacksURL,
			"REKTFEED_URL":      cfg.RektFeedURL,
			"APPROVALS_API_URL": cfg.ApprovalsAPIURL,
		} {
			if u == "" {
				continue
			}
			if err := security.ValidateUpstreamURL(u); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	// Receipts (Postgres if DATABASE_URL set, otherwise in-memory)
	var receiptStore receipts.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		receiptStore = receipts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL receipt storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		receiptStore = receipts.NewMemoryStore()
		s.logger.Info("using in-memory receipt storage (data will not persist)")
	}
	s.receiptSvc = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptHMACSecret))
	if cfg.ReceiptHMACSecret == "" {
		s.logger.Warn("RECEIPT_HMAC_SECRET not set, payment receipts disabled")
	}

	// Payment verification
	if s.chainLookup == nil {
		s.chainLookup = solana.NewClient(cfg.SolanaRPCURL, cfg.PaymentWallet, cfg.LookupTimeout, s.logger)
	}
	s.verifier = x402.NewVerifier(s.chainLookup, cfg.PaymentWallet, s.logger)
	s.verifyCache = x402.NewVerificationCache(cfg.VerificationTTL)

	// Realtime exploit feed
	s.hub = realtime.NewHub(s.logger)

	// Webhook alerts
	if s.db != nil {
		s.webhookStore = webhooks.NewPostgresStore(s.db)
	} else {
		s.webhookStore = webhooks.NewMemoryStore()
	}
	s.webhookEmitter = webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore), s.logger)

	// Upstream sources
	srcs := s.extraSources
	if srcs == nil {
		if cfg.LlamaHacksURL != "" {
			srcs = append(srcs, sources.NewLlamaHacks(sources.LlamaHacksOptions{
				BaseURL: cfg.LlamaHacksURL,
				Timeout: cfg.SourceTimeout,
			}))
		}
		if cfg.RektFeedURL != "" {
			srcs = append(srcs, sources.NewRektFeed(sources.RektFeedOptions{
				BaseURL: cfg.RektFeedURL,
				APIKey:  cfg.RektFeedAPIKey,
				Timeout: cfg.SourceTimeout,
			}))
		}
	}
	s.dataService = exploits.NewService(exploits.ServiceConfig{
		Sources:             srcs,
		BreakerThreshold:    cfg.BreakerThreshold,
		BreakerCooldown:     cfg.BreakerCooldown,
		SourceTimeout:       cfg.SourceTimeout,
		CacheTTL:            cfg.ExploitCacheTTL,
		Logger:              s.logger,
		OnNewRecords:        s.handleNewRecords,
		OnBreakerTransition: s.handleBreakerTransition,
	})
	s.logger.Info("exploit data service configured", "sources", len(srcs))

	// Risk engine
	routers, err := cfg.LoadRouterTable(defaultRouterTable)
	if err != nil {
		return nil, fmt.Errorf("router table: %w", err)
	}
	denyList, err := cfg.LoadDenyList(defaultDenyList)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	s.riskEngine = risk.NewEngine(s.dataService, routers, denyList, s.logger)

	// Approvals fetcher
	if s.approvalFetcher == nil && cfg.ApprovalsAPIURL != "" {
		s.approvalFetcher = approvals.NewExplorer(approvals.ExplorerOptions{
			BaseURL: cfg.ApprovalsAPIURL,
			Timeout: cfg.SourceTimeout,
		})
	}

	s.descriptors = buildDescriptors(cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// handleNewRecords fans newly discovered exploits out to websocket clients
// and webhook subscribers.
func (s *Server) handleNewRecords(records []exploits.Record) {
	s.hub.BroadcastExploits(records)
	s.webhookEmitter.EmitExploitDetected(records)
}

// handleBreakerTransition publishes source circuit state changes.
func (s *Server) handleBreakerTransition(source string, from, to circuitbreaker.State) {
	s.hub.BroadcastBreakerState(source, from.String(), to.String())
	s.webhookEmitter.EmitBreakerStateChanged(source, from.String(), to.String())
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400 && status != http.StatusPaymentRequired:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			// 402s are the normal first half of every paid exchange
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

// Route templates for the priced resources. The x402 gate uses these as the
// verification cache key, so a signature honored for /risk-score/aave is also
// honored for /risk-score/curve but never for /exploits.
const (
	pathExploits      = "/api/v1/exploits"
	pathRiskScore     = "/api/v1/risk-score/:protocol"
	pathApprovalAudit = "/api/v1/approval-audit"
)

func (s *Server) setupRoutes() {
	// Health & metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// x402 discovery
	s.router.GET("/.well-known/x402", s.discoveryHandler)
	s.router.POST("/.well-known/x402", s.discoveryHandler)

	// WebSocket exploit feed
	s.router.GET("/ws/exploits", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Unpriced receipt lookups and webhook management
	api := s.router.Group("/api/v1")
	receipts.NewHandler(s.receiptSvc).RegisterRoutes(api)
	webhooks.NewHandler(s.webhookStore).RegisterRoutes(api)

	// Priced endpoints. HEAD and OPTIONS are registered too so the gate can
	// answer them with a bare 402 instead of gin returning 404.
	gateExploits := s.gate(pathExploits, s.descriptors[0])
	gateRiskScore := s.gate(pathRiskScore, s.descriptors[1])
	gateAudit := s.gate(pathApprovalAudit, s.descriptors[2])

	api.GET("/exploits", validation.ChainQueryMiddleware(), gateExploits, s.listExploitsHandler)
	api.HEAD("/exploits", gateExploits)
	api.OPTIONS("/exploits", gateExploits)

	api.GET("/risk-score/:protocol", validation.ProtocolParamMiddleware(), gateRiskScore, s.riskScoreHandler)
	api.HEAD("/risk-score/:protocol", gateRiskScore)
	api.OPTIONS("/risk-score/:protocol", gateRiskScore)

	api.POST("/approval-audit", gateAudit, s.approvalAuditHandler)
	api.HEAD("/approval-audit", gateAudit)
	api.OPTIONS("/approval-audit", gateAudit)
}

// gate builds the payment middleware for one priced route.
func (s *Server) gate(template string, desc x402.ResourceDescriptor) gin.HandlerFunc {
	return x402.Gate(x402.GateConfig{
		PriceLamports: s.cfg.PriceLamports,
		ResourcePath:  template,
		Descriptor:    desc,
		Verifier:      s.verifier,
		Cache:         s.verifyCache,
		Logger:        s.logger,
		OnVerified: func(c *gin.Context, claim *x402.PaymentClaim) {
			r, err := s.receiptSvc.IssueReceipt(c.Request.Context(), receipts.IssueRequest{
				TxSignature: claim.Signature,
				Resource:    template,
				Payer:       claim.Payer,
				Recipient:   claim.Recipient,
				Lamports:    claim.Amount,
			})
			if err != nil {
				logging.L(c.Request.Context()).Warn("receipt issue failed",
					"signature", claim.Signature,
					"error", err,
				)
				return
			}
			if r != nil {
				c.Header("X-Receipt-ID", r.ID)
			}
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"wallet", s.cfg.PaymentWallet,
			"price_lamports", s.cfg.PriceLamports,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel background goroutines (feed hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
