// Package server wires the settlement engine behind an HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewpay/crewpay/internal/config"
	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/hold"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
	"github.com/crewpay/crewpay/internal/logging"
	"github.com/crewpay/crewpay/internal/materials"
	"github.com/crewpay/crewpay/internal/payout"
	"github.com/crewpay/crewpay/internal/rail"
	"github.com/crewpay/crewpay/internal/reward"
	"github.com/crewpay/crewpay/internal/traces"
	"github.com/crewpay/crewpay/internal/webhook"
)

// Server wraps the HTTP server and the engine's services.
type Server struct {
	cfg *config.Config

	books       *ledger.Ledger
	audit       ledger.AuditLogger
	escrows     *escrow.Service
	jobs        job.Store
	holds       *hold.Service
	payouts     *payout.Service
	materials   *materials.Service
	rewards     *reward.Service
	rewardTimer *reward.Timer
	webhooks    *webhook.Processor

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc
	traceStop    func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
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

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceStop = shutdownTraces

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	var (
		ledgerStore ledger.Store
		escrowStore escrow.Store
		payoutStore payout.Store
		matStore    materials.Store
		rewardStore reward.Store
		holdStore   hold.Store
		eventStore  webhook.Store
	)
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore = ledger.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		matStore = materials.NewPostgresStore(db)
		rewardStore = reward.NewPostgresStore(db)
		holdStore = hold.NewPostgresStore(db)
		eventStore = webhook.NewPostgresStore(db)
		s.jobs = job.NewPostgresStore(db)
		s.audit = ledger.NewPostgresAuditLogger(db)
	} else {
		memLedger := ledger.NewMemoryStore()
		ledgerStore = memLedger
		escrowStore = escrow.NewMemoryStore(memLedger)
		payoutStore = payout.NewMemoryStore()
		matStore = materials.NewMemoryStore()
		rewardStore = reward.NewMemoryStore()
		holdStore = hold.NewMemoryStore()
		eventStore = webhook.NewMemoryStore()
		s.jobs = job.NewMemoryStore()
		s.audit = ledger.NewMemoryAuditLogger()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.books = ledger.New(ledgerStore).WithAudit(s.audit)
	s.escrows = escrow.NewService(escrowStore, s.logger).WithAudit(s.audit)
	s.holds = hold.NewService(holdStore, s.logger).WithAudit(s.audit)

	var transferRail rail.Rail
	if cfg.TransferMode == "live" {
		transferRail = rail.NewStripeRail(cfg.StripeSecretKey, s.logger)
		s.logger.Info("transfer rail: stripe (live)")
	} else {
		transferRail = rail.NewFake()
		s.logger.Info("transfer rail: fake (test mode)")
	}

	s.payouts = payout.NewService(
		payoutStore, s.jobs, s.escrows, s.holds, s.books, transferRail,
		cfg.PlatformUserID, cfg.TransferMode, s.logger,
	).WithAudit(s.audit)

	s.materials = materials.NewService(
		matStore, s.escrows, s.jobs, s.books, cfg.SmallRemainderCents, s.logger,
	).WithAudit(s.audit)

	s.rewards = reward.NewService(rewardStore, s.jobs, s.books, cfg.PlatformUserID, s.logger)
	s.rewardTimer = reward.NewTimer(s.rewards, cfg.RewardSweepInterval, s.logger)

	s.webhooks = webhook.NewProcessor(eventStore, s.escrows, s.jobs, s.logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
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

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		ctx = ledger.WithAuditRequestID(ctx, requestID)
		ctx = ledger.WithAuditIP(ctx, c.ClientIP())
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
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	ledger.NewHandler(s.books, s.audit).RegisterRoutes(v1)
	job.NewHandler(s.jobs).RegisterRoutes(v1)
	escrow.NewHandler(s.escrows).RegisterRoutes(v1)
	payout.NewHandler(s.payouts).RegisterRoutes(v1)
	materials.NewHandler(s.materials).RegisterRoutes(v1)
	hold.NewHandler(s.holds).RegisterRoutes(v1)
	reward.NewHandler(s.rewards).RegisterRoutes(v1)
	webhook.NewHandler(s.webhooks, s.cfg.StripeWebhookSecret).RegisterRoutes(v1)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server and background workers, blocking until a
// shutdown signal or context cancellation.
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.rewardTimer.Start(runCtx)

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

	s.rewardTimer.Stop()

	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
