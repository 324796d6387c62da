package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"outreach-mcp/internal/agents"
	"outreach-mcp/internal/api"
	"outreach-mcp/internal/auth"
	"outreach-mcp/internal/broadcast"
	"outreach-mcp/internal/config"
	"outreach-mcp/internal/db"
	"outreach-mcp/internal/logging"
	"outreach-mcp/internal/mcp"
	"outreach-mcp/internal/orchestrator"
	"outreach-mcp/internal/repository"
	"outreach-mcp/internal/services"
	tlsgen "outreach-mcp/internal/tls"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Outreach Engine",
		zap.String("environment", cfg.Environment),
		zap.Bool("serverless_db", cfg.DB.Serverless),
	)

	// Initialize database pools (fail fast if unreachable)
	poolCfg := db.FromConfig(cfg)
	sessions, err := db.NewSessionFactory(ctx, cfg.DSN(), poolCfg, logger)
	if err != nil {
		logger.Fatal("Database initialization failed", zap.Error(err))
	}
	defer sessions.Close()

	// Repository layer
	store := repository.NewPostgresStore(sessions.Pool())
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Schema setup failed", zap.Error(err))
	}

	// Service layer
	toolService := services.NewDatabaseToolService(sessions, logger)
	reasoning := services.NewHTTPReasoningClient(cfg.Reasoning.URL)

	// Broadcast collaborator: NATS when configured, otherwise a no-op.
	var publisher broadcast.Publisher = broadcast.Noop{}
	if cfg.Broadcast.NATSURL != "" {
		natsPub, err := broadcast.NewNATSPublisher(cfg.Broadcast.NATSURL, cfg.Broadcast.SubjectPrefix, logger)
		if err != nil {
			logger.Fatal("Broadcast initialization failed", zap.Error(err))
		}
		defer natsPub.Close()
		publisher = natsPub
	}

	// Stage agents and orchestrator
	orch := orchestrator.New(toolService, publisher, logger,
		agents.NewHuntingAgent(toolService, logger),
		agents.NewEnrichmentAgent(reasoning, publisher, logger),
		agents.NewOutreachAgent(reasoning, publisher, logger),
	)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemDetailsHandler
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Auth initialization failed", zap.Error(err))
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))
	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(api.HandleHealth)))

	// REST API under /api/v1, authenticated; resume additionally requires
	// the operate scope.
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiServer := api.NewServer(store, orch)
	apiServer.RegisterHandlers(apiGroup, echo.WrapMiddleware(authz.RequireScope(auth.ScopeOperate)))

	logger.Info("REST API handlers mounted")

	// MCP protocol handlers expose the database tools
	mcpServer := mcp.NewServer(toolService)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", addr), zap.Bool("tls", cfg.TLS.Enable))
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tlsgen.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", zap.Error(err))
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
			if err := server.Close(); err != nil {
				logger.Error("Server close error", zap.Error(err))
			}
		}

		logger.Info("Server stopped gracefully")
	}
}
