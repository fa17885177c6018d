package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/scenelink/scenelink/internal/bridge"
	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/logging"
	"github.com/scenelink/scenelink/internal/protocol"
	"github.com/scenelink/scenelink/internal/query"
	"github.com/scenelink/scenelink/internal/ws"
	scenemcp "github.com/scenelink/scenelink/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scenelink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Transport, "transport", cfg.Transport, "MCP transport: http or stdio")
	flag.StringVar(&cfg.MCPAddr, "mcp-addr", cfg.MCPAddr, "listen address for the MCP HTTP transport")
	flag.StringVar(&cfg.ViewerAddr, "viewer-addr", cfg.ViewerAddr, "listen address for the viewer websocket endpoint")
	flag.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "externally reachable base URL for viewer links")
	flag.StringVar(&cfg.DefaultSession, "default-session", cfg.DefaultSession, "implicit session id when a tool call carries none")
	flag.StringVar(&cfg.RefreshCron, "refresh-cron", cfg.RefreshCron, "cron schedule for the cache warmer, empty to disable")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	flag.DurationVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "bound on one live state round trip")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)

	registry := bridge.NewRegistry(logger)
	pending := bridge.NewPendingTable(logger)
	cache := bridge.NewStateCache()
	router := bridge.NewRouter(registry, logger)
	states := bridge.NewOrchestrator(router, pending, cache, cfg.QueryTimeout, logger)

	validator, err := protocol.NewValidator()
	if err != nil {
		return fmt.Errorf("build message validator: %w", err)
	}
	engines, err := query.NewEngines()
	if err != nil {
		return fmt.Errorf("build query engines: %w", err)
	}

	wsHandler := ws.NewHandler(ws.HandlerDeps{
		Registry:       registry,
		Pending:        pending,
		Cache:          cache,
		Validator:      validator,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /ws", wsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	viewerSrv := &http.Server{Addr: cfg.ViewerAddr, Handler: mux}

	sceneSrv := scenemcp.NewSceneServer(scenemcp.SceneServerDeps{
		Router:  router,
		States:  states,
		Engines: engines,
		Config:  cfg,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RefreshCron != "" {
		refresher, err := bridge.NewRefresher(registry, states, cfg.RefreshCron, logger)
		if err != nil {
			return err
		}
		if err := refresher.Start(ctx); err != nil {
			return err
		}
		defer refresher.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("viewer endpoint listening", slog.String("addr", cfg.ViewerAddr))
		if err := viewerSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("viewer endpoint: %w", err)
		}
	}()

	switch cfg.Transport {
	case config.TransportStdio:
		go func() {
			if err := sceneSrv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("mcp stdio: %w", err)
			} else {
				errCh <- nil // stdin closed, shut down
			}
		}()
	default:
		httpSrv := mcpserver.NewStreamableHTTPServer(sceneSrv.MCPServer())
		go func() {
			logger.Info("mcp endpoint listening", slog.String("addr", cfg.MCPAddr))
			if err := httpSrv.Start(cfg.MCPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("mcp endpoint: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := viewerSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
