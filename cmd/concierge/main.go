// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command concierge runs the assistant gateway service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/concierge/services/assistant"
	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/catalog"
	"github.com/AleutianAI/concierge/services/assistant/config"
	"github.com/AleutianAI/concierge/services/assistant/directory"
	"github.com/AleutianAI/concierge/services/assistant/dispatch"
	"github.com/AleutianAI/concierge/services/assistant/grounding"
	"github.com/AleutianAI/concierge/services/assistant/memory"
	"github.com/AleutianAI/concierge/services/assistant/orchestrator"
	"github.com/AleutianAI/concierge/services/assistant/retrieval"
	"github.com/AleutianAI/concierge/services/assistant/tools"
	"github.com/AleutianAI/concierge/services/llm"
)

var (
	configPath string
	debugMode  bool
	traceOut   bool
)

// demoResidents back the in-memory directory when no Badger path is set.
var demoResidents = []directory.Account{
	{ID: "r-1001", Username: "marie_dupont", DisplayName: "Marie Dupont", Email: "marie.dupont@example.org", Locale: "fr"},
	{ID: "r-1002", Username: "jean_martin", DisplayName: "Jean Martin", Email: "jean.martin@example.org", Locale: "fr"},
	{ID: "r-1003", Username: "ana_silva", DisplayName: "Ana Silva", Email: "ana.silva@example.org", Locale: "en", Admin: true},
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Conversational assistant gateway for the residence portal",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration YAML path")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging and gin debug mode")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP/websocket service",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&traceOut, "trace-stdout", false, "Export OTel spans to stdout")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	shutdownTracing, err := setupTracing()
	if err != nil {
		return err
	}
	defer shutdownTracing()

	apiKey, err := config.LoadAPIKey()
	if err != nil {
		return err
	}

	// Resident directory.
	dir, err := directory.Open(cfg.DirectoryPath)
	if err != nil {
		return fmt.Errorf("opening resident directory: %w", err)
	}
	defer dir.Close()
	if cfg.DirectoryPath == "" {
		// In-memory mode has no persisted residents; seed the demo accounts
		// so authenticated flows work out of the box.
		if err := dir.Seed(demoResidents); err != nil {
			return fmt.Errorf("seeding resident directory: %w", err)
		}
		slog.Info("Resident directory running in memory with demo accounts",
			slog.Int("accounts", len(demoResidents)))
	}
	resolver := authctx.NewResolver(dir)

	// Tool catalog and dispatcher. A broken catalog is fatal.
	cat, err := catalog.Load(cfg.ToolsFile)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(cat,
		dispatch.WithToolTimeout(time.Duration(cfg.ToolTimeoutSeconds)*time.Second))
	if err := tools.RegisterAll(dispatcher, tools.NewBackend()); err != nil {
		return err
	}
	slog.Info("Tool catalog loaded",
		slog.String("file", cfg.ToolsFile),
		slog.Int("tools", cat.Len()),
	)

	// Documentation retrieval is optional.
	store := retrieval.NewStore()
	if cfg.DocumentationFile != "" {
		if err := store.LoadFile(cfg.DocumentationFile); err != nil {
			return err
		}
	}

	key, err := apiKey.Reveal()
	if err != nil {
		return fmt.Errorf("unsealing API key: %w", err)
	}
	client := llm.NewMistralClientWithConfig(key, cfg.MistralModel, cfg.MistralBaseURL,
		llm.WithRateLimit(cfg.MistralRatePerMinute))

	mem := memory.New(cfg.MemoryCap)
	orch := orchestrator.New(client, dispatcher, mem, grounding.NewGuard(),
		orchestrator.WithModelTimeout(time.Duration(cfg.ModelTimeoutSeconds)*time.Second),
		orchestrator.WithRetriever(store),
	)

	router := buildRouter(assistant.NewHandlers(orch, resolver, cat, mem))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("Starting concierge server", slog.String("address", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.DocumentationFile != "" {
		group.Go(func() error {
			if err := store.Watch(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Documentation watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down concierge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildRouter(handlers *assistant.Handlers) *gin.Engine {
	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("concierge"))
	if debugMode {
		router.Use(gin.Logger())
	}

	assistant.RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// setupLogging installs the process-wide slog handler: human-readable text
// on a terminal, JSON otherwise.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if debugMode {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupTracing wires the W3C propagator and, when requested, a stdout span
// exporter. Returns the provider shutdown func.
func setupTracing() (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !traceOut {
		return func() {}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Warn("Trace provider shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}
