// Package main implements the entry point for the Libraria catalog
// server. Libraria serves a book and author catalog over GraphQL, with
// live subscription delivery of newly added books.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/libraria/libraria/auth"
	"github.com/libraria/libraria/gateway/graphql"
	"github.com/libraria/libraria/graph"
	"github.com/libraria/libraria/pubsub"
	"github.com/libraria/libraria/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "libraria"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Libraria catalog server",
		"version", Version,
		"build_time", BuildTime,
		"address", cliCfg.BindAddress)

	ctx := context.Background()

	st, cleanupStore, err := setupStore(ctx, cliCfg, logger)
	if err != nil {
		return err
	}
	defer cleanupStore()

	bus, err := setupBus(cliCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	authSvc, err := auth.NewService(cliCfg.JWTSecret, st,
		auth.WithTokenTTL(cliCfg.TokenTTL),
		auth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	server, err := setupGateway(cliCfg, st, authSvc, bus, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, server)
}

// setupStore connects the configured catalog store. An empty Mongo URI
// selects the in-process store, for local development without a
// database.
func setupStore(ctx context.Context, cliCfg *CLIConfig, logger *slog.Logger) (store.Store, func(), error) {
	if cliCfg.MongoURI == "" {
		slog.Warn("No Mongo URI configured, using in-process store; data will not survive restarts")
		return store.NewMemory(), func() {}, nil
	}

	slog.Info("Connecting to MongoDB", "database", cliCfg.MongoDatabase)
	client, err := store.Connect(ctx, cliCfg.MongoURI)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			slog.Warn("MongoDB disconnect failed", "error", err)
		}
	}

	mongoStore := store.NewMongo(client.Database(cliCfg.MongoDatabase), logger)

	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mongoStore.EnsureIndexes(indexCtx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return mongoStore, cleanup, nil
}

// setupBus creates the book-added event bus. An empty NATS URL selects
// the in-process bus, which is single-node only.
func setupBus(cliCfg *CLIConfig, logger *slog.Logger) (pubsub.Bus, error) {
	if cliCfg.NATSURL == "" {
		slog.Info("No NATS URL configured, using in-process event bus")
		return pubsub.NewMemory(logger), nil
	}

	slog.Info("Connecting to NATS", "url", cliCfg.NATSURL)
	bus, err := pubsub.NewNATS(cliCfg.NATSURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return bus, nil
}

// setupGateway compiles the schema and configures the gateway server.
func setupGateway(
	cliCfg *CLIConfig,
	st store.Store,
	authSvc *auth.Service,
	bus pubsub.Bus,
	logger *slog.Logger,
) (*graphql.Server, error) {
	resolver, err := graph.NewResolver(st, authSvc, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("create resolver: %w", err)
	}

	schema, err := graph.NewSchema(resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	cfg := graphql.Config{
		BindAddress:      cliCfg.BindAddress,
		Path:             cliCfg.GraphQLPath,
		EnablePlayground: cliCfg.EnablePlayground,
		EnableCORS:       true,
		EnableMetrics:    true,
		ShutdownGraceStr: cliCfg.ShutdownTimeout.String(),
	}

	server, err := graphql.NewServer(cfg, schema, authSvc, logger)
	if err != nil {
		return nil, fmt.Errorf("create gateway server: %w", err)
	}
	if err := server.Setup(); err != nil {
		return nil, fmt.Errorf("setup gateway server: %w", err)
	}

	return server, nil
}

// runWithSignalHandling serves until SIGINT/SIGTERM. The server drains
// itself on context cancellation using the configured shutdown grace.
func runWithSignalHandling(ctx context.Context, server *graphql.Server) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	ready := make(chan struct{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(signalCtx, ready)
	}()

	select {
	case <-ready:
		slog.Info("Libraria started successfully")
	case err := <-errChan:
		return fmt.Errorf("start server: %w", err)
	}

	if err := <-errChan; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	slog.Info("Libraria shutdown complete")
	return nil
}
