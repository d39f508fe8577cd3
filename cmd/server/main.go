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

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/simple-derivative/internal/logging"
	"github.com/tendant/simple-derivative/internal/tracing"
	"github.com/tendant/simple-derivative/pkg/derivative/api"
	"github.com/tendant/simple-derivative/pkg/derivative/broker"
	"github.com/tendant/simple-derivative/pkg/derivative/config"
)

func main() {
	fs := flag.NewFlagSet("simple-derivative", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML configuration file")
	fs.Usage = cleanenv.FUsage(fs.Output(), &config.ServerConfig{}, nil, fs.Usage)
	_ = fs.Parse(os.Args[1:])

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(config.WithFile(configPath), config.WithEnv())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.LogLevel})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
		Attributes:  map[string]string{"deployment.environment": cfg.Environment},
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	}()

	comps, err := cfg.Build(ctx, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	routerConfig := api.RouterConfig{
		Service: comps.Service,
		Tokens:  comps.Tokens,
		Signer:  comps.Signer,
		Logger:  logger,
	}
	if comps.Metrics != nil {
		routerConfig.Metrics = comps.Metrics.Handler()
	}
	if cfg.Auth.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.Auth.APIKeySHA256,
			},
		})
		if err != nil {
			return fmt.Errorf("init api key middleware: %w", err)
		}
		routerConfig.AdminAuth = apiKeyMiddleware
	} else {
		logger.Warn("no api key configured, admin API is unauthenticated")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(routerConfig),
		ReadHeaderTimeout: 10 * time.Second,
	}

	brokerScheme, _ := broker.Scheme(cfg.Broker.URL)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("simple-derivative starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"broker", brokerScheme,
			"actions", len(cfg.Actions),
			"storage_backends", len(cfg.StorageBackends),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}
