package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/transaction-service/internal/config"
	"qms/transaction-service/internal/engine"
	"qms/transaction-service/internal/httpapi"
	"qms/transaction-service/internal/notify"
	"qms/transaction-service/internal/telemetry"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	backend, release, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	notifier := notify.New(notify.Config{
		Provider:     cfg.NotifyProvider,
		WebhookURL:   cfg.NotifyWebhookURL,
		WebhookToken: cfg.NotifyWebhookToken,
		KafkaBrokers: notify.ParseBrokers(cfg.NotifyKafkaBrokers),
		KafkaTopic:   cfg.NotifyKafkaTopic,
		Timeout:      cfg.NotifyTimeout,
	})
	if closer, ok := notifier.(io.Closer); ok {
		defer closer.Close()
	}

	eng := engine.New(backend, notifier, engine.Options{
		Location:      cfg.Location,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	})

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		UserPerMinute:  cfg.UserRateLimitPerMinute,
		UserBurst:      cfg.UserRateLimitBurst,
		TrustedProxies: proxies,
	})
	routes := httpapi.NewHandler(eng, backend).Routes()
	handler := httpapi.LoggingMiddleware(logger,
		limiter.Middleware(
			httpapi.AuthMiddleware(backend, limiter.UserMiddleware(routes))))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr, "store", cfg.StoreDriver, "timezone", cfg.Location.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return eng.Close(shutdownCtx)
	})
	return g.Wait()
}
