package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/Olympe-Studio/ferndev/internal/actionserver"
	"github.com/Olympe-Studio/ferndev/internal/platform/config"
	"github.com/Olympe-Studio/ferndev/internal/platform/observability"
)

func main() {
	var (
		addr       string
		envFile    string
		secure     bool
		shopName   string
		reqTimeout time.Duration
	)
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides FERN_DEV_ADDR)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file to read")
	flag.BoolVar(&secure, "secure-cookies", false, "mark the session cookie Secure")
	flag.StringVar(&shopName, "shop", "", "store name published in the shop configuration")
	flag.DurationVar(&reqTimeout, "request-timeout", 30*time.Second, "per-request handler timeout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, config.WithEnvFile(envFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("devserver")

	if addr == "" {
		addr = cfg.Dev.Addr
	}

	shop := actionserver.DefaultShop()
	shop.Locale = cfg.Dev.Locale
	if cfg.Dev.Currency != "" {
		unit, err := currency.ParseISO(cfg.Dev.Currency)
		if err != nil {
			logger.Fatal("invalid shop currency", zap.String("currency", cfg.Dev.Currency), zap.Error(err))
		}
		shop.Currency = unit
	}
	if shopName != "" {
		shop.Name = shopName
	}

	srv := actionserver.New(
		actionserver.WithLogger(logger.Named("actions")),
		actionserver.WithShop(shop),
		actionserver.WithSecureCookies(secure),
	)
	wrap := func(h http.Handler) http.Handler {
		return chi.Chain(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Logger,
			middleware.Recoverer,
			middleware.Timeout(reqTimeout),
		).Handler(h)
	}

	logger.Info("fern dev server listening",
		zap.String("addr", addr),
		zap.String("locale", shop.Locale.String()),
		zap.String("currency", shop.Currency.String()),
	)
	if err := srv.Serve(ctx, addr, wrap); err != nil {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
