package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jmcleod/bankgate/api"
	"github.com/jmcleod/bankgate/banking"
	"github.com/jmcleod/bankgate/fx"
	"github.com/jmcleod/bankgate/history"
	"github.com/jmcleod/bankgate/internal/config"
	"github.com/jmcleod/bankgate/internal/logging"
	"github.com/jmcleod/bankgate/internal/util"
	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/ratelimit"
	"github.com/jmcleod/bankgate/secret"
	"github.com/jmcleod/bankgate/session"
	bboltstorage "github.com/jmcleod/bankgate/storage/bbolt"
	"github.com/jmcleod/bankgate/web"
)

const (
	historyFile     = "history.db"
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		slog.SetDefault(logger)
		defer memguard.Purge()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		handler, cleanup, err := buildHandler(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Long enough for a full multi-account fetch with retries.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if cfg.TLSCert != "" {
				err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server started",
			"listen", cfg.Listen,
			"tls", cfg.TLSCert != "",
			"data_dir", cfg.DataDir,
			"version", Version,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// buildHandler wires every component from cfg. Background sweepers stop
// when ctx is done; cleanup closes what was opened.
func buildHandler(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fail(fmt.Errorf("failed to create data directory: %w", err))
	}
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, historyFile), nil)
	if err != nil {
		return fail(fmt.Errorf("failed to open history storage: %w", err))
	}
	closers = append(closers, func() { repo.Close() })
	hist := history.New(repo)

	breakers := make(map[string]api.BreakerStater)

	var primary, fallback secret.Source
	if cfg.Vault.Enabled() {
		vs, err := secret.NewVaultSource(secret.VaultConfig{
			URL:          cfg.Vault.URL,
			ClientID:     cfg.Vault.ClientID,
			ClientSecret: cfg.Vault.ClientSecret,
			ItemName:     cfg.Vault.ItemName,
			Timeout:      cfg.Vault.Timeout,
			Attempts:     cfg.Vault.Attempts,
			Logger:       logger,
		})
		if err != nil {
			return fail(fmt.Errorf("configuring vault: %w", err))
		}
		primary = vs
		breakers["vault"] = vs
	}
	if cfg.Secret.Fallback != "" {
		fallback = secret.NewStaticSource(cfg.Secret.Fallback)
	}
	if primary == nil && fallback == nil {
		logger.Warn("credential_not_configured",
			"demo_fallback", cfg.Demo.Fallback,
		)
	}
	resolver := secret.NewResolver(primary, fallback,
		secret.WithTTL(cfg.Secret.TTL),
		secret.WithLogger(logger),
	)

	bank := banking.NewClient(banking.Config{
		BaseURL:     cfg.Banking.BaseURL,
		Timeout:     cfg.Banking.Timeout,
		MaxPages:    cfg.Banking.MaxPages,
		MaxAttempts: cfg.Banking.MaxAttempts,
		UserAgent:   "bankgate/" + Version,
	}, resolver, banking.WithLogger(logger))
	breakers["banking"] = bank

	rates := fx.NewHTTPSource(fx.HTTPSourceConfig{
		BaseURL: cfg.FX.BaseURL,
		Timeout: cfg.FX.Timeout,
		Logger:  logger,
	})
	breakers["fx"] = rates

	local := fx.NewMemoryStore()
	var rateStore fx.RateStore = local
	if cfg.FX.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.FX.RedisAddr})
		closers = append(closers, func() { rdb.Close() })
		rateStore = fx.NewTieredStore(local, fx.NewRedisStore(rdb, "bankgate:fx:"))
	}
	conv := fx.NewConverter(rates, rateStore,
		fx.WithMaxLookbackDays(cfg.FX.MaxLookbackDays),
		fx.WithLogger(logger),
	)

	var (
		reg     *prometheus.Registry
		metrics *api.Metrics
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = api.NewMetrics(reg)
	}

	svc := ledger.NewService(bank, conv, hist,
		ledger.WithCacheTTL(cfg.Cache.TTL),
		ledger.WithObserver(metrics),
		ledger.WithLogger(logger),
	)

	operator, err := session.NewOperator(cfg.Operator.Username, cfg.Operator.Password, util.DefaultArgon2idParams())
	if err != nil {
		return fail(fmt.Errorf("configuring operator: %w", err))
	}
	if !operator.Enabled() {
		logger.Warn("login disabled: no operator password configured")
	}
	sessions := session.NewMemoryStore(nil)
	auth := session.NewAuthenticator(sessions, operator, session.WithLifetime(cfg.Session.Lifetime))

	limiter := ratelimit.New(ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxRequests: cfg.RateLimit.MaxRequests,
	})
	lockout := ratelimit.NewLockout()

	go svc.Run(ctx, sweepInterval)
	go sessions.Run(ctx, sweepInterval)
	go limiter.Run(ctx, sweepInterval)
	go sweepEvery(ctx, sweepInterval, lockout.Sweep)

	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fail(err)
	}

	if reg != nil {
		api.RegisterBreakers(reg, breakers)
		api.RegisterGauge(reg, "active_sessions", "Live operator sessions",
			func() float64 { return float64(auth.ActiveSessions()) })
		api.RegisterGauge(reg, "fx_rates_cached", "FX rates held in process memory",
			func() float64 { return float64(local.Len()) })
	}

	alert := func(e api.AlertEvent) {
		logger.Warn("alert",
			"type", string(e.Type),
			"count", e.Count,
			"threshold", e.Threshold,
		)
		metrics.Alert(e)
	}

	a := api.New(api.Deps{
		Sessions: auth,
		Limiter:  limiter,
		Lockout:  lockout,
		Secrets:  resolver,
		Ledger:   svc,
		History:  hist,
		Repo:     repo,
		Breakers: breakers,
		Metrics:  metrics,
	},
		api.WithLogger(logger),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
		api.WithTrustedProxies(proxies),
		api.WithCookieInsecure(cfg.CookieInsecure),
		api.WithDemoFallback(cfg.Demo.Fallback),
		api.WithVersion(Version),
		api.WithAlertFunc(alert),
	)

	r := chi.NewRouter()
	r.Mount("/api", a.Router())
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.StaticDir != "" {
		webHandler, err := web.Handler(cfg.StaticDir)
		if err != nil {
			return fail(err)
		}
		r.Handle("/*", webHandler)
	}
	return r, cleanup, nil
}

func sweepEvery(ctx context.Context, interval time.Duration, sweep func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep()
		}
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("listen", ":5000", "Address to listen on")
	serverCmd.Flags().String("data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().String("static-dir", "", "Serve the dashboard from this directory")
	serverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "Path to TLS key file")
	serverCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serverCmd.Flags().String("log-format", "json", "Log format (json, text)")
	serverCmd.Flags().Bool("demo-fallback", false, "Serve labeled demo data when the credential is unavailable")
	serverCmd.Flags().Bool("cookie-insecure", false, "Allow session cookies over plain HTTP")
}
