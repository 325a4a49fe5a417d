package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trading-signalsync/config"
	"trading-signalsync/internal/api"
	"trading-signalsync/internal/gateway"
	"trading-signalsync/internal/journal"
	"trading-signalsync/internal/logger"
	"trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/marketdata/alpaca"
	"trading-signalsync/internal/marketdata/smartapi"
	"trading-signalsync/internal/marketdata/twelvedata"
	"trading-signalsync/internal/markethours"
	"trading-signalsync/internal/metrics"
	"trading-signalsync/internal/notification"
	"trading-signalsync/internal/settings"
	redisstore "trading-signalsync/internal/store/redis"
	sqlitestore "trading-signalsync/internal/store/sqlite"
	"trading-signalsync/internal/syncloop"
)

// the longest supported interval is one hour
const staleAfter = 2 * time.Hour

func main() {
	tokenFor := flag.String("token", "", "print an operator API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the token printed by -token")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	if *tokenFor != "" {
		if cfg.JWTSecret == "" {
			log.Fatal("[signalsync] JWT_SECRET is not set")
		}
		tok, err := api.IssueToken(cfg.JWTSecret, *tokenFor, *tokenTTL)
		if err != nil {
			log.Fatalf("[signalsync] %v", err)
		}
		fmt.Println(tok)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signalsync] config: %v", err)
	}

	lg, logCloser := logger.Setup("signalsync", logger.Options{
		Level:      logger.ParseLevel(cfg.LogLevel),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer logCloser.Close()

	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "signalsync",
			ServerAddress:   cfg.PyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			lg.Warn("pyroscope start failed", slog.Any("error", err))
		} else {
			defer profiler.Stop()
		}
	}

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		log.Fatalf("[signalsync] targets: %v", err)
	}
	lg.Info("targets loaded", slog.Int("count", len(targets)), slog.String("provider", cfg.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	for _, p := range []string{cfg.SQLitePath, cfg.StrategyConfig} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			log.Fatalf("[signalsync] mkdir: %v", err)
		}
	}
	bars, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[signalsync] bar store: %v", err)
	}
	defer bars.Close()

	if cfg.SignalDBDriver == "sqlite" {
		os.MkdirAll(filepath.Dir(cfg.SignalDBDSN), 0o755)
	}
	signals, err := journal.Open(journal.Config{Driver: cfg.SignalDBDriver, DSN: cfg.SignalDBDSN})
	if err != nil {
		log.Fatalf("[signalsync] signal log: %v", err)
	}
	defer signals.Close()

	store := settings.NewStore(cfg.StrategyConfig)
	if err := store.Ensure(); err != nil {
		log.Fatalf("[signalsync] strategy config: %v", err)
	}

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)
	health := metrics.NewHealthStatus()
	health.StaleAfter = staleAfter

	// ---- Redis (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			lg.Warn("redis unavailable, continuing without it", slog.Any("error", err))
			pub = nil
		} else {
			defer pub.Close()
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				lg.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
				prom.RedisCircuitBreakerState.Set(float64(to))
			}
		}
	}
	health.RedisEnabled = pub != nil
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), bars.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, bars.DB(), 10*time.Second)
	}

	// ---- Outbound ----
	hub := gateway.NewHub()
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
	}

	clients, err := providerFactory(cfg)
	if err != nil {
		log.Fatalf("[signalsync] %v", err)
	}

	// ---- Sync loops ----
	sup := syncloop.NewSupervisor(lg, prom)
	for _, inst := range targets {
		// detectors remember what they have seen, so each loop owns its own
		detectors := settings.AnyDetector{
			settings.NewModTimeDetector(cfg.StrategyConfig),
			settings.NewFlagFileDetector(cfg.FlagDir, inst.Key()),
		}
		if pub != nil {
			detectors = append(detectors, settings.NewRedisDetector(pub.Client(), settings.DefaultVersionKey))
		}

		var cal *markethours.Calendar
		if cfg.MarketHours {
			cal = markethours.ForVenue(inst.Exchange)
		}

		deps := syncloop.Deps{
			Instrument: inst,
			Configs:    store,
			Detector:   detectors,
			Clients:    clients,
			Bars:       bars,
			Signals:    signals,
			Hub:        hub,
			Notifier:   notifier,
			Metrics:    prom,
			Health:     health,
			Calendar:   cal,
			Logger:     lg,
			FetchFloor: cfg.FetchBars,
		}
		if pub != nil {
			deps.Publisher = pub
		}
		sup.Add(inst.Key(), func() syncloop.Runner { return syncloop.New(deps) })
	}

	// ---- HTTP ----
	apiDeps := api.Deps{
		Settings:   store,
		Targets:    targets,
		FlagDir:    cfg.FlagDir,
		VersionKey: settings.DefaultVersionKey,
		Signals:    signals,
		Health:     health,
		Gatherer:   reg,
		Hub:        hub,
		JWTSecret:  cfg.JWTSecret,
	}
	if pub != nil {
		apiDeps.Redis = pub.Client()
	}
	router := api.NewRouter(apiDeps)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		lg.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", slog.Any("error", err))
	}
	lg.Info("signalsync stopped")
}

func providerFactory(cfg *config.Config) (marketdata.Factory, error) {
	p := cfg.ProviderCreds
	switch cfg.Provider {
	case "smartapi":
		return smartapi.Factory(smartapi.Config{
			APIKey:     p.AngelAPIKey,
			ClientCode: p.AngelClientCode,
			Password:   p.AngelPassword,
			TOTPSecret: p.AngelTOTPSecret,
		}), nil
	case "alpaca":
		return alpaca.Factory(alpaca.Config{APIKey: p.AlpacaKey, APISecret: p.AlpacaSecret, Feed: p.AlpacaFeed}), nil
	case "twelvedata":
		return twelvedata.Factory(twelvedata.Config{APIKey: p.TwelveDataKey}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
