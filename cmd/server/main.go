package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/jwaldner/atmscreen/internal/atm"
	"github.com/jwaldner/atmscreen/internal/config"
	"github.com/jwaldner/atmscreen/internal/greeks"
	"github.com/jwaldner/atmscreen/internal/handlers"
	"github.com/jwaldner/atmscreen/internal/lock"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/providers"
	"github.com/jwaldner/atmscreen/internal/providers/alpaca"
	"github.com/jwaldner/atmscreen/internal/providers/oplab"
	"github.com/jwaldner/atmscreen/internal/refresh"
	"github.com/jwaldner/atmscreen/internal/screener"
	"github.com/jwaldner/atmscreen/internal/services"
	"github.com/jwaldner/atmscreen/internal/storage"
	"github.com/jwaldner/atmscreen/internal/treasury"
)

func main() {
	cfg := config.Load()

	// Initialize proper logging with config level and file path
	if err := logger.InitWithConfig(cfg.Logging.LogLevel, cfg.Logging.LogFile); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Always.Printf("🚀 ATM screener starting - Port: %s", cfg.Port)

	if cfg.Logging.LogLevel == "verbose" {
		fmt.Printf("⚠️  VERBOSE LOGGING ENABLED - every provider call and leg resolution will be logged to %s\n", cfg.Logging.LogFile)
	}

	if err := validateCredentials(cfg); err != nil {
		log.Fatal(err)
	}

	policy, err := atm.ParsePolicy(cfg.Screener.LegPriority)
	if err != nil {
		log.Fatalf("Invalid leg_priority: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Always.Printf("🗄️ Quote store: %s", cfg.Database.Path)

	quoteStore := storage.NewQuoteStore(db)
	greeksStore := storage.NewGreeksStore(db)

	// Redis makes refresh locks and the Greeks cache shared by every instance
	var locker lock.Locker
	var cache greeks.Cache
	if cfg.Redis.URL != "" {
		client, err := storage.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.LockTTL())
		cache = storage.NewRedisGreeksCache(client, cfg.GreeksCacheTTL())
		logger.Always.Printf("🔒 Cluster mode: redis locks and greeks cache")
	} else {
		manager := lock.NewManager()
		defer manager.Close()
		locker = manager
		cache = greeksStore
		go purgeGreeks(ctx, greeksStore, cfg.GreeksCacheTTL())
		logger.Always.Printf("🔒 Single instance mode: in-process locks, sqlite greeks cache")
	}

	// Remote pricing is only offered by OpLab; with Alpaca the resolver stops at the cache
	var provider providers.MarketProvider
	var remote greeks.PricingService
	switch strings.ToLower(cfg.Provider) {
	case "alpaca":
		logger.Always.Printf("📡 Creating Alpaca client - Base URL: %s", cfg.Alpaca.DataURL)
		provider = alpaca.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.SecretKey, cfg.Alpaca.DataURL)
	default:
		logger.Always.Printf("📡 Creating OpLab client - Base URL: %s", cfg.Oplab.BaseURL)
		oplabProvider := oplab.NewOplabProvider(cfg.Oplab.Token, cfg.Oplab.BaseURL)
		oplabProvider.SetMinInterval(cfg.OplabMinInterval())
		provider, remote = oplabProvider, oplabProvider
	}
	providerManager := providers.NewProviderManager(provider)
	defer providerManager.Close()

	var rates treasury.RateSource = treasury.FixedRate(cfg.Pricing.RiskFreeRate)
	if strings.EqualFold(cfg.Pricing.RateSource, "treasury") {
		rates = treasury.NewTreasuryClient(cfg.Pricing.TreasuryURL, cfg.Pricing.RiskFreeRate)
		logger.Always.Printf("💰 Risk-free rate: treasury bills (fallback %.4f)", cfg.Pricing.RiskFreeRate)
	} else {
		logger.Always.Printf("💰 Risk-free rate: fixed %.4f", cfg.Pricing.RiskFreeRate)
	}

	resolver := greeks.NewResolver(cache, remote, greeks.Options{
		DayCount:      cfg.Pricing.DayCount,
		DividendYield: cfg.Pricing.DividendYield,
		CacheTTL:      cfg.GreeksCacheTTL(),
		RemoteTimeout: cfg.RemoteTimeout(),
		DeriveVol:     cfg.Greeks.DeriveVol,
	})
	coordinator := refresh.NewCoordinator(quoteStore, providerManager, providerManager, locker,
		refresh.ParseGranularity(cfg.Refresh.Granularity))

	atmScreener := screener.New(quoteStore, coordinator, resolver, rates, screener.Options{
		ExpiryCount:     cfg.Screener.ExpiryCount,
		LookaheadMonths: cfg.Screener.LookaheadMonths,
		RefreshTTL:      cfg.RefreshTTL(),
		LegTimeout:      cfg.LegTimeout(),
		Policy:          policy,
		Workers:         cfg.Screener.Workers,
		DayCount:        cfg.Pricing.DayCount,
		DividendYield:   cfg.Pricing.DividendYield,
	})
	logger.Always.Printf("⚙️ Leg priority: %s, refresh TTL %v (%s)", policy, cfg.RefreshTTL(), cfg.Refresh.Granularity)

	screenerHandler := handlers.NewScreenerHandler(atmScreener, services.NewTickerService(cfg), provider.GetProviderName())

	// Setup router
	r := mux.NewRouter()
	r.Use(handlers.ZstdMiddleware)
	screenerHandler.Register(r)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Always.Printf("🛑 Shutting down")
		logger.Info.Printf("%s", providerManager.GetPerformanceReport())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("🌐 Server starting on http://localhost:%s\n", cfg.Port)
	logger.Always.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("Server failed to start:", err)
	}
}

// validateCredentials rejects missing or obvious placeholder credentials - let
// the provider report real auth errors
func validateCredentials(cfg *config.Config) error {
	placeholder := func(v string) bool {
		return strings.Contains(v, "<") || strings.Contains(v, ">") ||
			strings.HasPrefix(v, "YOUR_") || v == "REPLACE_ME"
	}

	if strings.EqualFold(cfg.Provider, "alpaca") {
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.SecretKey == "" {
			return fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY are required (set in config.yaml, .env or environment variable)")
		}
		if placeholder(cfg.Alpaca.APIKey) || placeholder(cfg.Alpaca.SecretKey) {
			return fmt.Errorf("❌ Alpaca credentials appear to be placeholders - please set real credentials")
		}
		return nil
	}

	if cfg.Oplab.Token == "" {
		return fmt.Errorf("OPLAB_TOKEN is required (set in config.yaml, .env or environment variable)")
	}
	if placeholder(cfg.Oplab.Token) {
		return fmt.Errorf("❌ OPLAB_TOKEN appears to be a placeholder - please set a real token")
	}
	return nil
}

// purgeGreeks drops expired rows from the sqlite Greeks cache.
func purgeGreeks(ctx context.Context, store *storage.GreeksStore, ttl time.Duration) {
	if ttl <= 0 {
		ttl = greeks.DefaultCacheTTL
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, ttl)
			if err != nil {
				logger.Warn.Printf("⚠️ Greeks cache purge failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Debug.Printf("🐛 Purged %d expired greeks entries", n)
			}
		}
	}
}
