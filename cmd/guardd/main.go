// Package main provides the guard daemon that runs all components together:
// - Feed (continuous): WebSocket oracle quotes into price history
// - Keeper (scheduled): trigger sweeps over active loans and orders
// - HTTP: health, Prometheus metrics, status
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard/internal/auth"
	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/keeper"
	"github.com/Blockchain-Oracle/stellar-guard/internal/lending"
	"github.com/Blockchain-Oracle/stellar-guard/internal/observability"
	"github.com/Blockchain-Oracle/stellar-guard/internal/oracle"
	"github.com/Blockchain-Oracle/stellar-guard/internal/oracle/feed"
	"github.com/Blockchain-Oracle/stellar-guard/internal/orders"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
	chstore "github.com/Blockchain-Oracle/stellar-guard/internal/storage/clickhouse"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage/memory"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage/migrations"
	pgstore "github.com/Blockchain-Oracle/stellar-guard/internal/storage/postgres"
)

// Server holds all components of the guard daemon.
type Server struct {
	feedEndpoint  string
	feedAssets    []string
	sweepInterval time.Duration

	keeperAddress string
	started       time.Time

	lendingService *lending.Service
	ordersService  *orders.Service
	logger         *log.Logger
}

// allStores holds all storage implementations.
type allStores struct {
	loanStore    storage.LoanStore
	orderStore   storage.OrderStore
	intentStore  storage.IntentStore
	historyStore storage.PriceHistoryStore
	configStore  storage.ConfigStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	feedEndpoint := flag.String("feed-endpoint", os.Getenv("FEED_WS_ENDPOINT"), "Oracle quote feed WebSocket endpoint")
	feedAssets := flag.String("feed-assets", os.Getenv("FEED_ASSETS"), "Comma-separated asset keys to subscribe (e.g. crypto:BTC,forex:USD)")
	keeperKeyHex := flag.String("keeper-key", os.Getenv("KEEPER_KEY"), "Hex-encoded ed25519 seed for the keeper account")
	sweepInterval := flag.Duration("sweep-interval", 10*time.Second, "Keeper sweep interval")
	twapPeriods := flag.Uint("twap-periods", uint(keeper.DefaultTWAPPeriods), "TWAP averaging periods for TWAP stop orders")
	maxQuoteAge := flag.Int64("max-quote-age", oracle.DefaultMaxQuoteAge, "Maximum quote age in seconds for order triggers")
	adminAddress := flag.String("admin", os.Getenv("GUARD_ADMIN"), "Admin account address (initializes config when set)")
	feeRecipient := flag.String("fee-recipient", os.Getenv("GUARD_FEE_RECIPIENT"), "Fee recipient account address")
	network := flag.String("network", envOr("GUARD_NETWORK", "testnet"), "Network name")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health/metrics/status")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[guardd] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	assets := splitList(*feedAssets)
	if *feedEndpoint != "" && len(assets) == 0 {
		logger.Fatal("--feed-assets is required when --feed-endpoint is set")
	}
	for _, key := range assets {
		if _, err := domain.ParseAssetKey(key); err != nil {
			logger.Fatalf("Invalid feed asset %q: %v", key, err)
		}
	}

	keeperKey, keeperAddress, err := resolveKeeperKey(*keeperKeyHex)
	if err != nil {
		logger.Fatalf("Keeper key: %v", err)
	}
	logger.Printf("Keeper account: %s", keeperAddress)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Initialize config singleton when admin is given; a prior init wins.
	if *adminAddress != "" {
		cfg := &domain.GuardConfig{Admin: *adminAddress, FeeRecipient: *feeRecipient, Network: *network}
		if err := stores.configStore.Init(ctx, cfg); err != nil {
			if err != storage.ErrAlreadyInitialized {
				logger.Fatalf("Failed to initialize config: %v", err)
			}
			logger.Println("Config already initialized, keeping stored values")
		}
	}

	metrics := observability.NewMetrics("")

	// Oracle router: every configured class is served by the history gateway
	// over the archived feed quotes.
	router := oracle.NewRouter()
	historyGateway := oracle.NewHistoryGateway(stores.historyStore)
	for _, class := range assetClasses(assets) {
		router.Register(class, historyGateway)
	}

	lendingService := lending.NewService(lending.Options{
		Loans:   stores.loanStore,
		Gateway: router,
		Metrics: metrics,
		Logger:  log.New(os.Stdout, "[lending] ", log.LstdFlags),
	})
	ordersService := orders.NewService(orders.Options{
		Orders:      stores.orderStore,
		Gateway:     router,
		Metrics:     metrics,
		Logger:      log.New(os.Stdout, "[orders] ", log.LstdFlags),
		MaxQuoteAge: *maxQuoteAge,
	})

	server := &Server{
		feedEndpoint:   *feedEndpoint,
		feedAssets:     assets,
		sweepInterval:  *sweepInterval,
		keeperAddress:  keeperAddress,
		started:        time.Now(),
		lendingService: lendingService,
		ordersService:  ordersService,
		logger:         logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*httpAddr)

	// Run feed and keeper
	err = server.Run(ctx, keeper.RunnerOptions{
		Lending:       lendingService,
		Orders:        ordersService,
		Key:           keeperKey,
		SweepInterval: *sweepInterval,
		TWAPPeriods:   uint32(*twapPeriods),
		Metrics:       metrics,
		Logger:        log.New(os.Stdout, "[keeper] ", log.LstdFlags),
	}, stores.historyStore, metrics)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run starts the feed and keeper and blocks until cancellation or failure.
func (s *Server) Run(ctx context.Context, keeperOpts keeper.RunnerOptions, history storage.PriceHistoryStore, metrics *observability.Metrics) error {
	s.logger.Println("Starting guard daemon...")

	errCh := make(chan error, 2)

	if s.feedEndpoint != "" {
		client := feed.NewClient(feed.Options{
			Endpoint: s.feedEndpoint,
			Assets:   s.feedAssets,
			History:  history,
			Metrics:  metrics,
			Logger:   log.New(os.Stdout, "[feed] ", log.LstdFlags),
		})
		go func() {
			err := client.Run(ctx)
			if err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("feed: %w", err)
			}
		}()
	} else {
		s.logger.Println("No feed endpoint configured, relying on externally written price history")
	}

	runner := keeper.NewRunner(keeperOpts)
	go func() {
		err := runner.Run(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("keeper: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		intents := memory.NewIntentStore()
		stores := &allStores{
			loanStore:    memory.NewLoanStore(intents, nil),
			orderStore:   memory.NewOrderStore(intents, 0, nil),
			intentStore:  intents,
			historyStore: memory.NewPriceHistoryStore(),
			configStore:  memory.NewConfigStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL: records, intents, config
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	// ClickHouse: price history
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}

	stores := &allStores{
		loanStore:    pgstore.NewLoanStore(pool, nil),
		orderStore:   pgstore.NewOrderStore(pool, nil, 0),
		intentStore:  pgstore.NewIntentStore(pool),
		historyStore: chstore.NewPriceHistoryStore(chConn),
		configStore:  pgstore.NewConfigStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// resolveKeeperKey parses a hex seed or generates an ephemeral key.
func resolveKeeperKey(seedHex string) (ed25519.PrivateKey, string, error) {
	var key ed25519.PrivateKey
	if seedHex == "" {
		_, generated, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, "", fmt.Errorf("generate ephemeral key: %w", err)
		}
		key = generated
	} else {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, "", fmt.Errorf("decode seed hex: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, "", fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		key = ed25519.NewKeyFromSeed(seed)
	}

	address, err := auth.AddressFromPublicKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, "", err
	}
	return key, address, nil
}

// assetClasses returns the distinct classes among the feed asset keys.
func assetClasses(keys []string) []domain.AssetClass {
	seen := make(map[domain.AssetClass]bool)
	var classes []domain.AssetClass
	for _, key := range keys {
		ref, err := domain.ParseAssetKey(key)
		if err != nil {
			continue
		}
		if !seen[ref.Class] {
			seen[ref.Class] = true
			classes = append(classes, ref.Class)
		}
	}
	return classes
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string   `json:"status"`
	Uptime        string   `json:"uptime"`
	KeeperAccount string   `json:"keeper_account"`
	SweepInterval string   `json:"sweep_interval"`
	FeedAssets    []string `json:"feed_assets,omitempty"`
	ActiveLoans   int      `json:"active_loans"`
	ActiveOrders  int      `json:"active_orders"`
}

// handleStatus returns daemon status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	loanIDs, err := s.lendingService.ActiveLoanIDs(r.Context())
	if err != nil {
		s.logger.Printf("Status: listing active loans: %v", err)
	}
	orderIDs, err := s.ordersService.ActiveOrderIDs(r.Context())
	if err != nil {
		s.logger.Printf("Status: listing active orders: %v", err)
	}

	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		KeeperAccount: s.keeperAddress,
		SweepInterval: s.sweepInterval.String(),
		FeedAssets:    s.feedAssets,
		ActiveLoans:   len(loanIDs),
		ActiveOrders:  len(orderIDs),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// splitList splits a comma-separated flag value.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envOr returns the env value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
