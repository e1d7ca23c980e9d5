/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ForgeFit coin engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load optional TOML config
  2. Initialize SQLite store
  3. Wire domain services (ledger, booking, exchange, recurring)
  4. Start the background scheduler
  5. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database
  -config  Path to a TOML config file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the database
  4. Exit

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgefit/coin-engine/api"
	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
	"github.com/forgefit/coin-engine/recurring"
	"github.com/forgefit/coin-engine/store/sqlite"
)

func main() {
	// Flags; zero values mean "use the config file / defaults".
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	// Storage
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain services. The single store satisfies every persistence
	// interface; runtime settings come from its settings table.
	settings := config.NewSettings(store)
	expiryDays, err := settings.CoinExpiryDays(context.Background())
	if err != nil {
		log.Fatalf("Failed to read settings: %v", err)
	}

	notifier := notify.LogDispatcher{}
	ledgerSvc := ledger.NewService(store, store)
	grants := ledger.NewGrantService(store, store, expiryDays)
	balance := ledger.NewBalanceCalculator(store)
	orchestrator := booking.NewOrchestrator(store, store, store, ledgerSvc, settings, notifier)
	exchangeSvc := exchange.NewService(store, ledgerSvc, notifier)
	engine := &recurring.Engine{
		Templates: store,
		ExpLog:    store,
		Bookings:  store,
		Refs:      store,
		Directory: store,
		Entries:   store,
		TxLog:     store,
		Notifier:  notifier,
		Now:       ledger.SystemClock,
	}

	handler := &api.Handler{
		Ledger:       ledgerSvc,
		Grants:       grants,
		Balance:      balance,
		Orchestrator: orchestrator,
		Exchange:     exchangeSvc,
		Engine:       engine,
		Bookings:     store,
		Templates:    store,
		ExpLog:       store,
		Settings:     settings,
		Now:          ledger.SystemClock,
	}

	// Background jobs
	scheduler := api.NewScheduler(engine, grants)
	scheduler.Enabled = cfg.Scheduler.ExpansionEnabled
	scheduler.CheckInterval = time.Duration(cfg.Scheduler.CheckIntervalMinutes) * time.Minute
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
