package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gate-system/config"
	"gate-system/handlers"
	"gate-system/internal/device"
	"gate-system/monitoring"
	"gate-system/security"
	"gate-system/services"
	"gate-system/utils"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// Start boots the binary in one of two roles. With DEVICE_ID set it runs
// as a handheld gate device: local scan API, offline queue and background
// sync against the central server. Otherwise it runs the central
// admission server itself.
func Start() error {
	cfg := config.LoadConfig()

	if cfg.DeviceID != "" {
		return runDevice(cfg)
	}
	return runCentral(cfg)
}

func runCentral(cfg *config.Config) error {
	app := pocketbase.New()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub for the live gate scan feed
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		pn = pubnub.NewPubNub(pnConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		store := services.NewDBXStore(app.DB())
		ledger := services.NewDBXLedger(app.DB())
		snapshots := services.NewSnapshotService(redisClient, store, cfg.SnapshotTTL)
		claims := services.NewClaimService(store, ledger, redisClient, pn, snapshots)

		// The gate API serves the scan devices on its own listener;
		// PocketBase keeps serving its admin and record APIs here.
		go serveGateAPI(ctx, cfg, redisClient, claims, snapshots, ledger)

		log.Println("Admission services ready")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// serveGateAPI runs the device-facing HTTP surface: claim submission,
// ticket snapshots, the scan ledger and per-event tallies.
func serveGateAPI(ctx context.Context, cfg *config.Config, redisClient *redis.Client, claims *services.ClaimService, snapshots *services.SnapshotService, ledger services.LedgerStore) {
	e := echo.New()

	limiter := security.NewRateLimiter(redisClient, int64(cfg.ScanRatePerMinute))

	claimHandler := handlers.NewClaimHandler(claims)
	snapshotHandler := handlers.NewSnapshotHandler(snapshots)
	ledgerHandler := handlers.NewLedgerHandler(ledger)
	adminHandler := handlers.NewAdminHandler(redisClient)

	// Claim endpoint
	e.POST("/api/v1/scan/claim", claimHandler.SubmitClaim, limiter.ClaimRateLimit())

	// Ticket snapshots
	e.GET("/api/v1/tickets/:ticketId/snapshot", snapshotHandler.GetSnapshot)

	// Scan ledger
	e.GET("/api/v1/scan/attempts", ledgerHandler.ListAttempts)

	// Admin endpoints
	e.GET("/api/v1/admin/events/:eventId/tallies", adminHandler.GetEventTallies)
	e.GET("/api/v1/admin/gate-dashboard", adminHandler.GetGateDashboard)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Gate API listening on :%s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Gate API server stopped: %v", err)
	}
}

func runDevice(cfg *config.Config) error {
	verifier, err := security.NewVerifier(cfg.CredentialPublicKey, []byte(cfg.CredentialSecret))
	if err != nil {
		return err
	}

	queue, err := device.OpenQueue(cfg.DeviceStorePath)
	if err != nil {
		return err
	}
	defer queue.Close()

	client := device.NewHTTPClient(cfg.CentralURL, cfg.DeviceID, cfg.ClaimTimeout)
	cache := device.NewSnapshotCache(queue, client)

	var overrides *security.OverrideAuthorizer
	if len(cfg.OverridePINs) > 0 {
		overrides = security.NewOverrideAuthorizer(cfg.OverridePINs)
	}

	scanner := device.NewScanner(cfg.DeviceID, verifier, overrides, client, queue, cache, cfg.ClaimTimeout)

	reconciler := device.NewReconciler(cfg.DeviceID, queue, client, device.ReconcilerConfig{
		Interval:    cfg.SyncInterval,
		BackoffBase: cfg.SyncBackoffBase,
		BackoffCap:  cfg.SyncBackoffCap,
		MaxAttempts: cfg.SyncMaxAttempts,
		Retention:   cfg.SyncRetention,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	// Background sync of queued offline scans
	go reconciler.Run(ctx)

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort)
	}

	scanHandler := handlers.NewScanHandler(scanner, queue)

	e := echo.New()
	e.POST("/api/v1/scan", scanHandler.Scan)
	e.GET("/api/v1/queue/status", scanHandler.QueueStatus)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy", "device_id": cfg.DeviceID})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("gate device ready",
		"device_id", cfg.DeviceID,
		"central", cfg.CentralURL,
		"store", cfg.DeviceStorePath)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
