package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/Mykey001/Mt5-brigde/internal/accounts"
	"github.com/Mykey001/Mt5-brigde/internal/config"
	"github.com/Mykey001/Mt5-brigde/internal/database"
	"github.com/Mykey001/Mt5-brigde/internal/events"
	"github.com/Mykey001/Mt5-brigde/internal/market"
	"github.com/Mykey001/Mt5-brigde/internal/secrets"
	"github.com/Mykey001/Mt5-brigde/internal/terminal"
	"github.com/Mykey001/Mt5-brigde/internal/ws"
	"github.com/Mykey001/Mt5-brigde/pkg/middleware"
)

// init configures logging. Development runs get pretty console output;
// DEBUG=true raises the level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize credential cipher")
	}

	brokers, err := accounts.LoadDirectory(cfg.BrokersFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load broker directory")
	}

	// The gateway owns the one terminal session for the whole process.
	var launcher terminal.Launcher
	if cfg.TerminalPath != "" {
		launcher = terminal.NewProcessLauncher(cfg.TerminalPath, cfg.TerminalStartupWait)
	}
	gateway := terminal.NewGateway(terminal.NewRPCTerminal(cfg.TerminalRPCURL), launcher, cfg.ConnectTimeout)
	defer gateway.Shutdown()

	registry := accounts.NewDatabase(db)
	syncService := accounts.NewSyncService(registry, gateway, cipher)

	accountService := accounts.NewService(db, syncService, gateway, cipher, brokers)
	accountHandlers := accounts.NewGinHandlers(accountService)

	marketService := market.NewService(gateway)
	marketHandlers := market.NewGinHandlers(marketService)

	hub := ws.NewHub()
	var publisher ws.Publisher
	if cfg.NATSURL != "" {
		natsPub, err := events.Connect(cfg.NATSURL)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsPub.Close()
		publisher = natsPub
	}
	notifier := ws.NewNotifier(hub, registry, publisher)
	syncService.SetNotifier(notifier)
	wsHandlers := ws.NewGinHandlers(hub, notifier, registry, cfg.AllowedOrigins)

	// Background sweep over connected accounts.
	scheduler := accounts.NewScheduler(registry, syncService, cfg.SyncInterval)
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go scheduler.Start(schedulerCtx)

	router := gin.Default()
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RateLimit())

	setupRoutes(router, accountHandlers, marketHandlers, wsHandlers, gateway)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().Str("port", cfg.Port).Msg("MT5 bridge started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes wires all API endpoints.
func setupRoutes(
	router *gin.Engine,
	accountHandlers *accounts.GinHandlers,
	marketHandlers *market.GinHandlers,
	wsHandlers *ws.GinHandlers,
	gateway *terminal.Gateway,
) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "running",
			"service": "MT5 Bridge API",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		active := 0
		if gateway.ActiveAccount() != 0 {
			active = 1
		}
		c.JSON(http.StatusOK, gin.H{
			"status":               "healthy",
			"terminal_initialized": gateway.Initialized(),
			"active_connections":   active,
		})
	})

	v1 := router.Group("/api/v1")
	{
		accts := v1.Group("/accounts")
		{
			accts.GET("/brokers", accountHandlers.ListBrokersHandler())
			accts.POST("", accountHandlers.CreateAccountHandler())
			accts.GET("", accountHandlers.ListAccountsHandler())
			accts.POST("/migrate", accountHandlers.MigrateHandler())
			accts.GET("/:id", accountHandlers.GetAccountHandler())
			accts.PUT("/:id", accountHandlers.UpdateAccountHandler())
			accts.DELETE("/:id", accountHandlers.DeleteAccountHandler())
			accts.POST("/:id/reconnect", accountHandlers.ReconnectHandler())
			accts.POST("/:id/sync", accountHandlers.ForceSyncHandler())
			accts.GET("/:id/deals", accountHandlers.DealsHandler())
			accts.GET("/:id/orders-history", accountHandlers.OrdersHistoryHandler())
		}

		mkt := v1.Group("/market")
		{
			mkt.GET("/candles", marketHandlers.CandlesHandler())
			mkt.GET("/trade-candles", marketHandlers.TradeCandlesHandler())
		}

		v1.GET("/ws/:user_id", wsHandlers.SubscribeHandler())
	}
}
