// Wires configuration, Redis, the realtime hub and the gin server together.

package main

import (
	"Shipper/internal/backbone"
	"Shipper/internal/config"
	"Shipper/internal/filestream"
	"Shipper/internal/metrics"
	"Shipper/internal/presence"
	"Shipper/internal/realtime"
	"Shipper/pkg/cleanup"
	"Shipper/pkg/db"
	"Shipper/pkg/globalcontext"
	"Shipper/pkg/log"
	"Shipper/pkg/middlewares"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var srvaddr, srvport string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime HTTP server",
	Long: `Run the realtime HTTP server.

With REDIS_URL set and reachable, events fan out across every instance through
Redis pub/sub. Otherwise the server delivers to its own connections only.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&srvaddr, "addr", "", "listen address, overrides SRV_ADDR")
	serveCmd.Flags().StringVarP(&srvport, "port", "p", "", "listen port, overrides SRV_PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	if enverr := config.LoadEnvFile(envFile); enverr != nil {
		return enverr
	}
	cfg, cfgerr := config.Load()
	if cfgerr != nil {
		return cfgerr
	}
	if cmd.Flags().Changed("addr") {
		cfg.SrvAddr = srvaddr
	}
	if cmd.Flags().Changed("port") {
		cfg.SrvPort = srvport
	}

	logger := log.New(Version)
	logger.Info().Msgf("Welcome to Shipper: v%s", Version)
	logger.Info().Msgf("Shipper Environment: %s", cfg.Env)

	// This is the preferred mode used by gin server in DEV environment.
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	var rdb *db.RedisDB
	if cfg.RedisURL != "" {
		var dberr error
		rdb, dberr = db.NewDbConnection(db.Options{
			URL:             cfg.RedisURL,
			TxMaxRetries:    cfg.RedisTxMaxRetries,
			MinRetryBackoff: cfg.RedisMinBackoff,
			MaxRetryBackoff: cfg.RedisMaxBackoff,
		})
		if dberr != nil {
			return dberr
		}
	}
	bb := backbone.New(ctx, cfg, rdb, logger.Component("backbone"))
	if bb.Mode() == backbone.ModeLocal && rdb != nil {
		// Redis is unreachable, presence falls back to memory as well
		_ = rdb.CloseDbConnection(ctx)
		rdb = nil
	}

	m := metrics.NewWithRuntime()
	hub := realtime.NewHub(bb, realtime.Options{
		Heartbeat:     cfg.HeartbeatInterval,
		ClientQueue:   cfg.ClientQueueSize,
		ChunkInterval: cfg.ChunkFlushInterval,
		Files: filestream.Options{
			BufferSize:    cfg.FileBufferSize,
			BufferTTL:     cfg.FileBufferTTL,
			SweepInterval: cfg.FileBufferSweep,
		},
	}, logger.Component("realtime"), m)
	hub.Start(ctx)
	publisher := realtime.NewPublisher(hub, logger)

	presenceRepo := presence.NewMemoryRepository()
	if rdb != nil {
		presenceRepo = presence.NewRepository(rdb)
	}
	presenceSvc := presence.NewService(presenceRepo, hub.Publish, logger.Component("presence"))

	// Initializing the gin server.
	server := gin.New()
	// Forcing gin to use custom Logger instead of the default one.
	server.Use(log.LoggerGinExtension(logger, "/metrics"))
	server.Use(gin.Recovery())
	server.Use(middlewares.CORSMiddleware(cfg.CORSOrigin))
	server.Use(middlewares.CorrelationMiddleware())
	server.Use(globalcontext.UniqueIDMiddleware(logger))

	// Running Router() which routes all of the REST API groups and paths.
	Router(server, cfg, hub, publisher, presenceSvc, m, logger)

	// Running the server with defined addr and port.
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server,
	}

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		logger.Info().Msgf("Shipper service running at: %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Error in ListenAndServe()")
		}
	}()

	operations := map[string]cleanup.Operation{
		// Open streams are closed by the hub, Shutdown would otherwise wait for them
		"Gin": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"Realtime-hub": func(ctx context.Context) error {
			return hub.Shutdown(ctx)
		},
	}
	if rdb != nil {
		operations["Redis-server"] = func(ctx context.Context) error {
			// backbone subscriptions go first, hub shutdown is idempotent
			_ = hub.Shutdown(ctx)
			return rdb.CloseDbConnection(ctx)
		}
	}

	// Graceful shutdown of Shipper server triggered due to system interruptions.
	<-cleanup.GracefulShutdown(ctx, logger, cfg.ShutdownTimeout, operations)
	return nil
}
