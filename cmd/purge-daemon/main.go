package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/config"
	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/common/logger"
	"github.com/edgecomet/banpurge/internal/common/redis"
	"github.com/edgecomet/banpurge/internal/purge/configtest"
	"github.com/edgecomet/banpurge/internal/purge/purger"
	"github.com/edgecomet/banpurge/internal/purgedaemon"
)

func main() {
	configPath := flag.String("c", "configs/example/purge-daemon.yaml", "path to purge-daemon configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit; optional arguments are type/expression pairs")
	flag.Parse()

	if *testMode {
		os.Exit(runConfigTest(*configPath, flag.Args()))
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Purge Daemon",
		zap.String("config_path", *configPath))

	daemonConfig, err := config.LoadPurgeDaemonConfig(*configPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load purge-daemon config", zap.Error(err))
	}

	// Uses INFO level during startup if configured level is higher
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(daemonConfig.Logging)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	zapLogger := dynamicLogger.With(zap.String("daemon_id", daemonConfig.DaemonID))

	redisClient, err := redis.NewClient(&daemonConfig.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	daemon, err := purgedaemon.NewPurgeDaemon(daemonConfig, redisClient, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create purge daemon", zap.Error(err))
	}

	if err := daemon.Start(context.Background()); err != nil {
		zapLogger.Fatal("Failed to start daemon components", zap.Error(err))
	}

	var httpServer *fasthttp.Server
	if daemonConfig.HTTPApi.Enabled {
		httpServer = &fasthttp.Server{
			Handler:                      daemon.ServeHTTP,
			Name:                         "PurgeDaemon/1.0",
			ReadTimeout:                  daemonConfig.HTTPApi.RequestTimeout.ToDuration(),
			WriteTimeout:                 daemonConfig.HTTPApi.RequestTimeout.ToDuration(),
			IdleTimeout:                  60 * time.Second,
			DisablePreParseMultipartForm: true,
			NoDefaultServerHeader:        true,
			NoDefaultDate:                true,
		}

		listenAddr, err := configtypes.NormalizeListen(daemonConfig.HTTPApi.Listen)
		if err != nil {
			zapLogger.Fatal("Invalid HTTP API listen address", zap.Error(err))
		}
		go func() {
			zapLogger.Info("HTTP API server starting", zap.String("addr", listenAddr))
			if err := httpServer.ListenAndServe(listenAddr); err != nil {
				zapLogger.Error("HTTP server error", zap.Error(err))
			}
		}()

		zapLogger.Info("Purge daemon started",
			zap.String("purger", daemon.Purger().Label()),
			zap.String("api_addr", listenAddr))
	} else {
		zapLogger.Warn("HTTP API is disabled in configuration")
		zapLogger.Info("Purge daemon started (HTTP API disabled)",
			zap.String("purger", daemon.Purger().Label()))
	}

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	dynamicLogger.EnsureInfoLevelForShutdown()
	zapLogger.Info("Shutting down Purge Daemon...")

	// Stop accepting invalidations before the scheduler drains
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
			zapLogger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
		cancel()
	}

	if err := daemon.Shutdown(); err != nil {
		zapLogger.Error("Failed to shutdown daemon components gracefully", zap.Error(err))
	}

	zapLogger.Info("Purge daemon stopped")
}

// runConfigTest validates the configuration and previews the ban request
// for each type/expression pair in args
func runConfigTest(configPath string, args []string) int {
	cfg, err := config.ParsePurgeDaemonConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration file %s test failed:\n- %v\n", configPath, err)
		return 1
	}

	fmt.Printf("configuration file %s syntax is ok\n", configPath)

	p, err := purger.New(&cfg.Purger, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "purger setup failed: %v\n", err)
		return 1
	}
	defer p.Close()

	fmt.Println("configuration test is successful")
	configtest.PrintPurgerSummary(os.Stdout, &cfg.Purger)

	if len(args)%2 != 0 {
		fmt.Fprintln(os.Stderr, "\nexpression tests need type/expression pairs, e.g. -t tag node:1 path /news/*")
		return 1
	}

	exitCode := 0
	for i := 0; i < len(args); i += 2 {
		result := configtest.TestExpression(p, &cfg.Purger, args[i], args[i+1])
		configtest.PrintExpressionTestResult(os.Stdout, result)
		if result.Error != "" {
			exitCode = 1
		}
	}
	return exitCode
}
