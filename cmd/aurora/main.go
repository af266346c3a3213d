// Command aurora runs the options-signal daemon: it wires the Feed, Fuser,
// Risk Projector, Grader, Optimizer, and Scheduler together behind a
// read-only HTTP/WebSocket API. Grounded on the teacher's cmd/server/main.go
// for the flag parsing, viper-backed configuration, logger setup, and
// signal-driven graceful shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/aurora/internal/api"
	"github.com/atlas-desktop/aurora/internal/backtest"
	"github.com/atlas-desktop/aurora/internal/evolution"
	"github.com/atlas-desktop/aurora/internal/events"
	"github.com/atlas-desktop/aurora/internal/feed"
	"github.com/atlas-desktop/aurora/internal/fuser"
	"github.com/atlas-desktop/aurora/internal/grader"
	"github.com/atlas-desktop/aurora/internal/risk"
	"github.com/atlas-desktop/aurora/internal/scheduler"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/internal/workers"
	"github.com/atlas-desktop/aurora/pkg/calendar"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (YAML/JSON/TOML); env vars AURORA_* override")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg := loadConfig(*configPath)

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	logger.Info("starting aurora",
		zap.Strings("tickers", cfg.GetStringSlice("tickers")),
		zap.String("store", cfg.GetString("store.backend")),
		zap.Int("apiPort", cfg.GetInt("api.port")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := buildRepository(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer closeRepo()

	cal := calendar.DefaultCalendar()

	feedCfg := feed.DefaultConfig()
	feedCfg.BaseURL = cfg.GetString("feed.baseUrl")
	feedCfg.Token = cfg.GetString("feed.token")
	marketFeed := feed.NewVendorFeed(feedCfg, cal, logger)

	fuserEngine := fuser.NewFuser(repo, fuser.DefaultConfig(), logger)
	riskCfg := risk.DefaultRiskConfig()

	replayer := backtest.NewReplayer(repo, fuser.DefaultConfig(), riskCfg, "1m", logger)

	evoCfg := evolution.DefaultConfig()
	optimizer := evolution.NewOptimizer(repo, replayer, fuserEngine, evoCfg, logger)

	reconciler := grader.NewGrader(repo, optimizer, "1m", logger)

	eventBus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	defer eventBus.Stop()

	pool := workers.NewPool(logger, workers.DefaultPoolConfig("scheduler"))

	schedulerCfg := scheduler.DefaultConfig()
	schedulerCfg.Tickers = cfg.GetStringSlice("tickers")
	schedulerCfg.FridayOnlyTickers = cfg.GetStringSlice("fridayOnlyTickers")

	daemon := scheduler.New(schedulerCfg, cal, marketFeed, fuserEngine, riskCfg, repo, reconciler, pool, eventBus, logger)

	apiCfg := api.DefaultConfig()
	apiCfg.Host = cfg.GetString("api.host")
	apiCfg.Port = cfg.GetInt("api.port")
	server := api.NewServer(logger, apiCfg, repo, replayer, eventBus)

	if err := daemon.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	logger.Info("aurora started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", apiCfg.Host, apiCfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", apiCfg.Host, apiCfg.Port, apiCfg.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if err := daemon.Stop(); err != nil {
		logger.Error("error stopping scheduler", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("aurora stopped")
}

// loadConfig reads an optional config file via viper and sets the
// documented defaults for everything it omits. Every key is also
// overridable via an AURORA_-prefixed environment variable.
func loadConfig(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("AURORA")
	v.AutomaticEnv()

	v.SetDefault("tickers", []string{"SPY"})
	v.SetDefault("fridayOnlyTickers", []string{})
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dataDir", "./data")
	v.SetDefault("store.sqlitePath", "./data/aurora.db")
	v.SetDefault("feed.baseUrl", "")
	v.SetDefault("feed.token", "")
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read config file %s: %v\n", path, err)
		}
	}
	return v
}

// buildRepository constructs the configured Repository backend. FileStore
// is the default (mirrors the teacher's own Store most directly); SQLite
// is opt-in via store.backend=sqlite.
func buildRepository(cfg *viper.Viper, logger *zap.Logger) (store.Repository, func(), error) {
	switch cfg.GetString("store.backend") {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.GetString("store.sqlitePath"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := store.NewFileStore(cfg.GetString("store.dataDir"), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
