package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bastion-ai/bastion/internal/api"
	"github.com/bastion-ai/bastion/internal/auth"
	"github.com/bastion-ai/bastion/internal/gateway"
	"github.com/bastion-ai/bastion/internal/monitor"
	"github.com/bastion-ai/bastion/internal/sanitize"
	"github.com/bastion-ai/bastion/internal/scanner"
	"github.com/bastion-ai/bastion/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("BASTION_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("BASTION_HTTP_PORT", "8080")
	securityEnabled := envOrDefaultBool("BASTION_SECURITY_ENABLED", true)
	scanSchemas := envOrDefaultBool("BASTION_SCAN_TOOL_SCHEMAS", true)
	scanResponses := envOrDefaultBool("BASTION_SCAN_TOOL_RESPONSES", true)
	modeStr := envOrDefault("BASTION_SANITIZATION_MODE", "neutralize")
	webhookURL := os.Getenv("BASTION_ALERT_WEBHOOK_URL")
	classifierURL := os.Getenv("BASTION_ML_CLASSIFIER_URL")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	apiKey := os.Getenv("BASTION_API_KEY")
	cacheTTL := envOrDefaultInt("BASTION_AUTH_CACHE_TTL_S", 30)

	monCfg := monitor.DefaultConfig()
	monCfg.FrequencyThreshold = envOrDefaultInt("BASTION_FREQ_THRESHOLD", monCfg.FrequencyThreshold)
	monCfg.SizeThreshold = envOrDefaultInt("BASTION_SIZE_THRESHOLD", monCfg.SizeThreshold)
	monCfg.RepeatThreshold = envOrDefaultInt("BASTION_REPEAT_THRESHOLD", monCfg.RepeatThreshold)

	// Sanitization mode — invalid values are a configuration error, fatal
	// before anything starts serving.
	mode, err := sanitize.ParseMode(modeStr)
	if err != nil {
		logger.Fatal("invalid BASTION_SANITIZATION_MODE", zap.Error(err))
	}

	logger.Info("starting bastion server",
		zap.String("http_port", httpPort),
		zap.Bool("security_enabled", securityEnabled),
		zap.Bool("scan_tool_schemas", scanSchemas),
		zap.Bool("scan_tool_responses", scanResponses),
		zap.String("sanitization_mode", mode.String()),
	)

	// ML classifier — conditional capability, absent unless configured.
	var classifier scanner.Classifier
	if classifierURL != "" {
		classifier = scanner.NewHTTPClassifier(classifierURL, logger)
	}

	sc := scanner.NewScanner(classifier, logger)
	sz := sanitize.NewSanitizer(mode, logger)

	// Behavior monitor with optional alert webhook. A malformed webhook URL
	// is fatal at startup, not discovered on first delivery.
	mon := monitor.NewBehaviorMonitor(monCfg, logger)
	if webhookURL != "" {
		if err := mon.SetAlertWebhook(webhookURL); err != nil {
			logger.Fatal("invalid BASTION_ALERT_WEBHOOK_URL", zap.Error(err))
		}
		logger.Info("alert webhook configured", zap.String("url", webhookURL))
	}

	// Event sink — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// The dispatch gateway. The host dispatcher embeds this for tool calls;
	// the HTTP API uses it for schema vetting.
	gw := gateway.NewGateway(gateway.Config{
		SecurityEnabled:   securityEnabled,
		ScanToolSchemas:   scanSchemas,
		ScanToolResponses: scanResponses,
	}, sc, sz, mon, writer, logger)

	// Authenticator — Postgres client store or single static key
	var authenticator auth.Authenticator
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		authenticator = auth.NewPostgresAuthenticator(db)
		logger.Info("postgres authenticator connected")
	} else if apiKey != "" {
		authenticator = auth.NewStaticAuthenticator(apiKey)
		logger.Info("using static API key authenticator")
	} else {
		logger.Fatal("either POSTGRES_DSN or BASTION_API_KEY is required")
	}

	deps := &api.Dependencies{
		Scanner:  sc,
		Gateway:  gw,
		Monitor:  mon,
		Writer:   writer,
		Auth:     authenticator,
		Logger:   logger,
		CacheTTL: time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("bastion server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
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

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
