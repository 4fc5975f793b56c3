package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/config"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/database"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/logging"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/receipts"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/server"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/sessions"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tabsplit-api",
		Short: "Tabsplit session server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Session store (sqlite, redis)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().Int("redis-db", defaults.GetInt("redis.db"), "Redis database number")
	cmd.PersistentFlags().Duration("redis-session-ttl", defaults.GetDuration("redis.session_ttl"), "Expire idle sessions in Redis (0 keeps them)")
	cmd.PersistentFlags().String("receipts-model", defaults.GetString("receipts.model"), "Gemini model used for receipt parsing")
	cmd.PersistentFlags().Int("send-buffer", defaults.GetInt("realtime.send_buffer"), "Queued broadcasts per connection before it is dropped")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed browser origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "redis.session_ttl", "redis-session-ttl")
	bindFlag(cmd, "receipts.model", "receipts-model")
	bindFlag(cmd, "realtime.send_buffer", "send-buffer")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Store:      store,
		Clock:      time.Now,
		IDProvider: sessions.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	extractor, err := newExtractor(ctx, appConfig.Receipts, logger)
	if err != nil {
		return err
	}
	receiptService := receipts.NewService(receipts.ServiceConfig{
		Extractor:     extractor,
		MaxImageBytes: appConfig.Receipts.MaxUploadBytes,
		Logger:        logger,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(registry)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionService,
		Receipts:       receiptService,
		Hub:            server.NewHub(server.HubConfig{BufferSize: appConfig.SendBuffer, Metrics: metrics}),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store", appConfig.StoreDriver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (sessions.Store, func(), error) {
	switch appConfig.StoreDriver {
	case config.StoreDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.Redis.Address,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store, err := sessions.NewRedisStore(client,
			sessions.WithKeyPrefix(appConfig.Redis.KeyPrefix),
			sessions.WithTTL(appConfig.Redis.SessionTTL))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("redis store ready", zap.String("address", appConfig.Redis.Address))
		return store, func() { _ = client.Close() }, nil
	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := sessions.NewGormStore(db)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { _ = sqlDB.Close() }, nil
	}
}

func newExtractor(ctx context.Context, cfg config.ReceiptsConfig, logger *zap.Logger) (receipts.Extractor, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("receipts.gemini_api_key not set; receipt parsing returns no items")
		return receipts.NopExtractor{}, nil
	}
	return receipts.NewGeminiExtractor(ctx, receipts.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.Model,
		Logger: logger,
	})
}
