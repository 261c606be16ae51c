package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"camlink/internal/codec"
	"camlink/internal/coordinator"
	"camlink/internal/keyring"
	"camlink/internal/mqtt"
	"camlink/internal/signaling"
	"camlink/internal/store"
	"camlink/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	MQTT struct {
		Broker         string        `yaml:"broker" validate:"required"`
		ClientID       string        `yaml:"client_id"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		Namespace      string        `yaml:"namespace" validate:"required,excludesall=/+#"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
		PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gt=0"`
	} `yaml:"mqtt"`
	Cipher struct {
		DefaultSecret string `yaml:"default_secret"`
	} `yaml:"cipher"`
	Store struct {
		Backend string `yaml:"backend" validate:"oneof=bolt memory"`
		Path    string `yaml:"path" validate:"required_if=Backend bolt"`
	} `yaml:"store"`
	Heartbeat struct {
		Enabled          *bool         `yaml:"enabled"` // nil means on
		Interval         time.Duration `yaml:"interval" validate:"gt=0"`
		OfflineThreshold time.Duration `yaml:"offline_threshold" validate:"gtfield=Interval"`
	} `yaml:"heartbeat"`
	Dispatch struct {
		Workers   int `yaml:"workers" validate:"min=1,max=256"`
		QueueSize int `yaml:"queue_size" validate:"min=1"`
	} `yaml:"dispatch"`
	Signaling struct {
		Backend string `yaml:"backend" validate:"oneof=memory redis"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" validate:"min=0"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"signaling"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
		Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
	} `yaml:"kafka"`
	Web struct {
		Listen         string   `yaml:"listen" validate:"required,hostname_port"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"log"`
}

var configValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				return fmt.Errorf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
			}
			return fmt.Errorf("%s: failed %s", field, fe.Tag())
		}
		return err
	}
	if c.Signaling.Backend == "redis" && c.Signaling.Redis.Addr == "" {
		return fmt.Errorf("signaling.redis.addr is required for the redis backend")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("camlink starting", "version", version)

	db, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, closeCache, err := openSignaling(cfg, logger)
	if err != nil {
		logger.Error("open signaling cache", "err", err)
		os.Exit(1)
	}
	defer closeCache()

	conn := mqtt.NewConnector(mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Namespace:      cfg.MQTT.Namespace,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	}, logger)

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(conn, db, keyring.New(), codec.New(cfg.Cipher.DefaultSecret), cache, events, coordinator.Config{
		HeartbeatEnabled:  *cfg.Heartbeat.Enabled,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		OfflineThreshold:  cfg.Heartbeat.OfflineThreshold,
		Workers:           cfg.Dispatch.Workers,
		QueueSize:         cfg.Dispatch.QueueSize,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)

	// Kafka export (no-op when built with no_kafka tag).
	sink := initKafka(coord, cfg, logger)

	if err := conn.Start(coord.HandleFrame); err != nil {
		logger.Error("start mqtt connector", "err", err)
		coord.Stop()
		os.Exit(1)
	}

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Heartbeat().Stop()
	conn.Stop()
	coord.Stop()
	sink.Stop()

	logger.Info("goodbye")
}

func openStore(cfg *Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewBoltStore(cfg.Store.Path)
	}
}

// openSignaling returns the signaling cache and a func releasing it.
func openSignaling(cfg *Config, logger *slog.Logger) (signaling.Cache, func(), error) {
	if cfg.Signaling.Backend != "redis" {
		return signaling.NewMemoryCache(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Signaling.Redis.Addr,
		Password: cfg.Signaling.Redis.Password,
		DB:       cfg.Signaling.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Signaling.Redis.Addr, err)
	}
	logger.Info("signaling cache on redis", "addr", cfg.Signaling.Redis.Addr, "prefix", cfg.Signaling.Redis.Prefix)
	return signaling.NewRedisCache(rdb, cfg.Signaling.Redis.Prefix), func() { _ = rdb.Close() }, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.MQTT.Namespace == "" {
		cfg.MQTT.Namespace = "pura365"
	}
	// Several replicas may share one broker; client IDs must not collide.
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "camlink-" + uuid.NewString()[:8]
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}
	if cfg.MQTT.PublishTimeout == 0 {
		cfg.MQTT.PublishTimeout = 5 * time.Second
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "bolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "camlink.db"
	}
	if cfg.Heartbeat.Enabled == nil {
		enabled := true
		cfg.Heartbeat.Enabled = &enabled
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 60 * time.Second
	}
	if cfg.Heartbeat.OfflineThreshold == 0 {
		cfg.Heartbeat.OfflineThreshold = 180 * time.Second
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 256
	}
	if cfg.Signaling.Backend == "" {
		cfg.Signaling.Backend = "memory"
	}
	if cfg.Signaling.Redis.Prefix == "" {
		cfg.Signaling.Redis.Prefix = "camlink:"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
