package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Shivam-nitt/CropionApp/internal/anomaly"
	"github.com/Shivam-nitt/CropionApp/internal/api"
	"github.com/Shivam-nitt/CropionApp/internal/auth"
	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/ingest"
	"github.com/Shivam-nitt/CropionApp/internal/logger"
	"github.com/Shivam-nitt/CropionApp/internal/radio"
	"github.com/Shivam-nitt/CropionApp/internal/storage"
	"github.com/Shivam-nitt/CropionApp/internal/upload"
)

var version string

// Config holds server configuration loaded from environment variables
type Config struct {
	Port         int
	DatabaseURL  string
	ChunkSize    int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Filesystem chunk storage; ignored when S3 is configured
	UploadRoot string
	S3Config   storage.S3Config
	S3Enabled  bool

	AuthConfig     auth.Config
	AllowedOrigins []string

	// Optional telemetry inputs
	MQTT      ingest.MQTTConfig
	RadioAddr string
}

func main() {
	config := loadConfig()

	database, err := db.Connect(config.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	var store storage.ChunkStore
	if config.S3Enabled {
		store, err = storage.NewS3Store(config.S3Config)
		if err != nil {
			logger.Fatal("failed to initialize object storage", "error", err)
		}
		logger.Info("chunk storage configured", "backend", "s3", "bucket", config.S3Config.BucketName)
	} else {
		store, err = storage.NewFSStore(config.UploadRoot)
		if err != nil {
			logger.Fatal("failed to initialize filesystem storage", "error", err)
		}
		logger.Info("chunk storage configured", "backend", "fs", "root", config.UploadRoot)
	}

	manager := upload.NewManager(database, store, config.ChunkSize)
	latest := ingest.NewLatest()
	detector := anomaly.NewDetector(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	detector.StartSilenceMonitor(ctx)

	// MQTT ingestion (optional)
	if config.MQTT.BrokerURL != "" {
		ingestor := ingest.NewIngestor(config.MQTT, database, latest, detector, nil)
		if err := ingestor.Start(ctx); err != nil {
			logger.Fatal("failed to start mqtt ingestion", "error", err)
		}
	}

	// Radio link listener (optional)
	if config.RadioAddr != "" {
		listener := radio.NewListener(radio.Config{Addr: config.RadioAddr}, database, nil)
		go listener.Run(ctx)
	}

	server := api.NewServer(database, manager, latest, detector, config.AuthConfig, config.AllowedOrigins)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.SetupRoutes(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", config.Port, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func loadConfig() Config {
	port := 9000
	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "file:cropion.db"
		logger.Info("DATABASE_URL not set, using local sqlite database", "path", "cropion.db")
	}

	chunkSize := int64(0)
	if cs := os.Getenv("CHUNK_SIZE"); cs != "" {
		fmt.Sscanf(cs, "%d", &chunkSize)
	}

	// HTTP timeout configuration (defaults to 30s). Chunk PUTs carry up to
	// one full chunk, so slow links need generous read timeouts.
	readTimeout := 30 * time.Second
	if rt := os.Getenv("HTTP_READ_TIMEOUT"); rt != "" {
		if parsed, err := time.ParseDuration(rt); err == nil {
			readTimeout = parsed
		}
	}
	writeTimeout := 30 * time.Second
	if wt := os.Getenv("HTTP_WRITE_TIMEOUT"); wt != "" {
		if parsed, err := time.ParseDuration(wt); err == nil {
			writeTimeout = parsed
		}
	}

	uploadRoot := os.Getenv("UPLOAD_ROOT")
	if uploadRoot == "" {
		uploadRoot = "./uploads"
	}

	// S3/MinIO chunk storage (optional)
	s3Enabled := false
	var s3Config storage.S3Config
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		s3Config = storage.S3Config{
			Endpoint:        endpoint,
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("S3_SECRET_KEY"),
			BucketName:      os.Getenv("S3_BUCKET"),
			UseSSL:          os.Getenv("S3_USE_SSL") == "true",
		}
		if s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "" || s3Config.BucketName == "" {
			logger.Fatal("S3_ENDPOINT set but S3_ACCESS_KEY, S3_SECRET_KEY, or S3_BUCKET missing")
		}
		s3Enabled = true
	}

	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		authSecret = "dev-secret-change-me"
		logger.Warn("AUTH_SECRET not set, using insecure development secret")
	}
	tokenTTL := time.Hour
	if ttl := os.Getenv("AUTH_TOKEN_TTL"); ttl != "" {
		if parsed, err := time.ParseDuration(ttl); err == nil {
			tokenTTL = parsed
		}
	}

	var allowedOrigins []string
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins = strings.Split(origins, ",")
	}

	// MQTT ingestion (optional)
	var mqttConfig ingest.MQTTConfig
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		mqttConfig = ingest.MQTTConfig{
			BrokerURL:      broker,
			TelemetryTopic: envOrDefault("MQTT_TELEMETRY_TOPIC", "cropion/telemetry"),
			FrameTopic:     envOrDefault("MQTT_FRAME_TOPIC", "cropion/frames"),
		}
	}

	return Config{
		Port:           port,
		DatabaseURL:    databaseURL,
		ChunkSize:      chunkSize,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		UploadRoot:     uploadRoot,
		S3Config:       s3Config,
		S3Enabled:      s3Enabled,
		AuthConfig:     auth.Config{Secret: authSecret, TokenTTL: tokenTTL},
		AllowedOrigins: allowedOrigins,
		MQTT:           mqttConfig,
		RadioAddr:      os.Getenv("RADIO_ADDR"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
