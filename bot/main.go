package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pipetapasco/microservices-delivery-hub/common/config"
	"github.com/pipetapasco/microservices-delivery-hub/common/logger"
	"github.com/pipetapasco/microservices-delivery-hub/common/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := Config{
		ServiceName: config.GetEnv("SERVICE_NAME", "bot"),
		InstanceID:  config.GetEnv("INSTANCE_ID", "bot-1"),
		HTTPAddr:    config.GetEnv("HTTP_ADDR", "localhost:8080"),
		MetricsAddr: config.GetEnv("METRICS_ADDR", "localhost:9080"),
		ConsulAddr:  config.GetEnv("CONSUL_ADDR", ""),
		AMQPUser:    config.GetEnv("AMQP_USER", "guest"),
		AMQPPass:    config.GetEnv("AMQP_PASS", "guest"),
		AMQPHost:    config.GetEnv("AMQP_HOST", "localhost"),
		AMQPPort:    config.GetEnv("AMQP_PORT", "5672"),
		RedisAddr:   config.GetEnv("REDIS_ADDR", "localhost:6379"),

		// Missing TWILIO_AUTH_TOKEN does not stop startup; the webhook
		// fails closed per request instead, so the health endpoint and
		// the outbound leg keep working while credentials are rotated.
		TwilioAccountSID: config.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  config.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: config.GetEnv("TWILIO_WHATSAPP_NUMBER", ""),

		ExtractorURL:    config.MustGetEnv("EXTRACTOR_URL"),
		ExtractorAPIKey: config.GetEnv("EXTRACTOR_API_KEY", ""),
		STTURL:          config.MustGetEnv("STT_URL"),
		STTAPIKey:       config.GetEnv("STT_API_KEY", ""),

		AudioStoragePath:    config.GetEnv("AUDIO_STORAGE_PATH", "/tmp/bot-audio"),
		MaxAudioSizeMB:      config.GetIntEnv("MAX_AUDIO_SIZE_MB", 10),
		MaxRequestSizeBytes: int64(config.GetIntEnv("MAX_REQUEST_SIZE_BYTES", 10*1024*1024)),
		RateLimitRequests:   config.GetIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:     time.Duration(config.GetIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}

	log := logger.NewLogger(cfg.ServiceName)
	log.Info("starting service",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	shutdown, err := tracing.InitTracer(cfg.ServiceName)
	if err != nil {
		log.Error("failed to initialize tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer shutdown()

	app, err := NewApp(cfg)
	if err != nil {
		log.Error("failed to create app", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		if err := app.Shutdown(ctx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
		cancel()
	}()

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start app", slog.Any("error", err))
		os.Exit(1)
	}
}
