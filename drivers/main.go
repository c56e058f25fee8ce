package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pipetapasco/microservices-delivery-hub/common/config"
	"github.com/pipetapasco/microservices-delivery-hub/common/logger"
	"github.com/pipetapasco/microservices-delivery-hub/common/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := Config{
		ServiceName:      config.GetEnv("SERVICE_NAME", "drivers"),
		InstanceID:       config.GetEnv("INSTANCE_ID", "drivers-1"),
		HTTPAddr:         config.GetEnv("HTTP_ADDR", "localhost:8082"),
		MetricsAddr:      config.GetEnv("METRICS_ADDR", "localhost:9082"),
		ConsulAddr:       config.GetEnv("CONSUL_ADDR", ""),
		AMQPUser:         config.GetEnv("AMQP_USER", "guest"),
		AMQPPass:         config.GetEnv("AMQP_PASS", "guest"),
		AMQPHost:         config.GetEnv("AMQP_HOST", "localhost"),
		AMQPPort:         config.GetEnv("AMQP_PORT", "5672"),
		MongoURI:         config.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		RedisAddr:        config.GetEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:        config.MustGetEnv("JWT_SECRET"),
		StuckGracePeriod: time.Duration(config.GetIntEnv("DRIVER_STUCK_GRACE_PERIOD_MINUTES", 10)) * time.Minute,
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

	mongoClient, err := connectToMongoDB(cfg.MongoURI)
	if err != nil {
		log.Error("failed to connect to mongodb", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Error("failed to disconnect from mongodb", slog.Any("error", err))
		}
	}()

	app, err := NewApp(cfg, mongoClient)
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

func connectToMongoDB(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}
