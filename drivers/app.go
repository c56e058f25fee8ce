package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/pipetapasco/microservices-delivery-hub/common/broker"
	"github.com/pipetapasco/microservices-delivery-hub/common/logger"
	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
	"github.com/pipetapasco/microservices-delivery-hub/discovery"
	"github.com/pipetapasco/microservices-delivery-hub/discovery/consul"
)

type App struct {
	registry      discovery.Registry
	httpServer    *http.Server
	metricsServer *http.Server
	registration  *discovery.ServiceRegistration
	channel       *amqp.Channel
	closeRabbitMQ func() error
	mongoClient   *mongo.Client
	redisClient   *redis.Client
	config        Config
	logger        *slog.Logger

	httpMetrics     *metrics.HTTPMetrics
	brokerMetrics   *metrics.BrokerMetrics
	dispatchMetrics *metrics.DispatchMetrics
}

type Config struct {
	ServiceName      string
	InstanceID       string
	HTTPAddr         string
	MetricsAddr      string
	ConsulAddr       string
	AMQPUser         string
	AMQPPass         string
	AMQPHost         string
	AMQPPort         string
	MongoURI         string
	RedisAddr        string
	JWTSecret        string
	StuckGracePeriod time.Duration
}

func NewApp(config Config, mongoClient *mongo.Client) (*App, error) {
	log := logger.NewLogger(config.ServiceName)

	registry, err := createRegistry(config.ConsulAddr, log)
	if err != nil {
		return nil, err
	}

	log.Info("connecting to rabbitmq",
		slog.String("host", config.AMQPHost),
		slog.String("port", config.AMQPPort),
	)
	connectCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	// The publisher's channel; the consumer dials its own connection
	// through ConsumeLoop.
	channel, closeFn, err := broker.ConnectWithRetry(connectCtx,
		config.AMQPUser, config.AMQPPass, config.AMQPHost, config.AMQPPort, time.Minute)
	if err != nil {
		log.Error("failed to connect to rabbitmq", slog.Any("error", err))
		return nil, err
	}
	log.Info("rabbitmq connected successfully")

	redisClient := redis.NewClient(&redis.Options{Addr: config.RedisAddr})

	return &App{
		registry:        registry,
		channel:         channel,
		closeRabbitMQ:   closeFn,
		mongoClient:     mongoClient,
		redisClient:     redisClient,
		config:          config,
		logger:          log,
		httpMetrics:     metrics.NewHTTPMetrics(config.ServiceName),
		brokerMetrics:   metrics.NewBrokerMetrics(config.ServiceName),
		dispatchMetrics: metrics.NewDispatchMetrics(config.ServiceName),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if a.registry != nil {
		registration, err := discovery.RegisterService(
			ctx, a.registry, a.config.InstanceID, a.config.ServiceName, a.config.HTTPAddr, a.logger)
		if err != nil {
			return err
		}
		a.registration = registration
	}

	store := NewStore(a.mongoClient)
	publisher := &channelPublisher{ch: a.channel}
	pushRegistry := NewPushRegistry(a.logger)
	locations := NewLocationStore(a.redisClient)

	wd := NewWatchdog(store, a.config.StuckGracePeriod, a.dispatchMetrics, a.logger)
	go wd.Run(ctx)

	svc := NewService(store, publisher, wd, a.dispatchMetrics, a.logger)
	ws := NewWSHandler(pushRegistry, locations, a.config.JWTSecret, a.logger)
	h := NewHandler(svc, ws, a.config.JWTSecret, a.httpMetrics, a.logger)

	mux := http.NewServeMux()
	h.registerRoutes(mux)
	a.httpServer = &http.Server{Addr: a.config.HTTPAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{Addr: a.config.MetricsAddr, Handler: metricsMux}
	go func() {
		a.logger.Info("starting metrics server", slog.String("addr", a.config.MetricsAddr))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	consumer := NewConsumer(store, pushRegistry, wd, a.brokerMetrics, a.dispatchMetrics, a.logger)
	dial := broker.Dialer(a.config.AMQPUser, a.config.AMQPPass, a.config.AMQPHost, a.config.AMQPPort)
	go broker.ConsumeLoop(ctx, dial, "drivers-consumer", a.logger, consumer.Listen)

	a.logger.Info("starting http server", slog.String("addr", a.config.HTTPAddr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down http server", slog.Any("error", err))
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down metrics server", slog.Any("error", err))
		}
	}

	if a.closeRabbitMQ != nil {
		if err := a.closeRabbitMQ(); err != nil {
			a.logger.Error("error closing rabbitmq", slog.Any("error", err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("error closing redis", slog.Any("error", err))
		}
	}

	if a.registration != nil {
		return a.registration.Deregister(ctx)
	}
	return nil
}

func createRegistry(addr string, log *slog.Logger) (discovery.Registry, error) {
	if addr == "" {
		log.Info("consul address not provided, service discovery disabled")
		return nil, nil
	}
	return consul.NewRegistry(addr)
}
