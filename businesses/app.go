package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

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
	mongoClient   *mongo.Client
	redisClient   *redis.Client
	config        Config
	logger        *slog.Logger

	httpMetrics *metrics.HTTPMetrics
}

type Config struct {
	ServiceName string
	InstanceID  string
	HTTPAddr    string
	MetricsAddr string
	ConsulAddr  string
	MongoURI    string
	RedisAddr   string
}

func NewApp(config Config, mongoClient *mongo.Client) (*App, error) {
	log := logger.NewLogger(config.ServiceName)

	registry, err := createRegistry(config.ConsulAddr, log)
	if err != nil {
		return nil, err
	}

	return &App{
		registry:    registry,
		mongoClient: mongoClient,
		redisClient: redis.NewClient(&redis.Options{Addr: config.RedisAddr}),
		config:      config,
		logger:      log,
		httpMetrics: metrics.NewHTTPMetrics(config.ServiceName),
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

	cache := NewMenuCache(a.redisClient, menuCacheTTL)
	store := NewCachedStore(NewStore(a.mongoClient), cache, a.logger)
	svc := NewService(store, a.logger)

	pinger := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return a.mongoClient.Ping(pingCtx, nil)
	}
	h := NewHandler(svc, pinger, a.httpMetrics, a.logger)

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
