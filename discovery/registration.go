package discovery

import (
	"context"
	"log/slog"
	"time"
)

// ServiceRegistration keeps a consul registration alive by refreshing its
// TTL check until Deregister is called.
type ServiceRegistration struct {
	registry    Registry
	instanceID  string
	serviceName string
	logger      *slog.Logger
	stopChan    chan struct{}
}

func RegisterService(
	ctx context.Context,
	registry Registry,
	instanceID, serviceName, hostPort string,
	logger *slog.Logger,
) (*ServiceRegistration, error) {
	if err := registry.Register(ctx, instanceID, serviceName, hostPort); err != nil {
		return nil, err
	}

	sr := &ServiceRegistration{
		registry:    registry,
		instanceID:  instanceID,
		serviceName: serviceName,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}

	go sr.startHealthCheck()

	return sr, nil
}

func (sr *ServiceRegistration) startHealthCheck() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sr.stopChan:
			return
		case <-ticker.C:
			if err := sr.registry.HealthCheck(sr.instanceID, sr.serviceName); err != nil {
				sr.logger.Warn("health check failed", slog.Any("error", err))
			}
		}
	}
}

func (sr *ServiceRegistration) Deregister(ctx context.Context) error {
	close(sr.stopChan)
	return sr.registry.Deregister(ctx, sr.instanceID, sr.serviceName)
}
