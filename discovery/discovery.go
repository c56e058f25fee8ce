package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var ErrNoInstances = errors.New("no healthy instances found")

type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(instanceID, serviceName string) error
}

// GenerateInstanceID generates a unique instance ID for registration,
// e.g. "orders-123456789". Random suffix avoids collisions when several
// instances start at once.
func GenerateInstanceID(serviceName string) string {
	return fmt.Sprintf("%s-%d", serviceName, rand.New(rand.NewSource(time.Now().UnixNano())).Int())
}

// ServiceURL resolves a base HTTP URL for serviceName through the registry,
// picking a random healthy instance. This system's synchronous surface is
// HTTP, so callers append their path to the returned "http://host:port".
func ServiceURL(ctx context.Context, serviceName string, registry Registry) (string, error) {
	addrs, err := registry.Discover(ctx, serviceName)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w for service %s", ErrNoInstances, serviceName)
	}
	return "http://" + addrs[rand.Intn(len(addrs))], nil
}
