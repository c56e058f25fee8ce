package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/discovery"
)

// httpCatalog resolves the businesses service through discovery and checks
// merchants over its public HTTP API.
type httpCatalog struct {
	registry discovery.Registry
	client   *http.Client
}

func NewCatalogClient(registry discovery.Registry) *httpCatalog {
	return &httpCatalog{
		registry: registry,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *httpCatalog) BusinessExists(ctx context.Context, businessID string) (bool, error) {
	base, err := discovery.ServiceURL(ctx, "businesses", c.registry)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/businesses/%s", base, businessID), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("businesses service returned %d", resp.StatusCode)
	}
}

var _ CatalogClient = (*httpCatalog)(nil)
