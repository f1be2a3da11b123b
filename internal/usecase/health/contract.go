package health

import (
	"context"
	"time"
)

// Pinger checks database availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks an upstream API (embedding or inference provider).
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one registered dependency probe. A zero Timeout uses the aggregator default.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// PingCheck adapts a Pinger into a Check.
func PingCheck(name string, critical bool, p Pinger) Check {
	return Check{Name: name, Critical: critical, Fn: p.Ping}
}

// ProviderCheck adapts a ProviderChecker into a Check.
func ProviderCheck(name string, critical bool, p ProviderChecker) Check {
	return Check{Name: name, Critical: critical, Fn: p.HealthCheck}
}

// Dependency names registered by the service.
const (
	DepVectorIndex    = "vector_index"
	DepMetadataStore  = "metadata_store"
	DepLocalInference = "local_inference"
	DepEmbedding      = "embedding"
)
