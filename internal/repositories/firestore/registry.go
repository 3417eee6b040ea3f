package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories around one provider.
type Registry struct {
	provider     *pfirestore.Provider
	products     *ProductRepository
	inventory    *InventoryRepository
	orders       *OrderRepository
	availability *AvailabilityRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	retry  pfirestore.RetryPolicy
	now    func() time.Time
	health repositories.HealthRepository
}

// WithReadRetry sets the retry policy applied to idempotent reads.
func WithReadRetry(policy pfirestore.RetryPolicy) RegistryOption {
	return func(cfg *registryConfig) { cfg.retry = policy }
}

// WithClock injects the clock used for updatedAt stamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(cfg *registryConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithHealth sets the readiness probe set; it spans more than Firestore so it is built by the caller.
func WithHealth(health repositories.HealthRepository) RegistryOption {
	return func(cfg *registryConfig) { cfg.health = health }
}

func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	cfg := registryConfig{retry: pfirestore.RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond}, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	products, err := NewProductRepository(provider, cfg.retry, cfg.now)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider, cfg.now)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider, cfg.retry)
	if err != nil {
		return nil, err
	}
	availability, err := NewAvailabilityRepository(provider, cfg.retry)
	if err != nil {
		return nil, err
	}
	health := cfg.health
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{Name: "firestore", Critical: true, Check: provider.Ping},
		})
		if err != nil {
			return nil, err
		}
	}

	return &Registry{
		provider:     provider,
		products:     products,
		inventory:    inventory,
		orders:       orders,
		availability: availability,
		health:       health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Availability() repositories.AvailabilityRepository { return r.availability }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
