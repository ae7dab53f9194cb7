package ensemble

import (
	"fmt"
	"sort"

	"github.com/prismcast/prismcast-go/internal/utils"
)

// Strategy names. Keys are lowercase with underscores; the registry rejects
// anything else.
const (
	StrategyMean            = "mean"
	StrategyMedian          = "median"
	StrategyBestSingle      = "best_single"
	StrategyWeightedAverage = "weighted_average"
)

// Factory builds a fresh strategy instance. The engine calls it once per
// challenge so trainable state never leaks between challenges.
type Factory func(cfg Config) Strategy

// Registry maps strategy names to factories. It is an explicit value, built
// once at startup and handed to the engine; it is never mutated afterwards,
// so lookups need no locking.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns the registry holding every known strategy.
func DefaultRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		StrategyMean:            func(Config) Strategy { return &MeanStrategy{} },
		StrategyMedian:          func(Config) Strategy { return &MedianStrategy{} },
		StrategyBestSingle:      func(Config) Strategy { return &BestSingleStrategy{} },
		StrategyWeightedAverage: func(cfg Config) Strategy { return NewWeightedAverageStrategy(cfg) },
	}}
}

// Register adds a strategy under a unique key. Registering a duplicate key
// or a key that is not lowercase_with_underscores is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if !validStrategyName(name) {
		return fmt.Errorf("invalid strategy name %q: must be lowercase with underscores", name)
	}
	if factory == nil {
		return fmt.Errorf("nil factory for strategy %q", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates the named strategy. An unknown name is an operator
// mistake, not a data condition, and is surfaced as the fatal
// utils.ErrUnknownStrategy.
func (r *Registry) Create(name string, cfg Config) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, utils.ErrUnknownStrategy)
	}
	return factory(cfg), nil
}

// Has reports whether the named strategy is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names returns all registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validStrategyName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c == '_' && i > 0:
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
