// Package cache holds the read-side cache port and the policy that decides
// which cached keys a domain event makes stale.
package cache

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/rs/zerolog"
)

// Cache is a JSON read-through cache.
type Cache interface {
	// Get decodes the value stored at key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// InvalidationPolicy maps domain event types to the cache keys they invalidate.
type InvalidationPolicy struct {
	mu    sync.RWMutex
	rules map[reflect.Type][]func(event.DomainEvent) []string
}

func NewInvalidationPolicy() *InvalidationPolicy {
	return &InvalidationPolicy{rules: make(map[reflect.Type][]func(event.DomainEvent) []string)}
}

// Invalidate registers keys as the keys made stale by events of type E.
func Invalidate[E event.DomainEvent](p *InvalidationPolicy, keys func(E) []string) {
	t := reflect.TypeFor[E]()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[t] = append(p.rules[t], func(e event.DomainEvent) []string {
		typed, ok := e.(E)
		if !ok {
			return nil
		}
		return keys(typed)
	})
}

// KeysFor returns the keys e invalidates, without duplicates.
func (p *InvalidationPolicy) KeysFor(e event.DomainEvent) []string {
	if e == nil {
		return nil
	}

	p.mu.RLock()
	rules := p.rules[reflect.TypeOf(e)]
	p.mu.RUnlock()

	var keys []string
	seen := make(map[string]bool)
	for _, rule := range rules {
		for _, k := range rule(e) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Invalidator drops the keys the policy names for each handled event.
// Cache failures are logged, not returned: the command has already changed
// the source of truth and the entry expires with its TTL.
type Invalidator struct {
	cache  Cache
	policy *InvalidationPolicy
	logger zerolog.Logger
}

func NewInvalidator(c Cache, policy *InvalidationPolicy, logger zerolog.Logger) *Invalidator {
	return &Invalidator{
		cache:  c,
		policy: policy,
		logger: logger.With().Str("component", "cache_invalidator").Logger(),
	}
}

func (i *Invalidator) Invalidate(ctx context.Context, e event.DomainEvent) error {
	keys := i.policy.KeysFor(e)
	if len(keys) == 0 {
		return nil
	}
	if err := i.cache.Remove(ctx, keys...); err != nil {
		i.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
	return nil
}
