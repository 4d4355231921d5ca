package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var catalogTracer = otel.Tracer("gatehouse/catalog")

// DefaultLookupTimeout bounds a shared registry lookup
const DefaultLookupTimeout = 5 * time.Second

// Catalog answers whether a permission key is known
type Catalog struct {
	registry Registry
	cache    Cache
	group    singleflight.Group
	timeout  time.Duration
	metrics  *observability.Metrics
	log      logrus.FieldLogger
}

// Option configures a Catalog
type Option func(*Catalog)

// WithMetrics records lookup results
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

// WithLogger sets the logger used for registry failures
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Catalog) { c.log = log }
}

// WithLookupTimeout bounds each shared registry lookup
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Catalog) { c.timeout = d }
}

// New creates a catalog over registry with the given cache
func New(registry Registry, cache Cache, opts ...Option) *Catalog {
	c := &Catalog{
		registry: registry,
		cache:    cache,
		timeout:  DefaultLookupTimeout,
		log:      logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(nil, 0, DefaultTTL)
	}
	return c
}

// Exists reports whether key is a registered permission. Registry failures
// report false and are not cached.
func (c *Catalog) Exists(ctx context.Context, key string) bool {
	if key == "" || key == Wildcard {
		return false
	}

	if exists, ok := c.cache.Get(ctx, key); ok {
		c.metrics.ObserveCatalogLookup("hit")
		return exists
	}

	ctx, span := catalogTracer.Start(ctx, "catalog.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("permission", key))

	// shared lookups ignore caller cancellation
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		exists, err := c.registry.Lookup(lookupCtx, key)
		if err != nil {
			return false, err
		}
		c.cache.Set(lookupCtx, key, exists)
		return exists, nil
	})

	var (
		v   interface{}
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		c.metrics.ObserveCatalogLookup("error")
		span.RecordError(err)
		c.log.WithError(err).WithField("permission", key).Warn("permission catalog lookup failed")
		return false
	}

	c.metrics.ObserveCatalogLookup("miss")
	return v.(bool)
}

// Seed registers perms and drops any cached result for them
func (c *Catalog) Seed(ctx context.Context, perms []Permission) error {
	if err := c.registry.Ensure(ctx, perms); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	for _, p := range perms {
		c.cache.Invalidate(ctx, p.Key)
	}
	return nil
}

// List returns all registered permissions
func (c *Catalog) List(ctx context.Context) ([]Permission, error) {
	return c.registry.List(ctx)
}

// Purge clears the lookup cache
func (c *Catalog) Purge(ctx context.Context) {
	c.cache.Purge(ctx)
}
