package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/metrics"
	"github.com/shutterhub/backend/internal/model/directory"
)

// Options tunes the resolver. Zero values fall back to defaults.
type Options struct {
	Cache            Cache
	TTL              time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Resolver decorates a directory.Directory with a read-through cache and one
// circuit breaker per entity, so a struggling directory cannot stall chat writes.
type Resolver struct {
	dir      directory.Directory
	cache    Cache
	ttl      time.Duration
	profiles *gobreaker.CircuitBreaker[directory.Profile]
	photos   *gobreaker.CircuitBreaker[directory.PhotoSummary]
	bundles  *gobreaker.CircuitBreaker[directory.BundleSummary]
}

// NewResolver wraps dir.
func NewResolver(dir directory.Directory, opts Options) *Resolver {
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	return &Resolver{
		dir:      dir,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		profiles: gobreaker.NewCircuitBreaker[directory.Profile](breakerSettings("directory-profile", opts)),
		photos:   gobreaker.NewCircuitBreaker[directory.PhotoSummary](breakerSettings("directory-photo", opts)),
		bundles:  gobreaker.NewCircuitBreaker[directory.BundleSummary](breakerSettings("directory-bundle", opts)),
	}
}

func breakerSettings(name string, opts Options) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		// a missing entity is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, directory.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("directory breaker state changed")
		},
	}
}

func (r *Resolver) Profile(ctx context.Context, userID string) (directory.Profile, error) {
	return lookup(ctx, r, "profile", userID, r.profiles, r.dir.Profile)
}

func (r *Resolver) Photo(ctx context.Context, photoID string) (directory.PhotoSummary, error) {
	return lookup(ctx, r, "photo", photoID, r.photos, r.dir.Photo)
}

func (r *Resolver) Bundle(ctx context.Context, bundleID string) (directory.BundleSummary, error) {
	return lookup(ctx, r, "bundle", bundleID, r.bundles, r.dir.Bundle)
}

func lookup[T any](ctx context.Context, r *Resolver, entity, id string, cb *gobreaker.CircuitBreaker[T], fetch func(context.Context, string) (T, error)) (T, error) {
	key := entity + ":" + id

	var cached T
	hit, err := r.cache.Get(ctx, key, &cached)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("directory cache read failed")
	} else if hit {
		metrics.RecordDirectoryLookup(entity, "hit")
		return cached, nil
	}

	value, err := cb.Execute(func() (T, error) {
		return fetch(ctx, id)
	})
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			metrics.RecordDirectoryLookup(entity, "not_found")
			return value, err
		}
		metrics.RecordDirectoryLookup(entity, "error")
		return value, fmt.Errorf("%s lookup %s: %w", entity, id, err)
	}

	metrics.RecordDirectoryLookup(entity, "miss")
	if err := r.cache.Set(ctx, key, value, r.ttl); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
	return value, nil
}
