package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// A caller whose shared fetch timed out on another caller's deadline only
// fetches again when at least this much of its own timeout is left.
const minimumRefetchTime = 100 * time.Millisecond

type cachingResolver struct {
	base   Resolver
	cache  Cache
	ttl    time.Duration
	clock  clock.Clock
	logger zerolog.Logger

	group singleflight.Group
}

// NewCachingResolver is a decorator for Resolver that keeps fetched keys in
// a Cache for ttl. Concurrent lookups of the same uncached key share a
// single fetch, but each caller keeps its own deadline and cancellation.
// A caller leaving early does not cut the shared fetch short, and a caller
// whose shared fetch ran out of an earlier caller's time fetches again
// within what remains of its own timeout. Cache failures are logged and
// fall through to the base resolver; they never fail a lookup.
func NewCachingResolver(base Resolver, cache Cache, ttl time.Duration, clock clock.Clock, logger zerolog.Logger) Resolver {
	return &cachingResolver{
		base:   base,
		cache:  cache,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

func (r *cachingResolver) FetchPublicKey(ctx context.Context, kid, host string, timeout time.Duration) (*PublicKey, error) {
	if kid == "" || host == "" {
		// Let the base resolver report the misuse
		return r.base.FetchPublicKey(ctx, kid, host, timeout)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if key, err := r.cache.Get(ctx, host, kid); err != nil {
		r.logger.Warn().Err(err).Str("kid", kid).Msg("Failed to read public key cache")
	} else if key != nil {
		return key, nil
	}

	waitCtx, cancel := r.clock.NewContextWithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := waitCtx.Deadline()

	for {
		ch := r.group.DoChan(cacheKey(host, kid), func() (interface{}, error) {
			// The fetch is bounded by the deadline of the caller that
			// starts it, but not by its cancellation.
			return r.fetchAndStore(context.WithoutCancel(ctx), kid, host, time.Until(deadline))
		})

		select {
		case result := <-ch:
			if result.Err == nil {
				return result.Val.(*PublicKey), nil
			}
			if !types.IsFetchFailure(result.Err, types.FetchTimeout) || time.Until(deadline) < minimumRefetchTime {
				return nil, result.Err
			}
			// The shared fetch was started by a caller with an
			// earlier deadline. Retry within what is left of ours.
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, types.NewKeyFetchError(types.FetchTimeout, fmt.Sprintf("key request exceeded %s", timeout), waitCtx.Err())
			}
			return nil, types.NewKeyFetchError(types.FetchNetwork, "key request failed", waitCtx.Err())
		}
	}
}

func (r *cachingResolver) fetchAndStore(ctx context.Context, kid, host string, timeout time.Duration) (*PublicKey, error) {
	key, err := r.base.FetchPublicKey(ctx, kid, host, timeout)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, host, kid, key, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("kid", kid).Msg("Failed to write public key cache")
	}
	return key, nil
}
